// Package contract loads, validates and resolves dataset field contracts.
package contract

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dwsmith1983/gtfsload/pkg/types"
)

// Registry maps dataset keys to their contracts. It is populated at startup
// and read concurrently afterwards; contracts handed out must not be mutated.
type Registry struct {
	contracts map[string]*types.Contract
}

// NewRegistry creates a new empty contract registry.
func NewRegistry() *Registry {
	return &Registry{
		contracts: make(map[string]*types.Contract),
	}
}

// LoadDir loads all YAML contract files from a directory.
func (r *Registry) LoadDir(dir string) error {
	return r.LoadFS(os.DirFS(dir), ".")
}

// LoadFS loads all YAML contract files under dir in fsys.
func (r *Registry) LoadFS(fsys fs.FS, dir string) error {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return fmt.Errorf("reading contract dir %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		p := path.Join(dir, name)
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return fmt.Errorf("reading %s: %w", p, err)
		}
		if err := r.load(data); err != nil {
			return fmt.Errorf("loading contract %s: %w", p, err)
		}
	}
	return nil
}

// LoadFile loads a single contract YAML file.
func (r *Registry) LoadFile(p string) error {
	data, err := os.ReadFile(filepath.Clean(p))
	if err != nil {
		return fmt.Errorf("reading file: %w", err)
	}
	return r.load(data)
}

func (r *Registry) load(data []byte) error {
	var c types.Contract
	if err := yaml.Unmarshal(data, &c); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}
	return r.Register(&c)
}

// Register validates a contract and adds it, replacing any contract already
// registered under the same dataset key.
func (r *Registry) Register(c *types.Contract) error {
	if err := Validate(c); err != nil {
		return fmt.Errorf("validating contract %q: %w", c.Dataset, err)
	}
	r.contracts[c.Dataset] = c
	return nil
}

// Get returns the contract for a dataset key.
func (r *Registry) Get(dataset string) (*types.Contract, error) {
	c, ok := r.contracts[dataset]
	if !ok {
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownDataset, dataset)
	}
	return c, nil
}

// List returns all registered contracts ordered by dataset key.
func (r *Registry) List() []*types.Contract {
	result := make([]*types.Contract, 0, len(r.contracts))
	for _, c := range r.contracts {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Dataset < result[j].Dataset })
	return result
}

// Len returns the number of registered contracts.
func (r *Registry) Len() int { return len(r.contracts) }

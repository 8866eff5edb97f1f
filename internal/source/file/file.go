// Package file implements the object source on a local directory tree.
// Object names are slash-separated paths relative to the root.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dwsmith1983/gtfsload/internal/source"
)

var _ source.Store = (*Store)(nil)

// metaSuffix marks a JSON sidecar holding an object's metadata.
const metaSuffix = ".meta.json"

// Store serves objects from a directory.
type Store struct {
	root string
}

// New creates a Store rooted at dir.
func New(dir string) (*Store, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("file source root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("file source root %s is not a directory", dir)
	}
	return &Store{root: dir}, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.root, filepath.FromSlash(name))
}

// List implements source.Store.
func (s *Store) List(ctx context.Context, prefix string, limit int) ([]source.Object, error) {
	var objs []source.Object
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasSuffix(p, metaSuffix) {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if !strings.HasPrefix(name, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		objs = append(objs, source.Object{
			Name:     name,
			Updated:  info.ModTime().UTC(),
			Size:     info.Size(),
			Metadata: s.readMeta(p),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", prefix, err)
	}
	return source.SortAndLimit(objs, limit), nil
}

func (s *Store) readMeta(p string) map[string]string {
	data, err := os.ReadFile(p + metaSuffix)
	if err != nil {
		return nil
	}
	var m map[string]string
	if json.Unmarshal(data, &m) != nil {
		return nil
	}
	return m
}

// Read implements source.Store.
func (s *Store) Read(_ context.Context, name string) ([]byte, error) {
	return os.ReadFile(s.path(name))
}

// Delete implements source.Store.
func (s *Store) Delete(_ context.Context, name string) error {
	p := s.path(name)
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	_ = os.Remove(p + metaSuffix)
	return nil
}

// Move implements source.Store.
func (s *Store) Move(_ context.Context, src, dst string) error {
	from, to := s.path(src), s.path(dst)
	if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return err
	}
	if err := os.Rename(from, to); err != nil {
		return err
	}
	if _, err := os.Stat(from + metaSuffix); err == nil {
		return os.Rename(from+metaSuffix, to+metaSuffix)
	}
	return nil
}

package contract

import "embed"

//go:embed builtin/*.yaml
var builtinFS embed.FS

// LoadBuiltin registers the GTFS realtime and schedule contracts shipped
// with the binary.
func (r *Registry) LoadBuiltin() error {
	return r.LoadFS(builtinFS, "builtin")
}

// NewDefaultRegistry returns a registry holding the built-in contracts,
// overridden by any contracts found in dirs.
func NewDefaultRegistry(dirs ...string) (*Registry, error) {
	r := NewRegistry()
	if err := r.LoadBuiltin(); err != nil {
		return nil, err
	}
	for _, dir := range dirs {
		if err := r.LoadDir(dir); err != nil {
			return nil, err
		}
	}
	return r, nil
}

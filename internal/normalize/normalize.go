// Package normalize flattens nested feed entities into a flat table whose
// columns are dot-joined paths.
package normalize

import (
	"sort"

	"github.com/dwsmith1983/gtfsload/pkg/types"
)

// Defaults for the flattening heuristics.
const (
	DefaultMaxIterations = 10
	DefaultSampleSize    = 5
	Separator            = "."
)

// Normalizer flattens entity trees in two phases: list explosion, then
// object expansion. Column classification looks at the first SampleSize
// non-null values; SampleSize <= 0 inspects every value.
type Normalizer struct {
	MaxIterations int
	SampleSize    int
}

// New returns a Normalizer with the default iteration cap and sample size.
func New() *Normalizer {
	return &Normalizer{
		MaxIterations: DefaultMaxIterations,
		SampleSize:    DefaultSampleSize,
	}
}

// Flatten converts entities into one flat table. An empty input yields an
// empty table.
func (n *Normalizer) Flatten(entities []map[string]any) *types.Table {
	t := &types.Table{}
	for _, e := range entities {
		row := make(types.Row)
		flattenInto(row, "", e, t)
		t.Rows = append(t.Rows, row)
	}
	if t.Len() == 0 {
		return t
	}

	maxIter := n.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	for i := 0; i < maxIter; i++ {
		col, ok := n.firstMatching(t, isList)
		if !ok {
			break
		}
		t = explode(t, col)
	}

	for _, col := range append([]string(nil), t.Columns...) {
		if n.classify(t, col, isObject) {
			expand(t, col)
		}
	}
	return t
}

// flattenInto writes v's leaves into row under dot-joined keys, registering
// new columns on t in first-seen order. Lists are kept as values.
func flattenInto(row types.Row, prefix string, v map[string]any, t *types.Table) {
	for _, k := range sortedKeys(v) {
		key := k
		if prefix != "" {
			key = prefix + Separator + k
		}
		if child, ok := v[k].(map[string]any); ok {
			flattenInto(row, key, child, t)
			continue
		}
		row[key] = v[k]
		t.AddColumn(key)
	}
}

func (n *Normalizer) firstMatching(t *types.Table, pred func(any) bool) (string, bool) {
	for _, col := range t.Columns {
		if n.classify(t, col, pred) {
			return col, true
		}
	}
	return "", false
}

// classify reports whether any sampled non-null value in col satisfies pred.
func (n *Normalizer) classify(t *types.Table, col string, pred func(any) bool) bool {
	seen := 0
	for _, r := range t.Rows {
		v, ok := r[col]
		if !ok || v == nil {
			continue
		}
		if pred(v) {
			return true
		}
		seen++
		if n.SampleSize > 0 && seen >= n.SampleSize {
			return false
		}
	}
	return false
}

// explode emits one row per element of the list in col. Empty lists produce
// a single row with a null value; non-list values are kept as they are.
func explode(t *types.Table, col string) *types.Table {
	out := &types.Table{Columns: t.Columns}
	for _, r := range t.Rows {
		list, ok := r[col].([]any)
		if !ok {
			out.Rows = append(out.Rows, r)
			continue
		}
		if len(list) == 0 {
			nr := r.Clone()
			nr[col] = nil
			out.Rows = append(out.Rows, nr)
			continue
		}
		for _, elem := range list {
			nr := r.Clone()
			nr[col] = elem
			out.Rows = append(out.Rows, nr)
		}
	}
	return out
}

// expand replaces an object column by its flattened keys prefixed with the
// column name. A column carrying any non-object value is left untouched.
func expand(t *types.Table, col string) {
	for _, r := range t.Rows {
		v := r[col]
		if v == nil {
			continue
		}
		if _, ok := v.(map[string]any); !ok {
			return
		}
	}

	added := &types.Table{Columns: t.Columns}
	for _, r := range t.Rows {
		obj, _ := r[col].(map[string]any)
		delete(r, col)
		if obj != nil {
			flattenInto(r, col, obj, added)
		}
	}
	t.Columns = added.Columns
	t.DropColumn(col)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func isList(v any) bool {
	_, ok := v.([]any)
	return ok
}

func isObject(v any) bool {
	_, ok := v.(map[string]any)
	return ok
}

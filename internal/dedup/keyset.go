// Package dedup suppresses rows that repeat the previous run's output for a
// destination table, using a key set persisted in a snapshot store.
package dedup

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/dwsmith1983/gtfsload/internal/value"
	"github.com/dwsmith1983/gtfsload/pkg/types"
)

// Scope identifies the destination a key set belongs to.
type Scope struct {
	Project string
	Dataset string
	Table   string
}

// Key returns the store key for the scope's snapshot.
func (s Scope) Key() string {
	return fmt.Sprintf("%s:%s:%s:snapshot", s.Project, s.Dataset, s.Table)
}

// KeySet is the set of serialized key tuples seen by the previous run.
type KeySet struct {
	members    map[string]struct{}
	CapturedAt time.Time
}

// NewKeySet builds a key set from stored members.
func NewKeySet(members []string, capturedAt time.Time) *KeySet {
	ks := &KeySet{members: make(map[string]struct{}, len(members)), CapturedAt: capturedAt}
	for _, m := range members {
		ks.members[m] = struct{}{}
	}
	return ks
}

// Len returns the number of keys.
func (k *KeySet) Len() int {
	if k == nil {
		return 0
	}
	return len(k.members)
}

// Has reports whether the serialized key is present.
func (k *KeySet) Has(key string) bool {
	if k == nil {
		return false
	}
	_, ok := k.members[key]
	return ok
}

// Members returns the keys in sorted order.
func (k *KeySet) Members() []string {
	if k.Len() == 0 {
		return nil
	}
	out := make([]string, 0, len(k.members))
	for m := range k.members {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// KeyOf serializes a row's projection onto keyColumns as a JSON array of
// canonical strings. Nulls collapse to "" and single-element lists unwrap
// to their element, so ("V1", 100) and ("V1", "100") produce the same key.
func KeyOf(row types.Row, keyColumns []string) string {
	parts := make([]string, len(keyColumns))
	for i, c := range keyColumns {
		parts[i] = value.Canonical(unwrap(row[c]))
	}
	b, _ := json.Marshal(parts)
	return string(b)
}

func unwrap(v any) any {
	for {
		l, ok := v.([]any)
		if !ok || len(l) != 1 {
			return v
		}
		v = l[0]
	}
}

// Project returns the distinct keys of t in first-seen order.
func Project(t *types.Table, keyColumns []string) []string {
	seen := make(map[string]struct{}, t.Len())
	var out []string
	for _, r := range t.Rows {
		k := KeyOf(r, keyColumns)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// Filter drops every row whose key projection is in keys and returns the
// kept rows with the number skipped. The input is not modified.
func Filter(t *types.Table, keys *KeySet, keyColumns []string) (*types.Table, int) {
	out := types.NewTable(t.Columns...)
	if keys.Len() == 0 {
		out.Rows = append(out.Rows, t.Rows...)
		return out, 0
	}
	skipped := 0
	for _, r := range t.Rows {
		if keys.Has(KeyOf(r, keyColumns)) {
			skipped++
			continue
		}
		out.Rows = append(out.Rows, r)
	}
	return out, skipped
}

// Exclude returns the rows of t whose key projection matches none of the
// rejected rows. The input is not modified.
func Exclude(t *types.Table, rejected []types.Row, keyColumns []string) *types.Table {
	drop := make(map[string]struct{}, len(rejected))
	for _, r := range rejected {
		drop[KeyOf(r, keyColumns)] = struct{}{}
	}
	out := types.NewTable(t.Columns...)
	for _, r := range t.Rows {
		if _, ok := drop[KeyOf(r, keyColumns)]; ok {
			continue
		}
		out.Rows = append(out.Rows, r)
	}
	return out
}

// ValidateKeyColumns fails when a key column is absent from the destination.
func ValidateKeyColumns(schema *types.Schema, keyColumns []string) error {
	if len(keyColumns) == 0 {
		return fmt.Errorf("%w: no key columns configured", types.ErrMissingKeyColumns)
	}
	var missing []string
	for _, c := range keyColumns {
		if !schema.Has(c) {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s lacks %v", types.ErrMissingKeyColumns, schema.Table, missing)
	}
	return nil
}

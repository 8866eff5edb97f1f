package pipeline

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
	"time"

	"github.com/dwsmith1983/gtfsload/internal/value"
	"github.com/dwsmith1983/gtfsload/pkg/types"
)

const (
	keyLength       = 16
	recordSeparator = "\x1f"
	entitySeparator = "|"
)

// RecordID computes the content key of row under c: a hash over the
// canonical values of every non-volatile contract field in declared order.
// Absent fields read as null, so the key does not depend on which columns
// a particular table happens to carry or in what order.
func RecordID(c *types.Contract, row types.Row) string {
	parts := make([]string, 0, len(c.Fields))
	for _, f := range c.Fields {
		if f.Name == RecordIDColumn || f.Name == EntityIDColumn || c.IsVolatile(f.Name) {
			continue
		}
		parts = append(parts, canonicalField(f, row[f.Name]))
	}
	return digest(strings.Join(parts, recordSeparator))
}

// EntityID computes the entity key of row over the given entity fields.
func EntityID(c *types.Contract, fields []string, row types.Row) string {
	parts := make([]string, len(fields))
	for i, name := range fields {
		f, ok := c.Field(name)
		if !ok {
			parts[i] = value.Canonical(row[name])
			continue
		}
		parts[i] = canonicalField(f, row[name])
	}
	return digest(strings.Join(parts, entitySeparator))
}

func digest(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])[:keyLength]
}

// canonicalField renders v the way it will look after validation so that a
// row hashes identically before and after cleaning.
func canonicalField(f types.Field, v any) string {
	if value.IsNull(v) {
		return ""
	}
	switch f.Type {
	case types.FieldString:
		if s, ok := value.String(v); ok {
			return s
		}
	case types.FieldInt64:
		if i, ok := value.Int(v); ok {
			return value.Canonical(i)
		}
	case types.FieldFloat:
		if x, ok := value.Float(v); ok {
			return value.Canonical(x)
		}
	case types.FieldBool:
		if b, ok := value.Bool(v); ok {
			return value.Canonical(b)
		}
	case types.FieldTimestamp:
		if ts, ok := value.Time(v); ok {
			return value.Canonical(ts.Truncate(time.Second))
		}
	case types.FieldDate:
		if d, ok := value.Date(v); ok {
			return d.Format("2006-01-02")
		}
	}
	return value.Canonical(v)
}

// addRecordID sets record_id on every row.
func addRecordID(p *pass, t *types.Table) *types.Table {
	for _, r := range t.Rows {
		r[RecordIDColumn] = RecordID(p.contract, r)
	}
	t.AddColumn(RecordIDColumn)
	return t
}

// addEntityID sets entity_id from the contract's entity fields that are
// present. It is skipped when none are declared or none are present.
func addEntityID(p *pass, t *types.Table) *types.Table {
	declared := p.contract.Entity
	if len(declared) == 0 {
		return t
	}
	var present []string
	for _, name := range declared {
		if t.HasColumn(name) {
			present = append(present, name)
		}
	}
	if len(present) == 0 {
		p.logger.Warn("no entity columns present, entity_id not generated", "entity", declared)
		return t
	}
	for _, r := range t.Rows {
		r[EntityIDColumn] = EntityID(p.contract, present, r)
	}
	t.AddColumn(EntityIDColumn)
	return t
}

// dropDuplicates keeps the first row for each record_id.
func dropDuplicates(p *pass, t *types.Table) *types.Table {
	if !t.HasColumn(RecordIDColumn) {
		return t
	}
	seen := make(map[string]bool, len(t.Rows))
	kept := t.Rows[:0:0]
	for _, r := range t.Rows {
		id := value.Canonical(r[RecordIDColumn])
		if seen[id] {
			continue
		}
		seen[id] = true
		kept = append(kept, r)
	}
	p.stats.DuplicatesDropped += len(t.Rows) - len(kept)
	t.Rows = kept
	return t
}

// filterNull drops rows where any filter-null field is null. A filter field
// missing from the table is skipped with a warning.
func filterNull(p *pass, t *types.Table) *types.Table {
	var cols []string
	for _, name := range p.contract.FilterNull {
		if !t.HasColumn(name) {
			p.logger.Warn("filter column not found, skipping", "column", name)
			continue
		}
		cols = append(cols, name)
	}
	if len(cols) == 0 {
		return t
	}

	kept := t.Rows[:0:0]
	for _, r := range t.Rows {
		keep := true
		for _, name := range cols {
			if value.IsNull(r[name]) {
				keep = false
				break
			}
		}
		if keep {
			kept = append(kept, r)
		}
	}
	p.stats.NullFiltered += len(t.Rows) - len(kept)
	t.Rows = kept
	return t
}

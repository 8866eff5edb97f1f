package write

import (
	"strings"

	"github.com/dwsmith1983/gtfsload/internal/value"
	"github.com/dwsmith1983/gtfsload/pkg/types"
)

// Reconcile reshapes t to the destination's columns: extra columns are
// dropped, missing ones read as null and the column order follows schema.
// The input is not modified.
func Reconcile(t *types.Table, schema *types.Schema) *types.Table {
	names := schema.Names()
	out := types.NewTable(names...)
	out.Rows = make([]types.Row, len(t.Rows))
	for i, r := range t.Rows {
		row := make(types.Row, len(names))
		for _, n := range names {
			if v, ok := r[n]; ok {
				row[n] = v
			}
		}
		out.Rows[i] = row
	}
	return out
}

// Extras returns t's columns that schema does not declare.
func Extras(t *types.Table, schema *types.Schema) []string {
	var out []string
	for _, c := range t.Columns {
		if !schema.Has(c) {
			out = append(out, c)
		}
	}
	return out
}

// Drift compares a contract with the destination it writes to and describes
// every column whose warehouse type differs or that the destination lacks.
func Drift(c *types.Contract, schema *types.Schema) []string {
	var out []string
	for _, f := range c.Fields {
		col, ok := schema.Column(f.Name)
		if !ok {
			out = append(out, f.Name+": missing from destination")
			continue
		}
		want, got := canonicalType(f.ColumnType()), canonicalType(col.Type)
		if want != got {
			out = append(out, f.Name+": contract "+want+", destination "+got)
		}
	}
	return out
}

func canonicalType(t string) string {
	switch t = strings.ToUpper(t); t {
	case "INT64":
		return "INTEGER"
	case "FLOAT64":
		return "FLOAT"
	case "BOOL":
		return "BOOLEAN"
	}
	return t
}

// cellOverhead approximates the footprint of one boxed value.
const cellOverhead = 16

// EstimateSize approximates t's in-memory footprint in bytes.
func EstimateSize(t *types.Table) int64 {
	var n int64
	for _, r := range t.Rows {
		for _, c := range t.Columns {
			n += cellOverhead
			if v := r[c]; !value.IsNull(v) {
				if s, ok := v.(string); ok {
					n += int64(len(s))
				}
			}
		}
	}
	return n
}

package bigquery

import (
	"fmt"
	"time"

	bq "cloud.google.com/go/bigquery"

	"github.com/dwsmith1983/gtfsload/internal/value"
	"github.com/dwsmith1983/gtfsload/pkg/types"
)

func fromBQSchema(table string, s bq.Schema) *types.Schema {
	out := &types.Schema{Table: table, Columns: make([]types.Column, len(s))}
	for i, f := range s {
		out.Columns[i] = types.Column{
			Name:        f.Name,
			Type:        string(f.Type),
			Required:    f.Required,
			Description: f.Description,
		}
	}
	return out
}

func toBQSchema(s *types.Schema) bq.Schema {
	out := make(bq.Schema, len(s.Columns))
	for i, c := range s.Columns {
		out[i] = &bq.FieldSchema{
			Name:        c.Name,
			Type:        bq.FieldType(c.Type),
			Required:    c.Required,
			Description: c.Description,
		}
	}
	return out
}

// encodeRow renders r's non-null values in the wire form BigQuery accepts
// for each destination column type. Columns missing from the schema are
// dropped.
func encodeRow(schema *types.Schema, columns []string, r types.Row) map[string]bq.Value {
	out := make(map[string]bq.Value, len(columns))
	for _, c := range columns {
		v := r[c]
		if value.IsNull(v) {
			continue
		}
		col, ok := schema.Column(c)
		if !ok {
			continue
		}
		out[c] = encodeValue(col.Type, v)
	}
	return out
}

func encodeValue(colType string, v any) bq.Value {
	switch colType {
	case "TIMESTAMP", "DATETIME":
		if t, ok := value.Time(v); ok {
			return t.UTC().Format(time.RFC3339Nano)
		}
	case "DATE":
		if t, ok := value.Date(v); ok {
			return t.Format("2006-01-02")
		}
	case "INTEGER", "INT64":
		if i, ok := value.Int(v); ok {
			return i
		}
	case "FLOAT", "FLOAT64", "NUMERIC", "BIGNUMERIC":
		if f, ok := value.Float(v); ok {
			return f
		}
	case "BOOLEAN", "BOOL":
		if b, ok := value.Bool(v); ok {
			return b
		}
	case "STRING":
		if s, ok := value.String(v); ok {
			return s
		}
	}
	return v
}

// rowSaver implements bq.ValueSaver over an encoded row. The insert ID is
// left empty so the client assigns a random one, and identical rows sent in
// separate runs are both stored.
type rowSaver struct {
	values map[string]bq.Value
}

func (s *rowSaver) Save() (map[string]bq.Value, string, error) {
	return s.values, "", nil
}

// decodeRow turns a query result row into a types.Row. Civil date and time
// values become their canonical strings; NULLs are left out.
func decodeRow(r map[string]bq.Value) types.Row {
	out := make(types.Row, len(r))
	for k, v := range r {
		switch x := v.(type) {
		case nil:
		case time.Time:
			out[k] = x
		case fmt.Stringer:
			out[k] = x.String()
		default:
			out[k] = x
		}
	}
	return out
}

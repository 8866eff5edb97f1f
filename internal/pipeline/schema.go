package pipeline

import (
	"fmt"
	"time"

	"github.com/dwsmith1983/gtfsload/internal/value"
	"github.com/dwsmith1983/gtfsload/pkg/types"
)

// completeSchema adds every contract field missing from the table as null
// and drops every column the contract does not declare.
func completeSchema(p *pass, t *types.Table) *types.Table {
	var added, dropped []string
	for _, f := range p.contract.Fields {
		if !t.HasColumn(f.Name) {
			t.AddColumn(f.Name)
			added = append(added, f.Name)
		}
	}
	for _, col := range append([]string(nil), t.Columns...) {
		if !p.contract.HasField(col) {
			t.DropColumn(col)
			dropped = append(dropped, col)
		}
	}
	if len(added) > 0 || len(dropped) > 0 {
		p.logger.Debug("schema completed", "added", added, "dropped", dropped)
	}
	return t
}

// orderColumns sorts the columns into contract order.
func orderColumns(p *pass, t *types.Table) *types.Table {
	ordered := make([]string, 0, len(t.Columns))
	for _, f := range p.contract.Fields {
		if t.HasColumn(f.Name) {
			ordered = append(ordered, f.Name)
		}
	}
	t.Columns = ordered
	return t
}

// validateStructure enforces nullability and coerces every value to its
// field's type. Any violation rejects the whole batch.
func validateStructure(p *pass, t *types.Table) (*types.Table, error) {
	var violations []types.FieldViolation
	for _, f := range p.contract.Fields {
		nulls, invalid := 0, 0
		var nullSample, invalidSample string
		for i, r := range t.Rows {
			v := r[f.Name]
			if value.IsNull(v) {
				r[f.Name] = nil
				if !f.Nullable {
					if nulls == 0 {
						nullSample = fmt.Sprintf("row %d", i)
					}
					nulls++
				}
				continue
			}
			cv, ok := Coerce(f.Type, v)
			if !ok {
				if invalid == 0 {
					invalidSample = fmt.Sprintf("%v", v)
				}
				invalid++
				continue
			}
			r[f.Name] = cv
		}
		if nulls > 0 {
			violations = append(violations, types.FieldViolation{
				Field:  f.Name,
				Reason: "null in non-nullable field",
				Rows:   nulls,
				Sample: nullSample,
			})
		}
		if invalid > 0 {
			violations = append(violations, types.FieldViolation{
				Field:  f.Name,
				Reason: fmt.Sprintf("value not coercible to %s", f.Type),
				Rows:   invalid,
				Sample: invalidSample,
			})
		}
	}
	if len(violations) > 0 {
		err := &types.ValidationError{
			Dataset:    p.contract.Dataset,
			Table:      p.contract.Table,
			Violations: violations,
		}
		p.logger.Error("structural validation failed", "fields", err.Fields(), "rows", t.Len())
		return nil, err
	}
	return t, nil
}

// Coerce converts a non-null value to the Go representation of a field type:
// string, int64, float64, bool, or time.Time for timestamps and dates.
func Coerce(ft types.FieldType, v any) (any, bool) {
	switch ft {
	case types.FieldString:
		return value.String(v)
	case types.FieldInt64:
		return value.Int(v)
	case types.FieldFloat:
		return value.Float(v)
	case types.FieldBool:
		return value.Bool(v)
	case types.FieldTimestamp:
		return value.Time(v)
	case types.FieldDate:
		return value.Date(v)
	}
	return nil, false
}

// floorTimestamps truncates timestamp fields to whole seconds in UTC.
func floorTimestamps(p *pass, t *types.Table) *types.Table {
	for _, name := range p.contract.FieldsOfType(types.FieldTimestamp) {
		for _, r := range t.Rows {
			if ts, ok := r[name].(time.Time); ok {
				r[name] = ts.UTC().Truncate(time.Second)
			}
		}
	}
	return t
}

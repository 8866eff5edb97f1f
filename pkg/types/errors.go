package types

import (
	"errors"
	"fmt"
	"strings"
)

// Configuration errors. These are fatal and never retried automatically.
var (
	ErrTableNotFound     = errors.New("destination table not found")
	ErrMissingKeyColumns = errors.New("key columns missing from destination schema")
	ErrUnknownDataset    = errors.New("unknown dataset")
	ErrLockHeld          = errors.New("destination lock held by another writer")
)

// FieldViolation describes why one field failed structural validation.
type FieldViolation struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
	Rows   int    `json:"rows"`
	Sample string `json:"sample,omitempty"`
}

// ValidationError rejects a whole batch that failed structural validation.
type ValidationError struct {
	Dataset    string           `json:"dataset"`
	Table      string           `json:"table"`
	Violations []FieldViolation `json:"violations"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		s := fmt.Sprintf("%s: %s (%d rows)", v.Field, v.Reason, v.Rows)
		if v.Sample != "" {
			s += fmt.Sprintf(" e.g. %q", v.Sample)
		}
		parts = append(parts, s)
	}
	return fmt.Sprintf("validation failed for %s (%s): %s", e.Dataset, e.Table, strings.Join(parts, "; "))
}

// Fields returns the names of the violating fields.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		out[i] = v.Field
	}
	return out
}

package contract

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/dwsmith1983/gtfsload/pkg/types"
)

var validate = validator.New()

// Validate checks that a contract is well-formed: struct-level constraints
// plus every cross-reference to a field naming a declared field.
func Validate(c *types.Contract) error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%s: failed %q constraint", fe.Namespace(), fe.Tag())
		}
		return err
	}

	seen := make(map[string]bool, len(c.Fields))
	for _, f := range c.Fields {
		if seen[f.Name] {
			return fmt.Errorf("duplicate field %q", f.Name)
		}
		seen[f.Name] = true
		if f.Precision != nil && f.Type != types.FieldFloat {
			return fmt.Errorf("field %q: precision is only valid on float fields", f.Name)
		}
	}

	for target, paths := range c.Aliases {
		if !seen[target] {
			return fmt.Errorf("alias target %q is not a declared field", target)
		}
		if len(paths) == 0 {
			return fmt.Errorf("alias target %q has no source paths", target)
		}
	}
	if err := declared(seen, "entity", c.Entity); err != nil {
		return err
	}
	if err := declared(seen, "filterNull", c.FilterNull); err != nil {
		return err
	}
	if err := declared(seen, "clustering", c.Clustering); err != nil {
		return err
	}
	for name, codes := range c.Categorical {
		if !seen[name] {
			return fmt.Errorf("categorical field %q is not a declared field", name)
		}
		if len(codes) == 0 {
			return fmt.Errorf("categorical field %q has no codes", name)
		}
	}

	if p := c.Partition; p != nil {
		f, ok := c.Field(p.Field)
		if !ok {
			return fmt.Errorf("partition field %q is not a declared field", p.Field)
		}
		if f.Type != types.FieldTimestamp && f.Type != types.FieldDate {
			return fmt.Errorf("partition field %q must be timestamp or date, got %s", p.Field, f.Type)
		}
	}
	return nil
}

func declared(seen map[string]bool, set string, names []string) error {
	for _, n := range names {
		if !seen[n] {
			return fmt.Errorf("%s field %q is not a declared field", set, n)
		}
	}
	return nil
}

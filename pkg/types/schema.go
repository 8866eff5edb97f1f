package types

// Column is one column of a warehouse table schema.
type Column struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Required    bool   `json:"required,omitempty"`
	Description string `json:"description,omitempty"`
}

// Schema is the authoritative column layout of a warehouse table.
type Schema struct {
	Table   string   `json:"table"`
	Columns []Column `json:"columns"`
}

// Names returns the column names in table order.
func (s *Schema) Names() []string {
	out := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		out[i] = c.Name
	}
	return out
}

// Column returns the named column.
func (s *Schema) Column(name string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Has reports whether the schema declares the named column.
func (s *Schema) Has(name string) bool {
	_, ok := s.Column(name)
	return ok
}

// WarehouseSchema renders a contract as the warehouse schema it expects.
func (c *Contract) WarehouseSchema() *Schema {
	s := &Schema{Table: c.Table, Columns: make([]Column, len(c.Fields))}
	for i, f := range c.Fields {
		s.Columns[i] = Column{
			Name:        f.Name,
			Type:        f.ColumnType(),
			Required:    !f.Nullable,
			Description: f.Description,
		}
	}
	return s
}

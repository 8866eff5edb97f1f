package types

// Field describes one output column of a dataset.
type Field struct {
	Name          string    `yaml:"name" json:"name" validate:"required"`
	Type          FieldType `yaml:"type" json:"type" validate:"required,oneof=string int64 float bool timestamp date"`
	Nullable      bool      `yaml:"nullable" json:"nullable"`
	Precision     *int      `yaml:"precision,omitempty" json:"precision,omitempty" validate:"omitempty,min=0,max=15"`
	Description   string    `yaml:"description,omitempty" json:"description,omitempty"`
	WarehouseType string    `yaml:"warehouseType,omitempty" json:"warehouseType,omitempty"`
}

// ColumnType returns the warehouse column type, honouring any override.
func (f Field) ColumnType() string {
	if f.WarehouseType != "" {
		return f.WarehouseType
	}
	return f.Type.WarehouseType()
}

// PartitionSpec is the time partitioning of a warehouse table.
type PartitionSpec struct {
	Granularity string `yaml:"granularity" json:"granularity" validate:"required,oneof=HOUR DAY MONTH YEAR"`
	Field       string `yaml:"field" json:"field" validate:"required"`
}

// Contract is the declarative description of one dataset: its output
// columns, where they come from in the raw payload and how the warehouse
// table is laid out. Contracts are read-only once registered.
type Contract struct {
	Dataset     string                      `yaml:"dataset" json:"dataset" validate:"required"`
	Kind        FeedKind                    `yaml:"kind" json:"kind" validate:"required,oneof=realtime schedule derived"`
	Description string                      `yaml:"description,omitempty" json:"description,omitempty"`
	Table       string                      `yaml:"table" json:"table" validate:"required"`
	Fields      []Field                     `yaml:"fields" json:"fields" validate:"required,min=1,dive"`
	Clustering  []string                    `yaml:"clustering,omitempty" json:"clustering,omitempty" validate:"max=4"`
	Partition   *PartitionSpec              `yaml:"partition,omitempty" json:"partition,omitempty"`
	Aliases     map[string][]string         `yaml:"aliases,omitempty" json:"aliases,omitempty"`
	Volatile    []string                    `yaml:"volatile,omitempty" json:"volatile,omitempty"`
	Entity      []string                    `yaml:"entity,omitempty" json:"entity,omitempty"`
	FilterNull  []string                    `yaml:"filterNull,omitempty" json:"filterNull,omitempty"`
	Categorical map[string]map[int64]string `yaml:"categorical,omitempty" json:"categorical,omitempty"`
}

// Field returns the named field.
func (c *Contract) Field(name string) (Field, bool) {
	for _, f := range c.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// HasField reports whether the contract declares the named field.
func (c *Contract) HasField(name string) bool {
	_, ok := c.Field(name)
	return ok
}

// FieldNames returns the declared field names in contract order.
func (c *Contract) FieldNames() []string {
	names := make([]string, len(c.Fields))
	for i, f := range c.Fields {
		names[i] = f.Name
	}
	return names
}

// FieldsOfType returns the names of all fields with the given semantic type.
func (c *Contract) FieldsOfType(t FieldType) []string {
	var names []string
	for _, f := range c.Fields {
		if f.Type == t {
			names = append(names, f.Name)
		}
	}
	return names
}

// IsVolatile reports whether the named field is excluded from content hashing.
func (c *Contract) IsVolatile(name string) bool {
	for _, v := range c.Volatile {
		if v == name {
			return true
		}
	}
	return false
}

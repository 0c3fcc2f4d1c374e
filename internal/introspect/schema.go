package introspect

// Column represents a table column as the catalog reports it.
type Column struct {
	Name     string  `json:"name" yaml:"name"`
	Type     string  `json:"type" yaml:"type"`
	Length   int     `json:"length,omitempty" yaml:"length,omitempty"` // character length when reported separately from Type
	Nullable bool    `json:"nullable" yaml:"nullable"`
	PK       bool    `json:"pk" yaml:"pk"`
	PKSeq    int     `json:"pk_seq,omitempty" yaml:"pk_seq,omitempty"` // 1-based position within a composite key
	Default  *string `json:"default,omitempty" yaml:"default,omitempty"`
}

// ForeignKey represents a foreign key relationship. Composite keys list
// their columns comma separated, in matching order.
type ForeignKey struct {
	FromSchema string `json:"from_schema,omitempty" yaml:"from_schema,omitempty"`
	FromTable  string `json:"from_table" yaml:"from_table"`
	FromColumn string `json:"from_column" yaml:"from_column"`
	ToSchema   string `json:"to_schema,omitempty" yaml:"to_schema,omitempty"`
	ToTable    string `json:"to_table" yaml:"to_table"`
	ToColumn   string `json:"to_column" yaml:"to_column"`
	Constraint string `json:"constraint,omitempty" yaml:"constraint,omitempty"`
}

// Table represents a database table and its columns.
type Table struct {
	Schema  string   `json:"schema,omitempty" yaml:"schema,omitempty"`
	Name    string   `json:"name" yaml:"name"`
	Columns []Column `json:"columns" yaml:"columns"`
	Comment *string  `json:"comment,omitempty" yaml:"comment,omitempty"` // optional table comment
}

// Schema is the part of a database catalog that was read.
type Schema struct {
	Tables      []Table      `json:"tables" yaml:"tables"`
	ForeignKeys []ForeignKey `json:"foreign_keys" yaml:"foreign_keys"`
}

// Table looks a table up by name.
func (s Schema) Table(name string) (Table, bool) {
	for _, t := range s.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}

// ForeignKeysFrom returns the foreign keys declared on table.
func (s Schema) ForeignKeysFrom(table string) []ForeignKey {
	var out []ForeignKey
	for _, fk := range s.ForeignKeys {
		if fk.FromTable == table {
			out = append(out, fk)
		}
	}
	return out
}

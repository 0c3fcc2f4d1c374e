package schema

import (
	"fmt"
	"strings"
)

// Autoincrement modes for a Column.
const (
	AutoincrementAuto = iota // single integer primary key without a foreign key
	AutoincrementOn
	AutoincrementOff
)

// Column is one column of a Table. A Column belongs to exactly one Table.
type Column struct {
	name          string
	typ           Type
	nullable      *bool
	primaryKey    bool
	unique        bool
	autoincrement int
	defaultValue  any
	hasDefault    bool
	foreignKey    *ForeignKey
	table         *Table
}

// ColumnOption configures a Column.
type ColumnOption func(*Column)

// PrimaryKey makes the column part of the table's primary key.
func PrimaryKey() ColumnOption { return func(c *Column) { c.primaryKey = true } }

// NotNull adds NOT NULL.
func NotNull() ColumnOption { return Nullable(false) }

// Nullable sets nullability explicitly. Columns are nullable unless they are
// part of the primary key.
func Nullable(b bool) ColumnOption { return func(c *Column) { c.nullable = &b } }

func Unique() ColumnOption { return func(c *Column) { c.unique = true } }

// Default sets a server-side default, rendered as a literal.
func Default(v any) ColumnOption {
	return func(c *Column) { c.defaultValue, c.hasDefault = v, true }
}

// Autoincrement forces the autoincrement behaviour on or off.
func Autoincrement(on bool) ColumnOption {
	return func(c *Column) {
		if on {
			c.autoincrement = AutoincrementOn
		} else {
			c.autoincrement = AutoincrementOff
		}
	}
}

// References adds a foreign key to "table.column". A column declared with a
// nil type takes the referenced column's type.
func References(target string) ColumnOption {
	return func(c *Column) { c.foreignKey = &ForeignKey{target: target, parent: c} }
}

// Col declares a column. typ may be nil when References supplies it.
func Col(name string, typ Type, opts ...ColumnOption) *Column {
	c := &Column{name: name, typ: typ}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Column) Name() string { return c.name }

// Table is the table the column was attached to, nil before that.
func (c *Column) Table() *Table { return c.table }

func (c *Column) IsPrimaryKey() bool { return c.primaryKey }

func (c *Column) IsUnique() bool { return c.unique }

func (c *Column) ForeignKey() *ForeignKey { return c.foreignKey }

// Default returns the server default and whether one is set.
func (c *Column) Default() (any, bool) { return c.defaultValue, c.hasDefault }

func (c *Column) Nullable() bool {
	if c.nullable != nil {
		return *c.nullable
	}
	return !c.primaryKey
}

// Type resolves the column type, following a foreign key when the column
// was declared without one.
func (c *Column) Type() Type {
	if c.typ != nil {
		return c.typ
	}
	if c.foreignKey != nil {
		if target, err := c.foreignKey.Column(); err == nil && target != c {
			return target.Type()
		}
	}
	return NullType{}
}

// IsAutoincrement reports whether the database generates this column's value.
func (c *Column) IsAutoincrement() bool {
	switch c.autoincrement {
	case AutoincrementOn:
		return true
	case AutoincrementOff:
		return false
	}
	if !c.primaryKey || c.foreignKey != nil || c.table == nil {
		return false
	}
	if len(c.table.PrimaryKey().Columns) != 1 {
		return false
	}
	switch c.Type().(type) {
	case Integer, BigInteger, SmallInteger:
		return true
	}
	return false
}

func (c *Column) String() string {
	if c.table == nil {
		return c.name
	}
	return c.table.name + "." + c.name
}

// GoString renders e.g. Column(name, VARCHAR(30), table=<user_account>).
func (c *Column) GoString() string {
	parts := []string{c.name, c.Type().String()}
	if c.foreignKey != nil {
		parts = append(parts, fmt.Sprintf("ForeignKey(%s)", c.foreignKey.target))
	}
	if c.table != nil {
		parts = append(parts, fmt.Sprintf("table=<%s>", c.table.name))
	}
	if c.primaryKey {
		parts = append(parts, "primary_key")
	}
	if !c.Nullable() {
		parts = append(parts, "not null")
	}
	return "Column(" + strings.Join(parts, ", ") + ")"
}

// ForeignKey points a column at "table.column". Every ForeignKey belongs to
// a ForeignKeyConstraint once its column is attached to a table.
type ForeignKey struct {
	target     string
	parent     *Column
	constraint *ForeignKeyConstraint
}

// Constraint is the (possibly composite) constraint the key is part of.
func (fk *ForeignKey) Constraint() *ForeignKeyConstraint { return fk.constraint }

// Target is the "table.column" string the key was declared with.
func (fk *ForeignKey) Target() string { return fk.target }

func (fk *ForeignKey) Parent() *Column { return fk.parent }

// TargetTable is the referenced table name.
func (fk *ForeignKey) TargetTable() string {
	i := strings.LastIndex(fk.target, ".")
	if i < 0 {
		return fk.target
	}
	return fk.target[:i]
}

// TargetColumn is the referenced column name, empty when the key refers to
// the target's primary key implicitly.
func (fk *ForeignKey) TargetColumn() string {
	i := strings.LastIndex(fk.target, ".")
	if i < 0 {
		return ""
	}
	return fk.target[i+1:]
}

// Column resolves the referenced column through the parent's MetaData.
func (fk *ForeignKey) Column() (*Column, error) {
	if fk.parent == nil || fk.parent.table == nil || fk.parent.table.metadata == nil {
		return nil, fmt.Errorf("foreign key %s: column is not attached to a table in a MetaData", fk.target)
	}
	md := fk.parent.table.metadata
	t, ok := md.Table(fk.TargetTable())
	if !ok {
		return nil, fmt.Errorf("foreign key on %s could not find table %q", fk.parent, fk.TargetTable())
	}
	name := fk.TargetColumn()
	if name == "" {
		pk := t.PrimaryKey().Columns
		if len(pk) != 1 {
			return nil, fmt.Errorf("foreign key on %s needs a column name: %s has %d primary key columns", fk.parent, t.name, len(pk))
		}
		return pk[0], nil
	}
	c := t.C(name)
	if c == nil {
		return nil, fmt.Errorf("foreign key on %s could not find column %q on table %q", fk.parent, name, t.name)
	}
	return c, nil
}

// ForeignKeyConstraint ties local columns to the same number of columns of
// one referenced table. RefColumns may be empty to mean the referenced
// table's primary key.
type ForeignKeyConstraint struct {
	Name       string
	Columns    []string
	RefTable   string
	RefColumns []string
	table      *Table
}

// ForeignKeyCols declares a table-level, possibly composite, foreign key.
func ForeignKeyCols(cols []string, refTable string, refCols ...string) *ForeignKeyConstraint {
	return &ForeignKeyConstraint{Columns: cols, RefTable: refTable, RefColumns: refCols}
}

func (fkc *ForeignKeyConstraint) Table() *Table { return fkc.table }

// Referred resolves the referenced columns.
func (fkc *ForeignKeyConstraint) Referred() ([]*Column, error) {
	if fkc.table == nil || fkc.table.metadata == nil {
		return nil, fmt.Errorf("foreign key %v is not attached to a table in a MetaData", fkc)
	}
	if len(fkc.RefColumns) == 0 && len(fkc.Columns) > 1 {
		ref, ok := fkc.table.metadata.Table(fkc.RefTable)
		if !ok {
			return nil, fmt.Errorf("foreign key on %s could not find table %q", fkc.table.name, fkc.RefTable)
		}
		pk := ref.PrimaryKey().Columns
		if len(pk) != len(fkc.Columns) {
			return nil, fmt.Errorf("foreign key %v does not match the primary key of %s", fkc, ref.name)
		}
		return pk, nil
	}
	out := make([]*Column, 0, len(fkc.Columns))
	for _, name := range fkc.Columns {
		c := fkc.table.C(name)
		target, err := c.foreignKey.Column()
		if err != nil {
			return nil, err
		}
		out = append(out, target)
	}
	return out, nil
}

func (fkc *ForeignKeyConstraint) String() string {
	return fmt.Sprintf("ForeignKeyConstraint((%s), %s(%s))",
		strings.Join(fkc.Columns, ", "), fkc.RefTable, strings.Join(fkc.RefColumns, ", "))
}

// PrimaryKeyConstraint lists the primary key columns in declaration order.
type PrimaryKeyConstraint struct {
	Table   *Table
	Columns []*Column
}

func (p PrimaryKeyConstraint) String() string {
	names := make([]string, len(p.Columns))
	for i, c := range p.Columns {
		names[i] = c.name
	}
	return fmt.Sprintf("PrimaryKeyConstraint(%s)", strings.Join(names, ", "))
}

// TableItem is a Column or a ForeignKeyConstraint passed to NewTable.
type TableItem interface {
	tableItem()
}

func (*Column) tableItem()               {}
func (*ForeignKeyConstraint) tableItem() {}

// Table is a named, ordered set of columns registered in a MetaData.
type Table struct {
	name        string
	columns     []*Column
	foreignKeys []*ForeignKeyConstraint
	metadata    *MetaData
}

// NewTable declares a table and registers it in md. Names must be unique
// within md and column names unique within the table.
func NewTable(name string, md *MetaData, items ...TableItem) (*Table, error) {
	if name == "" {
		return nil, fmt.Errorf("table name is empty")
	}
	t := &Table{name: name, metadata: md}
	var cols []*Column
	var fkcs []*ForeignKeyConstraint
	seen := make(map[string]*Column)
	for _, item := range items {
		switch it := item.(type) {
		case *Column:
			if it.table != nil {
				return nil, fmt.Errorf("column %q already belongs to table %q", it.name, it.table.name)
			}
			if seen[it.name] != nil {
				return nil, fmt.Errorf("table %q declares column %q twice", name, it.name)
			}
			seen[it.name] = it
			cols = append(cols, it)
		case *ForeignKeyConstraint:
			fkcs = append(fkcs, it)
		}
	}
	for _, fkc := range fkcs {
		if len(fkc.Columns) == 0 || (len(fkc.RefColumns) > 0 && len(fkc.RefColumns) != len(fkc.Columns)) {
			return nil, fmt.Errorf("table %q: foreign key %v needs matching column lists", name, fkc)
		}
		for _, cn := range fkc.Columns {
			c := seen[cn]
			if c == nil {
				return nil, fmt.Errorf("table %q: foreign key names unknown column %q", name, cn)
			}
			if c.foreignKey != nil {
				return nil, fmt.Errorf("table %q: column %q already has a foreign key", name, cn)
			}
		}
	}
	if md != nil {
		if err := md.add(t); err != nil {
			return nil, err
		}
	}

	for _, c := range cols {
		c.table = t
		t.columns = append(t.columns, c)
	}
	// column-level References become single-column constraints, in column order
	for _, c := range cols {
		if c.foreignKey == nil {
			continue
		}
		fkc := &ForeignKeyConstraint{
			Columns:  []string{c.name},
			RefTable: c.foreignKey.TargetTable(),
			table:    t,
		}
		if rc := c.foreignKey.TargetColumn(); rc != "" {
			fkc.RefColumns = []string{rc}
		}
		c.foreignKey.constraint = fkc
		t.foreignKeys = append(t.foreignKeys, fkc)
	}
	for _, fkc := range fkcs {
		fkc.table = t
		for i, cn := range fkc.Columns {
			target := fkc.RefTable
			if len(fkc.RefColumns) > 0 {
				target += "." + fkc.RefColumns[i]
			}
			c := seen[cn]
			c.foreignKey = &ForeignKey{target: target, parent: c, constraint: fkc}
		}
		t.foreignKeys = append(t.foreignKeys, fkc)
	}
	return t, nil
}

// MustTable is NewTable that panics on error, for package-level declarations.
func MustTable(name string, md *MetaData, items ...TableItem) *Table {
	t, err := NewTable(name, md, items...)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Table) Name() string { return t.name }

func (t *Table) MetaData() *MetaData { return t.metadata }

// C returns the named column, or nil.
func (t *Table) C(name string) *Column {
	for _, c := range t.columns {
		if c.name == name {
			return c
		}
	}
	return nil
}

func (t *Table) Columns() []*Column {
	out := make([]*Column, len(t.columns))
	copy(out, t.columns)
	return out
}

// Keys returns the column names in order.
func (t *Table) Keys() []string {
	keys := make([]string, len(t.columns))
	for i, c := range t.columns {
		keys[i] = c.name
	}
	return keys
}

func (t *Table) PrimaryKey() PrimaryKeyConstraint {
	pk := PrimaryKeyConstraint{Table: t}
	for _, c := range t.columns {
		if c.primaryKey {
			pk.Columns = append(pk.Columns, c)
		}
	}
	return pk
}

func (t *Table) ForeignKeys() []*ForeignKey {
	var out []*ForeignKey
	for _, c := range t.columns {
		if c.foreignKey != nil {
			out = append(out, c.foreignKey)
		}
	}
	return out
}

// ForeignKeyConstraints returns the table's foreign key constraints, column
// level ones first.
func (t *Table) ForeignKeyConstraints() []*ForeignKeyConstraint {
	out := make([]*ForeignKeyConstraint, len(t.foreignKeys))
	copy(out, t.foreignKeys)
	return out
}

// References reports whether t has a foreign key into other.
func (t *Table) References(other *Table) bool {
	for _, fk := range t.ForeignKeys() {
		if fk.TargetTable() == other.name {
			return true
		}
	}
	return false
}

func (t *Table) String() string { return t.name }

// GoString renders the table with every column.
func (t *Table) GoString() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Table(%s, MetaData()", t.name)
	for _, c := range t.columns {
		b.WriteString(", ")
		b.WriteString(c.GoString())
	}
	b.WriteString(")")
	return b.String()
}

// Package orm maps Go structs onto schema tables and persists them through
// a unit-of-work Session.
package orm

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"

	"dbtour/internal/engine"
	"dbtour/internal/schema"
)

var (
	ErrNotMapped     = errors.New("type is not mapped")
	ErrNoPrimaryKey  = errors.New("mapper has no primary key")
	ErrNotFound      = errors.New("no row for primary key")
	ErrSessionClosed = errors.New("session is closed")
)

// Registry holds the mappers of one application together with the MetaData
// their declared tables are added to.
type Registry struct {
	md *schema.MetaData

	mu         sync.RWMutex
	byType     map[reflect.Type]*Mapper
	byName     map[string]*Mapper
	order      []*Mapper
	configured bool
}

// NewRegistry returns a registry with a fresh MetaData.
func NewRegistry() *Registry {
	return NewRegistryWithMetaData(schema.NewMetaData())
}

func NewRegistryWithMetaData(md *schema.MetaData) *Registry {
	return &Registry{
		md:     md,
		byType: make(map[reflect.Type]*Mapper),
		byName: make(map[string]*Mapper),
	}
}

func (r *Registry) MetaData() *schema.MetaData { return r.md }

// Mappers returns every mapper in registration order.
func (r *Registry) Mappers() []*Mapper {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Mapper, len(r.order))
	copy(out, r.order)
	return out
}

// Mapper binds a struct type to a table.
type Mapper struct {
	typ      reflect.Type
	table    *schema.Table
	fields   []*binding
	byColumn map[string]*binding
	pk       *binding
	rels     []*Relationship
	registry *Registry
}

// binding is one struct field stored in one column.
type binding struct {
	column *schema.Column
	index  []int
	field  reflect.StructField
}

func (m *Mapper) Name() string { return m.typ.Name() }

func (m *Mapper) Type() reflect.Type { return m.typ }

func (m *Mapper) Table() *schema.Table { return m.table }

// Relationship returns the named relationship, or nil.
func (m *Mapper) Relationship(name string) *Relationship {
	for _, rel := range m.rels {
		if rel.Name == name {
			return rel
		}
	}
	return nil
}

func (m *Mapper) Relationships() []*Relationship { return m.rels }

func (m *Mapper) String() string {
	return fmt.Sprintf("Mapper[%s(%s)]", m.typ.Name(), m.table.Name())
}

// Map declares a table for T from its struct tags, adds it to the registry's
// MetaData and maps T onto it.
//
// Column fields use `db:"name"` (default: the field name in snake_case) and
// `orm:"pk;size:30;notnull;unique;fk:table.column;type:text;autoincrement:false;default:x"`.
// Relationship fields are *U or []*U with `rel:"back_populates:Field;foreign_key:column"`.
func Map[T any](r *Registry, tableName string) (*Mapper, error) {
	typ, err := structType[T]()
	if err != nil {
		return nil, err
	}
	m := &Mapper{typ: typ, byColumn: map[string]*binding{}, registry: r}

	var items []schema.TableItem
	var cols []*schema.Column
	var indexes [][]int
	var fields []reflect.StructField
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		if !f.IsExported() {
			continue
		}
		if tag, ok := f.Tag.Lookup("rel"); ok {
			rel, err := parseRelationship(m, f, tag)
			if err != nil {
				return nil, err
			}
			m.rels = append(m.rels, rel)
			continue
		}
		name := columnName(f)
		if name == "" {
			continue
		}
		col, err := columnFromField(name, f)
		if err != nil {
			return nil, fmt.Errorf("map %s.%s: %w", typ.Name(), f.Name, err)
		}
		items = append(items, col)
		cols = append(cols, col)
		indexes = append(indexes, f.Index)
		fields = append(fields, f)
	}

	table, err := schema.NewTable(tableName, r.md, items...)
	if err != nil {
		return nil, fmt.Errorf("map %s: %w", typ.Name(), err)
	}
	m.table = table
	for i, col := range cols {
		m.bind(col, indexes[i], fields[i])
	}
	if err := m.finish(); err != nil {
		r.md.Remove(tableName)
		return nil, err
	}
	if err := r.register(m); err != nil {
		r.md.Remove(tableName)
		return nil, err
	}
	return m, nil
}

// MapTable maps T onto an existing table. Every column of the table needs a
// field, matched by `db` tag or snake_case field name.
func MapTable[T any](r *Registry, table *schema.Table) (*Mapper, error) {
	typ, err := structType[T]()
	if err != nil {
		return nil, err
	}
	m := &Mapper{typ: typ, table: table, byColumn: map[string]*binding{}, registry: r}

	byName := map[string]reflect.StructField{}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		if !f.IsExported() {
			continue
		}
		if tag, ok := f.Tag.Lookup("rel"); ok {
			rel, err := parseRelationship(m, f, tag)
			if err != nil {
				return nil, err
			}
			m.rels = append(m.rels, rel)
			continue
		}
		if name := columnName(f); name != "" {
			if table.C(name) == nil {
				return nil, fmt.Errorf("map %s onto %s: field %s has no column %q", typ.Name(), table.Name(), f.Name, name)
			}
			byName[name] = f
		}
	}
	for _, col := range table.Columns() {
		f, ok := byName[col.Name()]
		if !ok {
			return nil, fmt.Errorf("map %s onto %s: no field for column %q", typ.Name(), table.Name(), col.Name())
		}
		m.bind(col, f.Index, f)
	}
	if err := m.finish(); err != nil {
		return nil, err
	}
	if err := r.register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// MustMap is Map that panics on error.
func MustMap[T any](r *Registry, tableName string) *Mapper {
	m, err := Map[T](r, tableName)
	if err != nil {
		panic(err)
	}
	return m
}

func structType[T any]() (reflect.Type, error) {
	typ := reflect.TypeFor[T]()
	if typ.Kind() != reflect.Struct {
		return nil, fmt.Errorf("can only map struct types, got %s", typ)
	}
	return typ, nil
}

func (m *Mapper) bind(col *schema.Column, index []int, f reflect.StructField) {
	b := &binding{column: col, index: index, field: f}
	m.fields = append(m.fields, b)
	m.byColumn[col.Name()] = b
	if m.table == nil {
		m.table = col.Table()
	}
}

func (m *Mapper) finish() error {
	pk := m.table.PrimaryKey().Columns
	if len(pk) != 1 {
		if len(pk) == 0 {
			return fmt.Errorf("%w: %s", ErrNoPrimaryKey, m.typ.Name())
		}
		return fmt.Errorf("map %s: composite primary keys are not supported", m.typ.Name())
	}
	m.pk = m.byColumn[pk[0].Name()]
	return nil
}

func (r *Registry) register(m *Mapper) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byType[m.typ]; ok {
		return fmt.Errorf("type %s is already mapped", m.typ)
	}
	if _, ok := r.byName[m.typ.Name()]; ok {
		return fmt.Errorf("a type named %s is already mapped", m.typ.Name())
	}
	r.byType[m.typ] = m
	r.byName[m.typ.Name()] = m
	r.order = append(r.order, m)
	r.configured = false
	return nil
}

// MapperFor returns the mapper of obj, which is a *T, T or reflect.Type.
func (r *Registry) MapperFor(obj any) (*Mapper, error) {
	var typ reflect.Type
	switch x := obj.(type) {
	case reflect.Type:
		typ = x
	default:
		typ = reflect.TypeOf(obj)
	}
	for typ != nil && typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	r.mu.RLock()
	m, ok := r.byType[typ]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrNotMapped, typ)
	}
	return m, nil
}

// Configure resolves every relationship: its target mapper, the foreign key
// joining the two tables and the back_populates partner. It runs again only
// after new mappers are registered.
func (r *Registry) Configure() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.configured {
		return nil
	}
	for _, m := range r.order {
		for _, rel := range m.rels {
			if err := rel.resolve(r.byName); err != nil {
				return err
			}
		}
	}
	for _, m := range r.order {
		for _, rel := range m.rels {
			if err := rel.pair(); err != nil {
				return err
			}
		}
	}
	r.configured = true
	return nil
}

// Repr renders a mapped object as Type(col=value, ...) in table column
// order. An unset autoincrement key renders as nil.
func (r *Registry) Repr(obj any) string {
	m, err := r.MapperFor(obj)
	if err != nil {
		return fmt.Sprintf("%v", obj)
	}
	v := reflect.Indirect(reflect.ValueOf(obj))
	parts := make([]string, 0, len(m.fields))
	for _, b := range m.fields {
		val := columnValue(v.FieldByIndex(b.index))
		if b == m.pk && b.column.IsAutoincrement() && isZeroKey(val) {
			val = nil
		}
		parts = append(parts, b.column.Name()+"="+engine.FormatValue(val))
	}
	return m.typ.Name() + "(" + strings.Join(parts, ", ") + ")"
}

// rank orders mappers so that a mapper's table comes after every table it
// references. Mappers of unrelated tables keep registration order.
func (r *Registry) rank(m *Mapper) int {
	seen := map[string]bool{}
	var depth func(t *schema.Table) int
	depth = func(t *schema.Table) int {
		if seen[t.Name()] {
			return 0
		}
		seen[t.Name()] = true
		defer delete(seen, t.Name())
		d := 0
		for _, fk := range t.ForeignKeys() {
			target, ok := r.tableNamed(fk.TargetTable())
			if !ok || target == t {
				continue
			}
			if n := depth(target) + 1; n > d {
				d = n
			}
		}
		return d
	}
	return depth(m.table)
}

func (r *Registry) tableNamed(name string) (*schema.Table, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.order {
		if m.table.Name() == name {
			return m.table, true
		}
	}
	return r.md.Table(name)
}

// parseOptions splits "a;b:c" into keys and values.
func parseOptions(tag string) map[string]string {
	out := map[string]string{}
	for _, part := range strings.Split(tag, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, _ := strings.Cut(part, ":")
		out[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	return out
}

func columnName(f reflect.StructField) string {
	if tag, ok := f.Tag.Lookup("db"); ok {
		if tag == "-" {
			return ""
		}
		if name, _, _ := strings.Cut(tag, ","); name != "" {
			return name
		}
	}
	return snakeCase(f.Name)
}

func columnFromField(name string, f reflect.StructField) (*schema.Column, error) {
	opts := parseOptions(f.Tag.Get("orm"))
	size := 0
	if s, ok := opts["size"]; ok {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("bad size %q: %w", s, err)
		}
		size = n
	}

	var typ schema.Type
	if t, ok := opts["type"]; ok {
		typ = schema.ParseType(t, size)
		if nt, isNull := typ.(schema.NullType); isNull && nt.Raw != "" {
			return nil, fmt.Errorf("unknown column type %q", t)
		}
	} else if _, hasFK := opts["fk"]; !hasFK {
		var err error
		if typ, err = goType(f.Type, size); err != nil {
			return nil, err
		}
	}

	var colOpts []schema.ColumnOption
	if _, ok := opts["pk"]; ok {
		colOpts = append(colOpts, schema.PrimaryKey())
	}
	if _, ok := opts["notnull"]; ok {
		colOpts = append(colOpts, schema.NotNull())
	}
	if _, ok := opts["unique"]; ok {
		colOpts = append(colOpts, schema.Unique())
	}
	if target, ok := opts["fk"]; ok {
		colOpts = append(colOpts, schema.References(target))
	}
	if a, ok := opts["autoincrement"]; ok {
		on, err := strconv.ParseBool(a)
		if err != nil {
			return nil, fmt.Errorf("bad autoincrement %q: %w", a, err)
		}
		colOpts = append(colOpts, schema.Autoincrement(on))
	}
	if d, ok := opts["default"]; ok {
		colOpts = append(colOpts, schema.Default(d))
	}
	return schema.Col(name, typ, colOpts...), nil
}

// snakeCase turns UserID into user_id and EmailAddress into email_address.
func snakeCase(s string) string {
	runes := []rune(s)
	var b strings.Builder
	for i, r := range runes {
		upper := r >= 'A' && r <= 'Z'
		if upper && i > 0 {
			prevLower := runes[i-1] >= 'a' && runes[i-1] <= 'z' || runes[i-1] >= '0' && runes[i-1] <= '9'
			nextLower := i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z'
			if prevLower || (nextLower && runes[i-1] >= 'A' && runes[i-1] <= 'Z') {
				b.WriteByte('_')
			}
		}
		if upper {
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

func sortedKeys(m map[string]*Mapper) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

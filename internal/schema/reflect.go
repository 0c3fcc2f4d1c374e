package schema

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"dbtour/internal/db"
	_ "dbtour/internal/db/extractors"
	"dbtour/internal/engine"
	"dbtour/internal/introspect"
	"dbtour/internal/logger"
)

// ErrNoSuchTable is returned when reflecting a table the database lacks.
var ErrNoSuchTable = errors.New("no such table")

// Reflect loads tables from the database behind e into md. With no names
// every user table is loaded. Tables already in md are left as they are.
func (md *MetaData) Reflect(ctx context.Context, e *engine.Engine, only ...string) error {
	conn, err := e.Connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	r := &reflector{md: md, driver: e.DriverName(), q: conn, seen: map[string]introspect.Schema{}}
	s, err := db.Extract(ctx, r.driver, conn, only...)
	if err != nil {
		return fmt.Errorf("reflect: %w", err)
	}
	for _, name := range only {
		if _, ok := s.Table(name); !ok {
			return fmt.Errorf("%w: %s", ErrNoSuchTable, name)
		}
	}
	for _, it := range s.Tables {
		r.seen[it.Name] = s
	}
	for _, it := range s.Tables {
		if _, err := r.table(ctx, it.Name); err != nil {
			return err
		}
	}
	return nil
}

// ReflectTable loads one table, and any table its foreign keys refer to,
// into md. If md already has a table of that name it is returned unchanged.
func (md *MetaData) ReflectTable(ctx context.Context, e *engine.Engine, name string) (*Table, error) {
	if t, ok := md.Table(name); ok {
		return t, nil
	}
	conn, err := e.Connect(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	r := &reflector{md: md, driver: e.DriverName(), q: conn, seen: map[string]introspect.Schema{}}
	return r.table(ctx, name)
}

type reflector struct {
	md     *MetaData
	driver string
	q      db.Querier
	// seen caches catalog reads by table name
	seen map[string]introspect.Schema
}

func (r *reflector) table(ctx context.Context, name string) (*Table, error) {
	if t, ok := r.md.Table(name); ok {
		return t, nil
	}
	s, ok := r.seen[name]
	if !ok {
		var err error
		s, err = db.Extract(ctx, r.driver, r.q, name)
		if err != nil {
			return nil, fmt.Errorf("reflect %s: %w", name, err)
		}
		r.seen[name] = s
	}
	it, ok := s.Table(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchTable, name)
	}

	fks := s.ForeignKeysFrom(name)
	for _, fk := range fks {
		if fk.ToTable == name {
			continue
		}
		if _, err := r.table(ctx, fk.ToTable); err != nil {
			return nil, fmt.Errorf("reflect %s referred to by %s: %w", fk.ToTable, name, err)
		}
	}

	items := make([]TableItem, 0, len(it.Columns)+len(fks))
	for _, c := range it.Columns {
		items = append(items, reflectedColumn(c))
	}
	for _, fk := range fks {
		fkc := ForeignKeyCols(splitList(fk.FromColumn), fk.ToTable, splitList(fk.ToColumn)...)
		fkc.Name = fk.Constraint
		items = append(items, fkc)
	}
	t, err := NewTable(name, r.md, items...)
	if err != nil {
		return nil, err
	}
	logger.Debug("reflected table %s: %v", name, t.Keys())
	return t, nil
}

func reflectedColumn(c introspect.Column) *Column {
	opts := []ColumnOption{Nullable(c.Nullable)}
	if c.PK {
		opts = append(opts, PrimaryKey())
	}
	if c.Default != nil {
		opts = append(opts, Default(Expr(*c.Default)))
	}
	return Col(c.Name, ParseType(c.Type, c.Length), opts...)
}

// splitList undoes the comma-joined column lists of introspect.ForeignKey.
// Empty entries, which SQLite reports for implicit primary key targets,
// collapse to an empty list.
func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			return nil
		}
		out = append(out, p)
	}
	return out
}

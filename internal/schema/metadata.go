// Package schema declares tables and columns, emits their DDL and reads
// existing tables back from a live database.
package schema

import (
	"fmt"
	"sort"
	"strings"
)

// MetaData is a collection of tables keyed by name.
type MetaData struct {
	tables map[string]*Table
	order  []string
}

func NewMetaData() *MetaData {
	return &MetaData{tables: make(map[string]*Table)}
}

func (md *MetaData) add(t *Table) error {
	if _, ok := md.tables[t.name]; ok {
		return fmt.Errorf("table %q is already defined for this MetaData instance", t.name)
	}
	md.tables[t.name] = t
	md.order = append(md.order, t.name)
	return nil
}

// Table looks a table up by name.
func (md *MetaData) Table(name string) (*Table, bool) {
	t, ok := md.tables[name]
	return t, ok
}

// Tables returns tables in declaration order.
func (md *MetaData) Tables() []*Table {
	out := make([]*Table, 0, len(md.order))
	for _, n := range md.order {
		out = append(out, md.tables[n])
	}
	return out
}

// Remove forgets a table. It does not touch the database.
func (md *MetaData) Remove(name string) {
	if _, ok := md.tables[name]; !ok {
		return
	}
	delete(md.tables, name)
	for i, n := range md.order {
		if n == name {
			md.order = append(md.order[:i], md.order[i+1:]...)
			break
		}
	}
}

// SortedTables orders tables so that every table follows the tables it
// references. Ties break by name. Self references are ignored; any other
// cycle is an error.
func (md *MetaData) SortedTables() ([]*Table, error) {
	deps := make(map[string][]string, len(md.tables))
	for name, t := range md.tables {
		for _, fk := range t.ForeignKeys() {
			target := fk.TargetTable()
			if target == name {
				continue
			}
			if _, ok := md.tables[target]; ok {
				deps[name] = append(deps[name], target)
			}
		}
	}

	names := make([]string, 0, len(md.tables))
	for n := range md.tables {
		names = append(names, n)
	}
	sort.Strings(names)

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(names))
	var out []*Table
	var visit func(n string, path []string) error
	visit = func(n string, path []string) error {
		switch state[n] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("can't sort tables, dependency cycle: %s", strings.Join(append(path, n), " -> "))
		}
		state[n] = visiting
		d := deps[n]
		sort.Strings(d)
		for _, dep := range d {
			if err := visit(dep, append(path, n)); err != nil {
				return err
			}
		}
		state[n] = done
		out = append(out, md.tables[n])
		return nil
	}
	for _, n := range names {
		if err := visit(n, nil); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (md *MetaData) String() string { return "MetaData()" }

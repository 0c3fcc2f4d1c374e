// Package db reads table structure back out of a live database. Each
// dialect registers an Extractor that knows its catalog.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"dbtour/internal/introspect"
	"dbtour/pkg/config"
)

// Querier is anything that can run a catalog query: *sql.DB, *sql.Conn,
// *sql.Tx or an engine Connection.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type Extractor interface {

	// Extract reads the named tables, or every user table when none are
	// named. Tables that do not exist are left out of the result.
	Extract(ctx context.Context, q Querier, tables ...string) (introspect.Schema, error)
}

var dialects = map[string]Extractor{}

// Register makes an Extractor available under name.
func Register(name string, e Extractor) {
	dialects[strings.ToLower(name)] = e
}

// listRegistered returns the registered dialect keys (for diagnostics).
func listRegistered() []string {
	keys := make([]string, 0, len(dialects))
	for k := range dialects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func lookup(driver string) (Extractor, error) {
	driver = config.NormalizeDriver(driver)
	extractor, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("dialect not registered: %q (available: %v)", driver, listRegistered())
	}
	return extractor, nil
}

// Extract reads table structure through q using the extractor for driver.
func Extract(ctx context.Context, driver string, q Querier, tables ...string) (introspect.Schema, error) {
	extractor, err := lookup(driver)
	if err != nil {
		return introspect.Schema{}, err
	}
	return extractor.Extract(ctx, q, tables...)
}

// HasTable reports whether table exists.
func HasTable(ctx context.Context, driver string, q Querier, table string) (bool, error) {
	s, err := Extract(ctx, driver, q, table)
	if err != nil {
		return false, err
	}
	_, ok := s.Table(table)
	return ok, nil
}

// RegisteredDialects is a helper that allows main to print registered dialects
func RegisteredDialects() []string {
	return listRegistered()
}

// Wanted reports whether name passes a table filter; an empty filter passes everything.
func Wanted(filter []string, name string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, f := range filter {
		if f == name {
			return true
		}
	}
	return false
}

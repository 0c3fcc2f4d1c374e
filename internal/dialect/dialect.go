// Package dialect holds the per-database facts the engine, DDL compiler and
// ORM need: which Go driver speaks it, how bind parameters look, how
// identifiers are quoted and how generated keys come back from an INSERT.
package dialect

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
)

// Generated key retrieval strategies.
const (
	KeysReturning    = iota // INSERT ... RETURNING pk
	KeysOutput              // INSERT ... OUTPUT INSERTED.pk VALUES ...
	KeysLastInsertID        // sql.Result.LastInsertId
	KeysUnsupported
)

// Dialect describes one SQL flavour.
type Dialect struct {
	Name       string
	Drivers    []string // database/sql driver names
	BindType   int      // sqlx bindvar type
	openQuote  string
	closeQuote string
	Keys       int
	// MaxIdentifier is the longest identifier the server accepts.
	MaxIdentifier int
}

var (
	SQLite = &Dialect{
		Name:          "sqlite",
		Drivers:       []string{"sqlite", "sqlite3"},
		BindType:      sqlx.QUESTION,
		openQuote:     `"`,
		closeQuote:    `"`,
		Keys:          KeysReturning,
		MaxIdentifier: 1024,
	}
	PostgreSQL = &Dialect{
		Name:          "postgresql",
		Drivers:       []string{"postgres", "pgx"},
		BindType:      sqlx.DOLLAR,
		openQuote:     `"`,
		closeQuote:    `"`,
		Keys:          KeysReturning,
		MaxIdentifier: 63,
	}
	MySQL = &Dialect{
		Name:          "mysql",
		Drivers:       []string{"mysql"},
		BindType:      sqlx.QUESTION,
		openQuote:     "`",
		closeQuote:    "`",
		Keys:          KeysLastInsertID,
		MaxIdentifier: 64,
	}
	MSSQL = &Dialect{
		Name:          "mssql",
		Drivers:       []string{"sqlserver"},
		BindType:      sqlx.AT,
		openQuote:     "[",
		closeQuote:    "]",
		Keys:          KeysOutput,
		MaxIdentifier: 128,
	}
	Oracle = &Dialect{
		Name:          "oracle",
		Drivers:       []string{"godror"},
		BindType:      sqlx.NAMED,
		openQuote:     `"`,
		closeQuote:    `"`,
		Keys:          KeysUnsupported,
		MaxIdentifier: 128,
	}
)

var byDriver = map[string]*Dialect{}

func init() {
	for _, d := range []*Dialect{SQLite, PostgreSQL, MySQL, MSSQL, Oracle} {
		for _, drv := range d.Drivers {
			byDriver[drv] = d
			sqlx.BindDriver(drv, d.BindType)
		}
	}
}

// ForDriver returns the dialect spoken by a database/sql driver name.
func ForDriver(driver string) (*Dialect, error) {
	d, ok := byDriver[strings.ToLower(driver)]
	if !ok {
		return nil, fmt.Errorf("no dialect for driver %q (known: %v)", driver, Drivers())
	}
	return d, nil
}

// Drivers lists every driver name with a dialect.
func Drivers() []string {
	keys := make([]string, 0, len(byDriver))
	for k := range byDriver {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (d *Dialect) String() string {
	return d.Name
}

// Rebind converts a query written with ? placeholders to the dialect's bindvars.
func (d *Dialect) Rebind(query string) string {
	return sqlx.Rebind(d.BindType, query)
}

// Quote renders an identifier, quoting it only when it is reserved, not a
// plain lower-case identifier, or otherwise needs it.
func (d *Dialect) Quote(ident string) string {
	if !d.requiresQuotes(ident) {
		return ident
	}
	escaped := strings.ReplaceAll(ident, d.closeQuote, d.closeQuote+d.closeQuote)
	return d.openQuote + escaped + d.closeQuote
}

func (d *Dialect) requiresQuotes(ident string) bool {
	if ident == "" {
		return true
	}
	if _, ok := reserved[strings.ToLower(ident)]; ok {
		return true
	}
	for i, r := range ident {
		switch {
		case r >= 'a' && r <= 'z', r == '_':
		case r >= '0' && r <= '9', r == '$':
			if i == 0 {
				return true
			}
		default:
			return true
		}
	}
	return false
}

// QuoteQualified quotes a dotted schema.table name part by part.
func (d *Dialect) QuoteQualified(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = d.Quote(p)
	}
	return strings.Join(parts, ".")
}

// reserved holds words that cannot be bare identifiers on at least one of
// the supported dialects.
var reserved = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`
		add all alter and any as asc authorization between by case cast check
		collate column commit constraint create cross current current_date
		current_time current_timestamp current_user default deferrable delete
		desc distinct do drop else end except exists false fetch for foreign
		from full grant group having in index initially inner insert intersect
		into is join key leading left like limit natural not null of offset on
		only or order outer primary references returning right rollback row
		rows select session_user set some table then to trailing true union
		unique update user using values when where window with`) {
		reserved[w] = struct{}{}
	}
}

// Package extractors registers one catalog reader per SQL dialect.
// Import it for its side effects.
package extractors

import (
	"strings"

	"dbtour/internal/introspect"
	"dbtour/internal/logger"
)

// rowScanner is the part of *sql.Rows the helpers below need.
type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Close() error
}

// markPrimaryKey reads (column_name, ordinal) rows and flags the columns of t.
func markPrimaryKey(rows rowScanner, t *introspect.Table) {
	defer rows.Close()
	for rows.Next() {
		var pkcol string
		var seq int
		if err := rows.Scan(&pkcol, &seq); err != nil {
			logger.Error("scan primary key: %v", err)
			continue
		}
		for j := range t.Columns {
			if t.Columns[j].Name == pkcol {
				t.Columns[j].PK = true
				t.Columns[j].PKSeq = seq
				// key columns are never NULL, whatever the catalog claims
				t.Columns[j].Nullable = false
			}
		}
	}
}

// collectForeignKeys keeps the foreign keys declared by tables already in s.
func collectForeignKeys(rows rowScanner, s *introspect.Schema) {
	defer rows.Close()
	for rows.Next() {
		var fk introspect.ForeignKey
		if err := rows.Scan(&fk.FromSchema, &fk.FromTable, &fk.FromColumn, &fk.ToSchema, &fk.ToTable, &fk.ToColumn, &fk.Constraint); err != nil {
			logger.Error("scan foreign key: %v", err)
			continue
		}
		for _, t := range s.Tables {
			if t.Name == fk.FromTable && strings.EqualFold(t.Schema, fk.FromSchema) {
				s.ForeignKeys = append(s.ForeignKeys, fk)
				break
			}
		}
	}
}

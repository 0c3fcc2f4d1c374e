package extractors

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"dbtour/internal/db"
	"dbtour/internal/introspect"
	"dbtour/internal/logger"
)

// sqliteExtractor implements Extractor for SQLite.
type sqliteExtractor struct{}

// This is the extractor for SQLite
func (sqliteExtractor) Extract(ctx context.Context, q db.Querier, tables ...string) (introspect.Schema, error) {
	var s introspect.Schema
	dbName := "main"

	if rows, err := q.QueryContext(ctx, `PRAGMA database_list`); err == nil {
		var seq int
		var name, file sql.NullString
		if rows.Next() {
			if err := rows.Scan(&seq, &name, &file); err == nil && name.Valid {
				dbName = name.String
			}
		}
		rows.Close()
	} else {
		logger.Error("database list: %v", err)
	}

	tr, err := q.QueryContext(ctx, fmt.Sprintf(`
	    SELECT name
		FROM %s.sqlite_master
		WHERE type='table'
		AND name NOT LIKE 'sqlite_%%'
		ORDER BY name`, quoteLiteralIdent(dbName)))
	if err != nil {
		return s, fmt.Errorf("query tables: %w", err)
	}
	for tr.Next() {
		var tab introspect.Table
		if err := tr.Scan(&tab.Name); err != nil {
			tr.Close()
			return s, fmt.Errorf("scan table row: %w", err)
		}
		if db.Wanted(tables, tab.Name) {
			s.Tables = append(s.Tables, tab)
		}
	}
	tr.Close()

	for i := range s.Tables {
		t := &s.Tables[i]
		tiQuery := fmt.Sprintf("PRAGMA %s.table_info(%s)", quoteLiteralIdent(dbName), quoteLiteral(t.Name))
		pr, err := q.QueryContext(ctx, tiQuery)
		if err != nil {
			return s, fmt.Errorf("query columns for %s: %w", t.Name, err)
		}
		for pr.Next() {
			var cid int
			var name, ctype string
			var notnull, pk int
			var dflt sql.NullString
			if err := pr.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
				pr.Close()
				return s, fmt.Errorf("scan column for %s: %w", t.Name, err)
			}
			col := introspect.Column{
				Name:     name,
				Type:     ctype,
				Nullable: notnull == 0 && pk == 0,
				PK:       pk != 0,
				PKSeq:    pk,
			}
			if dflt.Valid {
				col.Default = &dflt.String
			}
			t.Columns = append(t.Columns, col)
		}
		pr.Close()

		fks, err := sqliteForeignKeys(ctx, q, t.Name)
		if err != nil {
			logger.Error("query foreign key: %v", err)
			continue
		}
		s.ForeignKeys = append(s.ForeignKeys, fks...)
	}

	return s, nil
}

// sqliteForeignKeys folds the per-column rows of pragma_foreign_key_list
// into one ForeignKey per constraint id.
func sqliteForeignKeys(ctx context.Context, q db.Querier, table string) ([]introspect.ForeignKey, error) {
	rows, err := q.QueryContext(ctx, `
	    SELECT id, "table", "from", "to"
	    FROM pragma_foreign_key_list(?)
	    ORDER BY id, seq`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []introspect.ForeignKey
	lastID := -1
	for rows.Next() {
		var id int
		var target, from, to sql.NullString
		if err := rows.Scan(&id, &target, &from, &to); err != nil {
			logger.Error("scan foreign key: %v", err)
			continue
		}
		if id != lastID {
			out = append(out, introspect.ForeignKey{FromTable: table, ToTable: target.String})
			lastID = id
		}
		fk := &out[len(out)-1]
		fk.FromColumn = appendList(fk.FromColumn, from.String)
		fk.ToColumn = appendList(fk.ToColumn, to.String)
	}
	return out, rows.Err()
}

func appendList(list, item string) string {
	if list == "" {
		return item
	}
	return list + ", " + item
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func quoteLiteralIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func init() {
	db.Register("sqlite3", sqliteExtractor{})
	db.Register("sqlite", sqliteExtractor{})
}

package extractors

import (
	"context"
	"fmt"

	"dbtour/internal/db"
	"dbtour/internal/introspect"
	"dbtour/internal/logger"
)

// myExtractor implements Extractor for MySQL (information_schema).
type myExtractor struct{}

// This is the extractor for MySQL. Only the connection's current database is read.
func (myExtractor) Extract(ctx context.Context, q db.Querier, tables ...string) (introspect.Schema, error) {
	var s introspect.Schema

	tr, err := q.QueryContext(ctx, `
        SELECT table_schema, table_name, table_comment
        FROM information_schema.tables
        WHERE table_type = 'BASE TABLE'
          AND table_schema = DATABASE()
        ORDER BY table_name`)
	if err != nil {
		return s, fmt.Errorf("query tables: %w", err)
	}
	for tr.Next() {
		var tab introspect.Table
		if err := tr.Scan(&tab.Schema, &tab.Name, &tab.Comment); err != nil {
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
		// column_type already carries the length, e.g. varchar(30)
		cr, err := q.QueryContext(ctx, `
            SELECT column_name, column_type, is_nullable = 'YES', column_default
            FROM information_schema.columns
            WHERE table_schema = ? AND table_name = ?
            ORDER BY ordinal_position`, t.Schema, t.Name)
		if err != nil {
			return s, fmt.Errorf("query columns for %s.%s: %w", t.Schema, t.Name, err)
		}
		for cr.Next() {
			var col introspect.Column
			if err := cr.Scan(&col.Name, &col.Type, &col.Nullable, &col.Default); err != nil {
				cr.Close()
				return s, fmt.Errorf("scan column for %s.%s: %w", t.Schema, t.Name, err)
			}
			t.Columns = append(t.Columns, col)
		}
		cr.Close()

		pkr, err := q.QueryContext(ctx, `
            SELECT k.COLUMN_NAME, k.ORDINAL_POSITION
            FROM information_schema.key_column_usage k
            JOIN information_schema.table_constraints tc
              ON k.constraint_name = tc.constraint_name
             AND k.table_schema = tc.table_schema
             AND k.table_name = tc.table_name
            WHERE tc.constraint_type = 'PRIMARY KEY' AND k.table_schema = ? AND k.table_name = ?`, t.Schema, t.Name)
		if err == nil {
			markPrimaryKey(pkr, t)
		} else {
			logger.Error("query primary key: %v", err)
		}
	}

	fkr, err := q.QueryContext(ctx, `
        SELECT table_schema AS from_schema, table_name AS from_table,
		       group_concat(column_name ORDER BY ordinal_position separator ', ') AS from_column,
               referenced_table_schema AS to_schema, referenced_table_name AS to_table,
			   group_concat(referenced_column_name ORDER BY ordinal_position separator ', ') AS to_column,
			   constraint_name
        FROM information_schema.key_column_usage
        WHERE referenced_table_name IS NOT NULL AND table_schema = DATABASE()
		GROUP BY table_schema, table_name, referenced_table_schema, referenced_table_name, constraint_name`)
	if err == nil {
		collectForeignKeys(fkr, &s)
	} else {
		logger.Error("query foreign key: %v", err)
	}

	return s, nil
}

func init() {
	db.Register("mysql", myExtractor{})
	db.Register("mariadb", myExtractor{})
}

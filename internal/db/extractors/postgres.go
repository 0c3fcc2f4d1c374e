package extractors

import (
	"context"
	"database/sql"
	"fmt"

	"dbtour/internal/db"
	"dbtour/internal/introspect"
	"dbtour/internal/logger"
)

// pgExtractor implements Extractor using information_schema + pg_catalog queries.
type pgExtractor struct{}

// This is the extractor for PostgreSQL
func (pgExtractor) Extract(ctx context.Context, q db.Querier, tables ...string) (introspect.Schema, error) {
	var s introspect.Schema

	tr, err := q.QueryContext(ctx, `
        SELECT table_schema, table_name,
		       obj_description((quote_ident(table_schema)||'.'||quote_ident(table_name))::regclass) AS table_comment
        FROM information_schema.tables
        WHERE table_type = 'BASE TABLE'
          AND table_schema NOT IN ('pg_catalog','information_schema','pg_toast')
        ORDER BY table_schema = current_schema() DESC, table_schema, table_name`)
	if err != nil {
		return s, fmt.Errorf("query tables: %w", err)
	}
	seen := map[string]bool{}
	for tr.Next() {
		var tab introspect.Table
		if err := tr.Scan(&tab.Schema, &tab.Name, &tab.Comment); err != nil {
			tr.Close()
			return s, fmt.Errorf("scan table row: %w", err)
		}
		// the current schema sorts first and shadows the same name elsewhere
		if seen[tab.Name] || !db.Wanted(tables, tab.Name) {
			continue
		}
		seen[tab.Name] = true
		s.Tables = append(s.Tables, tab)
	}
	tr.Close()

	for i := range s.Tables {
		t := &s.Tables[i]
		cr, err := q.QueryContext(ctx, `
            SELECT column_name, data_type, character_maximum_length, is_nullable = 'YES', column_default
            FROM information_schema.columns
            WHERE table_schema = $1 AND table_name = $2
            ORDER BY ordinal_position`, t.Schema, t.Name)
		if err != nil {
			return s, fmt.Errorf("query columns for %s.%s: %w", t.Schema, t.Name, err)
		}
		for cr.Next() {
			var col introspect.Column
			var length sql.NullInt64
			if err := cr.Scan(&col.Name, &col.Type, &length, &col.Nullable, &col.Default); err != nil {
				cr.Close()
				return s, fmt.Errorf("scan column for %s.%s: %w", t.Schema, t.Name, err)
			}
			col.Length = int(length.Int64)
			t.Columns = append(t.Columns, col)
		}
		cr.Close()

		pkr, err := q.QueryContext(ctx, `
            SELECT kcu.column_name, kcu.ordinal_position
            FROM information_schema.table_constraints tc
            JOIN information_schema.key_column_usage kcu
              ON tc.constraint_name = kcu.constraint_name
             AND tc.table_schema = kcu.table_schema
             AND tc.table_name = kcu.table_name
            WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_schema = $1 AND tc.table_name = $2`, t.Schema, t.Name)
		if err == nil {
			markPrimaryKey(pkr, t)
		} else {
			logger.Error("query primary key: %v", err)
		}
	}

	fkr, err := q.QueryContext(ctx, `
        SELECT
          tc.table_schema from_schema,
          tc.table_name from_table,
          string_agg(kcu.column_name, ', ' ORDER BY kcu.ordinal_position) from_columns,
          rkcu.table_schema to_schema,
          rkcu.table_name to_table,
          string_agg(rkcu.column_name, ', ' ORDER BY rkcu.ordinal_position) to_columns,
		  tc.constraint_name
        FROM information_schema.table_constraints tc
        JOIN information_schema.key_column_usage kcu
          ON tc.constraint_name = kcu.constraint_name
         AND tc.constraint_schema = kcu.constraint_schema
        JOIN information_schema.referential_constraints rc
          ON tc.constraint_name = rc.constraint_name
         AND tc.constraint_schema = rc.constraint_schema
        JOIN information_schema.key_column_usage rkcu
          ON rc.unique_constraint_name = rkcu.constraint_name
         AND rc.unique_constraint_schema = rkcu.constraint_schema
         AND kcu.ordinal_position = rkcu.ordinal_position
        WHERE tc.constraint_type = 'FOREIGN KEY'
          AND tc.table_schema NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
        GROUP BY tc.table_schema, tc.table_name, rkcu.table_schema, rkcu.table_name, tc.constraint_name`)
	if err == nil {
		collectForeignKeys(fkr, &s)
	} else {
		logger.Error("query foreign key: %v", err)
	}
	return s, nil
}

func init() {
	db.Register("postgres", pgExtractor{})
	db.Register("postgresql", pgExtractor{})
	db.Register("pgx", pgExtractor{})
}

package extractors

import (
	"context"
	"database/sql"
	"fmt"

	"dbtour/internal/db"
	"dbtour/internal/introspect"
	"dbtour/internal/logger"
)

// mssqlExtractor implements Extractor for Microsoft SQL Server.
type mssqlExtractor struct{}

// This is the extractor for Microsoft SQL Server
func (mssqlExtractor) Extract(ctx context.Context, q db.Querier, tables ...string) (introspect.Schema, error) {
	var s introspect.Schema

	// list tables with schema, default schema first
	tr, err := q.QueryContext(ctx, `
        SELECT
          s.name AS schema_name,
          t.name AS table_name,
          CAST(sep.value AS nvarchar(max)) AS comment
        FROM sys.schemas AS s
        JOIN sys.tables AS t
		  ON s.schema_id = t.schema_id
        LEFT JOIN sys.extended_properties AS sep
		  ON t.object_id = sep.major_id
         AND sep.minor_id = 0
         AND sep.name = 'MS_Description'
        ORDER BY CASE WHEN s.name = SCHEMA_NAME() THEN 0 ELSE 1 END, s.name, t.name`)
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
		if seen[tab.Name] || !db.Wanted(tables, tab.Name) {
			continue
		}
		seen[tab.Name] = true
		s.Tables = append(s.Tables, tab)
	}
	tr.Close()

	// columns and PKs for each table
	for i := range s.Tables {
		t := &s.Tables[i]

		cr, err := q.QueryContext(ctx, `
            SELECT COLUMN_NAME, DATA_TYPE, CHARACTER_MAXIMUM_LENGTH,
                   CASE WHEN IS_NULLABLE='YES' THEN 1 ELSE 0 END, COLUMN_DEFAULT
            FROM INFORMATION_SCHEMA.COLUMNS
            WHERE TABLE_SCHEMA = @schema AND TABLE_NAME = @table
            ORDER BY ORDINAL_POSITION`, sql.Named("schema", t.Schema), sql.Named("table", t.Name))
		if err != nil {
			return s, fmt.Errorf("query columns for %s.%s: %w", t.Schema, t.Name, err)
		}

		for cr.Next() {
			var col introspect.Column
			var nullableInt int
			var length sql.NullInt64
			if err := cr.Scan(&col.Name, &col.Type, &length, &nullableInt, &col.Default); err != nil {
				cr.Close()
				return s, fmt.Errorf("scan column for %s.%s: %w", t.Schema, t.Name, err)
			}
			col.Nullable = nullableInt == 1
			// -1 is varchar(max)
			if length.Int64 > 0 {
				col.Length = int(length.Int64)
			}
			t.Columns = append(t.Columns, col)
		}
		cr.Close()

		// primary keys
		pkr, err := q.QueryContext(ctx, `
            SELECT k.COLUMN_NAME, k.ORDINAL_POSITION
            FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS t
            JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE k ON t.CONSTRAINT_NAME = k.CONSTRAINT_NAME AND t.TABLE_SCHEMA = k.TABLE_SCHEMA
            WHERE t.CONSTRAINT_TYPE = 'PRIMARY KEY' AND k.TABLE_SCHEMA = @schema AND k.TABLE_NAME = @table`, sql.Named("schema", t.Schema), sql.Named("table", t.Name))
		if err == nil {
			markPrimaryKey(pkr, t)
		} else {
			logger.Error("query primary key: %v", err)
		}
	}

	// foreign keys with schema information
	fkr, err := q.QueryContext(ctx, `
        SELECT
            OBJECT_SCHEMA_NAME(fkc.parent_object_id) AS from_schema,
            OBJECT_NAME(fkc.parent_object_id) AS from_table,
            STRING_AGG(c.NAME, ', ') WITHIN GROUP (ORDER BY fkc.constraint_column_id) AS from_column,
            OBJECT_SCHEMA_NAME(fkc.referenced_object_id) AS to_schema,
            OBJECT_NAME(fkc.referenced_object_id) AS to_table,
            STRING_AGG(rc.NAME, ', ') WITHIN GROUP (ORDER BY fkc.constraint_column_id) AS to_column,
			fk.name AS constraint_name
        FROM sys.foreign_keys fk
		JOIN sys.foreign_key_columns fkc ON fk.object_id = fkc.constraint_object_id
        JOIN sys.columns c ON fkc.parent_object_id = c.object_id AND fkc.parent_column_id = c.column_id
        JOIN sys.columns rc ON fkc.referenced_object_id = rc.object_id AND fkc.referenced_column_id = rc.column_id
        GROUP BY fk.name, fkc.parent_object_id, fkc.referenced_object_id`)
	if err == nil {
		collectForeignKeys(fkr, &s)
	} else {
		logger.Error("query foreign key: %v", err)
	}

	return s, nil
}

func init() {
	db.Register("sqlserver", mssqlExtractor{})
	db.Register("mssql", mssqlExtractor{})
}

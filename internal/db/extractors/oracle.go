//go:build oracle
// +build oracle

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

// oracleExtractor implements Extractor for Oracle.
type oracleExtractor struct{}

// This is the extractor for Oracle. Only the connected user's schema is
// read; unquoted names are stored upper case and reported lower case.
func (oracleExtractor) Extract(ctx context.Context, q db.Querier, tables ...string) (introspect.Schema, error) {
	var s introspect.Schema

	tr, err := q.QueryContext(ctx, `
	    SELECT
		   atab.owner,
		   atab.table_name,
		   acom.comments
	    FROM all_tables atab
	    LEFT JOIN all_tab_comments acom
		  ON acom.owner = atab.owner
		 AND acom.table_name = atab.table_name
	    WHERE atab.owner = SYS_CONTEXT('USERENV', 'CURRENT_SCHEMA')
	    ORDER BY atab.table_name`)
	if err != nil {
		return s, fmt.Errorf("query tables: %w", err)
	}
	for tr.Next() {
		var tab introspect.Table
		if err := tr.Scan(&tab.Schema, &tab.Name, &tab.Comment); err != nil {
			tr.Close()
			return s, fmt.Errorf("scan table row: %w", err)
		}
		tab.Name = normalizeOracleName(tab.Name)
		if db.Wanted(tables, tab.Name) {
			s.Tables = append(s.Tables, tab)
		}
	}
	tr.Close()

	for i := range s.Tables {
		t := &s.Tables[i]
		cr, err := q.QueryContext(ctx, `
            SELECT column_name, data_type, char_length, nullable, data_default
            FROM all_tab_columns
            WHERE owner = :1 AND table_name = :2
            ORDER BY column_id`, t.Schema, denormalizeOracleName(t.Name))
		if err != nil {
			return s, fmt.Errorf("query columns for %s.%s: %w", t.Schema, t.Name, err)
		}
		for cr.Next() {
			var col introspect.Column
			var nullable string
			var length sql.NullInt64
			if err := cr.Scan(&col.Name, &col.Type, &length, &nullable, &col.Default); err != nil {
				cr.Close()
				return s, fmt.Errorf("scan column for %s.%s: %w", t.Schema, t.Name, err)
			}
			col.Name = normalizeOracleName(col.Name)
			col.Nullable = (nullable == "Y")
			col.Length = int(length.Int64)
			t.Columns = append(t.Columns, col)
		}
		cr.Close()

		pkr, err := q.QueryContext(ctx, `
            SELECT acc.column_name, acc.position
            FROM all_cons_columns acc
            JOIN all_constraints ac ON acc.owner = ac.owner AND acc.constraint_name = ac.constraint_name
            WHERE ac.constraint_type = 'P' AND acc.owner = :1 AND acc.table_name = :2`, t.Schema, denormalizeOracleName(t.Name))
		if err == nil {
			markPrimaryKey(&oracleNames{pkr}, t)
		} else {
			logger.Error("query primary key: %v", err)
		}
	}

	fkr, err := q.QueryContext(ctx, `
        SELECT a.owner AS from_schema, a.table_name AS from_table,
		       listagg(acc.column_name, ', ') within group (order by acc.position) AS from_column,
               rcc.owner AS to_schema, rcc.table_name AS to_table,
			   listagg(rcc.column_name, ', ') within group (order by rcc.position) AS to_column,
			   a.constraint_name
        FROM all_constraints a
        JOIN all_cons_columns acc
		  ON a.owner = acc.owner
		 AND a.constraint_name = acc.constraint_name
        JOIN all_cons_columns rcc
		  ON a.r_owner = rcc.owner
		 AND a.r_constraint_name = rcc.constraint_name
		 AND nvl(acc.position, 0) = nvl(rcc.position, 0)
        WHERE a.constraint_type = 'R'
		  AND a.owner = SYS_CONTEXT('USERENV', 'CURRENT_SCHEMA')
		GROUP BY a.owner, a.table_name, rcc.owner, rcc.table_name, a.constraint_name`)
	if err == nil {
		collectForeignKeys(&oracleNames{fkr}, &s)
	} else {
		logger.Error("query foreign key: %v", err)
	}

	return s, nil
}

// oracleNames lower-cases the string columns it scans.
type oracleNames struct {
	*sql.Rows
}

func (r *oracleNames) Scan(dest ...any) error {
	if err := r.Rows.Scan(dest...); err != nil {
		return err
	}
	for _, d := range dest {
		if p, ok := d.(*string); ok {
			*p = normalizeOracleName(*p)
		}
	}
	return nil
}

// normalizeOracleName lower-cases case-insensitive (all upper case) names.
func normalizeOracleName(name string) string {
	if name == strings.ToUpper(name) {
		return strings.ToLower(name)
	}
	return name
}

func denormalizeOracleName(name string) string {
	if name == strings.ToLower(name) {
		return strings.ToUpper(name)
	}
	return name
}

func init() {
	db.Register("godror", oracleExtractor{})
	db.Register("oracle", oracleExtractor{})
}

package schema

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"dbtour/internal/db"
	"dbtour/internal/dialect"
	"dbtour/internal/engine"
	"dbtour/internal/logger"
)

// Expr is a default rendered verbatim, e.g. Expr("CURRENT_TIMESTAMP").
type Expr string

// CreateTableSQL renders CREATE TABLE for t in dialect d.
func CreateTableSQL(t *Table, d *dialect.Dialect) (string, error) {
	if err := checkIdentifier(t.name, d); err != nil {
		return "", err
	}
	var lines []string
	for _, c := range t.columns {
		if err := checkIdentifier(c.name, d); err != nil {
			return "", fmt.Errorf("table %s: %w", t.name, err)
		}
		spec, err := columnSpec(c, d)
		if err != nil {
			return "", fmt.Errorf("table %s: %w", t.name, err)
		}
		lines = append(lines, spec)
	}

	if pk := t.PrimaryKey().Columns; len(pk) > 0 {
		lines = append(lines, fmt.Sprintf("PRIMARY KEY (%s)", quoteColumns(d, pk)))
	}
	for _, c := range t.columns {
		if c.unique && !c.primaryKey {
			lines = append(lines, fmt.Sprintf("UNIQUE (%s)", d.Quote(c.name)))
		}
	}
	for _, fkc := range t.foreignKeys {
		referred, err := fkc.Referred()
		if err != nil {
			return "", err
		}
		local := make([]*Column, len(fkc.Columns))
		for i, n := range fkc.Columns {
			local[i] = t.C(n)
		}
		line := fmt.Sprintf("FOREIGN KEY(%s) REFERENCES %s (%s)",
			quoteColumns(d, local), d.QuoteQualified(fkc.RefTable), quoteColumns(d, referred))
		if fkc.Name != "" {
			line = "CONSTRAINT " + d.Quote(fkc.Name) + " " + line
		}
		lines = append(lines, line)
	}

	return fmt.Sprintf("CREATE TABLE %s (\n\t%s\n)", d.QuoteQualified(t.name), strings.Join(lines, ",\n\t")), nil
}

// DropTableSQL renders DROP TABLE for t.
func DropTableSQL(t *Table, d *dialect.Dialect) string {
	return "DROP TABLE " + d.QuoteQualified(t.name)
}

func checkIdentifier(name string, d *dialect.Dialect) error {
	if d.MaxIdentifier > 0 && len(name) > d.MaxIdentifier {
		return fmt.Errorf("identifier %q is longer than the %d characters %s allows", name, d.MaxIdentifier, d.Name)
	}
	return nil
}

func columnSpec(c *Column, d *dialect.Dialect) (string, error) {
	typ, err := c.Type().Compile(d)
	if err != nil {
		return "", fmt.Errorf("column %s: %w", c.name, err)
	}
	notNull := !c.Nullable()
	var suffix string
	if c.IsAutoincrement() {
		switch d {
		case dialect.PostgreSQL:
			switch c.Type().(type) {
			case BigInteger:
				typ = "BIGSERIAL"
			case SmallInteger:
				typ = "SMALLSERIAL"
			default:
				typ = "SERIAL"
			}
		case dialect.MySQL:
			suffix = " AUTO_INCREMENT"
		case dialect.MSSQL:
			suffix = " IDENTITY"
		case dialect.Oracle:
			typ += " GENERATED BY DEFAULT AS IDENTITY"
			notNull = false
		}
	}

	var b strings.Builder
	b.WriteString(d.Quote(c.name))
	b.WriteString(" ")
	b.WriteString(typ)
	if c.hasDefault {
		b.WriteString(" DEFAULT ")
		b.WriteString(literal(c.defaultValue, d))
	}
	if notNull {
		b.WriteString(" NOT NULL")
	}
	b.WriteString(suffix)
	return b.String(), nil
}

func quoteColumns(d *dialect.Dialect, cols []*Column) string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = d.Quote(c.name)
	}
	return strings.Join(names, ", ")
}

// literal renders a default value inline.
func literal(v any, d *dialect.Dialect) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case Expr:
		return string(x)
	case string:
		return "'" + strings.ReplaceAll(x, "'", "''") + "'"
	case bool:
		switch d {
		case dialect.MSSQL, dialect.Oracle, dialect.MySQL:
			if x {
				return "1"
			}
			return "0"
		}
		return strings.ToUpper(strconv.FormatBool(x))
	case time.Time:
		return "'" + x.Format("2006-01-02 15:04:05") + "'"
	case float32, float64:
		return fmt.Sprintf("%g", x)
	}
	return fmt.Sprintf("%v", v)
}

// CreateAll creates every table of md that does not exist yet, parents
// before children, inside one transaction.
func (md *MetaData) CreateAll(ctx context.Context, e *engine.Engine) error {
	tables, err := md.SortedTables()
	if err != nil {
		return err
	}
	d := e.Dialect()
	return e.Begin(ctx, func(conn *engine.Connection) error {
		for _, t := range tables {
			exists, err := db.HasTable(ctx, e.DriverName(), conn, t.name)
			if err != nil {
				return fmt.Errorf("check table %s: %w", t.name, err)
			}
			if exists {
				logger.Debug("table %s already exists", t.name)
				continue
			}
			ddl, err := CreateTableSQL(t, d)
			if err != nil {
				return err
			}
			if _, err := conn.Execute(ctx, engine.Text(ddl)); err != nil {
				return fmt.Errorf("create table %s: %w", t.name, err)
			}
		}
		return nil
	})
}

// DropAll drops every table of md that exists, children first.
func (md *MetaData) DropAll(ctx context.Context, e *engine.Engine) error {
	tables, err := md.SortedTables()
	if err != nil {
		return err
	}
	d := e.Dialect()
	return e.Begin(ctx, func(conn *engine.Connection) error {
		for i := len(tables) - 1; i >= 0; i-- {
			t := tables[i]
			exists, err := db.HasTable(ctx, e.DriverName(), conn, t.name)
			if err != nil {
				return fmt.Errorf("check table %s: %w", t.name, err)
			}
			if !exists {
				continue
			}
			if _, err := conn.Execute(ctx, engine.Text(DropTableSQL(t, d))); err != nil {
				return fmt.Errorf("drop table %s: %w", t.name, err)
			}
		}
		return nil
	})
}

package schema

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"dbtour/internal/dialect"
)

// Type is a column's SQL type, rendered per dialect.
type Type interface {
	Compile(d *dialect.Dialect) (string, error)
	String() string
}

type Integer struct{}
type BigInteger struct{}
type SmallInteger struct{}

// String is VARCHAR; Length 0 means no length.
type String struct{ Length int }

type Text struct{}
type Boolean struct{}
type Float struct{}

type Numeric struct{ Precision, Scale int }

type DateTime struct{}
type Date struct{}
type LargeBinary struct{}

// NullType stands in for a type that could not be recognised. Raw, when
// set, is emitted verbatim.
type NullType struct{ Raw string }

func (Integer) Compile(d *dialect.Dialect) (string, error) { return "INTEGER", nil }
func (Integer) String() string                              { return "INTEGER" }

func (BigInteger) Compile(d *dialect.Dialect) (string, error) {
	if d == dialect.Oracle {
		return "NUMBER(19)", nil
	}
	return "BIGINT", nil
}
func (BigInteger) String() string { return "BIGINT" }

func (SmallInteger) Compile(d *dialect.Dialect) (string, error) { return "SMALLINT", nil }
func (SmallInteger) String() string                              { return "SMALLINT" }

func (s String) Compile(d *dialect.Dialect) (string, error) {
	switch {
	case s.Length > 0 && d == dialect.Oracle:
		return fmt.Sprintf("VARCHAR2(%d CHAR)", s.Length), nil
	case s.Length > 0:
		return fmt.Sprintf("VARCHAR(%d)", s.Length), nil
	case d == dialect.MySQL, d == dialect.Oracle:
		return "", fmt.Errorf("VARCHAR requires a length on dialect %s", d)
	case d == dialect.MSSQL:
		return "VARCHAR(max)", nil
	}
	return "VARCHAR", nil
}

func (s String) String() string {
	if s.Length > 0 {
		return fmt.Sprintf("VARCHAR(%d)", s.Length)
	}
	return "VARCHAR"
}

func (Text) Compile(d *dialect.Dialect) (string, error) {
	switch d {
	case dialect.MSSQL:
		return "VARCHAR(max)", nil
	case dialect.Oracle:
		return "CLOB", nil
	}
	return "TEXT", nil
}
func (Text) String() string { return "TEXT" }

func (Boolean) Compile(d *dialect.Dialect) (string, error) {
	switch d {
	case dialect.MySQL:
		return "BOOL", nil
	case dialect.MSSQL:
		return "BIT", nil
	case dialect.Oracle:
		return "SMALLINT", nil
	}
	return "BOOLEAN", nil
}
func (Boolean) String() string { return "BOOLEAN" }

func (Float) Compile(d *dialect.Dialect) (string, error) { return "FLOAT", nil }
func (Float) String() string                              { return "FLOAT" }

func (n Numeric) Compile(d *dialect.Dialect) (string, error) { return n.String(), nil }
func (n Numeric) String() string {
	switch {
	case n.Precision > 0 && n.Scale > 0:
		return fmt.Sprintf("NUMERIC(%d, %d)", n.Precision, n.Scale)
	case n.Precision > 0:
		return fmt.Sprintf("NUMERIC(%d)", n.Precision)
	}
	return "NUMERIC"
}

func (DateTime) Compile(d *dialect.Dialect) (string, error) {
	switch d {
	case dialect.PostgreSQL:
		return "TIMESTAMP WITHOUT TIME ZONE", nil
	case dialect.Oracle:
		return "DATE", nil
	}
	return "DATETIME", nil
}
func (DateTime) String() string { return "DATETIME" }

func (Date) Compile(d *dialect.Dialect) (string, error) { return "DATE", nil }
func (Date) String() string                              { return "DATE" }

func (LargeBinary) Compile(d *dialect.Dialect) (string, error) {
	switch d {
	case dialect.PostgreSQL:
		return "BYTEA", nil
	case dialect.MSSQL:
		return "VARBINARY(max)", nil
	}
	return "BLOB", nil
}
func (LargeBinary) String() string { return "BLOB" }

func (n NullType) Compile(d *dialect.Dialect) (string, error) {
	if n.Raw == "" {
		return "", fmt.Errorf("can't render a column of unknown type")
	}
	return n.Raw, nil
}

func (n NullType) String() string {
	if n.Raw != "" {
		return n.Raw
	}
	return "NULL"
}

var typeArgs = regexp.MustCompile(`^\s*([A-Za-z][A-Za-z0-9_ ]*?)\s*(?:\(\s*([^)]*)\))?\s*(?:unsigned|UNSIGNED)?\s*$`)

// ParseType maps a catalog type name, e.g. "VARCHAR(30)" or
// "character varying", to a Type. length supplies the character length when
// the catalog reports it separately. Unknown names become NullType.
func ParseType(raw string, length int) Type {
	m := typeArgs.FindStringSubmatch(raw)
	if m == nil {
		return NullType{Raw: raw}
	}
	name := strings.ToUpper(strings.Join(strings.Fields(m[1]), " "))
	var args []int
	if m[2] != "" {
		for _, a := range strings.Split(m[2], ",") {
			a = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(a), "CHAR"))
			if n, err := strconv.Atoi(strings.TrimSpace(a)); err == nil {
				args = append(args, n)
			}
		}
	}
	arg := func(i int) int {
		if i < len(args) {
			return args[i]
		}
		return 0
	}

	switch name {
	case "":
		return NullType{}
	case "INT", "INTEGER", "INT4", "MEDIUMINT", "SERIAL":
		return Integer{}
	case "BIGINT", "INT8", "BIGSERIAL":
		return BigInteger{}
	case "SMALLINT", "INT2", "TINYINT":
		if name == "TINYINT" && arg(0) == 1 {
			return Boolean{}
		}
		return SmallInteger{}
	case "VARCHAR", "CHARACTER VARYING", "NVARCHAR", "VARCHAR2", "NVARCHAR2", "CHAR", "CHARACTER", "NCHAR":
		n := arg(0)
		if n == 0 {
			n = length
		}
		return String{Length: n}
	case "TEXT", "CLOB", "NTEXT", "MEDIUMTEXT", "LONGTEXT", "TINYTEXT", "NCLOB":
		return Text{}
	case "BOOLEAN", "BOOL", "BIT":
		return Boolean{}
	case "FLOAT", "REAL", "DOUBLE", "DOUBLE PRECISION", "BINARY_DOUBLE", "BINARY_FLOAT":
		return Float{}
	case "NUMERIC", "DECIMAL", "NUMBER":
		if name == "NUMBER" && len(args) <= 1 && arg(0) == 0 {
			return Integer{}
		}
		return Numeric{Precision: arg(0), Scale: arg(1)}
	case "DATETIME", "DATETIME2", "TIMESTAMP", "TIMESTAMP WITHOUT TIME ZONE", "TIMESTAMP WITH TIME ZONE", "TIMESTAMPTZ":
		return DateTime{}
	case "DATE":
		return Date{}
	case "BLOB", "BYTEA", "VARBINARY", "BINARY", "LONGBLOB", "IMAGE", "RAW":
		return LargeBinary{}
	}
	return NullType{Raw: raw}
}

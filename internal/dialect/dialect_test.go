package dialect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForDriver(t *testing.T) {
	tests := []struct {
		driver  string
		want    *Dialect
		wantErr bool
	}{
		{driver: "sqlite", want: SQLite},
		{driver: "sqlite3", want: SQLite},
		{driver: "postgres", want: PostgreSQL},
		{driver: "pgx", want: PostgreSQL},
		{driver: "mysql", want: MySQL},
		{driver: "sqlserver", want: MSSQL},
		{driver: "godror", want: Oracle},
		{driver: "duckdb", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			d, err := ForDriver(tt.driver)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "no dialect")
				return
			}
			require.NoError(t, err)
			assert.Same(t, tt.want, d)
		})
	}
}

func TestQuote(t *testing.T) {
	tests := []struct {
		name  string
		d     *Dialect
		ident string
		want  string
	}{
		{"plain", SQLite, "user_account", "user_account"},
		{"reserved sqlite", SQLite, "column", `"column"`},
		{"reserved mysql", MySQL, "order", "`order`"},
		{"reserved mssql", MSSQL, "user", "[user]"},
		{"mixed case", PostgreSQL, "UserAccount", `"UserAccount"`},
		{"leading digit", SQLite, "1st", `"1st"`},
		{"embedded quote", SQLite, `a"b`, `"a""b"`},
		{"space", Oracle, "first name", `"first name"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.d.Quote(tt.ident))
		})
	}
}

func TestQuoteQualified(t *testing.T) {
	assert.Equal(t, `public."table"`, PostgreSQL.QuoteQualified("public.table"))
}

func TestRebind(t *testing.T) {
	q := "UPDATE t SET y=? WHERE x=?"
	assert.Equal(t, q, SQLite.Rebind(q))
	assert.Equal(t, "UPDATE t SET y=$1 WHERE x=$2", PostgreSQL.Rebind(q))
	assert.Equal(t, "UPDATE t SET y=@p1 WHERE x=@p2", MSSQL.Rebind(q))
	assert.Equal(t, "UPDATE t SET y=:arg1 WHERE x=:arg2", Oracle.Rebind(q))
}

func TestDrivers(t *testing.T) {
	assert.Equal(t, []string{"godror", "mysql", "pgx", "postgres", "sqlite", "sqlite3", "sqlserver"}, Drivers())
}

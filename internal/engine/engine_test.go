package engine

import (
	"bytes"
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbtour/internal/logger"
	"dbtour/pkg/config"
)

func openMemory(t *testing.T) *Engine {
	t.Helper()
	e, err := OpenURL(context.Background(), "sqlite:///:memory:", false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func newMock(t *testing.T) (*Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	e, err := Wrap(db, "sqlite", false)
	require.NoError(t, err)
	return e, mock
}

func TestOpen(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.DBConfig
		dialect string
		errMsg  string
	}{
		{name: "sqlite memory", cfg: config.DBConfig{Type: "sqlite"}, dialect: "sqlite"},
		{name: "sqlite url", cfg: config.DBConfig{URL: "sqlite+sqlite:///:memory:"}, dialect: "sqlite"},
		{name: "unknown type", cfg: config.DBConfig{Type: "nosuchdb"}, errMsg: "unsupported database type"},
		{name: "bad url", cfg: config.DBConfig{URL: "nonsense"}, errMsg: "malformed database url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := Open(context.Background(), tt.cfg)
			if tt.errMsg != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				return
			}
			require.NoError(t, err)
			defer e.Close()
			assert.Equal(t, tt.dialect, e.Dialect().Name)
			assert.Equal(t, "sqlite", e.DriverName())
		})
	}
}

func TestWrapUnknownDriver(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = Wrap(db, "sqlmock", false)
	assert.Error(t, err)
}

func TestConnection_HelloWorld(t *testing.T) {
	e := openMemory(t)
	ctx := context.Background()

	c, err := e.Connect(ctx)
	require.NoError(t, err)
	defer c.Close()

	res, err := c.Execute(ctx, Text("select 'hello world'"))
	require.NoError(t, err)
	rows := res.All()
	require.Len(t, rows, 1)
	assert.Equal(t, "hello world", rows[0].At(0))
	assert.Equal(t, `("hello world")`, rows[0].String())
	assert.True(t, c.InTransaction())
}

func TestConnection_CommitAsYouGo(t *testing.T) {
	e := openMemory(t)
	ctx := context.Background()

	c, err := e.Connect(ctx)
	require.NoError(t, err)
	_, err = c.Execute(ctx, Text("CREATE TABLE some_table (x int, y int)"))
	require.NoError(t, err)
	res, err := c.Execute(ctx, Text("INSERT INTO some_table (x, y) VALUES (:x, :y)"),
		Params{"x": 1, "y": 1}, Params{"x": 2, "y": 2})
	require.NoError(t, err)
	assert.EqualValues(t, 2, res.RowsAffected())
	require.NoError(t, c.Commit(ctx))
	assert.False(t, c.InTransaction())

	// uncommitted work is rolled back by Close
	_, err = c.Execute(ctx, Text("INSERT INTO some_table (x, y) VALUES (:x, :y)"), Params{"x": 99, "y": 99})
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err = c.Execute(ctx, Text("SELECT 1"))
	assert.ErrorIs(t, err, ErrClosed)

	c2, err := e.Connect(ctx)
	require.NoError(t, err)
	defer c2.Close()
	res, err = c2.Execute(ctx, Text("SELECT count(*) FROM some_table"))
	require.NoError(t, err)
	assert.EqualValues(t, 2, res.Scalar())
}

func TestEngine_Begin(t *testing.T) {
	e := openMemory(t)
	ctx := context.Background()

	require.NoError(t, e.Begin(ctx, func(c *Connection) error {
		_, err := c.Execute(ctx, Text("CREATE TABLE some_table (x int, y int)"))
		return err
	}))
	require.NoError(t, e.Begin(ctx, func(c *Connection) error {
		_, err := c.Execute(ctx, Text("INSERT INTO some_table (x, y) VALUES (:x, :y)"),
			Params{"x": 6, "y": 8}, Params{"x": 9, "y": 10})
		return err
	}))

	boom := errors.New("boom")
	err := e.Begin(ctx, func(c *Connection) error {
		if _, err := c.Execute(ctx, Text("INSERT INTO some_table (x, y) VALUES (1, 1)")); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	assert.Panics(t, func() {
		_ = e.Begin(ctx, func(c *Connection) error {
			_, _ = c.Execute(ctx, Text("INSERT INTO some_table (x, y) VALUES (2, 2)"))
			panic("mid-transaction")
		})
	})

	c, err := e.Connect(ctx)
	require.NoError(t, err)
	defer c.Close()
	res, err := c.Execute(ctx, Text("SELECT x, y FROM some_table ORDER BY x"))
	require.NoError(t, err)
	var xs []any
	for row := range res.Rows() {
		xs = append(xs, row.Get("x"))
	}
	assert.Equal(t, []any{int64(6), int64(9)}, xs)
}

func TestResult_Exhaustion(t *testing.T) {
	e := openMemory(t)
	ctx := context.Background()

	c, err := e.Connect(ctx)
	require.NoError(t, err)
	defer c.Close()
	_, err = c.Execute(ctx, Text("CREATE TABLE some_table (x int, y int)"))
	require.NoError(t, err)
	_, err = c.Execute(ctx, Text("INSERT INTO some_table (x, y) VALUES (:x, :y)"),
		Params{"x": 1, "y": 1}, Params{"x": 2, "y": 2})
	require.NoError(t, err)

	res, err := c.Execute(ctx, Text("SELECT x, y FROM some_table ORDER BY x"))
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, res.Columns())

	n := 0
	for range res.Rows() {
		n++
	}
	assert.Equal(t, 2, n)
	assert.Empty(t, res.All(), "second pass over a consumed result")

	res, err = c.Execute(ctx, Text("SELECT x, y FROM some_table ORDER BY x"))
	require.NoError(t, err)
	var maps []RowMapping
	for m := range res.Mappings() {
		maps = append(maps, m)
	}
	assert.Equal(t, []RowMapping{{"x": int64(1), "y": int64(1)}, {"x": int64(2), "y": int64(2)}}, maps)
}

func TestTextClause_BindParams(t *testing.T) {
	e := openMemory(t)
	ctx := context.Background()

	c, err := e.Connect(ctx)
	require.NoError(t, err)
	defer c.Close()
	_, err = c.Execute(ctx, Text("CREATE TABLE some_table (x int, y int)"))
	require.NoError(t, err)
	_, err = c.Execute(ctx, Text("INSERT INTO some_table (x, y) VALUES (:x, :y)"),
		Params{"x": 1, "y": 1}, Params{"x": 6, "y": 8}, Params{"x": 9, "y": 10})
	require.NoError(t, err)

	base := Text("SELECT x, y FROM some_table WHERE y > :y ORDER BY x, y")
	stmt := base.BindParams(Params{"y": 6})
	assert.NotSame(t, base, stmt)

	res, err := c.Execute(ctx, stmt)
	require.NoError(t, err)
	assert.Len(t, res.All(), 2)

	res, err = c.Execute(ctx, stmt, Params{"y": 9})
	require.NoError(t, err)
	assert.Len(t, res.All(), 1)

	_, err = c.Execute(ctx, Text("SELECT :a, :b"), Params{"a": 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bind parameters")

	_, err = c.Execute(ctx, Text("SELECT x FROM some_table WHERE y > :y"))
	require.Error(t, err, "a parameter with no value fails without any params passed")
	assert.Contains(t, err.Error(), "bind parameters")

	_, err = c.Execute(ctx, stmt, Params{"y": 1}, Params{"y": 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "executemany")
}

func TestHasNamedParam(t *testing.T) {
	tests := []struct {
		sql  string
		want bool
	}{
		{"SELECT :y", true},
		{"SELECT x FROM t WHERE y > :_y", true},
		{"SELECT 'hello world'", false},
		{"SELECT '12:30'", false},
		{"SELECT x::text FROM t", false},
		{"SELECT x::text FROM t WHERE y = :y", true},
		{"SELECT 1:", false},
	}
	for _, tt := range tests {
		t.Run(tt.sql, func(t *testing.T) {
			assert.Equal(t, tt.want, hasNamedParam(tt.sql))
		})
	}
}

func TestResult_BytesBecomeStrings(t *testing.T) {
	e := openMemory(t)
	ctx := context.Background()
	c, err := e.Connect(ctx)
	require.NoError(t, err)
	defer c.Close()

	res, err := c.Execute(ctx, Text("SELECT X'616263' AS data"))
	require.NoError(t, err)
	assert.Equal(t, "abc", res.Scalar())
}

func TestConnect_MemoryBusy(t *testing.T) {
	e := openMemory(t)
	ctx := context.Background()

	c1, err := e.Connect(ctx)
	require.NoError(t, err)

	_, err = e.Connect(ctx)
	assert.ErrorIs(t, err, ErrBusy)
	err = e.Begin(ctx, func(*Connection) error { return nil })
	assert.ErrorIs(t, err, ErrBusy)

	require.NoError(t, c1.Close())
	require.NoError(t, c1.Close(), "a second Close does not free the slot twice")

	c2, err := e.Connect(ctx)
	require.NoError(t, err)
	_, err = e.Connect(ctx)
	assert.ErrorIs(t, err, ErrBusy)
	require.NoError(t, c2.Close())

	require.NoError(t, e.Begin(ctx, func(c *Connection) error {
		_, err := c.Execute(ctx, Text("SELECT 1"))
		return err
	}))
}

func TestConnect_FileDatabaseNests(t *testing.T) {
	ctx := context.Background()
	e, err := OpenURL(ctx, "sqlite:///"+filepath.Join(t.TempDir(), "nest.db"), false)
	require.NoError(t, err)
	defer e.Close()

	c1, err := e.Connect(ctx)
	require.NoError(t, err)
	defer c1.Close()
	c2, err := e.Connect(ctx)
	require.NoError(t, err)
	require.NoError(t, c2.Close())
}

func TestConnection_MockedDemarcation(t *testing.T) {
	ctx := context.Background()

	t.Run("commit as you go", func(t *testing.T) {
		e, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO some_table (x, y) VALUES (?, ?)").
			WithArgs(1, 1).WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO some_table (x, y) VALUES (?, ?)").
			WithArgs(2, 2).WillReturnResult(sqlmock.NewResult(2, 1))
		mock.ExpectCommit()

		c, err := e.Connect(ctx)
		require.NoError(t, err)
		res, err := c.Execute(ctx, Text("INSERT INTO some_table (x, y) VALUES (:x, :y)"),
			Params{"x": 1, "y": 1}, Params{"x": 2, "y": 2})
		require.NoError(t, err)
		id, ok := res.LastInsertID()
		assert.True(t, ok)
		assert.EqualValues(t, 2, id)
		require.NoError(t, c.Commit(ctx))
		require.NoError(t, c.Close())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("close rolls back", func(t *testing.T) {
		e, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectQuery("select 'hello world'").
			WillReturnRows(sqlmock.NewRows([]string{"greeting"}).AddRow("hello world"))
		mock.ExpectRollback()

		c, err := e.Connect(ctx)
		require.NoError(t, err)
		res, err := c.Execute(ctx, Text("select 'hello world'"))
		require.NoError(t, err)
		assert.Equal(t, "hello world", res.Scalar())
		require.NoError(t, c.Close())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("begin once rolls back on failure", func(t *testing.T) {
		e, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE some_table SET y=? WHERE x=?").
			WithArgs(11, 9).WillReturnError(assert.AnError)
		mock.ExpectRollback()

		err := e.Begin(ctx, func(c *Connection) error {
			_, err := c.Execute(ctx, Text("UPDATE some_table SET y=:y WHERE x=:x"), Params{"x": 9, "y": 11})
			return err
		})
		assert.ErrorIs(t, err, assert.AnError)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestEcho(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	flags := log.Flags()
	log.SetFlags(0)
	defer func() {
		logger.SetOutput(os.Stderr)
		log.SetFlags(flags)
	}()

	e, err := OpenURL(context.Background(), "sqlite:///:memory:", true)
	require.NoError(t, err)
	defer e.Close()

	ctx := context.Background()
	require.NoError(t, e.Begin(ctx, func(c *Connection) error {
		_, err := c.Execute(ctx, Text("SELECT :v"), Params{"v": 1})
		return err
	}))

	out := buf.String()
	assert.Contains(t, out, "[INFO ] BEGIN\n")
	assert.Contains(t, out, "[INFO ] SELECT ?\n")
	assert.Contains(t, out, "[INFO ] [1]\n")
	assert.Contains(t, out, "[INFO ] COMMIT\n")
}

func TestReturnsRows(t *testing.T) {
	tests := []struct {
		sql  string
		want bool
	}{
		{"select 1", true},
		{"  (SELECT 1) UNION (SELECT 2)", true},
		{"WITH t AS (SELECT 1) SELECT * FROM t", true},
		{"-- comment\nSELECT 1", true},
		{"/* c */ PRAGMA table_info('x')", true},
		{"INSERT INTO t (a) VALUES (1) RETURNING id", true},
		{"INSERT INTO t (a) OUTPUT INSERTED.id VALUES (1)", true},
		{"INSERT INTO t (returning_flag) VALUES (1)", false},
		{"UPDATE t SET y=1", false},
		{"CREATE TABLE t (x int)", false},
	}
	for _, tt := range tests {
		t.Run(tt.sql, func(t *testing.T) {
			assert.Equal(t, tt.want, returnsRows(tt.sql))
		})
	}
}

package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"dbtour/internal/dialect"
)

// Connection is a single pooled connection. The first statement executed
// outside a transaction begins one implicitly; it stays open until Commit,
// Rollback or Close. Close rolls back whatever was not committed.
//
// A Connection must not be shared between goroutines.
type Connection struct {
	engine *Engine
	conn   *sqlx.Conn
	tx     *sqlx.Tx
	closed bool
}

func (c *Connection) Engine() *Engine { return c.engine }

func (c *Connection) Dialect() *dialect.Dialect { return c.engine.dialect }

// InTransaction reports whether a transaction is open.
func (c *Connection) InTransaction() bool { return c.tx != nil }

func (c *Connection) begin(ctx context.Context, echo string) error {
	if c.closed {
		return ErrClosed
	}
	if c.tx != nil {
		return nil
	}
	c.engine.logTx(echo)
	tx, err := c.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	c.tx = tx
	return nil
}

// Execute runs stmt. With no params the statement's bound values are used;
// with one set, those values are merged over the bound ones; with several,
// the statement runs once per set (executemany), which is not allowed for
// statements that return rows.
func (c *Connection) Execute(ctx context.Context, stmt *TextClause, params ...Params) (*Result, error) {
	if err := c.begin(ctx, "BEGIN (implicit)"); err != nil {
		return nil, err
	}
	rowsWanted := returnsRows(stmt.sql)
	if len(params) > 1 && rowsWanted {
		return nil, fmt.Errorf("executemany is not supported for row-returning statements: %s", stmt.sql)
	}
	if len(params) == 0 {
		params = []Params{nil}
	}

	var total Result
	for _, p := range params {
		q, args, err := stmt.compile(c.engine.dialect, p)
		if err != nil {
			return nil, err
		}
		c.engine.logSQL(q, args)

		if rowsWanted {
			rows, err := c.tx.QueryxContext(ctx, q, args...)
			if err != nil {
				return nil, fmt.Errorf("query: %w", err)
			}
			return bufferRows(rows)
		}

		res, err := c.tx.ExecContext(ctx, q, args...)
		if err != nil {
			return nil, fmt.Errorf("exec: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			total.rowsAffected += n
		}
		if id, err := res.LastInsertId(); err == nil {
			total.lastInsertID, total.hasInsertID = id, true
		}
	}
	return &total, nil
}

// Commit commits the open transaction, if any.
func (c *Connection) Commit(ctx context.Context) error {
	if c.closed {
		return ErrClosed
	}
	if c.tx == nil {
		return nil
	}
	c.engine.logTx("COMMIT")
	tx := c.tx
	c.tx = nil
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Rollback discards the open transaction, if any.
func (c *Connection) Rollback(ctx context.Context) error {
	if c.closed {
		return ErrClosed
	}
	if c.tx == nil {
		return nil
	}
	c.engine.logTx("ROLLBACK")
	tx := c.tx
	c.tx = nil
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// Close rolls back uncommitted work and returns the connection to the pool.
// Calling Close again is a no-op.
func (c *Connection) Close() error {
	if c.closed {
		return nil
	}
	rbErr := c.Rollback(context.Background())
	c.closed = true
	defer c.engine.release()
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("release connection: %w", err)
	}
	return rbErr
}

// QueryContext runs a raw query on the connection, inside the open
// transaction when there is one. It lets catalog readers share the
// connection without going through Execute.
func (c *Connection) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if c.closed {
		return nil, ErrClosed
	}
	if c.tx != nil {
		return c.tx.QueryContext(ctx, query, args...)
	}
	return c.conn.QueryContext(ctx, query, args...)
}

// Package engine is the connection factory: an Engine owns a pool for one
// database and hands out scoped Connections that run text statements inside
// implicit ("commit as you go") or explicit ("begin once") transactions.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/denisenkom/go-mssqldb"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"dbtour/internal/dialect"
	"dbtour/internal/logger"
	"dbtour/pkg/config"
)

// ErrClosed is returned by operations on a released Connection.
var ErrClosed = errors.New("connection is closed")

// ErrBusy is returned by Connect on an in-memory SQLite engine whose only
// connection is already checked out.
var ErrBusy = errors.New("in-memory database has one connection and it is in use; close the open Connection or Session first")

const defaultTimeout = 10 * time.Second

// Engine is safe for concurrent use.
type Engine struct {
	db      *sqlx.DB
	dialect *dialect.Dialect
	driver  string
	echo    bool
	// slot is the single connection of an in-memory SQLite engine; nil
	// for every other engine.
	slot chan struct{}
}

// Open builds the driver and DSN from cfg, opens the pool and pings it.
func Open(ctx context.Context, cfg config.DBConfig) (*Engine, error) {
	driver, dsn, err := config.BuildDriverAndDSN(cfg)
	if err != nil {
		return nil, err
	}
	d, err := dialect.ForDriver(driver)
	if err != nil {
		return nil, err
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == "sqlite" && isMemoryDSN(dsn) {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
		db.SetConnMaxLifetime(0)
		db.SetConnMaxIdleTime(0)
	}

	timeout := defaultTimeout
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	logger.Debug("engine opened: driver=%s dialect=%s", driver, d)
	e := &Engine{db: db, dialect: d, driver: driver, echo: cfg.Echo}
	if driver == "sqlite" && isMemoryDSN(dsn) {
		e.slot = make(chan struct{}, 1)
	}
	return e, nil
}

// OpenURL opens an engine from a dialect[+driver]://... URL.
func OpenURL(ctx context.Context, url string, echo bool) (*Engine, error) {
	return Open(ctx, config.DBConfig{URL: url, Echo: echo})
}

// Wrap adopts an already opened pool.
func Wrap(db *sql.DB, driver string, echo bool) (*Engine, error) {
	d, err := dialect.ForDriver(driver)
	if err != nil {
		return nil, err
	}
	return &Engine{db: sqlx.NewDb(db, driver), dialect: d, driver: driver, echo: echo}, nil
}

func isMemoryDSN(dsn string) bool {
	return dsn == config.MemoryDatabase || strings.Contains(dsn, "mode=memory")
}

func (e *Engine) Dialect() *dialect.Dialect { return e.dialect }

func (e *Engine) DriverName() string { return e.driver }

func (e *Engine) Echo() bool { return e.echo }

// Close disposes of the pool.
func (e *Engine) Close() error {
	return e.db.Close()
}

// Connect checks a connection out of the pool. The caller must Close it.
// An in-memory SQLite engine holds one connection; asking for a second
// while the first is open fails with ErrBusy.
func (e *Engine) Connect(ctx context.Context) (*Connection, error) {
	if e.slot != nil {
		select {
		case e.slot <- struct{}{}:
		default:
			return nil, fmt.Errorf("connect: %w", ErrBusy)
		}
	}
	conn, err := e.db.Connx(ctx)
	if err != nil {
		e.release()
		return nil, fmt.Errorf("connect: %w", err)
	}
	return &Connection{engine: e, conn: conn}, nil
}

func (e *Engine) release() {
	if e.slot != nil {
		<-e.slot
	}
}

// Begin runs fn inside a single transaction on a fresh connection. The
// transaction commits when fn returns nil and rolls back otherwise, including
// when fn panics.
func (e *Engine) Begin(ctx context.Context, fn func(*Connection) error) (rerr error) {
	c, err := e.Connect(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil && rerr == nil {
			rerr = err
		}
	}()

	if err := c.begin(ctx, "BEGIN"); err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = c.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(c); err != nil {
		if rbErr := c.Rollback(ctx); rbErr != nil {
			logger.Error("rollback: %v", rbErr)
		}
		return err
	}
	return c.Commit(ctx)
}

func (e *Engine) logSQL(query string, args []any) {
	if !e.echo {
		return
	}
	logger.Info("%s", query)
	if len(args) > 0 {
		logger.Info("%v", args)
	} else {
		logger.Info("[no parameters]")
	}
}

func (e *Engine) logTx(word string) {
	if e.echo {
		logger.Info("%s", word)
	}
}

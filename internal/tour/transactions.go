// Package tour holds the two guided walkthroughs the CLI runs: working with
// transactions and text statements, and working with database metadata.
package tour

import (
	"context"
	"fmt"
	"io"

	"dbtour/internal/engine"
	"dbtour/internal/orm"
)

// Transactions walks through connections, text statements with bound
// parameters, both transaction styles, the ways of reading a result, and a
// Session used for plain SQL. Output goes to w; SQL echo, when the engine
// has it on, goes to the log.
func Transactions(ctx context.Context, e *engine.Engine, w io.Writer) error {
	if err := helloWorld(ctx, e, w); err != nil {
		return err
	}
	if err := commitAsYouGo(ctx, e); err != nil {
		return err
	}
	if err := beginOnce(ctx, e); err != nil {
		return err
	}
	if err := readResults(ctx, e, w); err != nil {
		return err
	}
	return sessionStatements(ctx, e, w)
}

func helloWorld(ctx context.Context, e *engine.Engine, w io.Writer) error {
	conn, err := e.Connect(ctx)
	if err != nil {
		return err
	}
	// leaving without commit emits ROLLBACK
	defer conn.Close()

	res, err := conn.Execute(ctx, engine.Text("select 'hello world'"))
	if err != nil {
		return err
	}
	fmt.Fprintln(w, res.All())
	return nil
}

func commitAsYouGo(ctx context.Context, e *engine.Engine) error {
	conn, err := e.Connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.Execute(ctx, engine.Text("CREATE TABLE some_table (x int, y int)")); err != nil {
		return err
	}
	_, err = conn.Execute(ctx, engine.Text("INSERT INTO some_table (x, y) VALUES (:x, :y)"),
		engine.Params{"x": 1, "y": 1},
		engine.Params{"x": 2, "y": 2},
	)
	if err != nil {
		return err
	}
	return conn.Commit(ctx)
}

func beginOnce(ctx context.Context, e *engine.Engine) error {
	return e.Begin(ctx, func(conn *engine.Connection) error {
		_, err := conn.Execute(ctx, engine.Text("INSERT INTO some_table (x, y) VALUES (:x, :y)"),
			engine.Params{"x": 6, "y": 8},
			engine.Params{"x": 9, "y": 10},
		)
		return err
	})
}

func readResults(ctx context.Context, e *engine.Engine, w io.Writer) error {
	conn, err := e.Connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	res, err := conn.Execute(ctx, engine.Text("SELECT x, y from some_table"))
	if err != nil {
		return err
	}
	for row := range res.Rows() {
		fmt.Fprintf(w, "row.x=%v row.y=%v\n", row.Get("x"), row.Get("y"))
	}
	// the loop above consumed every row; iterating again yields nothing
	for row := range res.Rows() {
		fmt.Fprintf(w, "x=%v y=%v\n", row.At(0), row.At(1))
	}
	for m := range res.Mappings() {
		fmt.Fprintf(w, "row['x']=%v row['y']=%v\n", m["x"], m["y"])
	}

	stmt := engine.Text("SELECT x, y FROM some_table WHERE y > :y ORDER BY x, y").BindParams(engine.Params{"y": 6})
	res, err = conn.Execute(ctx, stmt)
	if err != nil {
		return err
	}
	for row := range res.Rows() {
		fmt.Fprintf(w, "row[0]=%v row[1]=%v\n", row.At(0), row.At(1))
	}
	return nil
}

// sessionStatements shows that a Session handed plain SQL acts like a
// Connection, and releases its connection on commit.
func sessionStatements(ctx context.Context, e *engine.Engine, w io.Writer) error {
	stmt := engine.Text("SELECT x, y FROM some_table WHERE y > :y ORDER BY x, y").BindParams(engine.Params{"y": 6})
	s := orm.NewSession(e, orm.NewRegistry())
	res, err := s.Execute(ctx, stmt)
	if err != nil {
		s.Close()
		return err
	}
	for m := range res.Mappings() {
		fmt.Fprintf(w, "row['x']=%v row['y']=%v\n", m["x"], m["y"])
	}
	if err := s.Close(); err != nil {
		return err
	}

	s = orm.NewSession(e, orm.NewRegistry())
	defer s.Close()
	res, err = s.Execute(ctx, engine.Text("UPDATE some_table SET y=:y WHERE x=:x"),
		engine.Params{"x": 9, "y": 11},
		engine.Params{"x": 13, "y": 15},
	)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "updated %d row(s)\n", res.RowsAffected())
	return s.Commit(ctx)
}

package engine

import (
	"fmt"
	"iter"
	"strings"

	"github.com/jmoiron/sqlx"
)

// RowMapping is a row keyed by column name.
type RowMapping map[string]any

// Row is one result row; values are addressable by name or position.
type Row struct {
	columns []string
	values  []any
}

// Get returns the value of the named column, or nil when there is none.
func (r Row) Get(name string) any {
	for i, c := range r.columns {
		if c == name {
			return r.values[i]
		}
	}
	return nil
}

// At returns the i-th value.
func (r Row) At(i int) any {
	return r.values[i]
}

func (r Row) Len() int { return len(r.values) }

func (r Row) Columns() []string { return r.columns }

// Values returns a copy of the row's values in column order.
func (r Row) Values() []any {
	out := make([]any, len(r.values))
	copy(out, r.values)
	return out
}

func (r Row) Mapping() RowMapping {
	m := make(RowMapping, len(r.columns))
	for i, c := range r.columns {
		m[c] = r.values[i]
	}
	return m
}

// String renders the row as a tuple, e.g. (1, "one").
func (r Row) String() string {
	var b strings.Builder
	b.WriteByte('(')
	for i, v := range r.values {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(FormatValue(v))
	}
	b.WriteByte(')')
	return b.String()
}

// FormatValue renders a scalar the way rows and reprs print it.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "nil"
	case string:
		return fmt.Sprintf("%q", x)
	default:
		return fmt.Sprintf("%v", x)
	}
}

// Result holds the outcome of one execution. Rows are buffered when the
// statement runs, and reading them advances a cursor: once consumed, further
// reads return nothing.
type Result struct {
	columns      []string
	rows         [][]any
	pos          int
	rowsAffected int64
	lastInsertID int64
	hasInsertID  bool
}

func (r *Result) Columns() []string { return r.columns }

// Next returns the next unread row.
func (r *Result) Next() (Row, bool) {
	if r.pos >= len(r.rows) {
		return Row{}, false
	}
	row := Row{columns: r.columns, values: r.rows[r.pos]}
	r.pos++
	return row, true
}

// All returns every unread row.
func (r *Result) All() []Row {
	var out []Row
	for row, ok := r.Next(); ok; row, ok = r.Next() {
		out = append(out, row)
	}
	return out
}

// First returns the next row and discards the rest.
func (r *Result) First() (Row, bool) {
	row, ok := r.Next()
	r.pos = len(r.rows)
	return row, ok
}

// Scalar returns the first column of the next row and discards the rest.
func (r *Result) Scalar() any {
	row, ok := r.First()
	if !ok || row.Len() == 0 {
		return nil
	}
	return row.At(0)
}

// Rows iterates the unread rows.
func (r *Result) Rows() iter.Seq[Row] {
	return func(yield func(Row) bool) {
		for row, ok := r.Next(); ok; row, ok = r.Next() {
			if !yield(row) {
				return
			}
		}
	}
}

// Mappings iterates the unread rows as name-keyed maps.
func (r *Result) Mappings() iter.Seq[RowMapping] {
	return func(yield func(RowMapping) bool) {
		for row := range r.Rows() {
			if !yield(row.Mapping()) {
				return
			}
		}
	}
}

// RowsAffected is the total across every parameter set of an executemany.
// For row-returning statements it is the number of rows fetched.
func (r *Result) RowsAffected() int64 { return r.rowsAffected }

// LastInsertID reports the driver's last generated id, when it has one.
func (r *Result) LastInsertID() (int64, bool) { return r.lastInsertID, r.hasInsertID }

func bufferRows(rows *sqlx.Rows) (*Result, error) {
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}
	res := &Result{columns: cols}
	for rows.Next() {
		vals, err := rows.SliceScan()
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		res.rows = append(res.rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	res.rowsAffected = int64(len(res.rows))
	return res, nil
}

package engine

import (
	"fmt"
	"maps"
	"strings"
	"unicode"

	"github.com/jmoiron/sqlx"

	"dbtour/internal/dialect"
)

// Params maps :name bind parameters to values.
type Params map[string]any

// TextClause is literal SQL with :name bind parameters.
type TextClause struct {
	sql   string
	binds Params
}

// Text wraps a SQL string.
func Text(sql string) *TextClause {
	return &TextClause{sql: sql}
}

// BindParams returns a copy of t with values attached to its parameters.
// Later calls override earlier ones key by key.
func (t *TextClause) BindParams(p Params) *TextClause {
	binds := make(Params, len(t.binds)+len(p))
	maps.Copy(binds, t.binds)
	maps.Copy(binds, p)
	return &TextClause{sql: t.sql, binds: binds}
}

func (t *TextClause) SQL() string { return t.sql }

func (t *TextClause) String() string { return t.sql }

// compile merges bound values with p and rewrites :name parameters into the
// dialect's positional bindvars.
func (t *TextClause) compile(d *dialect.Dialect, p Params) (string, []any, error) {
	if len(t.binds) == 0 && len(p) == 0 && !hasNamedParam(t.sql) {
		return t.sql, nil, nil
	}
	merged := make(map[string]any, len(t.binds)+len(p))
	maps.Copy(merged, t.binds)
	maps.Copy(merged, p)

	q, args, err := sqlx.Named(t.sql, merged)
	if err != nil {
		return "", nil, fmt.Errorf("bind parameters: %w", err)
	}
	return d.Rebind(q), args, nil
}

// hasNamedParam reports whether sql holds a :name token. A "::" cast is
// not one.
func hasNamedParam(sql string) bool {
	for i := 0; i < len(sql)-1; i++ {
		if sql[i] != ':' {
			continue
		}
		if sql[i+1] == ':' {
			i++
			continue
		}
		if (i == 0 || sql[i-1] != ':') && (sql[i+1] == '_' || unicode.IsLetter(rune(sql[i+1]))) {
			return true
		}
	}
	return false
}

// returnsRows guesses whether a statement produces a result set.
func returnsRows(sql string) bool {
	s := strings.TrimLeftFunc(sql, func(r rune) bool { return unicode.IsSpace(r) || r == '(' })
	for strings.HasPrefix(s, "--") || strings.HasPrefix(s, "/*") {
		if strings.HasPrefix(s, "--") {
			_, s, _ = strings.Cut(s, "\n")
		} else {
			_, s, _ = strings.Cut(s, "*/")
		}
		s = strings.TrimLeftFunc(s, func(r rune) bool { return unicode.IsSpace(r) || r == '(' })
	}
	word := strings.ToUpper(firstWord(s))
	switch word {
	case "SELECT", "WITH", "VALUES", "PRAGMA", "SHOW", "EXPLAIN", "DESCRIBE", "TABLE":
		return true
	case "INSERT", "UPDATE", "DELETE", "MERGE":
		u := strings.ToUpper(s)
		return containsWord(u, "RETURNING") || strings.Contains(u, "OUTPUT INSERTED.") || strings.Contains(u, "OUTPUT DELETED.")
	}
	return false
}

func firstWord(s string) string {
	end := strings.IndexFunc(s, func(r rune) bool { return !unicode.IsLetter(r) })
	if end < 0 {
		return s
	}
	return s[:end]
}

func containsWord(s, word string) bool {
	for i := 0; ; {
		j := strings.Index(s[i:], word)
		if j < 0 {
			return false
		}
		start, end := i+j, i+j+len(word)
		before := start == 0 || !isIdentRune(rune(s[start-1]))
		after := end == len(s) || !isIdentRune(rune(s[end]))
		if before && after {
			return true
		}
		i = end
	}
}

func isIdentRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

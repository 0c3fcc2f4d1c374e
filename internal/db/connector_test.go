package db

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"dbtour/internal/introspect"
)

var testdialect string = "testdialect"

type testExtractor struct{}

func (testExtractor) Extract(ctx context.Context, q Querier, tables ...string) (introspect.Schema, error) {
	var s introspect.Schema
	return s, errors.New("not implemented")
}

type fixedExtractor struct {
	schema introspect.Schema
}

func (f fixedExtractor) Extract(ctx context.Context, q Querier, tables ...string) (introspect.Schema, error) {
	var s introspect.Schema
	for _, t := range f.schema.Tables {
		if Wanted(tables, t.Name) {
			s.Tables = append(s.Tables, t)
		}
	}
	return s, nil
}

func TestRegister(t *testing.T) {
	// tests both Register and RegisteredDialects because they take the same setup

	Register(testdialect, testExtractor{})
	defer delete(dialects, testdialect)

	if _, ok := dialects[testdialect]; !ok {
		t.Errorf("\ndialect %v not registered correctly in %v", testdialect, dialects)
	}

	rd := RegisteredDialects()

	if !(len(rd) == 1 && rd[0] == testdialect) {
		t.Errorf("\nRegisteredDialects returned unexpected result %v", rd)
	}
}

func TestExtract(t *testing.T) {

	var tests = []struct {
		name          string
		dialect       string
		registerFirst bool
		errIsNil      bool
	}{
		{"unregistered dialect", testdialect, false, false},
		{"sqlite with testExtractor", "sqlite", true, false},
		{"sqlite3 alias resolves to sqlite", "sqlite3", true, false},
	}

	for _, tt := range tests {
		// Use t.Run to run each case as a subtest with a descriptive name
		t.Run(tt.name, func(t *testing.T) {
			if tt.registerFirst {
				Register("sqlite", testExtractor{})
				defer delete(dialects, "sqlite")
			}

			_, err := Extract(context.Background(), tt.dialect, (*sql.DB)(nil))

			if (err == nil) != tt.errIsNil {
				if tt.errIsNil {
					t.Errorf("\ngot unexpected error: \"%v\"", err)
				} else {
					t.Errorf("\nexpected an error, did not receive one")
				}
			}
		})
	}
}

func TestHasTable(t *testing.T) {
	Register(testdialect, fixedExtractor{introspect.Schema{Tables: []introspect.Table{{Name: "user_account"}}}})
	defer delete(dialects, testdialect)

	var tests = []struct {
		table string
		want  bool
	}{
		{"user_account", true},
		{"address", false},
	}

	for _, tt := range tests {
		t.Run(tt.table, func(t *testing.T) {
			got, err := HasTable(context.Background(), testdialect, nil, tt.table)
			if err != nil {
				t.Fatalf("\ngot unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("\nHasTable(%q) = %v, wanted %v", tt.table, got, tt.want)
			}
		})
	}
}

func TestWanted(t *testing.T) {
	if !Wanted(nil, "anything") {
		t.Errorf("\nempty filter should pass every table")
	}
	if Wanted([]string{"a", "b"}, "c") {
		t.Errorf("\nfilter [a b] should reject c")
	}
	if !Wanted([]string{"a", "b"}, "b") {
		t.Errorf("\nfilter [a b] should accept b")
	}
}

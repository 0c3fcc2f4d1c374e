package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"dbtour/internal/engine"
	"dbtour/internal/introspect"
	"dbtour/internal/logger"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var logs bytes.Buffer
	logger.SetOutput(&logs)
	t.Cleanup(func() {
		logger.SetOutput(os.Stderr)
		logger.SetLevel(logger.LevelInfo)
	})

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// seedFile creates a SQLite file database with two related tables.
func seedFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tour.db")
	url := "sqlite:///" + path
	ctx := context.Background()
	e, err := engine.OpenURL(ctx, url, false)
	require.NoError(t, err)
	defer e.Close()
	err = e.Begin(ctx, func(c *engine.Connection) error {
		for _, stmt := range []string{
			"CREATE TABLE user_account (id INTEGER NOT NULL, name VARCHAR(30), PRIMARY KEY (id))",
			"CREATE TABLE address (id INTEGER NOT NULL, user_id INTEGER NOT NULL, PRIMARY KEY (id), FOREIGN KEY(user_id) REFERENCES user_account (id))",
		} {
			if _, err := c.Execute(ctx, engine.Text(stmt)); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	return url
}

func TestTransactionsCommand(t *testing.T) {
	out, err := run(t, "transactions", "--url", "sqlite:///:memory:", "--echo=false")
	require.NoError(t, err)
	assert.Contains(t, out, `[("hello world")]`)
	assert.Contains(t, out, "row.x=9 row.y=10")
}

func TestMetadataCommand(t *testing.T) {
	out, err := run(t, "metadata", "--echo=false")
	require.NoError(t, err)
	assert.Contains(t, out, "Column(name, VARCHAR(30), table=<user_account>)")
	assert.Contains(t, out, "reflected_table.column")
}

func TestReflectCommand(t *testing.T) {
	url := seedFile(t)

	t.Run("yaml", func(t *testing.T) {
		out, err := run(t, "reflect", "--url", url)
		require.NoError(t, err)
		var s introspect.Schema
		require.NoError(t, yaml.Unmarshal([]byte(out), &s))
		require.Len(t, s.Tables, 2)
		assert.Equal(t, "address", s.Tables[0].Name)
		require.Len(t, s.ForeignKeys, 1)
		assert.Equal(t, "user_account", s.ForeignKeys[0].ToTable)
	})

	t.Run("json filtered", func(t *testing.T) {
		out, err := run(t, "reflect", "user_account", "--url", url, "--format", "json")
		require.NoError(t, err)
		var s introspect.Schema
		require.NoError(t, json.Unmarshal([]byte(out), &s))
		require.Len(t, s.Tables, 1)
		assert.Equal(t, []string{"id", "name"}, []string{s.Tables[0].Columns[0].Name, s.Tables[0].Columns[1].Name})
	})

	t.Run("ddl", func(t *testing.T) {
		out, err := run(t, "reflect", "--ddl", "--url", url)
		require.NoError(t, err)
		assert.Contains(t, out, "CREATE TABLE user_account (\n\tid INTEGER NOT NULL,\n\tname VARCHAR(30),\n\tPRIMARY KEY (id)\n);")
		assert.Contains(t, out, "FOREIGN KEY(user_id) REFERENCES user_account (id)")
	})

	t.Run("bad format", func(t *testing.T) {
		_, err := run(t, "reflect", "--url", url, "--format", "xml")
		assert.ErrorContains(t, err, "unknown format")
	})
}

func TestDialectsCommand(t *testing.T) {
	out, err := run(t, "dialects")
	require.NoError(t, err)
	assert.Regexp(t, `sqlite\s+sqlite\s+\?\s+reflect=true`, out)
	assert.Regexp(t, `pgx\s+postgresql\s+\$\s+reflect=true`, out)
	assert.Regexp(t, `sqlserver\s+mssql\s+@p\s+reflect=true`, out)
}

func TestConfigPrecedence(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "dbtour.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("database:\n  type: nosuchdb\nlog:\n  level: warn\n"), 0o600))

	_, err := run(t, "transactions", "--config", cfgPath)
	assert.ErrorContains(t, err, "unsupported database type")

	_, err = run(t, "transactions", "--config", cfgPath, "--url", "sqlite:///:memory:", "--echo=false")
	assert.NoError(t, err, "--url wins over the config file")

	t.Setenv("DBTOUR_LOG_LEVEL", "loud")
	_, err = run(t, "dialects")
	assert.ErrorContains(t, err, "unknown log level")
}

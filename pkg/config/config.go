package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables consulted by ApplyEnv.
const (
	EnvURL      = "DBTOUR_URL"
	EnvEcho     = "DBTOUR_ECHO"
	EnvLogLevel = "DBTOUR_LOG_LEVEL"
)

// MemoryDatabase is the SQLite name for a private in-memory database.
const MemoryDatabase = ":memory:"

type DBConfig struct {
	Type         string `yaml:"type" json:"type"`
	Driver       string `yaml:"driver" json:"driver"` // optional Go driver override, e.g. pgx
	Host         string `yaml:"host" json:"host"`
	Port         int    `yaml:"port" json:"port"`
	Username     string `yaml:"username" json:"username"`
	Password     string `yaml:"password" json:"password"`
	DatabaseName string `yaml:"database_name" json:"database_name"`
	DSN          string `yaml:"dsn" json:"dsn"` // optional explicit DSN
	URL          string `yaml:"url" json:"url"` // optional dialect+driver URL
	Echo         bool   `yaml:"echo" json:"echo"`
	Timeout      int    `yaml:"timeout" json:"timeout"` // connect timeout seconds
}

type LogConfig struct {
	Level string `yaml:"level" json:"level"`
}

type AppConfig struct {
	Database DBConfig  `yaml:"database" json:"database"`
	Log      LogConfig `yaml:"log" json:"log"`
}

// Default is an in-memory SQLite database with SQL echo on.
func Default() AppConfig {
	return AppConfig{
		Database: DBConfig{
			Type:         "sqlite",
			DatabaseName: MemoryDatabase,
			Echo:         true,
			Timeout:      10,
		},
		Log: LogConfig{Level: "info"},
	}
}

// LoadFile loads YAML config from path.
func LoadFile(path string) (AppConfig, error) {
	var cfg AppConfig
	f, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(f, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadDotEnv loads .env style files into the process environment.
// Missing files are skipped; existing variables are never overwritten.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overlays DBTOUR_* environment variables on cfg.
func ApplyEnv(cfg AppConfig) (AppConfig, error) {
	if v, ok := os.LookupEnv(EnvURL); ok && v != "" {
		db, err := ParseURL(v)
		if err != nil {
			return cfg, fmt.Errorf("%s: %w", EnvURL, err)
		}
		db.Echo = cfg.Database.Echo
		db.Timeout = cfg.Database.Timeout
		cfg.Database = db
	}
	if v, ok := os.LookupEnv(EnvEcho); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("%s: %w", EnvEcho, err)
		}
		cfg.Database.Echo = b
	}
	if v, ok := os.LookupEnv(EnvLogLevel); ok && v != "" {
		cfg.Log.Level = v
	}
	return cfg, nil
}

// NormalizeDriver maps common aliases to canonical keys (keeps backwards compat).
func NormalizeDriver(d string) string {
	switch strings.ToLower(strings.TrimSpace(d)) {
	case "postgresql", "pg", "postgres", "pq":
		return "postgres"
	case "pgx":
		return "pgx"
	case "mysql", "mariadb":
		return "mysql"
	case "sqlite", "sqlite3":
		return "sqlite"
	case "mssql", "sqlserver":
		return "sqlserver"
	case "godror", "oracle":
		return "godror"
	default:
		return strings.ToLower(d)
	}
}

// BuildDriverAndDSN produces a driver name and DSN string for supported DB types.
func BuildDriverAndDSN(db DBConfig) (driver string, dsn string, err error) {
	if db.URL != "" {
		parsed, err := ParseURL(db.URL)
		if err != nil {
			return "", "", err
		}
		return BuildDriverAndDSN(parsed)
	}

	t := NormalizeDriver(db.Type)
	if db.Driver != "" {
		t = NormalizeDriver(db.Driver)
	}

	if db.DSN != "" {
		return t, db.DSN, nil
	}

	switch t {
	case "postgres", "pgx":
		driver = t
		// simple URL form, understood by both lib/pq and pgx
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
			db.Username, db.Password, db.Host, db.Port, db.DatabaseName)
	case "mysql":
		driver = "mysql"
		dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			db.Username, db.Password, db.Host, db.Port, db.DatabaseName)
	case "sqlite":
		driver = "sqlite"
		switch db.DatabaseName {
		case "", MemoryDatabase:
			dsn = MemoryDatabase
		default:
			dsn = fmt.Sprintf("file:%s", db.DatabaseName)
		}
	case "sqlserver":
		driver = "sqlserver"
		dsn = fmt.Sprintf("sqlserver://%s:%s@%s:%d?database=%s",
			db.Username, db.Password, db.Host, db.Port, db.DatabaseName)
	case "godror":
		driver = "godror"
		// simple EZCONNECT style; may need adjustments per environment
		dsn = fmt.Sprintf("%s/%s@%s:%d/%s",
			db.Username, db.Password, db.Host, db.Port, db.DatabaseName)
	default:
		err = fmt.Errorf("unsupported database type: %s", db.Type)
	}
	return
}

// ParseURL reads a dialect[+driver]://user:pass@host:port/database URL.
// SQLite takes the path after the third slash: sqlite:///:memory:,
// sqlite:///relative.db, sqlite:////absolute/path.db.
func ParseURL(raw string) (DBConfig, error) {
	var db DBConfig
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok || scheme == "" {
		return db, fmt.Errorf("malformed database url %q", raw)
	}
	dialect, driver, _ := strings.Cut(strings.ToLower(scheme), "+")
	db.Type = NormalizeDriver(dialect)

	switch db.Type {
	case "sqlite":
		if driver != "" && driver != "sqlite" && driver != "modernc" {
			return db, fmt.Errorf("unsupported sqlite driver %q", driver)
		}
		db.DatabaseName = strings.TrimPrefix(rest, "/")
		if db.DatabaseName == "" {
			db.DatabaseName = MemoryDatabase
		}
		return db, nil
	case "postgres":
		switch driver {
		case "", "pq":
		case "pgx":
			db.Driver = "pgx"
		default:
			return db, fmt.Errorf("unsupported postgres driver %q", driver)
		}
	case "mysql", "sqlserver", "godror":
		if driver != "" && NormalizeDriver(driver) != db.Type {
			return db, fmt.Errorf("unsupported %s driver %q", db.Type, driver)
		}
	default:
		return db, fmt.Errorf("unsupported database type: %s", dialect)
	}

	u, err := url.Parse("db://" + rest)
	if err != nil {
		return db, fmt.Errorf("parse database url: %w", err)
	}
	db.Host = u.Hostname()
	if p := u.Port(); p != "" {
		db.Port, err = strconv.Atoi(p)
		if err != nil {
			return db, fmt.Errorf("bad port %q: %w", p, err)
		}
	}
	if u.User != nil {
		db.Username = u.User.Username()
		db.Password, _ = u.User.Password()
	}
	db.DatabaseName = strings.TrimPrefix(u.Path, "/")
	return db, nil
}

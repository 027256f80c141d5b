package database

import (
	"database/sql"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"bindery/internal/platform/config"
)

// New opens the sqlite database at the configured path. ":memory:" is
// accepted for tests and throwaway environments.
func New(cfg config.DatabaseConfig) (*sql.DB, error) {
	dsn := cfg.Path
	dsn = strings.TrimPrefix(dsn, "file:")
	if dsn == "" {
		dsn = ":memory:"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = 10
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	// Single writer at a time; busy_timeout keeps concurrent readers from
	// erroring out immediately.
	if _, err := db.Exec(`PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000; PRAGMA foreign_keys = ON;`); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

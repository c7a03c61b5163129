// Package db opens the SQLite database that backs notes, comments and
// API keys.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// EnvPath overrides the default database location.
const EnvPath = "PEN_DB"

// DefaultPath returns $PEN_DB if set, otherwise ~/.config/pen/pen.db.
func DefaultPath() (string, error) {
	if p := os.Getenv(EnvPath); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, ".config", "pen", "pen.db"), nil
}

// dsn builds the go-sqlite3 connection string. Pragmas set here apply to
// every connection in the pool.
func dsn(path string) string {
	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_foreign_keys", "on")
	q.Set("_busy_timeout", "5000")
	q.Set("_txlock", "immediate")
	return path + "?" + q.Encode()
}

// Open opens (or creates) the database at path and brings its schema up
// to date.
func Open(path string) (*sql.DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
	}

	d, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := checkPragmas(d); err != nil {
		return nil, errors.Join(err, d.Close())
	}
	if err := migrate(d); err != nil {
		return nil, errors.Join(fmt.Errorf("running migrations: %w", err), d.Close())
	}
	return d, nil
}

// checkPragmas fails when the driver silently ignored a DSN option.
func checkPragmas(d *sql.DB) error {
	var fk int
	if err := d.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		return fmt.Errorf("reading foreign_keys: %w", err)
	}
	if fk != 1 {
		return errors.New("foreign keys are disabled")
	}

	var mode string
	if err := d.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		return fmt.Errorf("reading journal_mode: %w", err)
	}
	if mode != "wal" {
		return fmt.Errorf("journal_mode is %q, want wal", mode)
	}
	return nil
}

// Package sqlite provides a SQLite-backed flags.Store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/bft-labs/pnpcoord/pkg/flags"
)

const (
	dirPermissions    = 0o750
	connectionTimeout = 5 * time.Second
	busyTimeoutMillis = 5000
)

const schema = `CREATE TABLE IF NOT EXISTS flags (
	key        TEXT PRIMARY KEY,
	value      INTEGER NOT NULL,
	updated_at TEXT NOT NULL
)`

// FlagStore implements flags.Store on a SQLite database.
type FlagStore struct {
	db   *sql.DB
	path string
}

// Open opens or creates the database at path and ensures the schema.
func Open(path string) (*FlagStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), dirPermissions); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL", path, busyTimeoutMillis)
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck // best effort on error path
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close() //nolint:errcheck // best effort on error path
		return nil, fmt.Errorf("creating flags table: %w", err)
	}

	return &FlagStore{db: db, path: path}, nil
}

// Bool implements flags.Store.
func (s *FlagStore) Bool(ctx context.Context, key string) (bool, error) {
	var v bool
	err := s.db.QueryRowContext(ctx, `SELECT value FROM flags WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return false, flags.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("reading flag %s: %w", key, err)
	}
	return v, nil
}

// SetBool implements flags.Store.
func (s *FlagStore) SetBool(ctx context.Context, key string, value bool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO flags (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("writing flag %s: %w", key, err)
	}
	return nil
}

// Path returns the database file path.
func (s *FlagStore) Path() string {
	return s.path
}

// Close closes the database.
func (s *FlagStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

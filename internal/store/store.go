// Package store persists conversations, memberships, messages, and
// notifications in SQLite.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// Store wraps the SQLite handle. All methods are safe for concurrent use;
// SQLite itself serializes writers through the single connection below.
type Store struct {
	db *sql.DB

	// now is swappable in tests.
	now func() time.Time
}

// Open opens (or creates) the database at dsn and applies pragmas.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		db.Close()
		return nil, err
	}

	// Single connection: SQLite writers do not benefit from more, and a
	// single pooled conn keeps in-memory test databases stable.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.Exec(`PRAGMA journal_mode=WAL;`)
	_, _ = db.Exec(`PRAGMA busy_timeout = 5000;`)

	return &Store{db: db, now: time.Now}, nil
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *Store) Migrate() error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Ping verifies the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

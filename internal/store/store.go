// Package store implements the persistent layer: contacts, message logs,
// conversations, the prioritized message queue, the report queue, transport
// credentials, the singleton session lock and the profile singletons.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store is a service over a single SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the database at path and applies the
// schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	// Best-effort migrations for databases created before these columns
	// existed (no-op when the column is already there).
	_, _ = db.Exec(`ALTER TABLE message_queue ADD COLUMN visible_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP`)
	_, _ = db.Exec(`ALTER TABLE message_queue ADD COLUMN leased_at DATETIME`)
	_, _ = db.Exec(`ALTER TABLE report_queue ADD COLUMN visible_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP`)
	_, _ = db.Exec(`ALTER TABLE contacts ADD COLUMN confirmed_name TEXT DEFAULT ''`)

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the raw handle for collaborators that manage their own tables.
// The WhatsApp SDK does not use it; it keeps its device state in a separate
// whatsapp.db file.
func (s *Store) DB() *sql.DB {
	return s.db
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

// nullTime converts a sql.NullTime into a *time.Time.
func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

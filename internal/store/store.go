// Package store owns the on-device sqlite database behind the sync engine:
// the fingerprint table keyed by source id, the canonical catalog
// (canonical_works + source_refs), playback resume positions, and the
// append-only ingest ledger. The schema here is the durable shape of the
// engine's data model; everything else in the process goes through this
// package to touch it.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS fingerprints (
    source_type  TEXT NOT NULL,
    source_id    TEXT NOT NULL,
    hash         TEXT NOT NULL,
    last_seen_at TEXT NOT NULL,
    PRIMARY KEY (source_type, source_id)
);

CREATE TABLE IF NOT EXISTS canonical_works (
    key          TEXT PRIMARY KEY,
    kind         TEXT NOT NULL,
    title        TEXT NOT NULL,
    year         INTEGER NOT NULL DEFAULT 0,
    genres       TEXT,
    rating       REAL NOT NULL DEFAULT 0,
    plot         TEXT,
    cast_names   TEXT,
    director     TEXT,
    external_ids TEXT,
    artwork_url  TEXT,
    playback_url TEXT,
    container    TEXT,
    recognition  TEXT NOT NULL,
    created_at   TEXT NOT NULL,
    updated_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS source_refs (
    canonical_key TEXT NOT NULL,
    source_type   TEXT NOT NULL,
    source_id     TEXT NOT NULL,
    source_label  TEXT,
    PRIMARY KEY (source_type, source_id)
);
CREATE INDEX IF NOT EXISTS idx_source_refs_key ON source_refs (canonical_key);

CREATE TABLE IF NOT EXISTS resume_positions (
    canonical_key TEXT NOT NULL,
    profile       TEXT NOT NULL,
    position_ms   INTEGER NOT NULL DEFAULT 0,
    updated_at    TEXT NOT NULL,
    PRIMARY KEY (canonical_key, profile)
);

CREATE TABLE IF NOT EXISTS ingest_ledger (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    scan_id     TEXT NOT NULL,
    source_type TEXT NOT NULL,
    source_id   TEXT NOT NULL,
    phase       TEXT NOT NULL,
    decision    TEXT NOT NULL,
    reason      TEXT NOT NULL,
    detail      TEXT,
    at          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ledger_scan ON ingest_ledger (scan_id);
`

// Store manages catalog persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initialises or connects to the catalog database and applies the
// schema. The parent directory is created if missing.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(filepath.Clean(path)); dir != "." && dir != "/" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

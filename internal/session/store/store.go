// Copyright © 2025 Openmux contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: internal/session/store/store.go
// Summary: SQLite-backed session index (name, id, timestamps), kept
// separate from the per-session JSON workspace/cwd blobs spec.md §6
// mandates.
// Usage: One Store per process, opened against
// "$OPENMUX_DATA_DIR/sessions.db"; cmd/openmux consults it for
// `omux session list` and for resolving a session name to an id, and
// internal/session records creates, switches and deletes in it.
// Notes: Grounded directly on the teacher's SQLite usage in
// apps/texelterm/parser/search_index.go: schema_version table and
// WAL/synchronous pragmas, narrowed from full-text search to a small
// relational index. The schema version is stamped on open; there is
// no migration step.

package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	created_at INTEGER NOT NULL,
	last_switched_at INTEGER NOT NULL,
	auto_named INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_sessions_last_switched ON sessions(last_switched_at);
`

// Entry is one row of the session index.
type Entry struct {
	ID             string
	Name           string
	CreatedAt      time.Time
	LastSwitchedAt time.Time
	AutoNamed      bool
}

// Store is a SQLite-backed session index.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the session index at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("session store: create directory: %w", err)
	}

	dsn := path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("session store: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("session store: connect: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("session store: create schema: %w", err)
	}
	if err := stampSchemaVersion(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func stampSchemaVersion(db *sql.DB) error {
	_, err := db.Exec("INSERT OR REPLACE INTO schema_version (version) VALUES (?)", schemaVersion)
	if err != nil {
		return fmt.Errorf("session store: stamp schema version: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Create records a new session in the index.
func (s *Store) Create(id, name string, autoNamed bool, now time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO sessions (id, name, created_at, last_switched_at, auto_named) VALUES (?, ?, ?, ?, ?)`,
		id, name, now.UnixNano(), now.UnixNano(), boolToInt(autoNamed),
	)
	if err != nil {
		return fmt.Errorf("session store: create %q: %w", name, err)
	}
	return nil
}

// Rename changes a session's display name.
func (s *Store) Rename(id, newName string) error {
	res, err := s.db.Exec(`UPDATE sessions SET name = ?, auto_named = 0 WHERE id = ?`, newName, id)
	if err != nil {
		return fmt.Errorf("session store: rename %q: %w", id, err)
	}
	return requireRowAffected(res, "rename", id)
}

// Delete removes a session from the index.
func (s *Store) Delete(id string) error {
	res, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("session store: delete %q: %w", id, err)
	}
	return requireRowAffected(res, "delete", id)
}

// TouchSwitched updates a session's last_switched_at to now, called on
// every successful session switch.
func (s *Store) TouchSwitched(id string, now time.Time) error {
	_, err := s.db.Exec(`UPDATE sessions SET last_switched_at = ? WHERE id = ?`, now.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("session store: touch %q: %w", id, err)
	}
	return nil
}

// ByName resolves a session name to its index entry.
func (s *Store) ByName(name string) (Entry, bool, error) {
	row := s.db.QueryRow(`SELECT id, name, created_at, last_switched_at, auto_named FROM sessions WHERE name = ?`, name)
	return scanEntry(row)
}

// ByID resolves a session id to its index entry.
func (s *Store) ByID(id string) (Entry, bool, error) {
	row := s.db.QueryRow(`SELECT id, name, created_at, last_switched_at, auto_named FROM sessions WHERE id = ?`, id)
	return scanEntry(row)
}

func scanEntry(row *sql.Row) (Entry, bool, error) {
	var e Entry
	var createdNano, switchedNano int64
	var autoNamed int
	err := row.Scan(&e.ID, &e.Name, &createdNano, &switchedNano, &autoNamed)
	if err == sql.ErrNoRows {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("session store: scan: %w", err)
	}
	e.CreatedAt = time.Unix(0, createdNano)
	e.LastSwitchedAt = time.Unix(0, switchedNano)
	e.AutoNamed = autoNamed != 0
	return e, true, nil
}

// List returns every session, most-recently-switched first — backs
// `omux session list`.
func (s *Store) List() ([]Entry, error) {
	rows, err := s.db.Query(`SELECT id, name, created_at, last_switched_at, auto_named FROM sessions ORDER BY last_switched_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("session store: list: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var createdNano, switchedNano int64
		var autoNamed int
		if err := rows.Scan(&e.ID, &e.Name, &createdNano, &switchedNano, &autoNamed); err != nil {
			return nil, fmt.Errorf("session store: scan list row: %w", err)
		}
		e.CreatedAt = time.Unix(0, createdNano)
		e.LastSwitchedAt = time.Unix(0, switchedNano)
		e.AutoNamed = autoNamed != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

func requireRowAffected(res sql.Result, verb, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("session store: %s %q: %w", verb, id, err)
	}
	if n == 0 {
		return fmt.Errorf("session store: %s %q: %w", verb, id, ErrNotFound)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ErrNotFound is returned by Rename/Delete when the id has no row.
var ErrNotFound = fmt.Errorf("session not found")

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLiteAdapter is the single-node durable backend. Every transaction starts
// with BEGIN IMMEDIATE, which takes the database write lock up front, so the
// fold and the insert of an append can never interleave with another writer.
type SQLiteAdapter struct {
	*sqlStore
}

// OpenSQLite opens (creating if needed) the database at path and applies the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteAdapter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	params := url.Values{}
	params.Add("_pragma", "foreign_keys(1)")
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "busy_timeout(5000)")
	params.Set("_txlock", "immediate")

	db, err := sql.Open("sqlite", "file:"+path+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &SQLiteAdapter{sqlStore: &sqlStore{db: db, d: sqliteDialect}}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

var sqliteDialect = dialect{
	name: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS items (
			sku TEXT PRIMARY KEY,
			description TEXT NOT NULL DEFAULT '',
			unit_of_measure TEXT NOT NULL,
			reorder_threshold INTEGER NOT NULL DEFAULT 0,
			make TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			part_number TEXT NOT NULL DEFAULT '',
			serial_number TEXT NOT NULL DEFAULT '',
			bin_location TEXT NOT NULL DEFAULT '',
			notes TEXT NOT NULL DEFAULT '',
			code_type TEXT NOT NULL,
			stub BOOLEAN NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ledger_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sku TEXT NOT NULL REFERENCES items (sku),
			event_type TEXT NOT NULL,
			delta INTEGER NOT NULL,
			occurred_at INTEGER NOT NULL,
			actor TEXT NOT NULL,
			reference_id TEXT NOT NULL DEFAULT '',
			idempotency_key TEXT UNIQUE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_sku_id ON ledger_events (sku, id)`,
		`CREATE TABLE IF NOT EXISTS audit_sessions (
			id TEXT PRIMARY KEY,
			state TEXT NOT NULL,
			opened_by TEXT NOT NULL,
			opened_at INTEGER NOT NULL,
			closed_at INTEGER,
			outcome TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_state ON audit_sessions (state)`,
	},
	upsertSession: `
		INSERT INTO audit_sessions (id, state, opened_by, opened_at, closed_at, outcome, body)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			state = excluded.state,
			closed_at = excluded.closed_at,
			outcome = excluded.outcome,
			body = excluded.body`,
	classify: classifySQLite,
}

func classifySQLite(err error) errClass {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return errOther
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return errUnique
	case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
		return errForeignKey
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return errConflict
	}
	return errOther
}

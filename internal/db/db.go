package db

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

type DB struct {
	sql *sql.DB
}

func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One connection keeps :memory: databases shared and serializes writers.
	conn.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return &DB{sql: conn}, nil
}

func (d *DB) Close() error {
	return d.sql.Close()
}

// schema is applied in order by Migrate. Every statement is idempotent.
var schema = []struct{ name, stmt string }{
	{"metadata", `CREATE TABLE IF NOT EXISTS metadata (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`},
	{"runs", `CREATE TABLE IF NOT EXISTS runs (
		id         TEXT PRIMARY KEY,
		args       TEXT NOT NULL DEFAULT '',
		started_at INTEGER NOT NULL,
		ended_at   INTEGER NOT NULL DEFAULT 0,
		end_reason TEXT NOT NULL DEFAULT ''
	)`},
	{"events", `CREATE TABLE IF NOT EXISTS events (
		id      INTEGER PRIMARY KEY,
		run_id  TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		ts      INTEGER NOT NULL,
		lane    TEXT NOT NULL,
		header  TEXT NOT NULL,
		payload TEXT NOT NULL DEFAULT ''
	)`},
	{"events index", `CREATE INDEX IF NOT EXISTS idx_events_run_id ON events(run_id, id DESC)`},
	{"accounts", `CREATE TABLE IF NOT EXISTS accounts (
		id            TEXT PRIMARY KEY,
		username      TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at    INTEGER NOT NULL
	)`},
	{"refresh_tokens", `CREATE TABLE IF NOT EXISTS refresh_tokens (
		token      TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		expires_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	)`},
}

// SchemaVersion is recorded in metadata under "schema_version".
const SchemaVersion = "1"

func (d *DB) Migrate() error {
	for _, s := range schema {
		if _, err := d.sql.Exec(s.stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", s.name, err)
		}
	}
	return d.SetMeta("schema_version", SchemaVersion)
}

func (d *DB) SetMeta(key, value string) error {
	_, err := d.sql.Exec("INSERT OR REPLACE INTO metadata (key, value) VALUES (?,?)", key, value)
	return err
}

func (d *DB) GetMeta(key string) (string, error) {
	var value string
	err := d.sql.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// Package store provides the embedded SQLite cache that backs a sync point.
//
// One database file holds everything a node needs to resume after a restart:
//
//   - cursors:   pagination cursors, one row per participant cursor key
//   - records:   synced entities as raw JSON, keyed by (resource, id)
//   - sync_runs: one row per finished sync execution
//
// The database runs in WAL mode so the dashboard and CLI can read while the
// daemon writes.
//
// Example:
//
//	db, err := store.Open(".syncpoint/cache.db")
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.InitSchema(); err != nil {
//	    return err
//	}
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// timeLayout is the on-disk format of every timestamp column. It is fixed
// width so that text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// DB wraps the SQLite connection.
type DB struct {
	conn *sql.DB
	path string
	now  func() time.Time
}

// Open creates a database connection at path, creating the parent directory
// and the file if needed. The caller must call Close.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{
		conn: conn,
		path: path,
		now:  time.Now,
	}

	pragmas := []struct{ stmt, what string }{
		{"PRAGMA journal_mode=WAL", "enable WAL mode"},
		{"PRAGMA busy_timeout=5000", "set busy timeout"},
		{"PRAGMA foreign_keys=ON", "enable foreign keys"},
	}
	for _, p := range pragmas {
		if _, err := db.conn.Exec(p.stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to %s: %w", p.what, err)
		}
	}

	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Close checkpoints the WAL and closes the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the tables if they don't exist. It is idempotent.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS cursors (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS records (
		resource TEXT NOT NULL,
		id TEXT NOT NULL,
		payload TEXT NOT NULL,  -- raw JSON node
		synced_at TEXT NOT NULL,
		PRIMARY KEY (resource, id)
	);

	CREATE TABLE IF NOT EXISTS sync_runs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,  -- succeeded, retry_needed
		error TEXT,
		rounds INTEGER NOT NULL DEFAULT 0,
		participants TEXT,  -- JSON object name -> result kind
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_records_synced ON records(resource, synced_at);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON sync_runs(started_at);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

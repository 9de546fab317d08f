package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/steveyegge/syncpoint/internal/cursor"
)

// CursorStore is a cursor.Store over the cursors table.
type CursorStore struct {
	db *DB
}

var _ cursor.Store = (*CursorStore)(nil)

// Cursors returns the cursor store backed by db.
func (db *DB) Cursors() *CursorStore {
	return &CursorStore{db: db}
}

// Get implements cursor.Store.
func (s *CursorStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.conn.QueryRowContext(ctx, `SELECT value FROM cursors WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get cursor %s: %w", key, err)
	}
	return value, true, nil
}

// Set implements cursor.Store.
func (s *CursorStore) Set(ctx context.Context, key, value string) error {
	query := `
	INSERT INTO cursors (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at
	`
	if _, err := s.db.conn.ExecContext(ctx, query, key, value, formatTime(s.db.now())); err != nil {
		return fmt.Errorf("failed to set cursor %s: %w", key, err)
	}
	return nil
}

// Delete implements cursor.Store.
func (s *CursorStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.conn.ExecContext(ctx, `DELETE FROM cursors WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete cursor %s: %w", key, err)
	}
	return nil
}

// List implements cursor.Store.
func (s *CursorStore) List(ctx context.Context) ([]cursor.Entry, error) {
	rows, err := s.db.conn.QueryContext(ctx, `SELECT key, value, updated_at FROM cursors ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list cursors: %w", err)
	}
	defer rows.Close()

	var entries []cursor.Entry
	for rows.Next() {
		var e cursor.Entry
		var updatedAt string
		if err := rows.Scan(&e.Key, &e.Value, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan cursor: %w", err)
		}
		e.UpdatedAt = parseTime(updatedAt)
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cursors: %w", err)
	}
	return entries, nil
}

// DeleteAll removes every cursor and returns how many were removed.
func (s *CursorStore) DeleteAll(ctx context.Context) (int64, error) {
	res, err := s.db.conn.ExecContext(ctx, `DELETE FROM cursors`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete cursors: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted cursors: %w", err)
	}
	return n, nil
}

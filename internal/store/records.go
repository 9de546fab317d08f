package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Record is one synced entity.
type Record struct {
	Resource string
	ID       string
	Payload  json.RawMessage
	SyncedAt time.Time
}

// UpsertRecords inserts or replaces records in a single transaction. Records
// with a zero SyncedAt are stamped with the current time.
func (db *DB) UpsertRecords(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO records (resource, id, payload, synced_at) VALUES (?, ?, ?, ?)
	ON CONFLICT(resource, id) DO UPDATE SET
		payload = excluded.payload,
		synced_at = excluded.synced_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := db.now()
	for _, r := range records {
		if r.Resource == "" || r.ID == "" {
			return fmt.Errorf("invalid record: resource and id are required (resource=%q id=%q)", r.Resource, r.ID)
		}
		syncedAt := r.SyncedAt
		if syncedAt.IsZero() {
			syncedAt = now
		}
		if _, err := stmt.ExecContext(ctx, r.Resource, r.ID, string(r.Payload), formatTime(syncedAt)); err != nil {
			return fmt.Errorf("failed to upsert record %s/%s: %w", r.Resource, r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit records: %w", err)
	}
	return nil
}

// GetRecord returns one record, or nil if it doesn't exist.
func (db *DB) GetRecord(ctx context.Context, resource, id string) (*Record, error) {
	records, err := db.ListRecords(ctx, ListRecordsFilter{Resource: resource, ID: id})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

// ListRecordsFilter narrows ListRecords. Zero fields match everything.
type ListRecordsFilter struct {
	Resource string
	ID       string
	Limit    int
}

// ListRecords returns records ordered by resource, then most recently synced first.
func (db *DB) ListRecords(ctx context.Context, filter ListRecordsFilter) ([]Record, error) {
	var conditions []string
	var args []interface{}

	if filter.Resource != "" {
		conditions = append(conditions, "resource = ?")
		args = append(args, filter.Resource)
	}
	if filter.ID != "" {
		conditions = append(conditions, "id = ?")
		args = append(args, filter.ID)
	}

	query := `SELECT resource, id, payload, synced_at FROM records`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY resource ASC, synced_at DESC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var payload, syncedAt string
		if err := rows.Scan(&r.Resource, &r.ID, &payload, &syncedAt); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		r.Payload = json.RawMessage(payload)
		r.SyncedAt = parseTime(syncedAt)
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}
	return records, nil
}

// CountRecords returns the number of records per resource.
func (db *DB) CountRecords(ctx context.Context) (map[string]int, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT resource, COUNT(*) FROM records GROUP BY resource`)
	if err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var resource string
		var n int
		if err := rows.Scan(&resource, &n); err != nil {
			return nil, fmt.Errorf("failed to scan record count: %w", err)
		}
		counts[resource] = n
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating record counts: %w", err)
	}
	return counts, nil
}

// DeleteRecords removes every record of resource and returns how many were removed.
func (db *DB) DeleteRecords(ctx context.Context, resource string) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM records WHERE resource = ?`, resource)
	if err != nil {
		return 0, fmt.Errorf("failed to delete records of %s: %w", resource, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted records: %w", err)
	}
	return n, nil
}

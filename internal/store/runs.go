package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	gojson "github.com/goccy/go-json"
)

// Run is the persisted record of one sync execution.
type Run struct {
	ID           string
	Status       string
	Error        string
	Rounds       int
	Participants map[string]string
	StartedAt    time.Time
	FinishedAt   time.Time
}

// RecordRun stores run. Recording the same ID twice replaces the first row.
func (db *DB) RecordRun(ctx context.Context, run Run) error {
	if run.ID == "" {
		return fmt.Errorf("invalid run: id is required")
	}

	participants, err := gojson.Marshal(run.Participants)
	if err != nil {
		return fmt.Errorf("failed to marshal participants: %w", err)
	}

	var errText sql.NullString
	if run.Error != "" {
		errText = sql.NullString{String: run.Error, Valid: true}
	}

	query := `
	INSERT OR REPLACE INTO sync_runs (
		id, status, error, rounds, participants, started_at, finished_at
	) VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err = db.conn.ExecContext(ctx, query,
		run.ID,
		run.Status,
		errText,
		run.Rounds,
		string(participants),
		formatTime(run.StartedAt),
		formatTime(run.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", run.ID, err)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first. A limit <= 0 returns all.
func (db *DB) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `
	SELECT id, status, error, rounds, participants, started_at, finished_at
	FROM sync_runs
	ORDER BY started_at DESC
	`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var errText, participants sql.NullString
		var startedAt, finishedAt string
		if err := rows.Scan(&r.ID, &r.Status, &errText, &r.Rounds, &participants, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.Error = errText.String
		r.StartedAt = parseTime(startedAt)
		r.FinishedAt = parseTime(finishedAt)
		if participants.Valid && participants.String != "" && participants.String != "null" {
			if err := gojson.Unmarshal([]byte(participants.String), &r.Participants); err != nil {
				return nil, fmt.Errorf("failed to unmarshal participants of run %s: %w", r.ID, err)
			}
		}
		runs = append(runs, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// LastRun returns the most recent run, or nil if none has been recorded.
func (db *DB) LastRun(ctx context.Context) (*Run, error) {
	runs, err := db.RecentRuns(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

package history

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Run records one scan pipeline execution.
type Run struct {
	ID         int64
	StartedAt  time.Time
	FinishedAt time.Time
	Accounts   int
	Fetched    int
	Collected  int
	Selected   int
	Drafted    int
	Failed     int
	Error      string
}

// InsertRun stores a finished run and returns its id.
func (db *DB) InsertRun(r Run) (int64, error) {
	result, err := db.conn.Exec(`
INSERT INTO scan_runs (started_at, finished_at, accounts, fetched, collected, selected, drafted, failed, error)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		formatTime(r.StartedAt), formatTime(r.FinishedAt),
		r.Accounts, r.Fetched, r.Collected, r.Selected, r.Drafted, r.Failed, r.Error,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting run: %w", err)
	}
	return result.LastInsertId()
}

// LastRun returns the most recent run, or nil if none exists.
func (db *DB) LastRun() (*Run, error) {
	var (
		r                 Run
		started, finished string
	)
	err := db.conn.QueryRow(`
SELECT id, started_at, finished_at, accounts, fetched, collected, selected, drafted, failed, error
FROM scan_runs ORDER BY id DESC LIMIT 1`,
	).Scan(&r.ID, &started, &finished, &r.Accounts, &r.Fetched, &r.Collected, &r.Selected, &r.Drafted, &r.Failed, &r.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading last run: %w", err)
	}
	r.StartedAt = parseTime(started)
	r.FinishedAt = parseTime(finished)
	return &r, nil
}

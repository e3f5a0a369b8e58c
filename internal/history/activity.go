package history

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/TobiSchelling/xgrowth/internal/events"
)

// Activity is one entry of the comment audit trail.
type Activity struct {
	ID         int64
	Kind       string
	CommentID  string
	PostID     string
	FromStatus string
	ToStatus   string
	Detail     string
	OccurredAt time.Time
}

// RecordActivity appends an entry.
func (db *DB) RecordActivity(a Activity) error {
	if a.OccurredAt.IsZero() {
		a.OccurredAt = time.Now()
	}
	_, err := db.conn.Exec(`
INSERT INTO activity (kind, comment_id, post_id, from_status, to_status, detail, occurred_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.Kind, a.CommentID, a.PostID, a.FromStatus, a.ToStatus, a.Detail, formatTime(a.OccurredAt),
	)
	if err != nil {
		return fmt.Errorf("recording activity: %w", err)
	}
	return nil
}

// Subscribe records every comment event on bus as activity. Writes happen
// off the publishing goroutine.
func (db *DB) Subscribe(bus *events.Bus) {
	record := func(e events.Event) {
		err := db.RecordActivity(Activity{
			Kind:       e.Type,
			CommentID:  e.CommentID,
			PostID:     e.PostID,
			FromStatus: e.From,
			ToStatus:   e.To,
			Detail:     e.Detail,
			OccurredAt: e.At,
		})
		if err != nil {
			log.Warnf("Activity for %s not recorded: %v", e.Type, err)
		}
	}
	for _, t := range []string{
		events.CommentDrafted,
		events.CommentDraftFailed,
		events.CommentRefined,
		events.CommentTransitioned,
		events.CommentPublishFailed,
	} {
		bus.SubscribeAsync(t, record)
	}
}

// RecentActivity returns the newest entries first.
func (db *DB) RecentActivity(limit int) ([]Activity, error) {
	return db.queryActivity(
		"SELECT id, kind, comment_id, post_id, from_status, to_status, detail, occurred_at FROM activity ORDER BY id DESC LIMIT ?",
		limit,
	)
}

// CommentActivity returns a comment's entries in the order they happened.
func (db *DB) CommentActivity(commentID string) ([]Activity, error) {
	return db.queryActivity(
		"SELECT id, kind, comment_id, post_id, from_status, to_status, detail, occurred_at FROM activity WHERE comment_id = ? ORDER BY id",
		commentID,
	)
}

func (db *DB) queryActivity(query string, args ...any) ([]Activity, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying activity: %w", err)
	}
	defer rows.Close()

	var out []Activity
	for rows.Next() {
		var a Activity
		var at string
		if err := rows.Scan(&a.ID, &a.Kind, &a.CommentID, &a.PostID, &a.FromStatus, &a.ToStatus, &a.Detail, &at); err != nil {
			return nil, fmt.Errorf("scanning activity: %w", err)
		}
		a.OccurredAt = parseTime(at)
		out = append(out, a)
	}
	return out, rows.Err()
}

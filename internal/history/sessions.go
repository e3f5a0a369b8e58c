package history

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/TobiSchelling/xgrowth/internal/llm"
)

// SaveSession inserts or replaces a generation session.
func (db *DB) SaveSession(s llm.Session) error {
	msgs, err := json.Marshal(s.Messages)
	if err != nil {
		return fmt.Errorf("encoding session messages: %w", err)
	}
	created := s.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	updated := s.UpdatedAt
	if updated.IsZero() {
		updated = created
	}

	_, err = db.conn.Exec(`
INSERT INTO sessions (token, model, system, messages, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(token) DO UPDATE SET
    model = excluded.model,
    system = excluded.system,
    messages = excluded.messages,
    updated_at = excluded.updated_at`,
		s.Token, s.Model, s.System, string(msgs), formatTime(created), formatTime(updated),
	)
	if err != nil {
		return fmt.Errorf("saving session %s: %w", s.Token, err)
	}
	return nil
}

// LoadSession returns the session for token or an llm.ErrSessionNotFound error.
func (db *DB) LoadSession(token string) (*llm.Session, error) {
	var (
		s                llm.Session
		msgs             string
		created, updated string
	)
	err := db.conn.QueryRow(
		"SELECT token, model, system, messages, created_at, updated_at FROM sessions WHERE token = ?",
		token,
	).Scan(&s.Token, &s.Model, &s.System, &msgs, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", token, llm.ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", token, err)
	}
	if err := json.Unmarshal([]byte(msgs), &s.Messages); err != nil {
		return nil, fmt.Errorf("decoding session %s: %w", token, err)
	}
	s.CreatedAt = parseTime(created)
	s.UpdatedAt = parseTime(updated)
	return &s, nil
}

// PruneSessions deletes sessions not updated since cutoff.
func (db *DB) PruneSessions(cutoff time.Time) (int64, error) {
	result, err := db.conn.Exec("DELETE FROM sessions WHERE updated_at < ?", formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("pruning sessions: %w", err)
	}
	return result.RowsAffected()
}

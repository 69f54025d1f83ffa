package db

import (
	"database/sql"
	"fmt"
)

// Session represents one recording run against the sense board.
type Session struct {
	ID        string `json:"id"`
	Strategy  string `json:"strategy"`
	Divisions int    `json:"divisions"`
	StartedAt int64  `json:"started_at"`
	StoppedAt *int64 `json:"stopped_at,omitempty"`
}

// CreateSession inserts a new session row.
func (db *DB) CreateSession(s *Session) error {
	_, err := db.Exec(
		`INSERT INTO sessions (session_id, strategy, divisions, started_at, stopped_at)
		 VALUES (?, ?, ?, ?, ?)`,
		s.ID, s.Strategy, s.Divisions, s.StartedAt, s.StoppedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// StopSession marks a session as stopped at the given unix time.
func (db *DB) StopSession(id string, stoppedAt int64) error {
	res, err := db.Exec(`UPDATE sessions SET stopped_at = ? WHERE session_id = ?`, stoppedAt, id)
	if err != nil {
		return fmt.Errorf("failed to stop session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check stop result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("no session with id %q", id)
	}
	return nil
}

// GetSession returns a single session by ID, or nil if it does not exist.
func (db *DB) GetSession(id string) (*Session, error) {
	var s Session
	err := db.QueryRow(
		`SELECT session_id, strategy, divisions, started_at, stopped_at
		 FROM sessions WHERE session_id = ?`, id,
	).Scan(&s.ID, &s.Strategy, &s.Divisions, &s.StartedAt, &s.StoppedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &s, nil
}

// ListSessions returns the most recently started sessions.
func (db *DB) ListSessions(limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(
		`SELECT session_id, strategy, divisions, started_at, stopped_at
		 FROM sessions ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.Strategy, &s.Divisions, &s.StartedAt, &s.StoppedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return sessions, nil
}

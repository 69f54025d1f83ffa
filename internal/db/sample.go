package db

import (
	"database/sql"
	"fmt"
)

// SampleRecord is one raw magnetometer reading with its spherical projection.
type SampleRecord struct {
	ID         int64   `json:"id"`
	SessionID  string  `json:"session_id"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	Radius     float64 `json:"radius"`
	Polar      float64 `json:"polar"`
	Azimuth    float64 `json:"azimuth"`
	RecordedAt int64   `json:"recorded_at"`
}

// RecordSample inserts one sample row.
func (db *DB) RecordSample(rec *SampleRecord) error {
	_, err := db.Exec(
		`INSERT INTO samples (session_id, x, y, z, radius, polar, azimuth, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.X, rec.Y, rec.Z, rec.Radius, rec.Polar, rec.Azimuth, rec.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record sample: %w", err)
	}
	return nil
}

// SamplesForSession returns a session's samples in recording order.
func (db *DB) SamplesForSession(sessionID string, limit int) ([]SampleRecord, error) {
	if limit <= 0 {
		limit = 10000
	}
	rows, err := db.Query(
		`SELECT sample_id, session_id, x, y, z, radius, polar, azimuth, recorded_at
		 FROM samples WHERE session_id = ? ORDER BY sample_id ASC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	defer rows.Close()

	return scanSamples(rows)
}

// LatestSamples returns the most recent samples across all sessions.
func (db *DB) LatestSamples(limit int) ([]SampleRecord, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := db.Query(
		`SELECT sample_id, session_id, x, y, z, radius, polar, azimuth, recorded_at
		 FROM samples ORDER BY sample_id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	defer rows.Close()

	return scanSamples(rows)
}

// SampleCount returns the number of samples stored for a session.
func (db *DB) SampleCount(sessionID string) (int64, error) {
	var n int64
	err := db.QueryRow(`SELECT COUNT(*) FROM samples WHERE session_id = ?`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count samples: %w", err)
	}
	return n, nil
}

func scanSamples(rows *sql.Rows) ([]SampleRecord, error) {
	var samples []SampleRecord
	for rows.Next() {
		var rec SampleRecord
		if err := rows.Scan(
			&rec.ID, &rec.SessionID, &rec.X, &rec.Y, &rec.Z,
			&rec.Radius, &rec.Polar, &rec.Azimuth, &rec.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		samples = append(samples, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return samples, nil
}

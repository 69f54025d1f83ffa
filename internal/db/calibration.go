package db

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/banshee-data/compass.report/internal/mag"
)

// CalibrationRecord stores the result of one fit, with the full calibration
// serialized as JSON and the headline numbers broken out for querying.
type CalibrationRecord struct {
	ID          int64           `json:"id"`
	SessionID   string          `json:"session_id"`
	Strategy    string          `json:"strategy"`
	RMSE        float64         `json:"rmse"`
	SampleCount int64           `json:"sample_count"`
	CoveragePct float64         `json:"coverage_pct"`
	Calibration mag.Calibration `json:"calibration"`
	CreatedAt   int64           `json:"created_at"`
}

// RecordCalibration inserts a fit result and fills in the record's ID.
func (db *DB) RecordCalibration(rec *CalibrationRecord) error {
	payload, err := json.Marshal(rec.Calibration)
	if err != nil {
		return fmt.Errorf("failed to encode calibration: %w", err)
	}

	res, err := db.Exec(
		`INSERT INTO calibrations (session_id, strategy, rmse, sample_count, coverage_pct, calibration, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.Strategy, rec.RMSE, rec.SampleCount, rec.CoveragePct, string(payload), rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record calibration: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read calibration id: %w", err)
	}
	rec.ID = id
	return nil
}

// CalibrationsForSession returns a session's fits, newest first.
func (db *DB) CalibrationsForSession(sessionID string, limit int) ([]CalibrationRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(
		`SELECT calibration_id, session_id, strategy, rmse, sample_count, coverage_pct, calibration, created_at
		 FROM calibrations WHERE session_id = ? ORDER BY calibration_id DESC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query calibrations: %w", err)
	}
	defer rows.Close()

	return scanCalibrations(rows)
}

// ListCalibrations returns the most recent fits across all sessions, newest
// first.
func (db *DB) ListCalibrations(limit int) ([]CalibrationRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(
		`SELECT calibration_id, session_id, strategy, rmse, sample_count, coverage_pct, calibration, created_at
		 FROM calibrations ORDER BY calibration_id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query calibrations: %w", err)
	}
	defer rows.Close()

	return scanCalibrations(rows)
}

// LatestCalibration returns the most recent fit across all sessions, or nil
// if none has been recorded.
func (db *DB) LatestCalibration() (*CalibrationRecord, error) {
	rows, err := db.Query(
		`SELECT calibration_id, session_id, strategy, rmse, sample_count, coverage_pct, calibration, created_at
		 FROM calibrations ORDER BY calibration_id DESC LIMIT 1`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query calibrations: %w", err)
	}
	defer rows.Close()

	records, err := scanCalibrations(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

func scanCalibrations(rows *sql.Rows) ([]CalibrationRecord, error) {
	var records []CalibrationRecord
	for rows.Next() {
		var rec CalibrationRecord
		var payload string
		if err := rows.Scan(
			&rec.ID, &rec.SessionID, &rec.Strategy, &rec.RMSE,
			&rec.SampleCount, &rec.CoveragePct, &payload, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan calibration: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &rec.Calibration); err != nil {
			return nil, fmt.Errorf("failed to decode calibration %d: %w", rec.ID, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

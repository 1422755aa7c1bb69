package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Telemetry is one metric sample reported by a module.
type Telemetry struct {
	ID         int64     `json:"id"`
	ModuleID   string    `json:"module_id"`
	Metric     string    `json:"metric"`
	Value      float64   `json:"value"`
	Unit       *string   `json:"unit"`
	CapturedAt time.Time `json:"captured_at"`
}

// MetricSummary aggregates one metric across its samples.
type MetricSummary struct {
	Metric   string    `json:"metric"`
	AvgValue float64   `json:"avg_value"`
	LastSeen time.Time `json:"last_seen"`
}

// InsertTelemetry persists a sample and fills in its ID.
func (s *Store) InsertTelemetry(t *Telemetry) error {
	result, err := s.db.Exec(`
INSERT INTO telemetry (module_id, metric, value, unit, captured_at)
VALUES (?, ?, ?, ?, ?)`,
		t.ModuleID, t.Metric, t.Value, t.Unit, t.CapturedAt)
	if err != nil {
		return fmt.Errorf("failed to insert telemetry: %w", err)
	}
	t.ID, _ = result.LastInsertId()
	return nil
}

// ListTelemetry returns the newest samples first, capped at limit.
func (s *Store) ListTelemetry(limit int) ([]Telemetry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
SELECT id, module_id, metric, value, unit, captured_at
FROM telemetry ORDER BY captured_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []Telemetry
	for rows.Next() {
		var (
			t    Telemetry
			unit sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.ModuleID, &t.Metric, &t.Value, &unit, &t.CapturedAt); err != nil {
			return nil, err
		}
		if unit.Valid {
			t.Unit = &unit.String
		}
		samples = append(samples, t)
	}
	return samples, rows.Err()
}

// TelemetrySummary returns the average value and newest capture time per
// metric.
func (s *Store) TelemetrySummary() ([]MetricSummary, error) {
	rows, err := s.db.Query(`
SELECT metric, AVG(value), MAX(captured_at)
FROM telemetry GROUP BY metric ORDER BY metric`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []MetricSummary
	for rows.Next() {
		var summary MetricSummary
		if err := rows.Scan(&summary.Metric, &summary.AvgValue, &summary.LastSeen); err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}
	return summaries, rows.Err()
}

// PruneTelemetry drops samples captured before the cutoff.
func (s *Store) PruneTelemetry(before time.Time) (int64, error) {
	result, err := s.db.Exec(`DELETE FROM telemetry WHERE captured_at < ?`, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

package store

import (
	"database/sql"
	"fmt"
	"time"
)

// CycleLog records one completed roller or pump cycle reported by a module.
type CycleLog struct {
	ID               int64     `json:"id"`
	ModuleID         string    `json:"module_id"`
	CycleType        string    `json:"cycle_type"`
	Trigger          *string   `json:"trigger"`
	DurationMS       *int64    `json:"duration_ms"`
	Timeout          bool      `json:"timeout"`
	ModuleTimestampS *int64    `json:"module_timestamp_s,omitempty"`
	RecordedAt       time.Time `json:"recorded_at"`
}

// InsertCycle persists a cycle record and fills in its ID.
func (s *Store) InsertCycle(c *CycleLog) error {
	result, err := s.db.Exec(`
INSERT INTO cycle_log (module_id, cycle_type, trigger, duration_ms, timeout, module_timestamp_s, recorded_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ModuleID, c.CycleType, c.Trigger, c.DurationMS, c.Timeout, c.ModuleTimestampS, c.RecordedAt)
	if err != nil {
		return fmt.Errorf("failed to insert cycle log: %w", err)
	}
	c.ID, _ = result.LastInsertId()
	return nil
}

// ListCyclesSince returns cycles recorded at or after the cutoff, oldest
// first.
func (s *Store) ListCyclesSince(since time.Time) ([]CycleLog, error) {
	rows, err := s.db.Query(`
SELECT id, module_id, cycle_type, trigger, duration_ms, timeout, module_timestamp_s, recorded_at
FROM cycle_log WHERE recorded_at >= ? ORDER BY recorded_at`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cycles []CycleLog
	for rows.Next() {
		var (
			c        CycleLog
			trigger  sql.NullString
			duration sql.NullInt64
			moduleTS sql.NullInt64
		)
		if err := rows.Scan(&c.ID, &c.ModuleID, &c.CycleType, &trigger, &duration, &c.Timeout, &moduleTS, &c.RecordedAt); err != nil {
			return nil, err
		}
		if trigger.Valid {
			c.Trigger = &trigger.String
		}
		if duration.Valid {
			c.DurationMS = &duration.Int64
		}
		if moduleTS.Valid {
			c.ModuleTimestampS = &moduleTS.Int64
		}
		cycles = append(cycles, c)
	}
	return cycles, rows.Err()
}

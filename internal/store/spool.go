package store

import (
	"fmt"
	"time"
)

// SpoolUsage records one derived spool consumption delta.
type SpoolUsage struct {
	ID             int64     `json:"id"`
	ModuleID       string    `json:"module_id"`
	DeltaEdges     float64   `json:"delta_edges"`
	DeltaMM        float64   `json:"delta_mm"`
	TotalUsedEdges float64   `json:"total_used_edges"`
	RecordedAt     time.Time `json:"recorded_at"`
}

// InsertSpoolUsage persists a usage delta.
func (s *Store) InsertSpoolUsage(u *SpoolUsage) error {
	result, err := s.db.Exec(`
INSERT INTO spool_usage (module_id, delta_edges, delta_mm, total_used_edges, recorded_at)
VALUES (?, ?, ?, ?, ?)`,
		u.ModuleID, u.DeltaEdges, u.DeltaMM, u.TotalUsedEdges, u.RecordedAt)
	if err != nil {
		return fmt.Errorf("failed to insert spool usage: %w", err)
	}
	u.ID, _ = result.LastInsertId()
	return nil
}

// ListSpoolUsage returns usage entries at or after the cutoff, oldest first,
// optionally filtered by module and capped at limit (0 means no cap).
func (s *Store) ListSpoolUsage(moduleID string, since time.Time, limit int) ([]SpoolUsage, error) {
	query := `
SELECT id, module_id, delta_edges, delta_mm, total_used_edges, recorded_at
FROM spool_usage WHERE recorded_at >= ?`
	args := []any{since}
	if moduleID != "" {
		query += ` AND module_id = ?`
		args = append(args, moduleID)
	}
	query += ` ORDER BY recorded_at`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []SpoolUsage
	for rows.Next() {
		var u SpoolUsage
		if err := rows.Scan(&u.ID, &u.ModuleID, &u.DeltaEdges, &u.DeltaMM, &u.TotalUsedEdges, &u.RecordedAt); err != nil {
			return nil, err
		}
		entries = append(entries, u)
	}
	return entries, rows.Err()
}

// DeleteSpoolUsageForModule removes the module's usage history, returning
// the number of rows dropped. Used when a spool is re-threaded.
func (s *Store) DeleteSpoolUsageForModule(moduleID string) (int64, error) {
	result, err := s.db.Exec(`DELETE FROM spool_usage WHERE module_id = ?`, moduleID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

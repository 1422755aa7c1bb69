package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Snapshot retention bounds. Snapshots are bulky manifest payloads, so both
// an age cutoff and a hard row cap apply.
const (
	SnapshotRetention   = 30 * 24 * time.Hour
	SnapshotMaxRows     = 100_000
	snapshotListMaxRows = 1000
)

// Snapshot is a point-in-time manifest payload reported by a module.
type Snapshot struct {
	ID         int64          `json:"id"`
	ModuleID   string         `json:"module_id"`
	Payload    map[string]any `json:"payload"`
	RecordedAt time.Time      `json:"recorded_at"`
}

// InsertSnapshot persists a snapshot and prunes stale rows.
func (s *Store) InsertSnapshot(snap *Snapshot) error {
	if snap.ModuleID == "" {
		return fmt.Errorf("module_id is required for snapshots")
	}
	payloadJSON, err := marshalJSON(snap.Payload)
	if err != nil {
		return err
	}
	result, err := s.db.Exec(`
INSERT INTO module_snapshot (module_id, payload, recorded_at)
VALUES (?, ?, ?)`, snap.ModuleID, payloadJSON, snap.RecordedAt)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	snap.ID, _ = result.LastInsertId()
	return s.pruneSnapshots()
}

// ListSnapshots returns up to limit snapshots for the module, oldest first,
// optionally restricted to a trailing window.
func (s *Store) ListSnapshots(moduleID string, limit int, window time.Duration) ([]Snapshot, error) {
	if moduleID == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	if limit > snapshotListMaxRows {
		limit = snapshotListMaxRows
	}

	query := `
SELECT id, module_id, payload, recorded_at
FROM module_snapshot WHERE module_id = ?`
	args := []any{moduleID}
	if window > 0 {
		query += ` AND recorded_at >= ?`
		args = append(args, time.Now().UTC().Add(-window))
	}
	query += ` ORDER BY recorded_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snapshots []Snapshot
	for rows.Next() {
		var (
			snap Snapshot
			raw  sql.NullString
		)
		if err := rows.Scan(&snap.ID, &snap.ModuleID, &raw, &snap.RecordedAt); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(raw, &snap.Payload); err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Newest-limit applied above; callers read history oldest first.
	for i, j := 0, len(snapshots)-1; i < j; i, j = i+1, j-1 {
		snapshots[i], snapshots[j] = snapshots[j], snapshots[i]
	}
	return snapshots, nil
}

// DeleteSnapshotsForModule removes all snapshots for the module.
func (s *Store) DeleteSnapshotsForModule(moduleID string) (int64, error) {
	if moduleID == "" {
		return 0, nil
	}
	result, err := s.db.Exec(`DELETE FROM module_snapshot WHERE module_id = ?`, moduleID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (s *Store) pruneSnapshots() error {
	cutoff := time.Now().UTC().Add(-SnapshotRetention)
	if _, err := s.db.Exec(`DELETE FROM module_snapshot WHERE recorded_at < ?`, cutoff); err != nil {
		return err
	}

	var total int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM module_snapshot`).Scan(&total); err != nil {
		return err
	}
	if total <= SnapshotMaxRows {
		return nil
	}
	_, err := s.db.Exec(`
DELETE FROM module_snapshot WHERE id IN (
  SELECT id FROM module_snapshot ORDER BY recorded_at DESC, id DESC LIMIT -1 OFFSET ?
)`, SnapshotMaxRows)
	return err
}

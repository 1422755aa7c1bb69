// Package store persists module state, telemetry, and history in SQLite.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Store wraps the SQLite database used by the backend.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and runs migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	_, _ = db.Exec("PRAGMA journal_mode=WAL;")
	_, _ = db.Exec("PRAGMA synchronous=NORMAL;")
	_, _ = db.Exec("PRAGMA foreign_keys=ON;")

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS module_status (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  module_id TEXT NOT NULL UNIQUE,
  label TEXT NOT NULL DEFAULT 'Unnamed module',
  firmware_version TEXT,
  ip_address TEXT,
  rssi INTEGER,
  status TEXT NOT NULL DEFAULT 'offline',
  last_seen TIMESTAMP NOT NULL,
  status_payload TEXT,
  config_payload TEXT,
  alarms TEXT
);
CREATE INDEX IF NOT EXISTS idx_module_status_last_seen ON module_status(last_seen);

CREATE TABLE IF NOT EXISTS cycle_log (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  module_id TEXT NOT NULL,
  cycle_type TEXT NOT NULL,
  trigger TEXT,
  duration_ms INTEGER,
  timeout INTEGER NOT NULL DEFAULT 0,
  module_timestamp_s INTEGER,
  recorded_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cycle_log_module ON cycle_log(module_id);
CREATE INDEX IF NOT EXISTS idx_cycle_log_type ON cycle_log(cycle_type);
CREATE INDEX IF NOT EXISTS idx_cycle_log_recorded ON cycle_log(recorded_at);

CREATE TABLE IF NOT EXISTS spool_usage (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  module_id TEXT NOT NULL,
  delta_edges REAL,
  delta_mm REAL,
  total_used_edges REAL,
  recorded_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_spool_usage_module ON spool_usage(module_id);
CREATE INDEX IF NOT EXISTS idx_spool_usage_recorded ON spool_usage(recorded_at);

CREATE TABLE IF NOT EXISTS telemetry (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  module_id TEXT NOT NULL,
  metric TEXT NOT NULL,
  value REAL NOT NULL,
  unit TEXT,
  captured_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_telemetry_captured ON telemetry(captured_at);

CREATE TABLE IF NOT EXISTS module_snapshot (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  module_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  recorded_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_module_snapshot_module ON module_snapshot(module_id);
CREATE INDEX IF NOT EXISTS idx_module_snapshot_recorded ON module_snapshot(recorded_at);
`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	// Older databases predate the payload columns.
	_, _ = s.db.Exec(`ALTER TABLE module_status ADD COLUMN status_payload TEXT`)
	_, _ = s.db.Exec(`ALTER TABLE module_status ADD COLUMN config_payload TEXT`)
	_, _ = s.db.Exec(`ALTER TABLE module_status ADD COLUMN alarms TEXT`)
	return nil
}

// marshalJSON renders a payload column value, mapping nil to SQL NULL.
func marshalJSON(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return string(data), nil
}

// unmarshalJSON decodes a nullable JSON column into dst, leaving dst nil for
// SQL NULL.
func unmarshalJSON(raw sql.NullString, dst any) error {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw.String), dst)
}

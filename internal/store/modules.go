package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ModuleStatus is the persisted record for one hardware module.
type ModuleStatus struct {
	ID              int64            `json:"id"`
	ModuleID        string           `json:"module_id"`
	Label           string           `json:"label"`
	FirmwareVersion *string          `json:"firmware_version"`
	IPAddress       *string          `json:"ip_address"`
	RSSI            *int             `json:"rssi"`
	Status          string           `json:"status"`
	LastSeen        time.Time        `json:"last_seen"`
	StatusPayload   map[string]any   `json:"status_payload"`
	ConfigPayload   map[string]any   `json:"config_payload"`
	Alarms          []map[string]any `json:"alarms"`
}

// SpoolState merges the spool sub-objects of the config and status payloads,
// status values winning. Nil when neither payload reports spool state.
func (m *ModuleStatus) SpoolState() map[string]any {
	merged := map[string]any{}
	if config, ok := m.ConfigPayload["spool"].(map[string]any); ok {
		for k, v := range config {
			merged[k] = v
		}
	}
	if status, ok := m.StatusPayload["spool"].(map[string]any); ok {
		for k, v := range status {
			merged[k] = v
		}
	}
	if len(merged) == 0 {
		return nil
	}
	return merged
}

const moduleColumns = `id, module_id, label, firmware_version, ip_address, rssi, status, last_seen, status_payload, config_payload, alarms`

// GetModule returns the module record, or nil when unknown.
func (s *Store) GetModule(moduleID string) (*ModuleStatus, error) {
	row := s.db.QueryRow(`SELECT `+moduleColumns+` FROM module_status WHERE module_id = ?`, moduleID)
	module, err := scanModule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return module, err
}

// ListModules returns every module ordered by label.
func (s *Store) ListModules() ([]ModuleStatus, error) {
	rows, err := s.db.Query(`SELECT ` + moduleColumns + ` FROM module_status ORDER BY label`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var modules []ModuleStatus
	for rows.Next() {
		module, err := scanModule(rows)
		if err != nil {
			return nil, err
		}
		modules = append(modules, *module)
	}
	return modules, rows.Err()
}

// SaveModule inserts the module or updates the existing record keyed by
// module_id.
func (s *Store) SaveModule(m *ModuleStatus) error {
	statusJSON, err := marshalJSON(payloadOrNil(m.StatusPayload))
	if err != nil {
		return err
	}
	configJSON, err := marshalJSON(payloadOrNil(m.ConfigPayload))
	if err != nil {
		return err
	}
	var alarmsValue any
	if m.Alarms != nil {
		alarmsValue, err = marshalJSON(m.Alarms)
		if err != nil {
			return err
		}
	}

	result, err := s.db.Exec(`
INSERT INTO module_status (module_id, label, firmware_version, ip_address, rssi, status, last_seen, status_payload, config_payload, alarms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(module_id) DO UPDATE SET
  label = excluded.label,
  firmware_version = excluded.firmware_version,
  ip_address = excluded.ip_address,
  rssi = excluded.rssi,
  status = excluded.status,
  last_seen = excluded.last_seen,
  status_payload = excluded.status_payload,
  config_payload = excluded.config_payload,
  alarms = excluded.alarms`,
		m.ModuleID, m.Label, m.FirmwareVersion, m.IPAddress, m.RSSI, m.Status, m.LastSeen,
		statusJSON, configJSON, alarmsValue)
	if err != nil {
		return fmt.Errorf("failed to save module %s: %w", m.ModuleID, err)
	}
	if m.ID == 0 {
		if id, err := result.LastInsertId(); err == nil && id != 0 {
			m.ID = id
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanModule(row rowScanner) (*ModuleStatus, error) {
	var (
		m         ModuleStatus
		firmware  sql.NullString
		ip        sql.NullString
		rssi      sql.NullInt64
		statusRaw sql.NullString
		configRaw sql.NullString
		alarmsRaw sql.NullString
	)
	err := row.Scan(&m.ID, &m.ModuleID, &m.Label, &firmware, &ip, &rssi, &m.Status, &m.LastSeen,
		&statusRaw, &configRaw, &alarmsRaw)
	if err != nil {
		return nil, err
	}
	if firmware.Valid {
		m.FirmwareVersion = &firmware.String
	}
	if ip.Valid {
		m.IPAddress = &ip.String
	}
	if rssi.Valid {
		v := int(rssi.Int64)
		m.RSSI = &v
	}
	if err := unmarshalJSON(statusRaw, &m.StatusPayload); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(configRaw, &m.ConfigPayload); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(alarmsRaw, &m.Alarms); err != nil {
		return nil, err
	}
	return &m, nil
}

func payloadOrNil(payload map[string]any) any {
	if payload == nil {
		return nil
	}
	return payload
}

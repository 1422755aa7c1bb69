package hub

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/picklereef/pi-touch/internal/store"
	"github.com/picklereef/pi-touch/pkg/protocol"
)

// Service applies normalized module frames to the store.
type Service struct {
	store *store.Store
	log   zerolog.Logger
}

// NewService creates a frame service backed by the given store.
func NewService(st *store.Store, log zerolog.Logger) *Service {
	return &Service{store: st, log: log.With().Str("component", "hub").Logger()}
}

// UpsertStatus persists a status frame, merging spool state with what the
// module reported before, and records any derived spool usage.
func (s *Service) UpsertStatus(payload map[string]any, clientIP string) (*store.ModuleStatus, error) {
	moduleID := protocol.ResolveModuleID(payload, "")

	module, err := s.store.GetModule(moduleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load module %s: %w", moduleID, err)
	}

	var previousSpool, configSpool map[string]any
	if module != nil {
		previousSpool, _ = module.StatusPayload["spool"].(map[string]any)
		configSpool, _ = module.ConfigPayload["spool"].(map[string]any)
	} else {
		module = &store.ModuleStatus{ModuleID: moduleID, Label: moduleID}
	}

	module.Status = "online"
	module.LastSeen = time.Now().UTC()

	currentSpool, _ := payload["spool"].(map[string]any)
	if previousSpool != nil {
		switch {
		case currentSpool != nil:
			// A status frame may carry a partial spool object; keep the
			// fields it omits.
			merged := make(map[string]any, len(previousSpool)+len(currentSpool))
			for k, v := range previousSpool {
				merged[k] = v
			}
			for k, v := range currentSpool {
				merged[k] = v
			}
			payload = withKey(payload, "spool", merged)
			currentSpool = merged
		default:
			payload = withKey(payload, "spool", previousSpool)
			currentSpool = previousSpool
		}
	}

	module.StatusPayload = payload
	if clientIP != "" {
		module.IPAddress = &clientIP
	}
	if fw, ok := payload["firmware_version"].(string); ok && fw != "" {
		module.FirmwareVersion = &fw
	}
	if rssi, ok := asNumber(payload["rssi"]); ok {
		v := int(rssi)
		module.RSSI = &v
	}

	if len(currentSpool) > 0 {
		if delta := DeriveSpoolUsage(previousSpool, currentSpool, configSpool); delta != nil {
			entry := &store.SpoolUsage{
				ModuleID:       moduleID,
				DeltaEdges:     delta.DeltaEdges,
				DeltaMM:        delta.DeltaMM,
				TotalUsedEdges: delta.TotalUsedEdges,
				RecordedAt:     module.LastSeen,
			}
			if err := s.store.InsertSpoolUsage(entry); err != nil {
				s.log.Warn().Err(err).Str("module", moduleID).Msg("failed to record spool usage")
			}
		}
	}

	s.log.Debug().Str("module", moduleID).Interface("spool", currentSpool).Msg("status update")
	if err := s.store.SaveModule(module); err != nil {
		return nil, err
	}
	return module, nil
}

// MarkOffline flags a module offline once its connection drops. Unknown
// modules are ignored.
func (s *Service) MarkOffline(moduleID string) error {
	module, err := s.store.GetModule(moduleID)
	if err != nil || module == nil {
		return err
	}
	module.Status = "offline"
	module.LastSeen = time.Now().UTC()
	return s.store.SaveModule(module)
}

// UpsertConfig persists the config payload a module reported.
func (s *Service) UpsertConfig(moduleID string, payload map[string]any) error {
	module, err := s.loadOrCreate(moduleID)
	if err != nil {
		return err
	}
	module.ConfigPayload = payload
	module.LastSeen = time.Now().UTC()
	if module.Status == "" {
		module.Status = "online"
	}
	return s.store.SaveModule(module)
}

// RecordManifest stores a module manifest as a snapshot so hardware
// inventory history is queryable.
func (s *Service) RecordManifest(moduleID string, payload map[string]any) error {
	if moduleID == "" {
		moduleID = protocol.ResolveModuleID(payload, "")
	}
	if moduleID == protocol.UnknownModuleID {
		s.log.Debug().Msg("dropping manifest without module identity")
		return nil
	}
	return s.store.InsertSnapshot(&store.Snapshot{
		ModuleID:   moduleID,
		Payload:    payload,
		RecordedAt: time.Now().UTC(),
	})
}

// RecordCycle persists a cycle_log frame.
func (s *Service) RecordCycle(payload map[string]any) (*store.CycleLog, error) {
	cycle := &store.CycleLog{
		ModuleID:   protocol.ResolveModuleID(payload, ""),
		CycleType:  stringOr(payload["cycle_type"], "unknown"),
		Timeout:    boolValue(payload["timeout"]),
		RecordedAt: time.Now().UTC(),
	}
	if trigger, ok := payload["trigger"].(string); ok && trigger != "" {
		cycle.Trigger = &trigger
	}
	if duration, ok := asNumber(payload["duration_ms"]); ok {
		v := int64(duration)
		cycle.DurationMS = &v
	}
	if ts, ok := asNumber(payload["timestamp_s"]); ok {
		v := int64(ts)
		cycle.ModuleTimestampS = &v
	}
	if err := s.store.InsertCycle(cycle); err != nil {
		return nil, err
	}
	return cycle, nil
}

// RecordAlarm tracks an alarm transition on the module record. Cleared
// alarms are dropped from the list; active ones replace any previous alarm
// with the same code.
func (s *Service) RecordAlarm(payload map[string]any, fallbackID string) error {
	moduleID := protocol.ResolveModuleID(payload, fallbackID)
	alarm, _ := payload["alarm"].(map[string]any)
	code, _ := alarm["code"].(string)
	if code == "" {
		s.log.Debug().Str("module", moduleID).Msg("dropping alarm without code")
		return nil
	}

	module, err := s.loadOrCreate(moduleID)
	if err != nil {
		return err
	}

	normalized := normalizeAlarm(alarm)
	kept := make([]map[string]any, 0, len(module.Alarms)+1)
	for _, entry := range module.Alarms {
		if entry["code"] != code {
			kept = append(kept, entry)
		}
	}
	if normalized["active"] == true {
		kept = append(kept, normalized)
	}

	module.Alarms = kept
	module.LastSeen = time.Now().UTC()
	if module.Status == "" {
		module.Status = "online"
	}
	return s.store.SaveModule(module)
}

// ApplySpoolActivations merges lightweight spool counters into the module's
// status payload without requiring a full status frame.
func (s *Service) ApplySpoolActivations(payload map[string]any, fallbackID string) error {
	return s.applyActivations(payload, fallbackID, "spool",
		[]string{"activations", "percent_remaining", "used_edges", "remaining_edges", "empty_alarm"})
}

// ApplyATOActivations merges lightweight ATO counters the same way.
func (s *Service) ApplyATOActivations(payload map[string]any, fallbackID string) error {
	return s.applyActivations(payload, fallbackID, "ato",
		[]string{"activations", "pump_running", "timeout_alarm"})
}

func (s *Service) applyActivations(payload map[string]any, fallbackID, section string, helperKeys []string) error {
	moduleID := protocol.ResolveModuleID(payload, fallbackID)
	if moduleID == protocol.UnknownModuleID {
		return nil
	}

	fragment := map[string]any{}
	if nested, ok := payload[section].(map[string]any); ok {
		for k, v := range nested {
			fragment[k] = v
		}
	}
	// Older firmware sends helper fields at the top level.
	for _, key := range helperKeys {
		if value, ok := payload[key]; ok {
			if _, exists := fragment[key]; !exists {
				fragment[key] = value
			}
		}
	}
	if _, exists := fragment["activations"]; !exists {
		if count, ok := payload["count"]; ok {
			fragment["activations"] = count
		}
	}
	if len(fragment) == 0 {
		return nil
	}

	module, err := s.loadOrCreate(moduleID)
	if err != nil {
		return err
	}

	statusPayload := module.StatusPayload
	if statusPayload == nil {
		statusPayload = map[string]any{}
	}
	current, _ := statusPayload[section].(map[string]any)
	merged := make(map[string]any, len(current)+len(fragment))
	for k, v := range current {
		merged[k] = v
	}
	for k, v := range fragment {
		merged[k] = v
	}
	module.StatusPayload = withKey(statusPayload, section, merged)
	module.LastSeen = time.Now().UTC()
	if module.Status == "" {
		module.Status = "online"
	}
	return s.store.SaveModule(module)
}

func (s *Service) loadOrCreate(moduleID string) (*store.ModuleStatus, error) {
	module, err := s.store.GetModule(moduleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load module %s: %w", moduleID, err)
	}
	if module == nil {
		module = &store.ModuleStatus{ModuleID: moduleID, Label: moduleID}
	}
	return module, nil
}

func normalizeAlarm(alarm map[string]any) map[string]any {
	normalized := map[string]any{
		"code":        alarm["code"],
		"severity":    stringOr(alarm["severity"], "warning"),
		"active":      boolValue(alarm["active"]),
		"message":     stringOr(alarm["message"], stringOr(alarm["code"], "")),
		"received_at": time.Now().UTC().Format(time.RFC3339),
	}
	if ts, ok := alarm["timestamp_s"]; ok {
		normalized["timestamp_s"] = ts
	}
	if meta, ok := alarm["meta"]; ok {
		normalized["meta"] = meta
	}
	return normalized
}

// withKey returns a shallow copy of payload with key set, leaving the
// original map untouched for other readers.
func withKey(payload map[string]any, key string, value any) map[string]any {
	out := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		out[k] = v
	}
	out[key] = value
	return out
}

func stringOr(value any, fallback string) string {
	if s, ok := value.(string); ok && s != "" {
		return s
	}
	return fallback
}

func boolValue(value any) bool {
	b, _ := value.(bool)
	return b
}

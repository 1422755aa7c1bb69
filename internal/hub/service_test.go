package hub

import (
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/picklereef/pi-touch/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "hub_test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return NewService(st, zerolog.New(io.Discard)), st
}

func TestUpsertStatusCreatesModule(t *testing.T) {
	svc, st := newTestService(t)

	payload := map[string]any{
		"module": "roller-1",
		"motor":  map[string]any{"running": true},
	}
	module, err := svc.UpsertStatus(payload, "192.168.1.40")
	if err != nil {
		t.Fatalf("UpsertStatus() error = %v", err)
	}
	if module.Status != "online" {
		t.Fatalf("status = %q, want online", module.Status)
	}
	if module.IPAddress == nil || *module.IPAddress != "192.168.1.40" {
		t.Fatalf("ip = %v, want 192.168.1.40", module.IPAddress)
	}

	stored, err := st.GetModule("roller-1")
	if err != nil || stored == nil {
		t.Fatalf("GetModule() = %v, %v", stored, err)
	}
	if stored.Label != "roller-1" {
		t.Fatalf("label = %q, want roller-1", stored.Label)
	}
}

func TestUpsertStatusMergesSpool(t *testing.T) {
	svc, st := newTestService(t)

	_, err := svc.UpsertStatus(map[string]any{
		"module": "roller-1",
		"spool": map[string]any{
			"used_edges":      float64(10),
			"full_edges":      float64(100),
			"total_length_mm": float64(50000),
		},
	}, "")
	if err != nil {
		t.Fatalf("first UpsertStatus() error = %v", err)
	}

	// Partial spool update: geometry fields must survive the merge.
	_, err = svc.UpsertStatus(map[string]any{
		"module": "roller-1",
		"spool":  map[string]any{"used_edges": float64(12)},
	}, "")
	if err != nil {
		t.Fatalf("second UpsertStatus() error = %v", err)
	}

	module, err := st.GetModule("roller-1")
	if err != nil {
		t.Fatalf("GetModule() error = %v", err)
	}
	spool, ok := module.StatusPayload["spool"].(map[string]any)
	if !ok {
		t.Fatalf("spool missing from status payload: %v", module.StatusPayload)
	}
	if spool["used_edges"] != float64(12) {
		t.Fatalf("used_edges = %v, want 12", spool["used_edges"])
	}
	if spool["full_edges"] != float64(100) {
		t.Fatalf("full_edges = %v, want 100 (merge dropped geometry)", spool["full_edges"])
	}

	usage, err := st.ListSpoolUsage("roller-1", time.Time{}, 0)
	if err != nil {
		t.Fatalf("ListSpoolUsage() error = %v", err)
	}
	if len(usage) != 1 {
		t.Fatalf("expected 1 spool usage row, got %d", len(usage))
	}
	if usage[0].DeltaEdges != 2 || usage[0].DeltaMM != 1000 {
		t.Fatalf("usage delta = %+v, want 2 edges / 1000 mm", usage[0])
	}
}

func TestUpsertStatusKeepsSpoolWhenOmitted(t *testing.T) {
	svc, st := newTestService(t)

	_, err := svc.UpsertStatus(map[string]any{
		"module": "roller-1",
		"spool":  map[string]any{"used_edges": float64(10), "full_edges": float64(100)},
	}, "")
	if err != nil {
		t.Fatalf("first UpsertStatus() error = %v", err)
	}
	_, err = svc.UpsertStatus(map[string]any{"module": "roller-1"}, "")
	if err != nil {
		t.Fatalf("second UpsertStatus() error = %v", err)
	}

	module, _ := st.GetModule("roller-1")
	spool, _ := module.StatusPayload["spool"].(map[string]any)
	if spool == nil || spool["used_edges"] != float64(10) {
		t.Fatalf("spool state lost when a frame omitted it: %v", module.StatusPayload)
	}
}

func TestMarkOffline(t *testing.T) {
	svc, st := newTestService(t)

	if _, err := svc.UpsertStatus(map[string]any{"module": "roller-1"}, ""); err != nil {
		t.Fatalf("UpsertStatus() error = %v", err)
	}
	if err := svc.MarkOffline("roller-1"); err != nil {
		t.Fatalf("MarkOffline() error = %v", err)
	}
	module, _ := st.GetModule("roller-1")
	if module.Status != "offline" {
		t.Fatalf("status = %q, want offline", module.Status)
	}

	// Unknown modules are ignored, not created.
	if err := svc.MarkOffline("never-seen"); err != nil {
		t.Fatalf("MarkOffline(unknown) error = %v", err)
	}
	if module, _ := st.GetModule("never-seen"); module != nil {
		t.Fatal("MarkOffline created a module record")
	}
}

func TestUpsertConfig(t *testing.T) {
	svc, st := newTestService(t)

	config := map[string]any{"motor": map[string]any{"max_speed": float64(200)}}
	if err := svc.UpsertConfig("roller-1", config); err != nil {
		t.Fatalf("UpsertConfig() error = %v", err)
	}
	module, _ := st.GetModule("roller-1")
	if module == nil {
		t.Fatal("config frame did not create the module")
	}
	motor, _ := module.ConfigPayload["motor"].(map[string]any)
	if motor == nil || motor["max_speed"] != float64(200) {
		t.Fatalf("config payload = %v", module.ConfigPayload)
	}
}

func TestRecordAlarmLifecycle(t *testing.T) {
	svc, st := newTestService(t)

	raise := map[string]any{
		"module": "roller-1",
		"alarm":  map[string]any{"code": "spool_empty", "active": true, "severity": "critical"},
	}
	if err := svc.RecordAlarm(raise, ""); err != nil {
		t.Fatalf("RecordAlarm(raise) error = %v", err)
	}
	module, _ := st.GetModule("roller-1")
	if len(module.Alarms) != 1 {
		t.Fatalf("alarms = %v, want 1 active", module.Alarms)
	}
	if module.Alarms[0]["severity"] != "critical" {
		t.Fatalf("severity = %v, want critical", module.Alarms[0]["severity"])
	}
	if module.Alarms[0]["message"] != "spool_empty" {
		t.Fatalf("message should default to the code, got %v", module.Alarms[0]["message"])
	}

	// Re-raising the same code replaces the entry instead of duplicating it.
	if err := svc.RecordAlarm(raise, ""); err != nil {
		t.Fatalf("RecordAlarm(re-raise) error = %v", err)
	}
	module, _ = st.GetModule("roller-1")
	if len(module.Alarms) != 1 {
		t.Fatalf("re-raise duplicated the alarm: %v", module.Alarms)
	}

	clear := map[string]any{
		"module": "roller-1",
		"alarm":  map[string]any{"code": "spool_empty", "active": false},
	}
	if err := svc.RecordAlarm(clear, ""); err != nil {
		t.Fatalf("RecordAlarm(clear) error = %v", err)
	}
	module, _ = st.GetModule("roller-1")
	if len(module.Alarms) != 0 {
		t.Fatalf("cleared alarm still present: %v", module.Alarms)
	}
}

func TestRecordAlarmWithoutCodeIsDropped(t *testing.T) {
	svc, st := newTestService(t)

	payload := map[string]any{"module": "roller-1", "alarm": map[string]any{"active": true}}
	if err := svc.RecordAlarm(payload, ""); err != nil {
		t.Fatalf("RecordAlarm() error = %v", err)
	}
	if module, _ := st.GetModule("roller-1"); module != nil {
		t.Fatal("codeless alarm should not create a module record")
	}
}

func TestRecordCycle(t *testing.T) {
	svc, st := newTestService(t)

	cycle, err := svc.RecordCycle(map[string]any{
		"module":      "roller-1",
		"cycle_type":  "roller_advance",
		"trigger":     "float_switch",
		"duration_ms": float64(4200),
		"timestamp_s": float64(1700000000),
	})
	if err != nil {
		t.Fatalf("RecordCycle() error = %v", err)
	}
	if cycle.CycleType != "roller_advance" {
		t.Fatalf("cycle type = %q", cycle.CycleType)
	}
	if cycle.DurationMS == nil || *cycle.DurationMS != 4200 {
		t.Fatalf("duration = %v, want 4200", cycle.DurationMS)
	}

	cycles, err := st.ListCyclesSince(cycle.RecordedAt.Add(-time.Second))
	if err != nil || len(cycles) != 1 {
		t.Fatalf("ListCyclesSince() = %v, %v", cycles, err)
	}
}

func TestApplySpoolActivations(t *testing.T) {
	svc, st := newTestService(t)

	_, err := svc.UpsertStatus(map[string]any{
		"module": "roller-1",
		"spool":  map[string]any{"full_edges": float64(100), "used_edges": float64(3)},
	}, "")
	if err != nil {
		t.Fatalf("UpsertStatus() error = %v", err)
	}

	payload := map[string]any{
		"module":            "roller-1",
		"count":             float64(7),
		"percent_remaining": float64(96.5),
	}
	if err := svc.ApplySpoolActivations(payload, ""); err != nil {
		t.Fatalf("ApplySpoolActivations() error = %v", err)
	}

	module, _ := st.GetModule("roller-1")
	spool, _ := module.StatusPayload["spool"].(map[string]any)
	if spool["activations"] != float64(7) {
		t.Fatalf("activations = %v, want 7 (count fallback)", spool["activations"])
	}
	if spool["percent_remaining"] != float64(96.5) {
		t.Fatalf("percent_remaining = %v", spool["percent_remaining"])
	}
	if spool["full_edges"] != float64(100) {
		t.Fatalf("merge dropped existing spool fields: %v", spool)
	}
}

func TestApplyATOActivations(t *testing.T) {
	svc, st := newTestService(t)

	payload := map[string]any{
		"module": "ato-1",
		"ato":    map[string]any{"activations": float64(3), "pump_running": true},
	}
	if err := svc.ApplyATOActivations(payload, ""); err != nil {
		t.Fatalf("ApplyATOActivations() error = %v", err)
	}

	module, _ := st.GetModule("ato-1")
	if module == nil {
		t.Fatal("ato activations did not create the module")
	}
	ato, _ := module.StatusPayload["ato"].(map[string]any)
	if ato["activations"] != float64(3) || ato["pump_running"] != true {
		t.Fatalf("ato fragment = %v", ato)
	}
}

func TestRecordManifestRequiresIdentity(t *testing.T) {
	svc, st := newTestService(t)

	if err := svc.RecordManifest("", map[string]any{"hardware": "esp32"}); err != nil {
		t.Fatalf("RecordManifest(anonymous) error = %v", err)
	}
	if err := svc.RecordManifest("roller-1", map[string]any{"hardware": "esp32"}); err != nil {
		t.Fatalf("RecordManifest() error = %v", err)
	}

	snapshots, err := st.ListSnapshots("roller-1", 0, 0)
	if err != nil || len(snapshots) != 1 {
		t.Fatalf("ListSnapshots() = %v, %v", snapshots, err)
	}
}

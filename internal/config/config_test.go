package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFromMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}

	want := Default()
	if cfg.APIPort != want.APIPort || cfg.MQTTTopicPrefix != want.MQTTTopicPrefix {
		t.Errorf("LoadFrom() = %+v, want defaults %+v", cfg, want)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data, _ := json.Marshal(map[string]any{
		"api_port":  9100,
		"mqtt_host": "broker.local",
		"ws_trace":  true,
	})
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.APIPort != 9100 {
		t.Errorf("APIPort = %d, want 9100", cfg.APIPort)
	}
	if cfg.MQTTHost != "broker.local" {
		t.Errorf("MQTTHost = %q, want broker.local", cfg.MQTTHost)
	}
	if !cfg.WSTrace {
		t.Error("WSTrace = false, want true")
	}
	// Untouched fields keep their defaults.
	if cfg.APIHost != Default().APIHost {
		t.Errorf("APIHost = %q, want default %q", cfg.APIHost, Default().APIHost)
	}
}

func TestLoadFromBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFrom(path); err == nil {
		t.Error("LoadFrom() error = nil, want parse error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PICKLEREEF_API_PORT", "9200")
	t.Setenv("PICKLEREEF_MQTT_HOST", "env-broker")
	t.Setenv("PICKLEREEF_WS_TRACE", "yes")
	t.Setenv("PICKLEREEF_TELEMETRY_RETENTION_DAYS", "7")

	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.APIPort != 9200 {
		t.Errorf("APIPort = %d, want 9200", cfg.APIPort)
	}
	if cfg.MQTTHost != "env-broker" {
		t.Errorf("MQTTHost = %q, want env-broker", cfg.MQTTHost)
	}
	if !cfg.WSTrace {
		t.Error("WSTrace = false, want true")
	}
	if cfg.TelemetryRetentionDays != 7 {
		t.Errorf("TelemetryRetentionDays = %d, want 7", cfg.TelemetryRetentionDays)
	}
}

func TestEnvOverridesIgnoreBadInt(t *testing.T) {
	t.Setenv("PICKLEREEF_API_PORT", "not-a-port")

	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.APIPort != Default().APIPort {
		t.Errorf("APIPort = %d, want default %d", cfg.APIPort, Default().APIPort)
	}
}

func TestAddrHelpers(t *testing.T) {
	cfg := Config{APIHost: "127.0.0.1", APIPort: 8000, MQTTHost: "mqtt", MQTTPort: 1883}
	if got := cfg.APIAddr(); got != "127.0.0.1:8000" {
		t.Errorf("APIAddr() = %q", got)
	}
	if got := cfg.MQTTBrokerURL(); got != "tcp://mqtt:1883" {
		t.Errorf("MQTTBrokerURL() = %q", got)
	}
}

// Package config loads runtime configuration for the kiosk and the backend
// daemon. Values come from an optional JSON file under the user config
// directory, overridden by PICKLEREEF_* environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config holds every runtime setting.
type Config struct {
	APIHost string `json:"api_host"`
	APIPort int    `json:"api_port"`

	DatabasePath           string `json:"database_path"`
	TelemetryRetentionDays int    `json:"telemetry_retention_days"`

	MQTTHost        string `json:"mqtt_host"`
	MQTTPort        int    `json:"mqtt_port"`
	MQTTTopicPrefix string `json:"mqtt_topic_prefix"`

	// WSTrace enables recording of every frame crossing the module bridge
	// into the debug trace buffer.
	WSTrace bool `json:"ws_trace"`
}

// Default returns the configuration used when no file or env overrides
// are present.
func Default() Config {
	return Config{
		APIHost:                "0.0.0.0",
		APIPort:                8000,
		DatabasePath:           defaultDatabasePath(),
		TelemetryRetentionDays: 30,
		MQTTHost:               "mqtt",
		MQTTPort:               1883,
		MQTTTopicPrefix:        "pickle-reef",
	}
}

// APIAddr returns the host:port the HTTP server binds to.
func (c Config) APIAddr() string {
	return fmt.Sprintf("%s:%d", c.APIHost, c.APIPort)
}

// MQTTBrokerURL returns the broker URL for the MQTT bridge.
func (c Config) MQTTBrokerURL() string {
	return fmt.Sprintf("tcp://%s:%d", c.MQTTHost, c.MQTTPort)
}

// Path returns the location of the JSON config file.
func Path() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		home, homeErr := os.UserHomeDir()
		if homeErr != nil {
			return "", homeErr
		}
		configDir = home
	}

	appDir := filepath.Join(configDir, "picklereef")
	if err := os.MkdirAll(appDir, 0755); err != nil {
		return "", err
	}
	return filepath.Join(appDir, "config.json"), nil
}

// Load reads the config file (if any) and applies environment overrides.
func Load() (Config, error) {
	path, err := Path()
	if err != nil {
		// No usable config dir: fall back to defaults plus env.
		cfg := Default()
		applyEnv(&cfg)
		return cfg, nil
	}
	return LoadFrom(path)
}

// LoadFrom reads the config file at path, tolerating a missing file, and
// applies environment overrides on top.
func LoadFrom(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Defaults apply.
	case err != nil:
		return cfg, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

// Save writes the configuration to the config file.
func Save(cfg Config) error {
	path, err := Path()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PICKLEREEF_API_HOST"); v != "" {
		cfg.APIHost = v
	}
	if v, ok := envInt("PICKLEREEF_API_PORT"); ok {
		cfg.APIPort = v
	}
	if v := os.Getenv("PICKLEREEF_DB_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v, ok := envInt("PICKLEREEF_TELEMETRY_RETENTION_DAYS"); ok {
		cfg.TelemetryRetentionDays = v
	}
	if v := os.Getenv("PICKLEREEF_MQTT_HOST"); v != "" {
		cfg.MQTTHost = v
	}
	if v, ok := envInt("PICKLEREEF_MQTT_PORT"); ok {
		cfg.MQTTPort = v
	}
	if v := os.Getenv("PICKLEREEF_MQTT_TOPIC_PREFIX"); v != "" {
		cfg.MQTTTopicPrefix = v
	}
	if v := os.Getenv("PICKLEREEF_WS_TRACE"); v != "" {
		cfg.WSTrace = isTruthy(v)
	}
}

func envInt(name string) (int, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, false
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return value, true
}

func isTruthy(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func defaultDatabasePath() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "pickle_reef.db"
	}
	return filepath.Join(configDir, "picklereef", "pickle_reef.db")
}

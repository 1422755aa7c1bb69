package protocol

// DefaultModuleConfig is the configuration handed to modules that ask for
// server defaults before they have a stored config of their own.
func DefaultModuleConfig(moduleID string) map[string]any {
	return map[string]any{
		"module": moduleID,
		"type":   string(FrameConfig),
		"motor": map[string]any{
			"max_speed":    255,
			"run_time_ms":  5000,
			"ramp_up_ms":   1000,
			"ramp_down_ms": 1000,
		},
		"ato": map[string]any{
			"mode":          0,
			"timeout_ms":    300_000,
			"pump_running":  false,
			"pump_speed":    255,
			"timeout_alarm": false,
		},
		"system": map[string]any{
			"chirp_enabled":    true,
			"pump_timeout_ms":  120_000,
			"startup_delay_ms": 5000,
		},
	}
}

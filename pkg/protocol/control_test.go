package protocol

import "testing"

func intPtr(v int) *int           { return &v }
func boolPtr(v bool) *bool        { return &v }
func floatPtr(v float64) *float64 { return &v }
func modePtr(v ATOMode) *ATOMode  { return &v }

func TestControlRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		request ControlRequest
		wantErr bool
	}{
		{
			name:    "empty request",
			request: ControlRequest{},
			wantErr: false,
		},
		{
			name:    "valid ato mode",
			request: ControlRequest{ATOMode: modePtr(ATOModePaused)},
			wantErr: false,
		},
		{
			name:    "unknown ato mode",
			request: ControlRequest{ATOMode: modePtr(ATOMode("turbo"))},
			wantErr: true,
		},
		{
			name:    "motor runtime at lower bound",
			request: ControlRequest{MotorRunTimeMS: intPtr(MotorRunTimeMinMS)},
			wantErr: false,
		},
		{
			name:    "motor runtime below bound",
			request: ControlRequest{MotorRunTimeMS: intPtr(999)},
			wantErr: true,
		},
		{
			name:    "roller speed above bound",
			request: ControlRequest{RollerSpeed: intPtr(256)},
			wantErr: true,
		},
		{
			name:    "pump speed zero allowed",
			request: ControlRequest{PumpSpeed: intPtr(0)},
			wantErr: false,
		},
		{
			name:    "core diameter out of range",
			request: ControlRequest{SpoolCoreDiameterMM: floatPtr(5)},
			wantErr: true,
		},
		{
			name:    "calibrate finish zero reuses stored length",
			request: ControlRequest{SpoolCalibrateFinish: intPtr(0)},
			wantErr: false,
		},
		{
			name:    "calibrate finish below minimum roll",
			request: ControlRequest{SpoolCalibrateFinish: intPtr(500)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.request.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestControlRequestCommands(t *testing.T) {
	request := ControlRequest{
		ATOMode:        modePtr(ATOModeManual),
		MotorRunTimeMS: intPtr(5000),
		ResetSpool:     boolPtr(true),
	}

	commands := request.Commands()
	if len(commands) != 3 {
		t.Fatalf("len(commands) = %d, want 3", len(commands))
	}

	want := []Command{
		{Type: FrameSetParam, Param: "ato_mode", Value: 1},
		{Type: FrameSetParam, Param: "motor_runtime", Value: 5000},
		{Type: FrameSetParam, Param: "spool_reset", Value: 1},
	}
	for i, cmd := range commands {
		if cmd != want[i] {
			t.Errorf("commands[%d] = %+v, want %+v", i, cmd, want[i])
		}
	}
}

func TestControlRequestCommandsFalseTogglesOmitted(t *testing.T) {
	request := ControlRequest{
		ResetSpool:           boolPtr(false),
		SpoolCalibrateStart:  boolPtr(false),
		SpoolCalibrateCancel: boolPtr(false),
	}
	if commands := request.Commands(); len(commands) != 0 {
		t.Errorf("len(commands) = %d, want 0 for false toggles", len(commands))
	}
}

func TestControlRequestCommandsEmpty(t *testing.T) {
	request := ControlRequest{}
	if commands := request.Commands(); len(commands) != 0 {
		t.Errorf("len(commands) = %d, want 0", len(commands))
	}
}

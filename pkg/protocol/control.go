package protocol

import "fmt"

// Spool geometry bounds shared by control validation and the frontend.
const (
	SpoolLengthMinMM       = 10_000
	SpoolLengthMaxMM       = 200_000
	MediaThicknessMinUM    = 40
	MediaThicknessMaxUM    = 400
	SpoolCoreDiameterMinMM = 12
	SpoolCoreDiameterMaxMM = 80
)

// Motor and pump setpoint bounds.
const (
	MotorRunTimeMinMS = 1_000
	MotorRunTimeMaxMS = 30_000
	RollerSpeedMin    = 50
	RollerSpeedMax    = 255
	PumpSpeedMin      = 0
	PumpSpeedMax      = 255
	PumpTimeoutMinMS  = 60_000
	PumpTimeoutMaxMS  = 600_000
)

// ATOMode is the auto top-off operating mode exposed to the frontend.
type ATOMode string

const (
	ATOModeAuto   ATOMode = "auto"
	ATOModeManual ATOMode = "manual"
	ATOModePaused ATOMode = "paused"
)

// atoModeValues maps the frontend mode names onto the firmware enum.
var atoModeValues = map[ATOMode]int{
	ATOModeAuto:   0,
	ATOModeManual: 1,
	ATOModePaused: 2,
}

// Command is a single set_param frame sent to a module.
type Command struct {
	Type  FrameType `json:"type"`
	Param string    `json:"param"`
	Value float64   `json:"value"`
}

// ControlRequest carries the optional control values a caller wants applied
// to a module. Nil fields are left untouched on the module.
type ControlRequest struct {
	ATOMode              *ATOMode `json:"ato_mode,omitempty"`
	MotorRunTimeMS       *int     `json:"motor_run_time_ms,omitempty"`
	RollerSpeed          *int     `json:"roller_speed,omitempty"`
	PumpSpeed            *int     `json:"pump_speed,omitempty"`
	PumpTimeoutMS        *int     `json:"pump_timeout_ms,omitempty"`
	ResetSpool           *bool    `json:"reset_spool,omitempty"`
	SpoolLengthMM        *int     `json:"spool_length_mm,omitempty"`
	SpoolMediaThickUM    *int     `json:"spool_media_thickness_um,omitempty"`
	SpoolCoreDiameterMM  *float64 `json:"spool_core_diameter_mm,omitempty"`
	SpoolCalibrateStart  *bool    `json:"spool_calibrate_start,omitempty"`
	SpoolCalibrateFinish *int     `json:"spool_calibrate_finish,omitempty"`
	SpoolCalibrateCancel *bool    `json:"spool_calibrate_cancel,omitempty"`
}

// Validate checks every supplied field against its firmware bounds.
func (r *ControlRequest) Validate() error {
	if r.ATOMode != nil {
		if _, ok := atoModeValues[*r.ATOMode]; !ok {
			return fmt.Errorf("ato_mode must be one of auto, manual, paused")
		}
	}
	if err := checkRange("motor_run_time_ms", r.MotorRunTimeMS, MotorRunTimeMinMS, MotorRunTimeMaxMS); err != nil {
		return err
	}
	if err := checkRange("roller_speed", r.RollerSpeed, RollerSpeedMin, RollerSpeedMax); err != nil {
		return err
	}
	if err := checkRange("pump_speed", r.PumpSpeed, PumpSpeedMin, PumpSpeedMax); err != nil {
		return err
	}
	if err := checkRange("pump_timeout_ms", r.PumpTimeoutMS, PumpTimeoutMinMS, PumpTimeoutMaxMS); err != nil {
		return err
	}
	if err := checkRange("spool_length_mm", r.SpoolLengthMM, SpoolLengthMinMM, SpoolLengthMaxMM); err != nil {
		return err
	}
	if err := checkRange("spool_media_thickness_um", r.SpoolMediaThickUM, MediaThicknessMinUM, MediaThicknessMaxUM); err != nil {
		return err
	}
	if r.SpoolCoreDiameterMM != nil {
		if *r.SpoolCoreDiameterMM < SpoolCoreDiameterMinMM || *r.SpoolCoreDiameterMM > SpoolCoreDiameterMaxMM {
			return fmt.Errorf("spool_core_diameter_mm must be between %d and %d", SpoolCoreDiameterMinMM, SpoolCoreDiameterMaxMM)
		}
	}
	if r.SpoolCalibrateFinish != nil {
		// Zero means "reuse the stored roll length"; anything else must be a
		// plausible roll.
		finish := *r.SpoolCalibrateFinish
		if finish != 0 && (finish < SpoolLengthMinMM || finish > SpoolLengthMaxMM) {
			return fmt.Errorf("spool_calibrate_finish must be 0 or between %d and %d", SpoolLengthMinMM, SpoolLengthMaxMM)
		}
	}
	return nil
}

// Commands translates the request into the set_param frames the firmware
// understands. An empty slice means the caller supplied no control values.
func (r *ControlRequest) Commands() []Command {
	var commands []Command
	add := func(param string, value float64) {
		commands = append(commands, Command{Type: FrameSetParam, Param: param, Value: value})
	}

	if r.ATOMode != nil {
		add("ato_mode", float64(atoModeValues[*r.ATOMode]))
	}
	if r.MotorRunTimeMS != nil {
		add("motor_runtime", float64(*r.MotorRunTimeMS))
	}
	if r.RollerSpeed != nil {
		add("motor_speed", float64(*r.RollerSpeed))
	}
	if r.PumpSpeed != nil {
		add("pump_speed", float64(*r.PumpSpeed))
	}
	if r.PumpTimeoutMS != nil {
		add("pump_timeout_ms", float64(*r.PumpTimeoutMS))
	}
	if r.ResetSpool != nil && *r.ResetSpool {
		add("spool_reset", 1)
	}
	if r.SpoolLengthMM != nil {
		add("spool_length_mm", float64(*r.SpoolLengthMM))
	}
	if r.SpoolMediaThickUM != nil {
		add("spool_media_thickness_um", float64(*r.SpoolMediaThickUM))
	}
	if r.SpoolCoreDiameterMM != nil {
		add("spool_core_diameter_mm", *r.SpoolCoreDiameterMM)
	}
	if r.SpoolCalibrateStart != nil && *r.SpoolCalibrateStart {
		add("spool_calibrate_start", 1)
	}
	if r.SpoolCalibrateFinish != nil {
		add("spool_calibrate_finish", float64(*r.SpoolCalibrateFinish))
	}
	if r.SpoolCalibrateCancel != nil && *r.SpoolCalibrateCancel {
		add("spool_calibrate_cancel", 1)
	}
	return commands
}

func checkRange(name string, value *int, min, max int) error {
	if value == nil {
		return nil
	}
	if *value < min || *value > max {
		return fmt.Errorf("%s must be between %d and %d", name, min, max)
	}
	return nil
}

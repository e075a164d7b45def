package device

// DoorCommand is the argument payload for `pi.virtual.door`'s
// transition_door_state, also used for the `cover` alias.
type DoorCommand struct {
	OnOff             int      `json:"on_off"`
	InterruptionLevel *float64 `json:"interruption_level,omitempty"`
}

// ShadeCommand is the argument payload for `pi.virtual.shade`'s
// transition_shade_state.
type ShadeCommand struct {
	OnOff             int      `json:"on_off"`
	InterruptionLevel *float64 `json:"interruption_level,omitempty"`
}

// FanCommand is the argument payload for `pi.virtual.fan`'s transition_fan_state.
// Exactly one of OnOff/Percentage/PresetMode/Oscillating/Direction is expected to be
// set per call, mirroring the Python service's elif chain.
type FanCommand struct {
	OnOff       *int    `json:"on_off,omitempty"`
	Percentage  *int    `json:"percentage,omitempty"`
	PresetMode  *string `json:"preset_mode,omitempty"`
	Oscillating *bool   `json:"oscillating,omitempty"`
	Direction   *string `json:"direction,omitempty"`
}

// LightCommand is the argument payload for `pi.virtual.light`'s
// transition_light_state.
type LightCommand struct {
	OnOff      int       `json:"on_off"`
	Brightness *int      `json:"brightness,omitempty"`
	HSColor    []float64 `json:"hs_color,omitempty"`
	ColorTemp  *int      `json:"color_temp,omitempty"`
	Effect     *string   `json:"effect,omitempty"`
	Transition *float64  `json:"transition,omitempty"`
}

// SwitchCommand is the argument payload for `pi.virtual.switch`'s
// transition_switch_state.
type SwitchCommand struct {
	OnOff int `json:"on_off"`
}

// LockCommand is the argument payload for `pi.virtual.lock`'s transition_lock_state.
type LockCommand struct {
	OnOff *int  `json:"on_off,omitempty"`
	Open  *bool `json:"open,omitempty"`
}

// ThermostatCommand is the argument payload for `pi.virtual.thermostat`'s
// transition_thermostat_state.
type ThermostatCommand struct {
	Temperature        *float64 `json:"temperature,omitempty"`
	HVACMode           *string  `json:"hvac_mode,omitempty"`
	PresetMode         *string  `json:"preset_mode,omitempty"`
	Reset              *float64 `json:"reset,omitempty"`
	InterruptionLevel  *float64 `json:"interruption_level,omitempty"`
	InterruptionTime   *float64 `json:"interruption_time,omitempty"`
	InterruptionMoment *float64 `json:"interruption_moment,omitempty"`
}

package config

func ptr(f float64) *float64 { return &f }

func percent(def float64) ParamConfig {
	return ParamConfig{Type: "float", Default: def, Min: ptr(0), Max: ptr(100)}
}

func volts(def float64) ParamConfig {
	return ParamConfig{Type: "float", Default: def, Min: ptr(-10), Max: ptr(10)}
}

// DefaultParameters is the parameter table of a stock two-sided light-sheet
// setup. Entries given in the config file replace these by name.
func DefaultParameters() map[string]ParamConfig {
	return map[string]ParamConfig{
		"filter": {
			Type:    "enum",
			Default: "515LP",
			Options: []string{"405-488-561-640-Quadrupleblock", "464 482-35", "515LP", "561LP", "594LP", "Empty"},
		},
		"zoom": {
			Type:    "enum",
			Default: "1x",
			Options: []string{"0.63x", "0.8x", "1x", "1.25x", "1.6x", "2x", "2.5x", "3.2x", "4x", "5x", "6.3x"},
		},
		"laser": {
			Type:    "enum",
			Default: "488 nm",
			Options: []string{"405 nm", "488 nm", "561 nm", "647 nm"},
		},
		"shutterconfig": {
			Type:    "enum",
			Default: "Left",
			Options: []string{"Left", "Right", "Both"},
		},
		"intensity": {Type: "int", Default: 10, Min: ptr(0), Max: ptr(100)},

		// seconds
		"sweeptime":            {Type: "float", Default: 0.2, Min: ptr(0.01), Max: ptr(10)},
		"camera_exposure_time": {Type: "float", Default: 0.02, Min: ptr(0.0001), Max: ptr(10)},
		"camera_line_interval": {Type: "float", Default: 0.000075, Min: ptr(0.000001), Max: ptr(0.01)},

		"laser_l_delay_%":         percent(10),
		"laser_r_delay_%":         percent(10),
		"laser_l_pulse_%":         percent(87),
		"laser_r_pulse_%":         percent(87),
		"laser_l_max_amplitude_%": percent(100),
		"laser_r_max_amplitude_%": percent(100),

		"galvo_l_frequency": {Type: "float", Default: 99.9, Min: ptr(0), Max: ptr(1000)},
		"galvo_r_frequency": {Type: "float", Default: 99.9, Min: ptr(0), Max: ptr(1000)},
		"galvo_l_amplitude": volts(6),
		"galvo_r_amplitude": volts(6),
		"galvo_l_phase":     {Type: "float", Default: 1.57, Min: ptr(-6.3), Max: ptr(6.3)},
		"galvo_r_phase":     {Type: "float", Default: 1.57, Min: ptr(-6.3), Max: ptr(6.3)},
		"galvo_l_offset":    volts(0),
		"galvo_r_offset":    volts(0),

		"etl_l_offset":         volts(2.36),
		"etl_r_offset":         volts(2.36),
		"etl_l_amplitude":      volts(0.7),
		"etl_r_amplitude":      volts(0.7),
		"etl_l_delay_%":        percent(7.5),
		"etl_r_delay_%":        percent(7.5),
		"etl_l_ramp_rising_%":  percent(85),
		"etl_r_ramp_rising_%":  percent(85),
		"etl_l_ramp_falling_%": percent(2.5),
		"etl_r_ramp_falling_%": percent(2.5),
	}
}

func mergeParameters(fromFile map[string]ParamConfig) map[string]ParamConfig {
	params := DefaultParameters()
	for name, p := range fromFile {
		params[name] = p
	}
	return params
}

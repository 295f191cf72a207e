package models

// Layer identifies the audio layer a modulation step drives.
type Layer string

const (
	LayerBinaural   Layer = "binaural"
	LayerIsochronic Layer = "isochronic"
	LayerAmbient    Layer = "ambient"
)

// Bounds for schedule fields. Values outside these ranges are rejected, never clamped.
const (
	MinTargetBPM       = 40
	MaxTargetBPM       = 200
	MinBinauralFreq    = 0.5
	MaxBinauralFreq    = 40.0
	MinRampDurationSec = 0.0
	MaxRampDurationSec = 300.0
	MinTotalDuration   = 60
	MaxTotalDuration   = 7200
	MinSteps           = 1
	MaxSteps           = 20
)

// Valid reports whether l is one of the known layers.
func (l Layer) Valid() bool {
	switch l {
	case LayerBinaural, LayerIsochronic, LayerAmbient:
		return true
	default:
		return false
	}
}

// ModulationStep is one instruction point in a schedule
type ModulationStep struct {
	TimestampSec    float64 `json:"timestamp_sec" yaml:"timestamp_sec"`
	TargetBPM       int     `json:"target_bpm" yaml:"target_bpm"`
	BinauralFreq    float64 `json:"binaural_freq" yaml:"binaural_freq"`
	RampDurationSec float64 `json:"ramp_duration_sec" yaml:"ramp_duration_sec"`
	Layer           Layer   `json:"layer" yaml:"layer"`
}

// EndSec is the time at which the step's ramp completes.
func (s ModulationStep) EndSec() float64 {
	return s.TimestampSec + s.RampDurationSec
}

// ModulationSchedule is the unit produced by one generation request.
// Once built it is treated as immutable; use Clone before handing out shared values.
type ModulationSchedule struct {
	Intent           string           `json:"intent" yaml:"intent"`
	TotalDurationSec int              `json:"total_duration_sec" yaml:"total_duration_sec"`
	Steps            []ModulationStep `json:"steps" yaml:"steps"`
}

// Clone returns a deep copy of the schedule
func (s ModulationSchedule) Clone() ModulationSchedule {
	steps := make([]ModulationStep, len(s.Steps))
	copy(steps, s.Steps)
	s.Steps = steps
	return s
}

package schedule

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"github.com/neurotune/neurotune-api/internal/models"
)

// DefaultAlignmentTolerance is the fraction of total_duration_sec the final step's end
// may deviate from the total when strict timing is enabled.
const DefaultAlignmentTolerance = 0.10

// Validator maps sanitized model output into a ModulationSchedule.
// It is stateless after construction and safe for concurrent use.
type Validator struct {
	strictTiming bool
	tolerance    float64
}

// ValidatorOption configures a Validator
type ValidatorOption func(*Validator)

// WithStrictTiming enables hard checks on step ordering and end alignment.
// tolerance is a fraction of total_duration_sec; non-positive values use the default.
func WithStrictTiming(tolerance float64) ValidatorOption {
	return func(v *Validator) {
		v.strictTiming = true
		if tolerance > 0 {
			v.tolerance = tolerance
		}
	}
}

// NewValidator creates a validator. Without options only field bounds and shape are enforced.
func NewValidator(opts ...ValidatorOption) *Validator {
	v := &Validator{tolerance: DefaultAlignmentTolerance}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// StrictTiming reports whether ordering and alignment are enforced
func (v *Validator) StrictTiming() bool {
	return v.strictTiming
}

// Validate parses jsonText and returns the schedule, or a *ValidationError matching
// ErrMalformedPayload or ErrConstraintViolation.
func (v *Validator) Validate(jsonText string) (*models.ModulationSchedule, error) {
	data := []byte(jsonText)
	if !json.Valid(data) {
		var probe any
		return nil, malformed(json.Unmarshal(data, &probe))
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil || obj == nil {
		return nil, violation("", "payload must be a JSON object")
	}

	schedule, err := decodeSchedule(obj)
	if err != nil {
		return nil, err
	}

	if err := v.Check(schedule); err != nil {
		return nil, err
	}
	return schedule, nil
}

// Check enforces every bound on an already typed schedule
func (v *Validator) Check(s *models.ModulationSchedule) error {
	if s == nil {
		return violation("", "schedule is nil")
	}
	if s.TotalDurationSec < models.MinTotalDuration || s.TotalDurationSec > models.MaxTotalDuration {
		return violation("total_duration_sec", "%d outside [%d, %d]",
			s.TotalDurationSec, models.MinTotalDuration, models.MaxTotalDuration)
	}
	if len(s.Steps) < models.MinSteps || len(s.Steps) > models.MaxSteps {
		return violation("steps", "length %d outside [%d, %d]", len(s.Steps), models.MinSteps, models.MaxSteps)
	}

	for i, step := range s.Steps {
		if err := checkStep(i, step); err != nil {
			return err
		}
	}

	if v.strictTiming {
		return v.checkTiming(s)
	}
	return nil
}

func checkStep(i int, step models.ModulationStep) error {
	field := func(name string) string { return fmt.Sprintf("steps[%d].%s", i, name) }

	if step.TimestampSec < 0 || math.IsNaN(step.TimestampSec) || math.IsInf(step.TimestampSec, 0) {
		return violation(field("timestamp_sec"), "%v must be a finite non-negative number", step.TimestampSec)
	}
	if step.TargetBPM < models.MinTargetBPM || step.TargetBPM > models.MaxTargetBPM {
		return violation(field("target_bpm"), "%d outside [%d, %d]", step.TargetBPM, models.MinTargetBPM, models.MaxTargetBPM)
	}
	if !inRange(step.BinauralFreq, models.MinBinauralFreq, models.MaxBinauralFreq) {
		return violation(field("binaural_freq"), "%v outside [%v, %v]",
			step.BinauralFreq, models.MinBinauralFreq, models.MaxBinauralFreq)
	}
	if !inRange(step.RampDurationSec, models.MinRampDurationSec, models.MaxRampDurationSec) {
		return violation(field("ramp_duration_sec"), "%v outside [%v, %v]",
			step.RampDurationSec, models.MinRampDurationSec, models.MaxRampDurationSec)
	}
	if !step.Layer.Valid() {
		return violation(field("layer"), "unknown layer %q", step.Layer)
	}
	return nil
}

func (v *Validator) checkTiming(s *models.ModulationSchedule) error {
	total := float64(s.TotalDurationSec)
	slack := total * v.tolerance

	if first := s.Steps[0].TimestampSec; first > slack {
		return violation("steps[0].timestamp_sec", "first step starts at %v, expected near 0", first)
	}
	for i := 1; i < len(s.Steps); i++ {
		if s.Steps[i].TimestampSec <= s.Steps[i-1].TimestampSec {
			return violation(fmt.Sprintf("steps[%d].timestamp_sec", i), "%v does not follow %v",
				s.Steps[i].TimestampSec, s.Steps[i-1].TimestampSec)
		}
	}

	end := s.Steps[len(s.Steps)-1].EndSec()
	if math.Abs(end-total) > slack {
		return violation("steps", "final step ends at %v, expected within %v of %d", end, slack, s.TotalDurationSec)
	}
	return nil
}

func inRange(x, lo, hi float64) bool {
	return !math.IsNaN(x) && x >= lo && x <= hi
}

func decodeSchedule(obj map[string]json.RawMessage) (*models.ModulationSchedule, error) {
	var (
		s   models.ModulationSchedule
		err error
	)

	if s.Intent, err = stringField(obj, "", "intent"); err != nil {
		return nil, err
	}
	if s.TotalDurationSec, err = intField(obj, "", "total_duration_sec"); err != nil {
		return nil, err
	}

	rawSteps, err := required(obj, "", "steps")
	if err != nil {
		return nil, err
	}
	var items []json.RawMessage
	if err := json.Unmarshal(rawSteps, &items); err != nil {
		return nil, violation("steps", "must be an array")
	}
	if len(items) < models.MinSteps || len(items) > models.MaxSteps {
		return nil, violation("steps", "length %d outside [%d, %d]", len(items), models.MinSteps, models.MaxSteps)
	}

	s.Steps = make([]models.ModulationStep, 0, len(items))
	for i, item := range items {
		step, err := decodeStep(i, item)
		if err != nil {
			return nil, err
		}
		s.Steps = append(s.Steps, step)
	}
	return &s, nil
}

func decodeStep(i int, raw json.RawMessage) (models.ModulationStep, error) {
	prefix := fmt.Sprintf("steps[%d]", i)

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return models.ModulationStep{}, violation(prefix, "must be an object")
	}

	var (
		step models.ModulationStep
		err  error
	)
	if step.TimestampSec, err = numberField(obj, prefix, "timestamp_sec"); err != nil {
		return step, err
	}
	if step.TargetBPM, err = intField(obj, prefix, "target_bpm"); err != nil {
		return step, err
	}
	if step.BinauralFreq, err = numberField(obj, prefix, "binaural_freq"); err != nil {
		return step, err
	}
	if step.RampDurationSec, err = numberField(obj, prefix, "ramp_duration_sec"); err != nil {
		return step, err
	}

	step.Layer = models.LayerBinaural
	if _, present := obj["layer"]; present {
		layer, err := stringField(obj, prefix, "layer")
		if err != nil {
			return step, err
		}
		step.Layer = models.Layer(layer)
	}
	return step, nil
}

var jsonNull = []byte("null")

func fieldPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

func required(obj map[string]json.RawMessage, prefix, name string) (json.RawMessage, error) {
	raw, ok := obj[name]
	if !ok {
		return nil, violation(fieldPath(prefix, name), "field required")
	}
	if bytes.Equal(bytes.TrimSpace(raw), jsonNull) {
		return nil, violation(fieldPath(prefix, name), "must not be null")
	}
	return raw, nil
}

func stringField(obj map[string]json.RawMessage, prefix, name string) (string, error) {
	raw, err := required(obj, prefix, name)
	if err != nil {
		return "", err
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", violation(fieldPath(prefix, name), "must be a string")
	}
	return s, nil
}

func numberField(obj map[string]json.RawMessage, prefix, name string) (float64, error) {
	raw, err := required(obj, prefix, name)
	if err != nil {
		return 0, err
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, violation(fieldPath(prefix, name), "must be a number")
	}
	return f, nil
}

func intField(obj map[string]json.RawMessage, prefix, name string) (int, error) {
	f, err := numberField(obj, prefix, name)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, violation(fieldPath(prefix, name), "%v must be an integer", f)
	}
	return int(f), nil
}

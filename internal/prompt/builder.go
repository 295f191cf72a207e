package prompt

import (
	"encoding/json"
	"strings"
	"text/template"

	"github.com/neurotune/neurotune-api/internal/models"
)

const secondsPerMinute = 60

// Builder renders schedule generation prompts. It is safe for concurrent use.
type Builder struct {
	loader *Loader
	tmpl   *template.Template
}

// NewPromptBuilder creates a new prompt builder from the embedded template
func NewPromptBuilder() *Builder {
	loader := NewPromptLoader()
	return &Builder{
		loader: loader,
		tmpl:   template.Must(template.New("schedule").Parse(loader.GetScheduleTemplate())),
	}
}

type promptData struct {
	Intent          string
	IntentJSON      string
	DurationMinutes int
	DurationSeconds int
	Heuristics      string
	MinSteps        int
	MaxSteps        int
	MinBPM          int
	MaxBPM          int
	MinFreq         float64
	MaxFreq         float64
	MinRamp         float64
	MaxRamp         float64
}

// Build renders the instruction for one intent and duration.
// Output depends only on the arguments.
func (b *Builder) Build(intent string, durationMinutes int) string {
	intentJSON, _ := json.Marshal(intent)

	data := promptData{
		Intent:          intent,
		IntentJSON:      string(intentJSON),
		DurationMinutes: durationMinutes,
		DurationSeconds: durationMinutes * secondsPerMinute,
		Heuristics:      b.loader.GetBandHeuristics(),
		MinSteps:        3,
		MaxSteps:        6,
		MinBPM:          models.MinTargetBPM,
		MaxBPM:          models.MaxTargetBPM,
		MinFreq:         models.MinBinauralFreq,
		MaxFreq:         models.MaxBinauralFreq,
		MinRamp:         models.MinRampDurationSec,
		MaxRamp:         models.MaxRampDurationSec,
	}

	var sb strings.Builder
	// promptData has no methods or nested templates, so execution cannot fail.
	_ = b.tmpl.Execute(&sb, data)
	return sb.String()
}

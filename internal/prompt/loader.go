package prompt

import (
	"strings"

	"github.com/neurotune/neurotune-api/pkg/embedded"
)

// Loader exposes the embedded prompt texts
type Loader struct{}

func NewPromptLoader() *Loader {
	return &Loader{}
}

// GetScheduleTemplate loads the schedule prompt template
func (l *Loader) GetScheduleTemplate() string {
	return strings.TrimSpace(string(embedded.SchedulePromptTmpl))
}

// GetBandHeuristics loads the frequency band guidance shown to the model
func (l *Loader) GetBandHeuristics() string {
	return strings.TrimSpace(string(embedded.BandHeuristicsTxt))
}

package llm

import "github.com/neurotune/neurotune-api/internal/models"

const scheduleSchemaName = "modulation_schedule"

// GetScheduleOutputSchema returns the JSON schema for a modulation schedule.
// Bounds mirror the validator so constrained decoding and validation agree.
func GetScheduleOutputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"intent":             map[string]any{"type": "string"},
			"total_duration_sec": map[string]any{"type": "integer", "minimum": models.MinTotalDuration, "maximum": models.MaxTotalDuration},
			"steps": map[string]any{
				"type":     "array",
				"minItems": models.MinSteps,
				"maxItems": models.MaxSteps,
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"timestamp_sec":     map[string]any{"type": "number", "minimum": 0},
						"target_bpm":        map[string]any{"type": "integer", "minimum": models.MinTargetBPM, "maximum": models.MaxTargetBPM},
						"binaural_freq":     map[string]any{"type": "number", "minimum": models.MinBinauralFreq, "maximum": models.MaxBinauralFreq},
						"ramp_duration_sec": map[string]any{"type": "number", "minimum": models.MinRampDurationSec, "maximum": models.MaxRampDurationSec},
						"layer": map[string]any{
							"type": "string",
							"enum": []string{string(models.LayerBinaural), string(models.LayerIsochronic), string(models.LayerAmbient)},
						},
					},
					"required":             []string{"timestamp_sec", "target_bpm", "binaural_freq", "ramp_duration_sec", "layer"},
					"additionalProperties": false,
				},
			},
		},
		"required":             []string{"intent", "total_duration_sec", "steps"},
		"additionalProperties": false,
	}
}

// ScheduleOutputSchema wraps the schedule schema for a CompletionRequest
func ScheduleOutputSchema() *OutputSchema {
	return &OutputSchema{
		Name:        scheduleSchemaName,
		Description: "Time-ordered audio modulation schedule for one session",
		Schema:      GetScheduleOutputSchema(),
	}
}

package embedded

import (
	_ "embed"
)

// Embed prompt templates
//
//go:embed data/prompts/schedule_prompt.tmpl
var SchedulePromptTmpl []byte

//go:embed data/prompts/band_heuristics.txt
var BandHeuristicsTxt []byte

package schedule

import (
	"errors"
	"fmt"
	"strings"

	"github.com/neurotune/neurotune-api/internal/models"
)

// Catalog intent keys
const (
	IntentFocus = "focus"
	IntentRelax = "relax"
	IntentSleep = "sleep"
)

const fallbackDurationSec = 1500

// CatalogEntry is one hand-authored schedule and the key that selects it.
type CatalogEntry struct {
	Key      string
	Schedule models.ModulationSchedule
}

// Catalog holds pre-validated fallback schedules. It is immutable after construction
// and safe for concurrent use.
type Catalog struct {
	entries    []CatalogEntry
	index      map[string]int
	defaultKey string
}

// NewCatalog builds a catalog from entries matched in the given order.
// Every schedule must pass strict validation and defaultKey must name an entry.
func NewCatalog(entries []CatalogEntry, defaultKey string) (*Catalog, error) {
	if len(entries) == 0 {
		return nil, errors.New("fallback catalog is empty")
	}

	strict := NewValidator(WithStrictTiming(DefaultAlignmentTolerance))
	c := &Catalog{
		entries: make([]CatalogEntry, 0, len(entries)),
		index:   make(map[string]int, len(entries)),
	}

	for _, e := range entries {
		key := strings.ToLower(e.Key)
		if key == "" {
			return nil, errors.New("fallback catalog entry has empty key")
		}
		if _, dup := c.index[key]; dup {
			return nil, fmt.Errorf("duplicate fallback catalog key %q", key)
		}
		if err := strict.Check(&e.Schedule); err != nil {
			return nil, fmt.Errorf("fallback schedule %q is invalid: %w", key, err)
		}
		c.index[key] = len(c.entries)
		c.entries = append(c.entries, CatalogEntry{Key: key, Schedule: e.Schedule.Clone()})
	}

	if _, ok := c.index[strings.ToLower(defaultKey)]; !ok {
		return nil, fmt.Errorf("default key %q not in fallback catalog", defaultKey)
	}
	c.defaultKey = strings.ToLower(defaultKey)

	return c, nil
}

// DefaultCatalog returns the built-in focus/relax/sleep catalog.
// It panics if the built-in data is invalid.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(defaultEntries(), IntentFocus)
	if err != nil {
		panic(err)
	}
	return c
}

// Lookup returns the first entry whose key occurs in intent, case-insensitively,
// or the default entry. The returned schedule is a copy the caller may keep.
func (c *Catalog) Lookup(intent string) models.ModulationSchedule {
	schedule, _ := c.Match(intent)
	return schedule
}

// Match is Lookup plus the key that was selected.
func (c *Catalog) Match(intent string) (models.ModulationSchedule, string) {
	needle := strings.ToLower(intent)

	for _, e := range c.entries {
		if strings.Contains(needle, e.Key) {
			return e.Schedule.Clone(), e.Key
		}
	}
	return c.entries[c.index[c.defaultKey]].Schedule.Clone(), c.defaultKey
}

// Keys lists catalog keys in match order
func (c *Catalog) Keys() []string {
	keys := make([]string, len(c.entries))
	for i, e := range c.entries {
		keys[i] = e.Key
	}
	return keys
}

// Entries returns copies of all catalog entries in match order
func (c *Catalog) Entries() []CatalogEntry {
	out := make([]CatalogEntry, len(c.entries))
	for i, e := range c.entries {
		out[i] = CatalogEntry{Key: e.Key, Schedule: e.Schedule.Clone()}
	}
	return out
}

func binaural(t float64, bpm int, freq, ramp float64) models.ModulationStep {
	return models.ModulationStep{
		TimestampSec:    t,
		TargetBPM:       bpm,
		BinauralFreq:    freq,
		RampDurationSec: ramp,
		Layer:           models.LayerBinaural,
	}
}

func defaultEntries() []CatalogEntry {
	return []CatalogEntry{
		{
			Key: IntentFocus,
			Schedule: models.ModulationSchedule{
				Intent:           IntentFocus,
				TotalDurationSec: fallbackDurationSec,
				Steps: []models.ModulationStep{
					binaural(0, 70, 10.0, 60),
					binaural(300, 80, 14.0, 120),
					binaural(900, 75, 12.0, 180),
					binaural(1350, 65, 8.0, 150),
				},
			},
		},
		{
			Key: IntentRelax,
			Schedule: models.ModulationSchedule{
				Intent:           IntentRelax,
				TotalDurationSec: fallbackDurationSec,
				Steps: []models.ModulationStep{
					binaural(0, 70, 10.0, 60),
					binaural(300, 60, 7.0, 180),
					binaural(900, 55, 5.0, 300),
					binaural(1350, 50, 4.0, 150),
				},
			},
		},
		{
			Key: IntentSleep,
			Schedule: models.ModulationSchedule{
				Intent:           IntentSleep,
				TotalDurationSec: fallbackDurationSec,
				Steps: []models.ModulationStep{
					binaural(0, 60, 6.0, 60),
					binaural(300, 55, 4.0, 180),
					binaural(900, 50, 2.0, 300),
					binaural(1350, 45, 1.0, 150),
				},
			},
		},
	}
}

package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Session is one listening session together with the schedule it was started with
type Session struct {
	ID           uint       `gorm:"primarykey" json:"id"`
	UserID       *uint      `gorm:"index" json:"user_id,omitempty"`
	Intent       string     `gorm:"size:100;not null" json:"intent"`
	Schedule     string     `gorm:"type:text;not null" json:"-"`     // JSON-encoded ModulationSchedule
	Source       string     `gorm:"size:32;not null" json:"source"` // generated, fallback or timeout_fallback
	DurationSec  int        `gorm:"not null" json:"duration_sec"`
	StartedAt    time.Time  `gorm:"autoCreateTime" json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	Rating       *int       `json:"rating,omitempty"`
	FeedbackNote string     `gorm:"size:500" json:"feedback_note,omitempty"`
}

// SetSchedule stores the schedule in its serialized column form
func (s *Session) SetSchedule(schedule *ModulationSchedule) error {
	data, err := json.Marshal(schedule)
	if err != nil {
		return fmt.Errorf("failed to encode schedule: %w", err)
	}
	s.Schedule = string(data)
	return nil
}

// DecodeSchedule parses the stored schedule column
func (s *Session) DecodeSchedule() (*ModulationSchedule, error) {
	var schedule ModulationSchedule
	if err := json.Unmarshal([]byte(s.Schedule), &schedule); err != nil {
		return nil, fmt.Errorf("failed to decode stored schedule for session %d: %w", s.ID, err)
	}
	return &schedule, nil
}

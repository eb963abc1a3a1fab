package model

import "time"

// SchedulingState is the durable record owned by the alarm scheduler.
// Every optional field has a usable zero value so partially written or
// older-schema files degrade to "nothing scheduled yet".
type SchedulingState struct {
	SchemaVersion          int        `yaml:"schema_version"`
	FileType               string     `yaml:"file_type"`
	Prayers                []Prayer   `yaml:"prayers"`
	IsGloballyActive       bool       `yaml:"is_globally_active"`
	CurrentSilencePrayer   *string    `yaml:"current_silence_prayer"`
	CurrentSilenceStart    *time.Time `yaml:"current_silence_start"`
	CurrentSilenceDuration *int       `yaml:"current_silence_duration"`
	LastSystemDisableAt    *time.Time `yaml:"last_system_disable_at"`
	PendingSessions        []Session  `yaml:"pending_sessions"`
	UpdatedAt              string     `yaml:"updated_at"`
}

// CurrentSilence is the in-memory view of the current-silence fields.
type CurrentSilence struct {
	Prayer          string
	Start           time.Time
	DurationMinutes int
}

// Current returns the current-silence record, or false when none is stored.
func (s SchedulingState) Current() (CurrentSilence, bool) {
	if s.CurrentSilencePrayer == nil || s.CurrentSilenceStart == nil {
		return CurrentSilence{}, false
	}
	cs := CurrentSilence{Prayer: *s.CurrentSilencePrayer, Start: *s.CurrentSilenceStart}
	if s.CurrentSilenceDuration != nil {
		cs.DurationMinutes = *s.CurrentSilenceDuration
	}
	return cs, true
}

// SetCurrent overwrites the single current-silence record.
func (s *SchedulingState) SetCurrent(cs CurrentSilence) {
	name := cs.Prayer
	start := cs.Start
	dur := cs.DurationMinutes
	s.CurrentSilencePrayer = &name
	s.CurrentSilenceStart = &start
	s.CurrentSilenceDuration = &dur
}

// ClearCurrent removes the current-silence record.
func (s *SchedulingState) ClearCurrent() {
	s.CurrentSilencePrayer = nil
	s.CurrentSilenceStart = nil
	s.CurrentSilenceDuration = nil
}

// SessionStatus is the outcome of a silence session.
type SessionStatus string

const (
	SessionCompleted   SessionStatus = "Completed"
	SessionInterrupted SessionStatus = "Interrupted"
)

// SessionSource names the layer that recorded a session.
type SessionSource string

const (
	SourceLoop  SessionSource = "layer1"
	SourceAlarm SessionSource = "layer2"
)

// Session is one completed silence window.
type Session struct {
	ID              string        `yaml:"id" json:"id"`
	PrayerName      string        `yaml:"prayer_name" json:"prayerName"`
	StartTime       time.Time     `yaml:"start_time" json:"startTime"`
	EndTime         time.Time     `yaml:"end_time" json:"endTime"`
	DurationMinutes int           `yaml:"duration_minutes" json:"durationMinutes"`
	Status          SessionStatus `yaml:"status" json:"status"`
	Source          SessionSource `yaml:"source,omitempty" json:"source,omitempty"`
}

// Overlaps reports whether two sessions cover intersecting time ranges.
func (s Session) Overlaps(o Session) bool {
	return s.StartTime.Before(o.EndTime) && o.StartTime.Before(s.EndTime)
}

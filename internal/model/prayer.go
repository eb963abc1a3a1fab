// Package model defines the data structures for sakina's prayers, scheduling state, sessions and configuration.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Prayer is a single prayer slot owned by the prayer-management side of the app.
// The scheduler only ever reads snapshots of it.
type Prayer struct {
	ID              int      `yaml:"id" json:"id" toml:"id"`
	Name            string   `yaml:"name" json:"name" toml:"name"`
	ScheduledTime   string   `yaml:"scheduled_time" json:"scheduled_time" toml:"scheduled_time"` // "HH:mm", device-local
	DurationMinutes int      `yaml:"duration_minutes" json:"duration_minutes" toml:"duration_minutes"`
	IsEnabled       bool     `yaml:"is_enabled" json:"is_enabled" toml:"is_enabled"`
	ActiveDays      []string `yaml:"active_days" json:"active_days" toml:"active_days"` // empty = every day
}

// PrayerSet is the on-disk shape of prayers.yaml / prayers.toml.
type PrayerSet struct {
	IsGloballyActive bool     `yaml:"is_globally_active" json:"is_globally_active" toml:"is_globally_active"`
	Prayers          []Prayer `yaml:"prayers" json:"prayers" toml:"prayers"`
}

var weekdayAbbrev = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

// AllDays lists every weekday abbreviation in calendar order.
var AllDays = []string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}

// ParseWeekday maps an abbreviation ("Mon", "monday", "MON") to a time.Weekday.
func ParseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) >= 3 {
		if wd, ok := weekdayAbbrev[s[:3]]; ok {
			return wd, nil
		}
	}
	return 0, fmt.Errorf("invalid weekday: %q", s)
}

// WeekdayAbbrev returns the canonical abbreviation for wd.
func WeekdayAbbrev(wd time.Weekday) string {
	return AllDays[int(wd)%7]
}

// ActiveOn reports whether the prayer is scheduled on the given weekday.
// Unknown abbreviations are ignored.
func (p Prayer) ActiveOn(wd time.Weekday) bool {
	if len(p.ActiveDays) == 0 {
		return true
	}
	for _, d := range p.ActiveDays {
		if got, err := ParseWeekday(d); err == nil && got == wd {
			return true
		}
	}
	return false
}

// ClockMinutes parses ScheduledTime into minutes after local midnight.
func (p Prayer) ClockMinutes() (int, error) {
	return ParseClock(p.ScheduledTime)
}

// Validate checks the fields the scheduler depends on.
func (p Prayer) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("prayer %d: name is required", p.ID)
	}
	if p.DurationMinutes <= 0 {
		return fmt.Errorf("prayer %d (%s): duration_minutes must be positive, got %d", p.ID, p.Name, p.DurationMinutes)
	}
	if _, err := ParseClock(p.ScheduledTime); err != nil {
		return fmt.Errorf("prayer %d (%s): %w", p.ID, p.Name, err)
	}
	for _, d := range p.ActiveDays {
		if _, err := ParseWeekday(d); err != nil {
			return fmt.Errorf("prayer %d (%s): %w", p.ID, p.Name, err)
		}
	}
	return nil
}

// ParseClock parses a "HH:mm" wall-clock string into minutes after midnight.
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid time %q (want HH:mm)", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// FormatClock renders minutes after midnight as "HH:mm", wrapping past 24h.
func FormatClock(minutes int) string {
	minutes = ((minutes % 1440) + 1440) % 1440
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// ClonePrayers returns a deep copy so callers can hand out immutable snapshots.
func ClonePrayers(prayers []Prayer) []Prayer {
	if prayers == nil {
		return nil
	}
	out := make([]Prayer, len(prayers))
	for i, p := range prayers {
		out[i] = p
		if p.ActiveDays != nil {
			out[i].ActiveDays = append([]string(nil), p.ActiveDays...)
		}
	}
	return out
}

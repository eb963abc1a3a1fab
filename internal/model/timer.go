package model

import (
	"fmt"
	"time"
)

// TimerAction tags what a wake timer does when it fires.
type TimerAction string

const (
	ActionEnable      TimerAction = "ENABLE"
	ActionDisable     TimerAction = "DISABLE"
	ActionReschedule  TimerAction = "RESCHEDULE"
	ActionRemindStart TimerAction = "REMIND_START"
	ActionRemindEnd   TimerAction = "REMIND_END"
)

var validTimerActions = map[TimerAction]bool{
	ActionEnable:      true,
	ActionDisable:     true,
	ActionReschedule:  true,
	ActionRemindStart: true,
	ActionRemindEnd:   true,
}

// ParseTimerAction validates an action string.
func ParseTimerAction(s string) (TimerAction, error) {
	a := TimerAction(s)
	if !validTimerActions[a] {
		return "", fmt.Errorf("invalid timer action: %q", s)
	}
	return a, nil
}

// TimerPayload travels with a registered timer and comes back when it fires.
type TimerPayload struct {
	Action          TimerAction `yaml:"action" json:"action"`
	PrayerID        int         `yaml:"prayer_id" json:"prayer_id"`
	PrayerName      string      `yaml:"prayer_name" json:"prayer_name"`
	DurationMinutes int         `yaml:"duration_minutes" json:"duration_minutes"`
	ScheduledFor    time.Time   `yaml:"scheduled_for,omitempty" json:"scheduled_for,omitempty"` // the instant the timer was armed for
}

package model

import "time"

// DaemonStatus is the daemon's answer to the status command.
type DaemonStatus struct {
	PID             int       `json:"pid"`
	StartedAt       time.Time `json:"started_at"`
	LoopAvailable   bool      `json:"loop_available"`
	LoopRunning     bool      `json:"loop_running"`
	LoopPrayers     int       `json:"loop_prayers"`
	TimerBackend    string    `json:"timer_backend"`
	DNDBackend      string    `json:"dnd_backend"`
	HistorySessions int       `json:"history_sessions"`

	LastReschedule       time.Time `json:"last_reschedule,omitempty"`
	LastRescheduleReason string    `json:"last_reschedule_reason,omitempty"`
	LastRescheduleError  string    `json:"last_reschedule_error,omitempty"`
}

// RescheduleParams is the payload of the reschedule command. Reload re-reads
// the prayers file instead of reusing the durable snapshot.
type RescheduleParams struct {
	Reason string `json:"reason,omitempty"`
	Reload bool   `json:"reload,omitempty"`
}

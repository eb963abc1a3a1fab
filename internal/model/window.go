package model

// MergedWindow is a contiguous silence interval derived from one or more
// overlapping prayers. It is computed per scheduling pass and never persisted.
type MergedWindow struct {
	StartTime       string   `json:"start_time"` // "HH:mm"
	DurationMinutes int      `json:"duration_minutes"`
	PrayerNames     []string `json:"prayer_names"`
}

// StartMinutes returns the window start in minutes after midnight.
func (w MergedWindow) StartMinutes() int {
	m, _ := ParseClock(w.StartTime)
	return m
}

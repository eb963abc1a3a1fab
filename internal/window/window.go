// Package window converts prayer wall-clock times into instants and merged
// silence intervals. Everything here is pure: the reference instant is
// always passed in, and all wall-clock math happens in that instant's
// location with no timezone conversion.
package window

import (
	"fmt"
	"sort"
	"time"

	"github.com/msageha/sakina/internal/model"
)

const day = 24 * time.Hour

// OccurrenceOn returns the instant of wall-clock hhmm on the calendar day of ref.
func OccurrenceOn(ref time.Time, hhmm string) (time.Time, error) {
	minutes, err := model.ParseClock(hhmm)
	if err != nil {
		return time.Time{}, err
	}
	y, m, d := ref.Date()
	return time.Date(y, m, d, minutes/60, minutes%60, 0, 0, ref.Location()), nil
}

// NextOccurrence returns the next instant strictly after now at wall-clock hhmm.
// A time equal to or before now rolls to the same time tomorrow.
func NextOccurrence(now time.Time, hhmm string) (time.Time, error) {
	t, err := OccurrenceOn(now, hhmm)
	if err != nil {
		return time.Time{}, err
	}
	if !t.After(now) {
		y, m, d := now.Date()
		t = time.Date(y, m, d+1, t.Hour(), t.Minute(), 0, 0, now.Location())
	}
	return t, nil
}

// MillisUntil returns the milliseconds from now until the next occurrence of hhmm.
// The result is in (0, 24h] and never 0.
func MillisUntil(now time.Time, hhmm string) (int64, error) {
	next, err := NextOccurrence(now, hhmm)
	if err != nil {
		return 0, err
	}
	ms := next.Sub(now).Milliseconds()
	if ms <= 0 {
		ms = 1
	}
	if ms > day.Milliseconds() {
		ms = day.Milliseconds()
	}
	return ms, nil
}

type span struct {
	start int // minutes after midnight
	end   int
	name  string
}

// MergeWindows filters prayers to those enabled and active on wd, sorts them
// by start time (stable), and merges every prayer that starts at or before the
// current window's end into that window.
func MergeWindows(prayers []model.Prayer, wd time.Weekday) []model.MergedWindow {
	spans := make([]span, 0, len(prayers))
	for _, p := range prayers {
		if !p.IsEnabled || !p.ActiveOn(wd) || p.DurationMinutes <= 0 {
			continue
		}
		start, err := p.ClockMinutes()
		if err != nil {
			continue
		}
		spans = append(spans, span{start: start, end: start + p.DurationMinutes, name: p.Name})
	}
	if len(spans) == 0 {
		return []model.MergedWindow{}
	}

	sort.SliceStable(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	var windows []model.MergedWindow
	cur := spans[0]
	names := []string{cur.name}
	flush := func() {
		windows = append(windows, model.MergedWindow{
			StartTime:       model.FormatClock(cur.start),
			DurationMinutes: cur.end - cur.start,
			PrayerNames:     names,
		})
	}
	for _, s := range spans[1:] {
		if s.start <= cur.end {
			if s.end > cur.end {
				cur.end = s.end
			}
			names = append(names, s.name)
			continue
		}
		flush()
		cur = s
		names = []string{s.name}
	}
	flush()
	return windows
}

// FormatCountdown renders a remaining duration for display.
func FormatCountdown(ms int64) string {
	if ms <= 0 {
		return "0m"
	}
	total := ms / 1000
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

// Soonest returns the merged window starting soonest after now, with its start instant.
func Soonest(now time.Time, windows []model.MergedWindow) (model.MergedWindow, time.Time, bool) {
	var (
		best   model.MergedWindow
		bestAt time.Time
		found  bool
	)
	for _, w := range windows {
		at, err := NextOccurrence(now, w.StartTime)
		if err != nil {
			continue
		}
		if !found || at.Before(bestAt) {
			best, bestAt, found = w, at, true
		}
	}
	return best, bestAt, found
}

// Find returns the window starting at hhmm.
func Find(windows []model.MergedWindow, hhmm string) (model.MergedWindow, bool) {
	for _, w := range windows {
		if w.StartTime == hhmm {
			return w, true
		}
	}
	return model.MergedWindow{}, false
}

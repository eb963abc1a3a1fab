// Package status reports what sakina is doing: daemon, silence, the next
// window and the armed timers.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/msageha/sakina/internal/app"
	"github.com/msageha/sakina/internal/events"
	"github.com/msageha/sakina/internal/model"
	"github.com/msageha/sakina/internal/timer"
	"github.com/msageha/sakina/internal/uds"
	"github.com/msageha/sakina/internal/window"
)

const recentTransitions = 5

type Report struct {
	Home            string              `json:"home"`
	Daemon          DaemonStatus        `json:"daemon"`
	DND             DNDStatus           `json:"dnd"`
	GloballyActive  bool                `json:"globally_active"`
	Prayers         int                 `json:"prayers"`
	Silence         *SilenceStatus      `json:"silence,omitempty"`
	Next            *NextWindow         `json:"next_window,omitempty"`
	Timers          []timer.Timer       `json:"timers"`
	TimerBackend    string              `json:"timer_backend"`
	PendingSessions int                 `json:"pending_sessions"`
	Recent          []events.Transition `json:"recent,omitempty"`
}

type DaemonStatus struct {
	Running bool                `json:"running"`
	Info    *model.DaemonStatus `json:"info,omitempty"`
}

type DNDStatus struct {
	Backend        string `json:"backend"`
	Supported      bool   `json:"supported"`
	Permission     bool   `json:"permission"`
	PowerExemption bool   `json:"power_exemption"`
	SilenceActive  bool   `json:"silence_active"`
}

type SilenceStatus struct {
	Prayer string    `json:"prayer"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
}

type NextWindow struct {
	Start     time.Time `json:"start"`
	Prayers   []string  `json:"prayers"`
	Duration  int       `json:"duration_minutes"`
	Countdown string    `json:"countdown"`
}

// Collect builds the report. Every probe is best-effort: a missing daemon or
// audit log shows up as absent data, not as an error.
func Collect(ctx context.Context, rt *app.Runtime, now time.Time) Report {
	st := rt.Store.Load()
	r := Report{
		Home:            rt.Paths.Home,
		GloballyActive:  st.IsGloballyActive,
		Prayers:         len(st.Prayers),
		Timers:          []timer.Timer{},
		TimerBackend:    rt.TimerBackend(),
		PendingSessions: len(st.PendingSessions),
	}

	r.Daemon = checkDaemon(rt.Paths.Socket)
	r.DND = DNDStatus{
		Backend:        rt.Config.DND.Backend,
		Supported:      rt.Bridge.Supported(),
		Permission:     rt.Bridge.HasPermission(ctx),
		PowerExemption: rt.Bridge.IsPowerExemptionGranted(ctx),
		SilenceActive:  rt.Bridge.IsSilenceActive(ctx),
	}

	if cs, ok := st.Current(); ok {
		r.Silence = &SilenceStatus{
			Prayer: cs.Prayer,
			Start:  cs.Start,
			End:    cs.Start.Add(time.Duration(cs.DurationMinutes) * time.Minute),
		}
	}

	if st.IsGloballyActive {
		r.Next = nextWindow(st.Prayers, now)
	}

	if timers, err := rt.Timers.Registered(ctx); err == nil {
		timer.SortByFireAt(timers)
		r.Timers = timers
	}

	if recent, err := events.Tail(rt.Paths.AuditLog, recentTransitions); err == nil {
		r.Recent = recent
	}
	return r
}

// nextWindow looks at today's windows and tomorrow's, so a window on a day
// the prayer is inactive today still shows up.
func nextWindow(prayers []model.Prayer, now time.Time) *NextWindow {
	for _, day := range []time.Time{now, now.AddDate(0, 0, 1)} {
		var best *NextWindow
		for _, w := range window.MergeWindows(prayers, day.Weekday()) {
			at, err := window.OccurrenceOn(day, w.StartTime)
			if err != nil || !at.After(now) {
				continue
			}
			if best == nil || at.Before(best.Start) {
				best = &NextWindow{Start: at, Prayers: w.PrayerNames, Duration: w.DurationMinutes}
			}
		}
		if best != nil {
			best.Countdown = window.FormatCountdown(best.Start.Sub(now).Milliseconds())
			return best
		}
	}
	return nil
}

func checkDaemon(sockPath string) DaemonStatus {
	client := uds.NewClient(sockPath)
	client.SetTimeout(2 * time.Second)
	var info model.DaemonStatus
	if err := client.Call(uds.CmdStatus, nil, &info); err != nil {
		return DaemonStatus{Running: false}
	}
	return DaemonStatus{Running: true, Info: &info}
}

// Run collects the report and writes it to w.
func Run(ctx context.Context, rt *app.Runtime, w io.Writer, jsonOutput bool) error {
	r := Collect(ctx, rt, rt.Clock.Now())
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}
	printStatus(w, r, rt.Clock.Now())
	return nil
}

func printStatus(w io.Writer, s Report, now time.Time) {
	// Daemon
	if s.Daemon.Running && s.Daemon.Info != nil {
		loop := "stopped"
		if s.Daemon.Info.LoopRunning {
			loop = fmt.Sprintf("running (%d prayers)", s.Daemon.Info.LoopPrayers)
		}
		fmt.Fprintf(w, "Daemon: running pid=%d  loop=%s\n", s.Daemon.Info.PID, loop)
		if s.Daemon.Info.LastRescheduleError != "" {
			fmt.Fprintf(w, "  last reschedule failed: %s\n", s.Daemon.Info.LastRescheduleError)
		}
	} else {
		fmt.Fprintln(w, "Daemon: stopped (durable timers only)")
	}

	// DND
	fmt.Fprintf(w, "DND: backend=%s supported=%t permission=%t power=%t silence=%s\n",
		s.DND.Backend, s.DND.Supported, s.DND.Permission, s.DND.PowerExemption, onOff(s.DND.SilenceActive))
	if !s.DND.Supported {
		fmt.Fprintln(w, "  reminder mode: you will be notified to toggle Do Not Disturb yourself")
	}

	// Schedule
	fmt.Fprintf(w, "\nScheduling: %s  prayers=%d\n", activeLabel(s.GloballyActive), s.Prayers)
	if s.Silence != nil {
		fmt.Fprintf(w, "  silenced for %s until %s\n", s.Silence.Prayer, s.Silence.End.Format("15:04"))
	}
	if s.Next != nil {
		fmt.Fprintf(w, "  next: %s at %s for %dm (in %s)\n",
			strings.Join(s.Next.Prayers, ", "), s.Next.Start.Format("Mon 15:04"), s.Next.Duration, s.Next.Countdown)
	} else if s.GloballyActive {
		fmt.Fprintln(w, "  next: no enabled prayer")
	}

	// Timers
	fmt.Fprintf(w, "\nTimers (%s): %d armed\n", s.TimerBackend, len(s.Timers))
	for _, t := range s.Timers {
		name := t.Payload.PrayerName
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(w, "  %5d  %-12s  %-10s  %s\n", t.ID, t.Payload.Action, name, formatFire(t.FireAt, now))
	}

	if s.PendingSessions > 0 {
		fmt.Fprintf(w, "\nPending sessions: %d\n", s.PendingSessions)
	}

	// Recent transitions
	if len(s.Recent) > 0 {
		fmt.Fprintln(w, "\nRecent:")
		for _, tr := range s.Recent {
			result := "ok"
			if !tr.OK {
				result = "failed"
			}
			prayer := tr.Prayer
			if prayer == "" {
				prayer = "-"
			}
			fmt.Fprintf(w, "  %s  %-6s  %-10s  %-10s  %s\n",
				tr.Timestamp.Local().Format("01-02 15:04"), tr.Layer, tr.Action, prayer, result)
		}
	}
}

func formatFire(at, now time.Time) string {
	in := at.Sub(now)
	if in < 0 {
		return at.Local().Format("Mon 15:04:05") + " (overdue)"
	}
	return at.Local().Format("Mon 15:04:05") + " (in " + window.FormatCountdown(in.Milliseconds()) + ")"
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func activeLabel(b bool) string {
	if b {
		return "active"
	}
	return "paused"
}

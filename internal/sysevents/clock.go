package sysevents

import (
	"context"
	"time"

	"github.com/msageha/sakina/internal/events"
	"github.com/msageha/sakina/internal/logging"
)

// Reading is one sample of the wall clock and of a monotonic clock.
type Reading struct {
	Wall time.Time
	Mono time.Duration
}

// ClockWatcher detects wall-clock jumps by comparing how far the wall clock
// moved between two samples with how far the monotonic clock moved. A manual
// clock change, an NTP step or a long suspend all show up as drift.
type ClockWatcher struct {
	bus       *events.Bus
	interval  time.Duration
	tolerance time.Duration
	read      func() Reading
	logger    *logging.Logger

	last    Reading
	started bool
}

func NewClockWatcher(bus *events.Bus, interval, tolerance time.Duration, logger *logging.Logger) *ClockWatcher {
	if logger == nil {
		logger = logging.Discard()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if tolerance <= 0 {
		tolerance = 90 * time.Second
	}
	origin := time.Now()
	return &ClockWatcher{
		bus:       bus,
		interval:  interval,
		tolerance: tolerance,
		logger:    logger,
		read: func() Reading {
			now := time.Now()
			return Reading{Wall: now.Round(0), Mono: now.Sub(origin)}
		},
	}
}

func (w *ClockWatcher) Name() string { return "clock" }

func (w *ClockWatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	w.Check()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.Check()
		}
	}
}

// Check takes a sample and publishes EventClockJump when the drift since the
// previous sample exceeds the tolerance. It returns the drift.
func (w *ClockWatcher) Check() time.Duration {
	cur := w.read()
	if !w.started {
		w.last, w.started = cur, true
		return 0
	}
	drift := Drift(w.last, cur)
	w.last = cur
	if drift.Abs() <= w.tolerance {
		return drift
	}
	w.logger.Info("wall clock jumped drift=%s", drift.Round(time.Second))
	w.bus.Publish(events.EventClockJump, map[string]any{
		"reason":    "clock_jump",
		"drift_sec": int64(drift / time.Second),
	})
	return drift
}

// Drift is the wall-clock distance between two readings minus the monotonic
// distance.
func Drift(prev, cur Reading) time.Duration {
	return cur.Wall.Sub(prev.Wall) - (cur.Mono - prev.Mono)
}

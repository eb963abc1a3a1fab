// Package loop is the in-process scheduling layer: a cooperative goroutine
// that sleeps until the next merged window, silences it, and logs the session.
// It only lives as long as its host process.
package loop

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/msageha/sakina/internal/dnd"
	"github.com/msageha/sakina/internal/events"
	"github.com/msageha/sakina/internal/logging"
	"github.com/msageha/sakina/internal/model"
	"github.com/msageha/sakina/internal/window"
)

const layerName = "layer1"

// SessionLog is where completed windows go; *state.Store satisfies it.
type SessionLog interface {
	AppendSession(sess model.Session) (model.Session, error)
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepTimer(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type Options struct {
	PollInterval time.Duration // idle sleep when no window exists
	ErrorBackoff time.Duration // sleep after a failed iteration
}

type Deps struct {
	Bridge   dnd.Bridge
	Sessions SessionLog
	Clock    window.Clock
	Sleep    Sleeper
	Audit    *events.AuditLogger
	Bus      *events.Bus
	Logger   *logging.Logger
}

type Scheduler struct {
	bridge   dnd.Bridge
	sessions SessionLog
	clock    window.Clock
	sleep    Sleeper
	audit    *events.AuditLogger
	bus      *events.Bus
	logger   *logging.Logger
	opts     Options

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	armed  model.Snapshot
}

func New(d Deps, opts Options) *Scheduler {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Minute
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = 30 * time.Second
	}
	if d.Clock == nil {
		d.Clock = window.NewSystemClock()
	}
	if d.Sleep == nil {
		d.Sleep = sleepTimer
	}
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}
	return &Scheduler{
		bridge:   d.Bridge,
		sessions: d.Sessions,
		clock:    d.Clock,
		sleep:    d.Sleep,
		audit:    d.Audit,
		bus:      d.Bus,
		logger:   d.Logger,
		opts:     opts,
	}
}

func (s *Scheduler) Name() string { return layerName }

// Available reports whether the loop can toggle anything on this platform.
func (s *Scheduler) Available(context.Context) bool { return s.bridge.Supported() }

// Arm stops any running loop and starts a new one over snap. The loop is
// detached from ctx: only Stop or a later Arm ends it.
func (s *Scheduler) Arm(ctx context.Context, snap model.Snapshot) error {
	if err := s.Stop(ctx); err != nil {
		return err
	}
	snap = model.NewSnapshot(snap.Prayers, snap.IsGloballyActive)

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.mu.Lock()
	s.cancel, s.done, s.armed = cancel, done, snap
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.Run(loopCtx, snap)
	}()
	s.logger.Info("loop armed prayers=%d active=%t", len(snap.Prayers), snap.IsGloballyActive)
	return nil
}

// Stop cancels the running loop and waits for it to exit, or for ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		s.logger.Info("loop stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for loop to stop: %w", ctx.Err())
	}
}

// Running reports whether a loop goroutine is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done != nil
}

// Snapshot returns the snapshot the current loop was armed with.
func (s *Scheduler) Snapshot() model.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armed
}

// Run loops until ctx is done. Iteration failures never end it.
func (s *Scheduler) Run(ctx context.Context, snap model.Snapshot) {
	for ctx.Err() == nil {
		if err := s.iterate(ctx, snap); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("loop iteration failed, backing off %s error=%v", s.opts.ErrorBackoff, err)
			_ = s.sleep(ctx, s.opts.ErrorBackoff)
		}
	}
}

func (s *Scheduler) iterate(ctx context.Context, snap model.Snapshot) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()

	now := s.clock.Now()
	windows := activeWindows(snap, now)
	w, startAt, ok := window.Soonest(now, windows)
	if !ok {
		s.logger.Debug("no window, polling again in %s", s.opts.PollInterval)
		return s.sleep(ctx, s.opts.PollInterval)
	}

	s.logger.Info("next window start=%s prayers=%s in=%s", w.StartTime, strings.Join(w.PrayerNames, ","), window.FormatCountdown(startAt.Sub(now).Milliseconds()))
	if err := s.sleep(ctx, startAt.Sub(now)); err != nil {
		return err
	}

	// The day or the snapshot may have changed while asleep.
	now = s.clock.Now()
	current, found := window.Find(activeWindows(snap, now), w.StartTime)
	if !found {
		s.logger.Info("window %s no longer scheduled after wake, re-evaluating", w.StartTime)
		return nil
	}
	return s.silence(ctx, current, startAt)
}

// silence holds w from its enable until startAt plus its duration, measured
// from the scheduled start so a late wake does not stretch the window.
func (s *Scheduler) silence(ctx context.Context, w model.MergedWindow, startAt time.Time) error {
	name := strings.Join(w.PrayerNames, ", ")
	if !s.bridge.EnableSilence(ctx) {
		s.logger.Warn("enable silence failed window=%s prayers=%s", w.StartTime, name)
		s.record("ENABLE", name, false)
		return nil
	}
	start := s.clock.Now()
	s.record("ENABLE", name, true)
	s.bus.Publish(events.EventSilenceChanged, map[string]any{"layer": layerName, "silence": true, "prayer": name})

	end := startAt.Add(time.Duration(w.DurationMinutes) * time.Minute)
	if remaining := end.Sub(start); remaining > 0 {
		if err := s.sleep(ctx, remaining); err != nil {
			// Stopped mid-window: the durable layer owns the rest of it.
			return err
		}
	}

	// From the scheduled end on, Unrestricted is the durable layer's own
	// DISABLE having run first.
	status := model.SessionCompleted
	if override, err := s.bridge.QueryOverrideState(ctx); err == nil && override == dnd.Unrestricted && s.clock.Now().Before(end) {
		status = model.SessionInterrupted
	}
	ok := s.bridge.DisableSilence(ctx)
	s.record("DISABLE", name, ok)
	s.bus.Publish(events.EventSilenceChanged, map[string]any{"layer": layerName, "silence": false, "prayer": name})

	sess, err := s.sessions.AppendSession(model.Session{
		PrayerName:      name,
		StartTime:       start,
		EndTime:         s.clock.Now(),
		DurationMinutes: w.DurationMinutes,
		Status:          status,
		Source:          model.SourceLoop,
	})
	if err != nil {
		return fmt.Errorf("append session: %w", err)
	}
	s.bus.Publish(events.EventSessionRecorded, map[string]any{"layer": layerName, "session_id": sess.ID})
	s.logger.Info("session recorded prayers=%s status=%s", name, status)
	return nil
}

func (s *Scheduler) record(action, prayer string, ok bool) {
	if err := s.audit.Record(layerName, action, prayer, ok, nil); err != nil {
		s.logger.Warn("audit write failed error=%v", err)
	}
}

func activeWindows(snap model.Snapshot, now time.Time) []model.MergedWindow {
	if !snap.IsGloballyActive {
		return nil
	}
	return window.MergeWindows(snap.Prayers, now.Weekday())
}

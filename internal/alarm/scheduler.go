// Package alarm is the durable scheduling layer. It persists the prayer set,
// arms one wake timer per silence transition plus a midnight rollover, and
// handles each timer fire as an independent activation that may run in a
// fresh process.
package alarm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/msageha/sakina/internal/dnd"
	"github.com/msageha/sakina/internal/events"
	"github.com/msageha/sakina/internal/logging"
	"github.com/msageha/sakina/internal/model"
	"github.com/msageha/sakina/internal/notify"
	"github.com/msageha/sakina/internal/state"
	"github.com/msageha/sakina/internal/timer"
	"github.com/msageha/sakina/internal/window"
)

const layerName = "layer2"

type Options struct {
	MaxPrayerSlots int           // ids swept on cancel regardless of the snapshot
	MidnightOffset time.Duration // rollover fires this long after local midnight
	Notify         bool          // present a notification after ENABLE/DISABLE
}

// Deps are the collaborators of a Scheduler. Notifier, Audit, Bus and Logger
// are optional.
type Deps struct {
	Store    *state.Store
	Timers   timer.Timers
	Bridge   dnd.Bridge
	Clock    window.Clock
	Notifier notify.Notifier
	Audit    *events.AuditLogger
	Bus      *events.Bus
	Logger   *logging.Logger
}

type Scheduler struct {
	mu       sync.Mutex // one scheduling cycle at a time
	store    *state.Store
	timers   timer.Timers
	bridge   dnd.Bridge
	clock    window.Clock
	notifier notify.Notifier
	audit    *events.AuditLogger
	bus      *events.Bus
	logger   *logging.Logger
	opts     Options
}

func New(d Deps, opts Options) *Scheduler {
	if opts.MaxPrayerSlots <= 0 {
		opts.MaxPrayerSlots = 64
	}
	if opts.MidnightOffset <= 0 {
		opts.MidnightOffset = 5 * time.Second
	}
	if d.Clock == nil {
		d.Clock = window.NewSystemClock()
	}
	if d.Notifier == nil {
		d.Notifier = notify.Noop()
	}
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}
	return &Scheduler{
		store:    d.Store,
		timers:   d.Timers,
		bridge:   d.Bridge,
		clock:    d.Clock,
		notifier: d.Notifier,
		audit:    d.Audit,
		bus:      d.Bus,
		logger:   d.Logger,
		opts:     opts,
	}
}

// Result summarizes one scheduling cycle.
type Result struct {
	Armed      []timer.Timer `json:"armed"`
	InProgress []string      `json:"in_progress,omitempty"` // silence applied now
	Respected  []string      `json:"respected,omitempty"`   // left off after a manual override
	Reminder   bool          `json:"reminder_mode,omitempty"`
}

func (s *Scheduler) Name() string { return layerName }

// Available is always true: this layer is the durability safety net.
func (s *Scheduler) Available(context.Context) bool { return true }

// Arm persists snap and runs a full scheduling cycle from it.
func (s *Scheduler) Arm(ctx context.Context, snap model.Snapshot) error {
	_, err := s.Schedule(ctx, snap)
	return err
}

// Stop cancels every timer this layer may have armed.
func (s *Scheduler) Stop(ctx context.Context) error {
	prev := s.store.Load()
	return s.cancelAll(ctx, prev.Prayers, nil)
}

// Reschedule re-runs the cycle from the durable snapshot. Timer fires, boot
// and system events use it, since they have no live prayer set.
func (s *Scheduler) Reschedule(ctx context.Context) (Result, error) {
	return s.Schedule(ctx, model.SnapshotOf(s.store.Load()))
}

// Schedule runs one cycle: persist, cancel, short-circuit when inactive, apply
// or arm every prayer transition, arm the midnight rollover. It always runs to
// completion; step failures are logged and joined into the returned error.
func (s *Scheduler) Schedule(ctx context.Context, snap model.Snapshot) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	res := Result{Armed: []timer.Timer{}}

	prev := s.store.Load()
	if err := s.store.SavePrayers(snap.Prayers, snap.IsGloballyActive); err != nil {
		s.logger.Error("persist prayers failed error=%v", err)
		errs = append(errs, fmt.Errorf("persist prayers: %w", err))
	}

	if err := s.cancelAll(ctx, prev.Prayers, snap.Prayers); err != nil {
		s.logger.Warn("cancel timers incomplete error=%v", err)
		errs = append(errs, err)
	}

	if !snap.IsGloballyActive {
		s.logger.Info("globally inactive, no timers armed")
		s.record("RESCHEDULE", "", true, map[string]any{"armed": 0, "active": false})
		return res, errors.Join(errs...)
	}

	now := s.clock.Now()
	res.Reminder = !s.bridge.Supported()
	lastDisable := prev.LastSystemDisableAt
	if err := ctx.Err(); err != nil {
		return res, errors.Join(append(errs, err)...)
	}
	if !res.Reminder {
		released, err := s.releaseOrphan(ctx, prev, snap, now)
		if err != nil {
			errs = append(errs, err)
		}
		if released {
			lastDisable = &now
		}
	}

	for _, p := range snap.Prayers {
		if !p.IsEnabled {
			continue
		}
		if err := p.Validate(); err != nil {
			s.logger.Warn("prayer ignored error=%v", err)
			continue
		}
		plan := planPrayer(p, now)

		if plan.inProgress && !res.Reminder {
			outcome, err := s.applyInProgress(ctx, p, plan.currentStart, lastDisable)
			if err != nil {
				errs = append(errs, err)
			}
			switch outcome {
			case applied:
				res.InProgress = append(res.InProgress, p.Name)
			case respected:
				res.Respected = append(res.Respected, p.Name)
			}
		}

		enableAction, disableAction := model.ActionEnable, model.ActionDisable
		if res.Reminder {
			enableAction, disableAction = model.ActionRemindStart, model.ActionRemindEnd
		}
		if !plan.enableAt.IsZero() {
			t, err := s.register(ctx, EnableID(p.ID), plan.enableAt, p, enableAction)
			if err != nil {
				errs = append(errs, err)
			} else {
				res.Armed = append(res.Armed, t)
			}
		}
		if !plan.disableAt.IsZero() {
			t, err := s.register(ctx, DisableID(p.ID), plan.disableAt, p, disableAction)
			if err != nil {
				errs = append(errs, err)
			} else {
				res.Armed = append(res.Armed, t)
			}
		}
	}

	midnight := NextMidnight(now).Add(s.opts.MidnightOffset)
	t, err := s.registerPayload(ctx, MidnightID, midnight, model.TimerPayload{Action: model.ActionReschedule, ScheduledFor: midnight})
	if err != nil {
		errs = append(errs, err)
	} else {
		res.Armed = append(res.Armed, t)
	}

	timer.SortByFireAt(res.Armed)
	s.logger.Info("rescheduled armed=%d in_progress=%v respected=%v reminder=%t", len(res.Armed), res.InProgress, res.Respected, res.Reminder)
	s.record("RESCHEDULE", "", len(errs) == 0, map[string]any{"armed": len(res.Armed), "active": true, "reminder": res.Reminder})
	return res, errors.Join(errs...)
}

// prayerPlan is what the current instant implies for one prayer.
type prayerPlan struct {
	inProgress   bool
	currentStart time.Time
	enableAt     time.Time // earliest future start, zero if none
	disableAt    time.Time // earliest future end, zero if none
}

// planPrayer evaluates yesterday's and today's occurrences so a window that
// crosses midnight keeps its end transition after the rollover. Ids are per
// prayer, so only the earliest pending start and end are armed; the
// reschedule after each DISABLE and at midnight arms the next ones.
func planPrayer(p model.Prayer, now time.Time) prayerPlan {
	var plan prayerPlan
	dur := time.Duration(p.DurationMinutes) * time.Minute
	y, m, d := now.Date()
	for _, offset := range []int{-1, 0} {
		day := time.Date(y, m, d+offset, 12, 0, 0, 0, now.Location())
		if !p.ActiveOn(day.Weekday()) {
			continue
		}
		start, err := window.OccurrenceOn(day, p.ScheduledTime)
		if err != nil {
			continue
		}
		end := start.Add(dur)
		if !start.After(now) && now.Before(end) {
			plan.inProgress = true
			plan.currentStart = start
		}
		if start.After(now) && (plan.enableAt.IsZero() || start.Before(plan.enableAt)) {
			plan.enableAt = start
		}
		if end.After(now) && (plan.disableAt.IsZero() || end.Before(plan.disableAt)) {
			plan.disableAt = end
		}
	}
	return plan
}

// releaseOrphan ends a silence whose prayer was disabled or removed while its
// window ran; no DISABLE timer is left to end it.
func (s *Scheduler) releaseOrphan(ctx context.Context, prev model.SchedulingState, snap model.Snapshot, now time.Time) (bool, error) {
	cs, ok := prev.Current()
	if !ok {
		return false, nil
	}
	for _, p := range snap.Prayers {
		if p.Name == cs.Prayer && p.IsEnabled {
			return false, nil
		}
	}

	ok = s.bridge.DisableSilence(ctx)
	if !ok {
		s.logger.Warn("disable silence failed prayer=%s", cs.Prayer)
	}
	s.record("DISABLE", cs.Prayer, ok, map[string]any{"reason": "prayer disabled"})
	sess, err := s.store.CloseSilence(cs, now, model.SessionInterrupted, model.SourceAlarm)
	if err != nil {
		return false, fmt.Errorf("record session %s: %w", cs.Prayer, err)
	}
	// Silence went off by our hand, so an overlapping window may take it back.
	if err := s.store.Update(func(st *model.SchedulingState) error {
		st.LastSystemDisableAt = &now
		return nil
	}); err != nil {
		return true, fmt.Errorf("stamp system disable: %w", err)
	}
	s.logger.Info("silence released, prayer no longer enabled prayer=%s session=%s", cs.Prayer, sess.ID)
	s.bus.Publish(events.EventSilenceChanged, map[string]any{"layer": layerName, "silence": false, "prayer": cs.Prayer})
	s.bus.Publish(events.EventSessionRecorded, map[string]any{"layer": layerName, "session_id": sess.ID})
	return true, nil
}

type inProgressOutcome int

const (
	applied inProgressOutcome = iota
	respected
	enableFailed
)

// applyInProgress enables silence for a window already underway unless the
// user turned silence off during it. An Unrestricted override caused by the
// app's own DISABLE inside this window (back-to-back prayers) is not a manual
// choice and is re-applied.
func (s *Scheduler) applyInProgress(ctx context.Context, p model.Prayer, start time.Time, lastDisable *time.Time) (inProgressOutcome, error) {
	override, err := s.bridge.QueryOverrideState(ctx)
	if err != nil {
		s.logger.Warn("override query failed, assuming restricted prayer=%s error=%v", p.Name, err)
		override = dnd.Restricted
	}
	systemDisabled := lastDisable != nil && !lastDisable.Before(start)
	if override == dnd.Unrestricted && !systemDisabled {
		s.logger.Info("window in progress but silence was turned off manually, respecting it prayer=%s", p.Name)
		s.record("SKIP_IN_PROGRESS", p.Name, true, map[string]any{"override": override.String()})
		return respected, nil
	}

	if !s.bridge.EnableSilence(ctx) {
		s.logger.Warn("in-progress enable failed prayer=%s", p.Name)
		s.record("ENABLE_IN_PROGRESS", p.Name, false, nil)
		return enableFailed, nil
	}
	cs := model.CurrentSilence{Prayer: p.Name, Start: start, DurationMinutes: p.DurationMinutes}
	if err := s.store.BeginSilence(cs); err != nil {
		return applied, fmt.Errorf("record current silence %s: %w", p.Name, err)
	}
	s.logger.Info("window in progress, silence applied prayer=%s start=%s", p.Name, start.Format(time.RFC3339))
	s.record("ENABLE_IN_PROGRESS", p.Name, true, nil)
	s.bus.Publish(events.EventSilenceChanged, map[string]any{"layer": layerName, "silence": true, "prayer": p.Name})
	return applied, nil
}

func (s *Scheduler) register(ctx context.Context, id int, at time.Time, p model.Prayer, action model.TimerAction) (timer.Timer, error) {
	return s.registerPayload(ctx, id, at, model.TimerPayload{
		Action:          action,
		PrayerID:        p.ID,
		PrayerName:      p.Name,
		DurationMinutes: p.DurationMinutes,
		ScheduledFor:    at,
	})
}

func (s *Scheduler) registerPayload(ctx context.Context, id int, at time.Time, payload model.TimerPayload) (timer.Timer, error) {
	if err := s.timers.Register(ctx, at, id, payload); err != nil {
		s.logger.Error("register timer failed id=%d action=%s error=%v", id, payload.Action, err)
		return timer.Timer{}, fmt.Errorf("register timer %d: %w", id, err)
	}
	s.logger.Debug("armed id=%d action=%s prayer=%s at=%s", id, payload.Action, payload.PrayerName, at.Format(time.RFC3339))
	return timer.Timer{ID: id, FireAt: at, Payload: payload}, nil
}

// cancelAll sweeps the fixed slot range, both snapshots and anything the
// backend still reports, plus the midnight id.
func (s *Scheduler) cancelAll(ctx context.Context, previous, current []model.Prayer) error {
	seen := map[int]bool{MidnightID: true}
	for p := 0; p < s.opts.MaxPrayerSlots; p++ {
		seen[EnableID(p)] = true
		seen[DisableID(p)] = true
	}
	for _, set := range [][]model.Prayer{previous, current} {
		for _, p := range set {
			seen[EnableID(p.ID)] = true
			seen[DisableID(p.ID)] = true
		}
	}
	if registered, err := s.timers.Registered(ctx); err == nil {
		for _, t := range registered {
			seen[t.ID] = true
		}
	}
	ids := make([]int, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return timer.CancelAll(ctx, s.timers, ids)
}

func (s *Scheduler) record(action, prayer string, ok bool, details map[string]any) {
	if err := s.audit.Record(layerName, action, prayer, ok, details); err != nil {
		s.logger.Warn("audit write failed error=%v", err)
	}
}

// NextMidnight returns the next local midnight strictly after now.
func NextMidnight(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
}

package alarm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/msageha/sakina/internal/dnd"
	"github.com/msageha/sakina/internal/events"
	"github.com/msageha/sakina/internal/model"
)

// HandleFire reacts to one fired timer. It is safe to call from a process
// that did not arm the timer: everything it needs comes from the payload and
// the durable state.
func (s *Scheduler) HandleFire(ctx context.Context, p model.TimerPayload) error {
	s.logger.Info("timer fired action=%s prayer=%s scheduled_for=%s", p.Action, p.PrayerName, formatInstant(p.ScheduledFor))

	switch p.Action {
	case model.ActionEnable:
		return s.handleEnable(ctx, p)
	case model.ActionDisable:
		return s.handleDisable(ctx, p)
	case model.ActionReschedule:
		_, err := s.Reschedule(ctx)
		return err
	case model.ActionRemindStart:
		s.remind(p, true)
		return nil
	case model.ActionRemindEnd:
		s.remind(p, false)
		_, err := s.Reschedule(ctx)
		return err
	default:
		return fmt.Errorf("unknown timer action %q", p.Action)
	}
}

func (s *Scheduler) handleEnable(ctx context.Context, p model.TimerPayload) error {
	now := s.clock.Now()
	dur := time.Duration(p.DurationMinutes) * time.Minute

	// A timer delivered after its whole window passed (machine asleep, daemon
	// down) must not silence the next hour. The reschedule re-arms what is due.
	if !p.ScheduledFor.IsZero() && !now.Before(p.ScheduledFor.Add(dur)) {
		s.logger.Warn("stale enable skipped prayer=%s scheduled_for=%s", p.PrayerName, formatInstant(p.ScheduledFor))
		s.record("ENABLE", p.PrayerName, false, map[string]any{"stale": true})
		_, err := s.Reschedule(ctx)
		return err
	}
	if !s.store.Load().IsGloballyActive {
		s.logger.Info("enable ignored, globally inactive prayer=%s", p.PrayerName)
		return nil
	}
	if !s.bridge.HasPermission(ctx) {
		s.logger.Warn("enable skipped: dnd permission missing prayer=%s", p.PrayerName)
		s.record("ENABLE", p.PrayerName, false, map[string]any{"reason": "permission"})
		return nil
	}
	if !s.bridge.EnableSilence(ctx) {
		s.record("ENABLE", p.PrayerName, false, nil)
		return nil
	}

	err := s.store.BeginSilence(model.CurrentSilence{Prayer: p.PrayerName, Start: now, DurationMinutes: p.DurationMinutes})
	if err != nil {
		err = fmt.Errorf("record current silence: %w", err)
	}
	s.record("ENABLE", p.PrayerName, true, map[string]any{"duration_minutes": p.DurationMinutes})
	s.bus.Publish(events.EventSilenceChanged, map[string]any{"layer": layerName, "silence": true, "prayer": p.PrayerName})
	if s.opts.Notify {
		s.send("Silence on", fmt.Sprintf("%s: notifications silenced for %d min", p.PrayerName, p.DurationMinutes))
	}
	return err
}

// handleDisable always restores notifications and always reschedules, even
// when recording the session failed or panicked.
func (s *Scheduler) handleDisable(ctx context.Context, p model.TimerPayload) error {
	var errs []error
	func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("panic handling DISABLE prayer=%s: %v", p.PrayerName, r)
				errs = append(errs, fmt.Errorf("disable %s: panic: %v", p.PrayerName, r))
			}
		}()
		if err := s.disable(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}()

	if _, err := s.Reschedule(ctx); err != nil {
		errs = append(errs, fmt.Errorf("reschedule after disable: %w", err))
	}
	return errors.Join(errs...)
}

func (s *Scheduler) disable(ctx context.Context, p model.TimerPayload) error {
	// Silence already off when the timer fires means the user ended the
	// window early.
	status := model.SessionCompleted
	if override, err := s.bridge.QueryOverrideState(ctx); err == nil && override == dnd.Unrestricted {
		status = model.SessionInterrupted
	}

	ok := s.bridge.DisableSilence(ctx)
	if !ok {
		s.logger.Warn("disable silence failed prayer=%s", p.PrayerName)
	}
	s.record("DISABLE", p.PrayerName, ok, nil)

	now := s.clock.Now()
	dur := time.Duration(p.DurationMinutes) * time.Minute
	fallbackStart := now.Add(-dur)
	if !p.ScheduledFor.IsZero() {
		fallbackStart = p.ScheduledFor.Add(-dur)
	}
	sess, err := s.store.CloseSilence(
		model.CurrentSilence{Prayer: p.PrayerName, Start: fallbackStart, DurationMinutes: p.DurationMinutes},
		now, status, model.SourceAlarm,
	)
	if err != nil {
		return fmt.Errorf("record session %s: %w", p.PrayerName, err)
	}
	s.logger.Info("session recorded prayer=%s status=%s start=%s end=%s", sess.PrayerName, sess.Status, formatInstant(sess.StartTime), formatInstant(sess.EndTime))
	s.bus.Publish(events.EventSilenceChanged, map[string]any{"layer": layerName, "silence": false, "prayer": p.PrayerName})
	s.bus.Publish(events.EventSessionRecorded, map[string]any{"layer": layerName, "session_id": sess.ID})

	if s.opts.Notify {
		s.send("Silence off", fmt.Sprintf("%s window ended, notifications restored", p.PrayerName))
	}
	return nil
}

// remind is the whole behavior of reminder mode: the platform cannot toggle
// silence, so the user is asked to. No session is logged.
func (s *Scheduler) remind(p model.TimerPayload, start bool) {
	if start {
		s.send("Prayer time: "+p.PrayerName, fmt.Sprintf("Turn on Do Not Disturb for %d min", p.DurationMinutes))
	} else {
		s.send(p.PrayerName+" window ended", "You can turn Do Not Disturb off")
	}
	s.record(string(p.Action), p.PrayerName, true, nil)
}

func (s *Scheduler) send(title, msg string) {
	if err := s.notifier.Send(title, msg); err != nil {
		s.logger.Debug("notification failed error=%v", err)
	}
}

func formatInstant(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}

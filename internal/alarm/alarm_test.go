package alarm

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/sakina/internal/dnd"
	"github.com/msageha/sakina/internal/lock"
	"github.com/msageha/sakina/internal/model"
	"github.com/msageha/sakina/internal/state"
	"github.com/msageha/sakina/internal/timer"
	"github.com/msageha/sakina/internal/window"
)

type recordingNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (r *recordingNotifier) Send(title, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	return nil
}

func (r *recordingNotifier) IsSupported() bool { return true }

type harness struct {
	sched  *Scheduler
	store  *state.Store
	timers *timer.FileTimers
	bridge *dnd.Memory
	clock  *window.FixedClock
	notes  *recordingNotifier
}

// 2026-03-10 is a Tuesday.
func at(hh, mm int) time.Time {
	return time.Date(2026, 3, 10, hh, mm, 0, 0, time.UTC)
}

func newHarness(t *testing.T, now time.Time, bridge dnd.Bridge) *harness {
	t.Helper()
	home := t.TempDir()
	guard := lock.NewGuard(filepath.Join(home, "locks"))
	h := &harness{
		store:  state.NewStore(home, filepath.Join(home, "state", "scheduling.yaml"), guard, nil),
		timers: timer.NewFileTimers(home, filepath.Join(home, "state", "timers.yaml"), guard),
		clock:  window.NewFixedClock(now),
		notes:  &recordingNotifier{},
	}
	if bridge == nil {
		h.bridge = dnd.NewMemory()
		bridge = h.bridge
	}
	h.sched = New(Deps{
		Store:    h.store,
		Timers:   h.timers,
		Bridge:   bridge,
		Clock:    h.clock,
		Notifier: h.notes,
	}, Options{Notify: true})
	return h
}

func fajrDhuhr() []model.Prayer {
	return []model.Prayer{
		{ID: 1, Name: "Fajr", ScheduledTime: "05:00", DurationMinutes: 15, IsEnabled: true},
		{ID: 2, Name: "Dhuhr", ScheduledTime: "13:00", DurationMinutes: 20, IsEnabled: true},
	}
}

func (h *harness) registered(t *testing.T) []timer.Timer {
	t.Helper()
	got, err := h.timers.Registered(context.Background())
	require.NoError(t, err)
	return got
}

func (h *harness) payload(t *testing.T, id int) model.TimerPayload {
	t.Helper()
	for _, tm := range h.registered(t) {
		if tm.ID == id {
			return tm.Payload
		}
	}
	t.Fatalf("timer %d not registered", id)
	return model.TimerPayload{}
}

func TestTimerIDs(t *testing.T) {
	assert.Equal(t, 1004, EnableID(2))
	assert.Equal(t, 1005, DisableID(2))
	for _, id := range []int{EnableID(7), DisableID(7)} {
		p, ok := PrayerIDOf(id)
		assert.True(t, ok)
		assert.Equal(t, 7, p)
	}
	_, ok := PrayerIDOf(MidnightID)
	assert.False(t, ok)
}

func TestSchedule_ArmsTransitionsAndMidnight(t *testing.T) {
	h := newHarness(t, at(12, 59), nil)

	res, err := h.sched.Schedule(context.Background(), model.NewSnapshot(fajrDhuhr(), true))
	require.NoError(t, err)
	assert.Empty(t, res.InProgress)

	got := h.registered(t)
	require.Equal(t, []int{EnableID(2), DisableID(2), MidnightID}, timer.IDs(got))
	assert.True(t, got[0].FireAt.Equal(at(13, 0)))
	assert.Equal(t, model.ActionEnable, got[0].Payload.Action)
	assert.True(t, got[1].FireAt.Equal(at(13, 20)))
	assert.Equal(t, model.ActionDisable, got[1].Payload.Action)
	assert.True(t, got[2].FireAt.Equal(time.Date(2026, 3, 11, 0, 0, 5, 0, time.UTC)))
	assert.Equal(t, model.ActionReschedule, got[2].Payload.Action)

	st := h.store.Load()
	assert.True(t, st.IsGloballyActive)
	assert.Len(t, st.Prayers, 2, "the snapshot is persisted before arming")
}

func TestSchedule_Idempotent(t *testing.T) {
	h := newHarness(t, at(4, 0), nil)
	snap := model.NewSnapshot(fajrDhuhr(), true)

	_, err := h.sched.Schedule(context.Background(), snap)
	require.NoError(t, err)
	first := h.registered(t)

	_, err = h.sched.Schedule(context.Background(), snap)
	require.NoError(t, err)
	second := h.registered(t)

	assert.Len(t, first, 5)
	assert.Equal(t, first, second)
}

func TestSchedule_GloballyInactiveArmsNothing(t *testing.T) {
	h := newHarness(t, at(12, 59), nil)
	ctx := context.Background()

	_, err := h.sched.Schedule(ctx, model.NewSnapshot(fajrDhuhr(), true))
	require.NoError(t, err)
	require.NotEmpty(t, h.registered(t))

	res, err := h.sched.Schedule(ctx, model.NewSnapshot(fajrDhuhr(), false))
	require.NoError(t, err)
	assert.Empty(t, res.Armed)
	assert.Empty(t, h.registered(t))
}

func TestSchedule_CancelsStaleIDs(t *testing.T) {
	h := newHarness(t, at(12, 59), nil)
	ctx := context.Background()

	far := model.Prayer{ID: 200, Name: "Tahajjud", ScheduledTime: "23:00", DurationMinutes: 30, IsEnabled: true}
	_, err := h.sched.Schedule(ctx, model.NewSnapshot(append(fajrDhuhr(), far), true))
	require.NoError(t, err)
	require.NoError(t, h.timers.Register(ctx, at(22, 0), 5000, model.TimerPayload{Action: model.ActionReschedule}))

	_, err = h.sched.Schedule(ctx, model.NewSnapshot(fajrDhuhr(), true))
	require.NoError(t, err)
	assert.Equal(t, []int{EnableID(2), DisableID(2), MidnightID}, timer.IDs(h.registered(t)))
}

func TestSchedule_SkipsDisabledAndInactiveDays(t *testing.T) {
	h := newHarness(t, at(4, 0), nil)
	prayers := []model.Prayer{
		{ID: 1, Name: "Fajr", ScheduledTime: "05:00", DurationMinutes: 15, IsEnabled: false},
		{ID: 2, Name: "Jumuah", ScheduledTime: "13:00", DurationMinutes: 45, IsEnabled: true, ActiveDays: []string{"Fri"}},
		{ID: 3, Name: "Broken", ScheduledTime: "25:00", DurationMinutes: 10, IsEnabled: true},
	}
	res, err := h.sched.Schedule(context.Background(), model.NewSnapshot(prayers, true))
	require.NoError(t, err)
	assert.Equal(t, []int{MidnightID}, timer.IDs(res.Armed))
}

func TestInProgress_UnrestrictedIsRespected(t *testing.T) {
	h := newHarness(t, at(13, 5), nil)
	h.bridge.SetSilence(false)

	res, err := h.sched.Schedule(context.Background(), model.NewSnapshot(fajrDhuhr(), true))
	require.NoError(t, err)

	enable, _ := h.bridge.Calls()
	assert.Zero(t, enable, "a manual override mid-window must not be clobbered")
	assert.Equal(t, []string{"Dhuhr"}, res.Respected)
	_, ok := h.store.Load().Current()
	assert.False(t, ok)
	assert.Contains(t, timer.IDs(h.registered(t)), DisableID(2), "the end transition is still armed")
}

func TestInProgress_RestrictedEnables(t *testing.T) {
	h := newHarness(t, at(13, 5), nil)
	h.bridge.SetSilence(true)

	res, err := h.sched.Schedule(context.Background(), model.NewSnapshot(fajrDhuhr(), true))
	require.NoError(t, err)

	enable, _ := h.bridge.Calls()
	assert.Equal(t, 1, enable)
	assert.Equal(t, []string{"Dhuhr"}, res.InProgress)
	cs, ok := h.store.Load().Current()
	require.True(t, ok)
	assert.Equal(t, "Dhuhr", cs.Prayer)
	assert.True(t, cs.Start.Equal(at(13, 0)))
	assert.Equal(t, 20, cs.DurationMinutes)
}

func TestInProgress_QueryFailureAssumesRestricted(t *testing.T) {
	h := newHarness(t, at(13, 5), nil)
	h.bridge.FailQueries(errors.New("dbus timeout"))

	res, err := h.sched.Schedule(context.Background(), model.NewSnapshot(fajrDhuhr(), true))
	require.NoError(t, err)
	assert.Equal(t, []string{"Dhuhr"}, res.InProgress)
	assert.True(t, h.bridge.IsSilenceActive(context.Background()))
}

func TestInProgress_ReappliesAfterOwnDisable(t *testing.T) {
	h := newHarness(t, at(13, 20), nil)
	ctx := context.Background()
	prayers := []model.Prayer{
		{ID: 2, Name: "Dhuhr", ScheduledTime: "13:00", DurationMinutes: 20, IsEnabled: true},
		{ID: 3, Name: "Rawatib", ScheduledTime: "13:15", DurationMinutes: 20, IsEnabled: true},
	}
	require.NoError(t, h.store.SavePrayers(prayers, true))
	h.bridge.SetSilence(true)
	require.NoError(t, h.store.BeginSilence(model.CurrentSilence{Prayer: "Dhuhr", Start: at(13, 0), DurationMinutes: 20}))

	// Dhuhr's DISABLE turns silence off while Rawatib is still running; the
	// reschedule that follows must not mistake that for a manual override.
	require.NoError(t, h.sched.HandleFire(ctx, model.TimerPayload{
		Action: model.ActionDisable, PrayerID: 2, PrayerName: "Dhuhr", DurationMinutes: 20, ScheduledFor: at(13, 20),
	}))

	assert.True(t, h.bridge.IsSilenceActive(ctx))
	cs, ok := h.store.Load().Current()
	require.True(t, ok)
	assert.Equal(t, "Rawatib", cs.Prayer)

	pending := h.store.PendingSessions()
	require.Len(t, pending, 1)
	assert.Equal(t, "Dhuhr", pending[0].PrayerName)
}

func TestInProgress_ManualOffSurvivesOverlappingDisable(t *testing.T) {
	h := newHarness(t, at(13, 0), nil)
	ctx := context.Background()
	prayers := []model.Prayer{
		{ID: 2, Name: "Dhuhr", ScheduledTime: "13:00", DurationMinutes: 20, IsEnabled: true},
		{ID: 3, Name: "Rawatib", ScheduledTime: "13:15", DurationMinutes: 20, IsEnabled: true},
	}
	require.NoError(t, h.store.SavePrayers(prayers, true))

	require.NoError(t, h.sched.HandleFire(ctx, model.TimerPayload{
		Action: model.ActionEnable, PrayerID: 2, PrayerName: "Dhuhr", DurationMinutes: 20, ScheduledFor: at(13, 0),
	}))
	h.clock.Set(at(13, 15))
	require.NoError(t, h.sched.HandleFire(ctx, model.TimerPayload{
		Action: model.ActionEnable, PrayerID: 3, PrayerName: "Rawatib", DurationMinutes: 20, ScheduledFor: at(13, 15),
	}))
	h.clock.Set(at(13, 16))
	h.bridge.SetSilence(false)

	h.clock.Set(at(13, 20))
	require.NoError(t, h.sched.HandleFire(ctx, model.TimerPayload{
		Action: model.ActionDisable, PrayerID: 2, PrayerName: "Dhuhr", DurationMinutes: 20, ScheduledFor: at(13, 20),
	}))

	assert.False(t, h.bridge.IsSilenceActive(ctx), "the user's manual off must hold for Rawatib")
	enable, _ := h.bridge.Calls()
	assert.Equal(t, 2, enable)
	assert.Nil(t, h.store.Load().LastSystemDisableAt)

	pending := h.store.PendingSessions()
	require.Len(t, pending, 1)
	assert.Equal(t, "Dhuhr", pending[0].PrayerName)
	assert.Equal(t, model.SessionInterrupted, pending[0].Status)
}

func TestSchedule_ReleasesSilenceOfDisabledPrayer(t *testing.T) {
	h := newHarness(t, at(13, 5), nil)
	ctx := context.Background()
	require.NoError(t, h.store.SavePrayers(fajrDhuhr(), true))
	h.bridge.SetSilence(true)
	require.NoError(t, h.store.BeginSilence(model.CurrentSilence{Prayer: "Dhuhr", Start: at(13, 0), DurationMinutes: 20}))

	prayers := fajrDhuhr()
	prayers[1].IsEnabled = false
	_, err := h.sched.Schedule(ctx, model.NewSnapshot(prayers, true))
	require.NoError(t, err)

	assert.False(t, h.bridge.IsSilenceActive(ctx))
	_, ok := h.store.Load().Current()
	assert.False(t, ok)
	pending := h.store.PendingSessions()
	require.Len(t, pending, 1)
	assert.Equal(t, "Dhuhr", pending[0].PrayerName)
	assert.Equal(t, model.SessionInterrupted, pending[0].Status)
	assert.True(t, pending[0].EndTime.Equal(at(13, 5)))
	assert.NotContains(t, timer.IDs(h.registered(t)), DisableID(2))
}

func TestSchedule_ReleasedSilenceYieldsToOverlappingWindow(t *testing.T) {
	h := newHarness(t, at(13, 18), nil)
	ctx := context.Background()
	prayers := []model.Prayer{
		{ID: 2, Name: "Dhuhr", ScheduledTime: "13:00", DurationMinutes: 20, IsEnabled: true},
		{ID: 3, Name: "Rawatib", ScheduledTime: "13:15", DurationMinutes: 20, IsEnabled: true},
	}
	require.NoError(t, h.store.SavePrayers(prayers, true))
	h.bridge.SetSilence(true)
	require.NoError(t, h.store.BeginSilence(model.CurrentSilence{Prayer: "Dhuhr", Start: at(13, 0), DurationMinutes: 20}))

	prayers[0].IsEnabled = false
	res, err := h.sched.Schedule(ctx, model.NewSnapshot(prayers, true))
	require.NoError(t, err)

	assert.Equal(t, []string{"Rawatib"}, res.InProgress)
	assert.True(t, h.bridge.IsSilenceActive(ctx))
	cs, ok := h.store.Load().Current()
	require.True(t, ok)
	assert.Equal(t, "Rawatib", cs.Prayer)
}

func TestEndToEnd_DhuhrSession(t *testing.T) {
	h := newHarness(t, at(12, 59), nil)
	ctx := context.Background()

	_, err := h.sched.Schedule(ctx, model.NewSnapshot(fajrDhuhr(), true))
	require.NoError(t, err)
	enable := h.payload(t, EnableID(2))
	disable := h.payload(t, DisableID(2))

	require.NoError(t, h.sched.HandleFire(ctx, enable))
	assert.True(t, h.bridge.IsSilenceActive(ctx))
	require.NoError(t, h.sched.HandleFire(ctx, disable))

	assert.False(t, h.bridge.IsSilenceActive(ctx))
	pending := h.store.PendingSessions()
	require.Len(t, pending, 1)
	assert.Equal(t, "Dhuhr", pending[0].PrayerName)
	assert.Equal(t, 20, pending[0].DurationMinutes)
	assert.Equal(t, model.SessionCompleted, pending[0].Status)
	assert.Equal(t, model.SourceAlarm, pending[0].Source)
	assert.True(t, pending[0].EndTime.After(pending[0].StartTime))
	assert.Equal(t, []string{"Silence on", "Silence off"}, h.notes.titles)
}

func TestEndToEnd_RealTimeline(t *testing.T) {
	h := newHarness(t, at(12, 59), nil)
	ctx := context.Background()

	_, err := h.sched.Schedule(ctx, model.NewSnapshot(fajrDhuhr(), true))
	require.NoError(t, err)
	enable := h.payload(t, EnableID(2))
	disable := h.payload(t, DisableID(2))

	h.clock.Set(at(13, 0))
	require.NoError(t, h.sched.HandleFire(ctx, enable))
	h.clock.Set(at(13, 20))
	require.NoError(t, h.sched.HandleFire(ctx, disable))

	pending := h.store.PendingSessions()
	require.Len(t, pending, 1)
	assert.True(t, pending[0].StartTime.Equal(at(13, 0)))
	assert.True(t, pending[0].EndTime.Equal(at(13, 20)))

	// DISABLE always reschedules: the rollover is armed again, today's Dhuhr is not.
	assert.Equal(t, []int{MidnightID}, timer.IDs(h.registered(t)))
	require.NotNil(t, h.store.Load().LastSystemDisableAt)
}

func TestDisable_ManualOffIsInterrupted(t *testing.T) {
	h := newHarness(t, at(13, 0), nil)
	ctx := context.Background()
	require.NoError(t, h.store.SavePrayers(fajrDhuhr(), true))

	p := model.TimerPayload{Action: model.ActionEnable, PrayerID: 2, PrayerName: "Dhuhr", DurationMinutes: 20, ScheduledFor: at(13, 0)}
	require.NoError(t, h.sched.HandleFire(ctx, p))
	h.bridge.SetSilence(false)

	h.clock.Set(at(13, 20))
	p.Action = model.ActionDisable
	p.ScheduledFor = at(13, 20)
	require.NoError(t, h.sched.HandleFire(ctx, p))

	pending := h.store.PendingSessions()
	require.Len(t, pending, 1)
	assert.Equal(t, model.SessionInterrupted, pending[0].Status)
}

func TestDisable_WithoutRecordUsesPayload(t *testing.T) {
	h := newHarness(t, at(13, 20), nil)
	ctx := context.Background()
	require.NoError(t, h.store.SavePrayers(fajrDhuhr(), true))
	h.bridge.SetSilence(true)

	require.NoError(t, h.sched.HandleFire(ctx, model.TimerPayload{
		Action: model.ActionDisable, PrayerID: 2, PrayerName: "Dhuhr", DurationMinutes: 20, ScheduledFor: at(13, 20),
	}))
	pending := h.store.PendingSessions()
	require.Len(t, pending, 1)
	assert.True(t, pending[0].StartTime.Equal(at(13, 0)))
	assert.Equal(t, 20, pending[0].DurationMinutes)
}

func TestDisable_NeverSkippedWithoutNotifications(t *testing.T) {
	h := newHarness(t, at(13, 20), nil)
	h.sched.opts.Notify = false
	h.bridge.SetSilence(true)

	require.NoError(t, h.sched.HandleFire(context.Background(), model.TimerPayload{
		Action: model.ActionDisable, PrayerID: 2, PrayerName: "Dhuhr", DurationMinutes: 20,
	}))
	assert.False(t, h.bridge.IsSilenceActive(context.Background()))
	assert.Empty(t, h.notes.titles)
}

func TestEnable_StaleIsSkipped(t *testing.T) {
	h := newHarness(t, at(13, 30), nil)
	require.NoError(t, h.store.SavePrayers(fajrDhuhr(), true))

	require.NoError(t, h.sched.HandleFire(context.Background(), model.TimerPayload{
		Action: model.ActionEnable, PrayerID: 2, PrayerName: "Dhuhr", DurationMinutes: 20, ScheduledFor: at(13, 0),
	}))
	enable, _ := h.bridge.Calls()
	assert.Zero(t, enable)
	assert.Contains(t, timer.IDs(h.registered(t)), MidnightID, "a stale fire still reschedules")
}

func TestEnable_PermissionMissing(t *testing.T) {
	h := newHarness(t, at(13, 0), nil)
	require.NoError(t, h.store.SavePrayers(fajrDhuhr(), true))
	h.bridge.SetPermission(false)

	require.NoError(t, h.sched.HandleFire(context.Background(), model.TimerPayload{
		Action: model.ActionEnable, PrayerID: 2, PrayerName: "Dhuhr", DurationMinutes: 20,
	}))
	_, ok := h.store.Load().Current()
	assert.False(t, ok)
}

func TestEnable_GloballyInactiveIgnored(t *testing.T) {
	h := newHarness(t, at(13, 0), nil)
	require.NoError(t, h.store.SavePrayers(fajrDhuhr(), false))

	require.NoError(t, h.sched.HandleFire(context.Background(), model.TimerPayload{
		Action: model.ActionEnable, PrayerID: 2, PrayerName: "Dhuhr", DurationMinutes: 20,
	}))
	assert.False(t, h.bridge.IsSilenceActive(context.Background()))
}

func TestMidnightCrossingWindow(t *testing.T) {
	h := newHarness(t, time.Date(2026, 3, 11, 0, 10, 0, 0, time.UTC), nil)
	h.bridge.SetSilence(true)
	prayers := []model.Prayer{{ID: 5, Name: "Isha", ScheduledTime: "23:50", DurationMinutes: 30, IsEnabled: true}}

	res, err := h.sched.Schedule(context.Background(), model.NewSnapshot(prayers, true))
	require.NoError(t, err)
	assert.Equal(t, []string{"Isha"}, res.InProgress)

	got := h.registered(t)
	require.Equal(t, []int{DisableID(5), EnableID(5), MidnightID}, timer.IDs(got))
	assert.True(t, got[0].FireAt.Equal(time.Date(2026, 3, 11, 0, 20, 0, 0, time.UTC)))
	assert.True(t, got[1].FireAt.Equal(time.Date(2026, 3, 11, 23, 50, 0, 0, time.UTC)))
}

func TestReschedule_Fire(t *testing.T) {
	h := newHarness(t, at(12, 59), nil)
	ctx := context.Background()
	require.NoError(t, h.store.SavePrayers(fajrDhuhr(), true))

	require.NoError(t, h.sched.HandleFire(ctx, model.TimerPayload{Action: model.ActionReschedule}))
	assert.Equal(t, []int{EnableID(2), DisableID(2), MidnightID}, timer.IDs(h.registered(t)))
}

func TestReminderMode(t *testing.T) {
	h := newHarness(t, at(12, 59), dnd.Unsupported{})
	ctx := context.Background()

	res, err := h.sched.Schedule(ctx, model.NewSnapshot(fajrDhuhr(), true))
	require.NoError(t, err)
	assert.True(t, res.Reminder)
	assert.Equal(t, model.ActionRemindStart, h.payload(t, EnableID(2)).Action)
	assert.Equal(t, model.ActionRemindEnd, h.payload(t, DisableID(2)).Action)

	require.NoError(t, h.sched.HandleFire(ctx, h.payload(t, EnableID(2))))
	require.NoError(t, h.sched.HandleFire(ctx, h.payload(t, DisableID(2))))
	assert.Equal(t, []string{"Prayer time: Dhuhr", "Dhuhr window ended"}, h.notes.titles)
	assert.Empty(t, h.store.PendingSessions(), "reminder mode never logs sessions")
}

func TestReminderMode_InProgressNotEnabled(t *testing.T) {
	h := newHarness(t, at(13, 5), dnd.Unsupported{})
	res, err := h.sched.Schedule(context.Background(), model.NewSnapshot(fajrDhuhr(), true))
	require.NoError(t, err)
	assert.Empty(t, res.InProgress)
	assert.Empty(t, res.Respected)
}

func TestStop_CancelsEverything(t *testing.T) {
	h := newHarness(t, at(12, 59), nil)
	ctx := context.Background()
	require.NoError(t, h.sched.Arm(ctx, model.NewSnapshot(fajrDhuhr(), true)))
	require.NotEmpty(t, h.registered(t))

	require.NoError(t, h.sched.Stop(ctx))
	assert.Empty(t, h.registered(t))
}

func TestHandleFire_UnknownAction(t *testing.T) {
	h := newHarness(t, at(12, 59), nil)
	assert.Error(t, h.sched.HandleFire(context.Background(), model.TimerPayload{Action: "SNOOZE"}))
}

func TestNextMidnight(t *testing.T) {
	assert.True(t, NextMidnight(at(0, 0)).Equal(time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)))
	assert.True(t, NextMidnight(at(23, 59)).Equal(time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)))
}

package timer

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/sakina/internal/lock"
	"github.com/msageha/sakina/internal/model"
)

func newTestFileTimers(t *testing.T) *FileTimers {
	t.Helper()
	home := t.TempDir()
	return NewFileTimers(home, filepath.Join(home, "state", "timers.yaml"), lock.NewGuard(filepath.Join(home, "locks")))
}

var base = time.Date(2026, 3, 10, 12, 59, 0, 0, time.UTC)

func TestFileTimers_RegisterReplacesSameID(t *testing.T) {
	ft := newTestFileTimers(t)
	ctx := context.Background()

	require.NoError(t, ft.Register(ctx, base.Add(time.Minute), 1004, model.TimerPayload{Action: model.ActionEnable, PrayerName: "Dhuhr"}))
	require.NoError(t, ft.Register(ctx, base.Add(2*time.Minute), 1004, model.TimerPayload{Action: model.ActionEnable, PrayerName: "Dhuhr"}))
	require.NoError(t, ft.Register(ctx, base.Add(21*time.Minute), 1005, model.TimerPayload{Action: model.ActionDisable, PrayerName: "Dhuhr"}))

	got, err := ft.Registered(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{1004, 1005}, IDs(got))
	assert.True(t, got[0].FireAt.Equal(base.Add(2*time.Minute)))
	assert.Equal(t, model.ActionDisable, got[1].Payload.Action)
}

func TestFileTimers_CancelAbsentIsNoop(t *testing.T) {
	ft := newTestFileTimers(t)
	ctx := context.Background()

	require.NoError(t, ft.Cancel(ctx, 42))
	require.NoError(t, ft.Register(ctx, base, 999, model.TimerPayload{Action: model.ActionReschedule}))
	require.NoError(t, ft.CancelMany(ctx, []int{1, 2, 999, 3}))

	got, err := ft.Registered(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFileTimers_ClaimDue(t *testing.T) {
	ft := newTestFileTimers(t)
	ctx := context.Background()

	require.NoError(t, ft.Register(ctx, base.Add(21*time.Minute), 1005, model.TimerPayload{Action: model.ActionDisable}))
	require.NoError(t, ft.Register(ctx, base.Add(time.Minute), 1004, model.TimerPayload{Action: model.ActionEnable}))
	require.NoError(t, ft.Register(ctx, base.Add(11*time.Hour), 999, model.TimerPayload{Action: model.ActionReschedule}))

	next, ok, err := ft.NextFireAt(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, next.Equal(base.Add(time.Minute)))

	due, err := ft.ClaimDue(ctx, base)
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = ft.ClaimDue(ctx, base.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []int{1004, 1005}, IDs(due), "due timers come back in fire order")

	left, _ := ft.Registered(ctx)
	assert.Equal(t, []int{999}, IDs(left))

	due, _ = ft.ClaimDue(ctx, base.Add(30*time.Minute))
	assert.Empty(t, due, "a claimed timer never fires twice")
}

func TestFileTimers_ChangedSignal(t *testing.T) {
	ft := newTestFileTimers(t)
	require.NoError(t, ft.Register(context.Background(), base, 1, model.TimerPayload{Action: model.ActionEnable}))

	select {
	case <-ft.Changed():
	default:
		t.Fatal("expected a change notification after Register")
	}
}

const errUnitExists = "org.freedesktop.systemd1.UnitExists"

// fakeUnitManager keeps timers and their services loaded the way the user
// manager does: stopping a timer leaves a running service in place.
type fakeUnitManager struct {
	mu      sync.Mutex
	units   map[string][]property
	started []string
	stopped []string
}

func newFakeUnitManager() *fakeUnitManager {
	return &fakeUnitManager{units: make(map[string][]property)}
}

func (f *fakeUnitManager) StartTransientUnit(_ context.Context, name string, props []property, aux []auxUnit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := []string{name}
	for _, a := range aux {
		names = append(names, a.Name)
	}
	for _, n := range names {
		if _, ok := f.units[n]; ok {
			return dbus.Error{Name: errUnitExists, Body: []any{"unit " + n + " already exists"}}
		}
	}
	f.units[name] = props
	for _, a := range aux {
		f.units[a.Name] = a.Properties
	}
	f.started = append(f.started, name)
	return nil
}

func (f *fakeUnitManager) StopUnit(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.units[name]; !ok {
		return dbus.Error{Name: errNoSuchUnit}
	}
	delete(f.units, name)
	f.stopped = append(f.stopped, name)
	return nil
}

func (f *fakeUnitManager) ListUnitNames(_ context.Context, pattern string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for n := range f.units {
		if ok, _ := path.Match(pattern, n); ok {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names, nil
}

// loaded returns the loaded unit names for id with the given suffix.
func (f *fakeUnitManager) loaded(id int, suffix string) []string {
	names, _ := f.ListUnitNames(context.Background(), fmt.Sprintf("sakina-alarm-%d-*%s", id, suffix))
	return names
}

// elapse unloads the timer for id and leaves its service running.
func (f *fakeUnitManager) elapse(id int) {
	for _, n := range f.loaded(id, ".timer") {
		f.mu.Lock()
		delete(f.units, n)
		f.mu.Unlock()
	}
}

func newTestSystemdTimers(t *testing.T, mgr *fakeUnitManager, wake bool) *SystemdTimers {
	t.Helper()
	st := newSystemdTimers(mgr, newTestFileTimers(t), "/usr/bin/sakina", "/home/u/.local/share/sakina", wake)
	st.now = func() time.Time { return base }
	return st
}

func TestUnitNames(t *testing.T) {
	assert.Equal(t, "sakina-alarm-1004-1773147540.timer", UnitName(1004, 1773147540))
	assert.Equal(t, "sakina-alarm-1004-1773147540.service", ServiceName(1004, 1773147540))

	id, ok := unitID(UnitName(999, 42))
	assert.True(t, ok)
	assert.Equal(t, 999, id)
	_, ok = unitID("sakina-alarm-1004.timer")
	assert.False(t, ok)
}

func TestSystemdTimers_RegisterCancel(t *testing.T) {
	mgr := newFakeUnitManager()
	st := newTestSystemdTimers(t, mgr, true)
	ctx := context.Background()

	payload := model.TimerPayload{Action: model.ActionEnable, PrayerID: 2, PrayerName: "Dhuhr", DurationMinutes: 20}
	require.NoError(t, st.Register(ctx, base.Add(time.Minute), 1004, payload))

	timers := mgr.loaded(1004, ".timer")
	require.Len(t, timers, 1)
	assert.Len(t, mgr.loaded(1004, ".service"), 1)
	props := mgr.units[timers[0]]
	var sawCalendar, sawWake bool
	for _, p := range props {
		switch p.Name {
		case "TimersCalendar":
			sawCalendar = true
			cal, ok := p.Value.Value().([]struct{ Base, Spec string })
			require.True(t, ok)
			assert.Equal(t, "OnCalendar", cal[0].Base)
			assert.Equal(t, "2026-03-10 13:00:00 UTC", cal[0].Spec)
		case "WakeSystem":
			sawWake = true
			assert.Equal(t, true, p.Value.Value())
		}
	}
	assert.True(t, sawCalendar)
	assert.True(t, sawWake)

	got, err := st.Registered(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{1004}, IDs(got))

	require.NoError(t, st.CancelMany(ctx, []int{1000, 1001, 1004, 999}))
	assert.Equal(t, timers, mgr.stopped)
	got, _ = st.Registered(ctx)
	assert.Empty(t, got)

	require.NoError(t, st.Cancel(ctx, 1004), "cancelling a missing unit is not an error")
}

func TestSystemdTimers_RearmReplacesLoadedTimer(t *testing.T) {
	mgr := newFakeUnitManager()
	st := newTestSystemdTimers(t, mgr, false)
	ctx := context.Background()

	require.NoError(t, st.Register(ctx, base, 1004, model.TimerPayload{Action: model.ActionEnable}))
	first := mgr.loaded(1004, ".timer")
	require.NoError(t, st.Register(ctx, base.Add(time.Hour), 1004, model.TimerPayload{Action: model.ActionEnable}))

	second := mgr.loaded(1004, ".timer")
	require.Len(t, second, 1)
	assert.NotEqual(t, first, second)
	assert.Equal(t, first, mgr.stopped)
}

func TestSystemdTimers_RearmFromRunningService(t *testing.T) {
	mgr := newFakeUnitManager()
	st := newTestSystemdTimers(t, mgr, false)
	ctx := context.Background()

	require.NoError(t, st.Register(ctx, base, 999, model.TimerPayload{Action: model.ActionReschedule}))
	mgr.elapse(999)
	require.Len(t, mgr.loaded(999, ".service"), 1, "the firing service is still loaded")

	// The fired reschedule arms the same id again from inside that service.
	require.NoError(t, st.Register(ctx, base.Add(24*time.Hour), 999, model.TimerPayload{Action: model.ActionReschedule}))
	assert.Len(t, mgr.loaded(999, ".timer"), 1)
	assert.Len(t, mgr.loaded(999, ".service"), 2)

	got, err := st.Registered(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{999}, IDs(got))
}

func TestSystemdTimers_CancelDoesNotMatchLongerIDs(t *testing.T) {
	mgr := newFakeUnitManager()
	st := newTestSystemdTimers(t, mgr, false)
	ctx := context.Background()

	require.NoError(t, st.Register(ctx, base, 1004, model.TimerPayload{Action: model.ActionEnable}))
	require.NoError(t, st.Cancel(ctx, 100))
	assert.Len(t, mgr.loaded(1004, ".timer"), 1)
}

func TestSystemdTimers_RegisteredDropsElapsedUnits(t *testing.T) {
	mgr := newFakeUnitManager()
	st := newTestSystemdTimers(t, mgr, false)
	ctx := context.Background()

	require.NoError(t, st.Register(ctx, base, 1004, model.TimerPayload{Action: model.ActionEnable}))
	require.NoError(t, st.Register(ctx, base, 1005, model.TimerPayload{Action: model.ActionDisable}))
	mgr.elapse(1004)

	got, err := st.Registered(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{1005}, IDs(got))
}

func TestFireArgs(t *testing.T) {
	p := model.TimerPayload{Action: model.ActionDisable, PrayerID: 3, PrayerName: "Asr", DurationMinutes: 15, ScheduledFor: base}
	got := FireArgs(1007, p)
	assert.Equal(t, []string{
		"alarm", "fire", "--id", "1007", "--action", "DISABLE", "--prayer-id", "3",
		"--prayer-name", "Asr", "--duration", "15", "--scheduled-for", "2026-03-10T12:59:00Z",
	}, got)
}

func TestOnCalendar(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*3600)
	assert.Equal(t, "2026-03-10 10:00:00 UTC", OnCalendar(time.Date(2026, 3, 10, 13, 0, 0, 0, loc)))
}

// singleCanceller only supports one-by-one cancellation.
type singleCanceller struct {
	cancelled []int
	failOn    int
}

func (s *singleCanceller) Register(context.Context, time.Time, int, model.TimerPayload) error {
	return nil
}

func (s *singleCanceller) Cancel(_ context.Context, id int) error {
	if id == s.failOn {
		return errors.New("bus hiccup")
	}
	s.cancelled = append(s.cancelled, id)
	return nil
}

func (s *singleCanceller) Registered(context.Context) ([]Timer, error) { return nil, nil }

func TestCancelAll_FallsBackToSingleCancel(t *testing.T) {
	sc := &singleCanceller{failOn: 1001}
	err := CancelAll(context.Background(), sc, []int{999, 1000, 1001, 1002})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cancel timer 1001")
	assert.Equal(t, []int{999, 1000, 1002}, sc.cancelled, "a failure does not stop the sweep")
}

func TestCancelAll_UsesBatch(t *testing.T) {
	ft := newTestFileTimers(t)
	ctx := context.Background()
	require.NoError(t, ft.Register(ctx, base, 1000, model.TimerPayload{Action: model.ActionEnable}))
	require.NoError(t, ft.Register(ctx, base, 1001, model.TimerPayload{Action: model.ActionDisable}))

	require.NoError(t, CancelAll(ctx, ft, []int{1000, 1001, 5000}))
	got, err := ft.Registered(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

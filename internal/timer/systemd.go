package timer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/msageha/sakina/internal/model"
)

const (
	systemdDest      = "org.freedesktop.systemd1"
	systemdPath      = dbus.ObjectPath("/org/freedesktop/systemd1")
	systemdManager   = "org.freedesktop.systemd1.Manager"
	errNoSuchUnit    = "org.freedesktop.systemd1.NoSuchUnit"
	unitPrefix       = "sakina-alarm-"
	calendarLayout   = "2006-01-02 15:04:05"
	accuracyMicros   = uint64(time.Second / time.Microsecond)
	transientJobMode = "replace"
)

// UnitName returns the transient timer unit for one arming of id. The stamp
// keeps names unique: a fire re-arms its own id while the service running it
// is still loaded under the previous name.
func UnitName(id int, stamp int64) string {
	return fmt.Sprintf("%s%d-%d.timer", unitPrefix, id, stamp)
}

// ServiceName returns the service the timer activates.
func ServiceName(id int, stamp int64) string {
	return fmt.Sprintf("%s%d-%d.service", unitPrefix, id, stamp)
}

// unitID extracts the timer id from a unit name built by UnitName.
func unitID(name string) (int, bool) {
	raw := strings.TrimSuffix(strings.TrimPrefix(name, unitPrefix), ".timer")
	idPart, _, ok := strings.Cut(raw, "-")
	if !ok {
		return 0, false
	}
	id, err := strconv.Atoi(idPart)
	return id, err == nil
}

// OnCalendar renders fireAt as an absolute systemd calendar spec in UTC, so a
// later local timezone change cannot shift it.
func OnCalendar(fireAt time.Time) string {
	return fireAt.UTC().Format(calendarLayout) + " UTC"
}

// FireArgs is the argv tail passed to "sakina alarm fire".
func FireArgs(id int, p model.TimerPayload) []string {
	args := []string{
		"alarm", "fire",
		"--id", strconv.Itoa(id),
		"--action", string(p.Action),
		"--prayer-id", strconv.Itoa(p.PrayerID),
		"--prayer-name", p.PrayerName,
		"--duration", strconv.Itoa(p.DurationMinutes),
	}
	if !p.ScheduledFor.IsZero() {
		args = append(args, "--scheduled-for", p.ScheduledFor.Format(time.RFC3339))
	}
	return args
}

type property struct {
	Name  string
	Value dbus.Variant
}

type auxUnit struct {
	Name       string
	Properties []property
}

type execStart struct {
	Path          string
	Argv          []string
	IgnoreFailure bool
}

// unitManager is the slice of the systemd manager API the backend needs.
type unitManager interface {
	StartTransientUnit(ctx context.Context, name string, props []property, aux []auxUnit) error
	StopUnit(ctx context.Context, name string) error
	ListUnitNames(ctx context.Context, pattern string) ([]string, error)
}

type dbusUnitManager struct {
	obj dbus.BusObject
}

func (m *dbusUnitManager) StartTransientUnit(ctx context.Context, name string, props []property, aux []auxUnit) error {
	var job dbus.ObjectPath
	return m.obj.CallWithContext(ctx, systemdManager+".StartTransientUnit", 0, name, transientJobMode, props, aux).Store(&job)
}

func (m *dbusUnitManager) StopUnit(ctx context.Context, name string) error {
	var job dbus.ObjectPath
	return m.obj.CallWithContext(ctx, systemdManager+".StopUnit", 0, name, transientJobMode).Store(&job)
}

type unitStatus struct {
	Name        string
	Description string
	LoadState   string
	ActiveState string
	SubState    string
	Followed    string
	Path        dbus.ObjectPath
	JobID       uint32
	JobType     string
	JobPath     dbus.ObjectPath
}

func (m *dbusUnitManager) ListUnitNames(ctx context.Context, pattern string) ([]string, error) {
	var units []unitStatus
	err := m.obj.CallWithContext(ctx, systemdManager+".ListUnitsByPatterns", 0, []string{}, []string{pattern}).Store(&units)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(units))
	for _, u := range units {
		names = append(names, u.Name)
	}
	return names, nil
}

// SystemdTimers arms transient user timers through the systemd user manager.
// Each timer starts "sakina alarm fire ..." as a oneshot service. Payloads
// and fire times are mirrored in a FileTimers registry, because systemd
// cannot return them; Registered reports mirror entries whose unit is still
// loaded.
type SystemdTimers struct {
	mgr        unitManager
	mirror     *FileTimers
	executable string
	home       string
	wakeSystem bool

	now       func() time.Time
	mu        sync.Mutex
	lastStamp int64
}

// NewSystemdTimers connects to the session bus, where the user manager lives.
func NewSystemdTimers(mirror *FileTimers, executable, home string, wakeSystem bool) (*SystemdTimers, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	mgr := &dbusUnitManager{obj: conn.Object(systemdDest, systemdPath)}
	return newSystemdTimers(mgr, mirror, executable, home, wakeSystem), nil
}

func newSystemdTimers(mgr unitManager, mirror *FileTimers, executable, home string, wakeSystem bool) *SystemdTimers {
	return &SystemdTimers{mgr: mgr, mirror: mirror, executable: executable, home: home, wakeSystem: wakeSystem, now: time.Now}
}

// stamp is strictly increasing within the process.
func (s *SystemdTimers) stamp() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.now().UnixNano()
	if v <= s.lastStamp {
		v = s.lastStamp + 1
	}
	s.lastStamp = v
	return v
}

func (s *SystemdTimers) Register(ctx context.Context, fireAt time.Time, id int, payload model.TimerPayload) error {
	if err := s.Cancel(ctx, id); err != nil {
		return err
	}

	stamp := s.stamp()
	unit := UnitName(id, stamp)
	argv := append([]string{s.executable, "--home", s.home}, FireArgs(id, payload)...)
	timerProps := []property{
		{"Description", dbus.MakeVariant(fmt.Sprintf("sakina %s %s", payload.Action, payload.PrayerName))},
		{"TimersCalendar", dbus.MakeVariant([]struct{ Base, Spec string }{{"OnCalendar", OnCalendar(fireAt)}})},
		{"WakeSystem", dbus.MakeVariant(s.wakeSystem)},
		{"AccuracyUSec", dbus.MakeVariant(accuracyMicros)},
		{"RemainAfterElapse", dbus.MakeVariant(false)},
	}
	service := auxUnit{
		Name: ServiceName(id, stamp),
		Properties: []property{
			{"Description", dbus.MakeVariant("sakina alarm fire")},
			{"Type", dbus.MakeVariant("oneshot")},
			{"ExecStart", dbus.MakeVariant([]execStart{{Path: s.executable, Argv: argv}})},
		},
	}
	if err := s.mgr.StartTransientUnit(ctx, unit, timerProps, []auxUnit{service}); err != nil {
		return fmt.Errorf("start transient timer %s: %w", unit, err)
	}
	return s.mirror.Register(ctx, fireAt, id, payload)
}

func (s *SystemdTimers) Cancel(ctx context.Context, id int) error {
	names, err := s.mgr.ListUnitNames(ctx, fmt.Sprintf("%s%d-*.timer", unitPrefix, id))
	if err != nil {
		return fmt.Errorf("list timers for %d: %w", id, err)
	}
	for _, n := range names {
		if err := s.stop(ctx, n); err != nil {
			return err
		}
	}
	return s.mirror.Cancel(ctx, id)
}

// CancelMany stops only units that are loaded, then drops the ids from the
// mirror in one write.
func (s *SystemdTimers) CancelMany(ctx context.Context, ids []int) error {
	loaded, err := s.loadedUnits(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		for _, n := range loaded[id] {
			if err := s.stop(ctx, n); err != nil {
				return err
			}
		}
	}
	return s.mirror.CancelMany(ctx, ids)
}

// stop treats a unit that vanished since listing as stopped.
func (s *SystemdTimers) stop(ctx context.Context, unit string) error {
	err := s.mgr.StopUnit(ctx, unit)
	var dbusErr dbus.Error
	if errors.As(err, &dbusErr) && dbusErr.Name == errNoSuchUnit {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stop %s: %w", unit, err)
	}
	return nil
}

func (s *SystemdTimers) loadedUnits(ctx context.Context) (map[int][]string, error) {
	names, err := s.mgr.ListUnitNames(ctx, unitPrefix+"*.timer")
	if err != nil {
		return nil, fmt.Errorf("list timers: %w", err)
	}
	units := make(map[int][]string, len(names))
	for _, n := range names {
		if id, ok := unitID(n); ok {
			units[id] = append(units[id], n)
		}
	}
	return units, nil
}

func (s *SystemdTimers) Registered(ctx context.Context) ([]Timer, error) {
	loaded, err := s.loadedUnits(ctx)
	if err != nil {
		return nil, err
	}
	mirrored, err := s.mirror.Registered(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Timer, 0, len(mirrored))
	for _, t := range mirrored {
		if len(loaded[t.ID]) > 0 {
			out = append(out, t)
		}
	}
	return out, nil
}

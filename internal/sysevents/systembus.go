package sysevents

import (
	"context"
	"fmt"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/msageha/sakina/internal/events"
	"github.com/msageha/sakina/internal/logging"
)

const (
	propertiesIface   = "org.freedesktop.DBus.Properties"
	propertiesChanged = propertiesIface + ".PropertiesChanged"

	timedateDest  = "org.freedesktop.timedate1"
	timedatePath  = dbus.ObjectPath("/org/freedesktop/timedate1")
	timedateIface = "org.freedesktop.timedate1"

	login1Path      = dbus.ObjectPath("/org/freedesktop/login1")
	login1Manager   = "org.freedesktop.login1.Manager"
	prepareForSleep = login1Manager + ".PrepareForSleep"
)

// LocationSetter receives the new zone after a timezone change.
// *window.SystemClock satisfies it.
type LocationSetter interface {
	SetLocation(loc *time.Location)
}

// SystemBusWatcher listens on the system bus for timedated's Timezone
// property and logind's PrepareForSleep signal.
type SystemBusWatcher struct {
	bus          *events.Bus
	clock        LocationSetter
	logger       *logging.Logger
	loadLocation func(name string) (*time.Location, error)
}

func NewSystemBusWatcher(bus *events.Bus, clock LocationSetter, logger *logging.Logger) *SystemBusWatcher {
	if logger == nil {
		logger = logging.Discard()
	}
	return &SystemBusWatcher{bus: bus, clock: clock, logger: logger, loadLocation: time.LoadLocation}
}

func (w *SystemBusWatcher) Name() string { return "system-bus" }

func (w *SystemBusWatcher) Run(ctx context.Context) error {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return fmt.Errorf("connect system bus: %w", err)
	}
	defer conn.Close()

	matches := [][]dbus.MatchOption{
		{
			dbus.WithMatchObjectPath(timedatePath),
			dbus.WithMatchInterface(propertiesIface),
			dbus.WithMatchMember("PropertiesChanged"),
		},
		{
			dbus.WithMatchObjectPath(login1Path),
			dbus.WithMatchInterface(login1Manager),
			dbus.WithMatchMember("PrepareForSleep"),
		},
	}
	for _, m := range matches {
		if err := conn.AddMatchSignalContext(ctx, m...); err != nil {
			return fmt.Errorf("add match: %w", err)
		}
	}

	signals := make(chan *dbus.Signal, 16)
	conn.Signal(signals)
	defer conn.RemoveSignal(signals)

	readTZ := func() (string, error) {
		v, err := conn.Object(timedateDest, timedatePath).GetProperty(timedateIface + ".Timezone")
		if err != nil {
			return "", err
		}
		tz, _ := v.Value().(string)
		return tz, nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-signals:
			if !ok {
				return fmt.Errorf("system bus connection closed")
			}
			w.Handle(sig, readTZ)
		}
	}
}

// Handle interprets one signal. readTZ is used when timedated only reports
// the Timezone property as invalidated.
func (w *SystemBusWatcher) Handle(sig *dbus.Signal, readTZ func() (string, error)) {
	if sig == nil {
		return
	}
	switch sig.Name {
	case propertiesChanged:
		if sig.Path != timedatePath || len(sig.Body) < 3 {
			return
		}
		if iface, _ := sig.Body[0].(string); iface != timedateIface {
			return
		}
		tz := ""
		if changed, ok := sig.Body[1].(map[string]dbus.Variant); ok {
			if v, ok := changed["Timezone"]; ok {
				tz, _ = v.Value().(string)
			}
		}
		if tz == "" {
			invalidated, _ := sig.Body[2].([]string)
			if !contains(invalidated, "Timezone") || readTZ == nil {
				return
			}
			var err error
			if tz, err = readTZ(); err != nil {
				w.logger.Warn("read timezone failed error=%v", err)
				return
			}
		}
		w.applyTimezone(tz)
	case prepareForSleep:
		if len(sig.Body) < 1 {
			return
		}
		if sleeping, ok := sig.Body[0].(bool); ok && !sleeping {
			w.logger.Info("resumed from sleep")
			w.bus.Publish(events.EventResumed, map[string]any{"reason": "resume"})
		}
	}
}

func (w *SystemBusWatcher) applyTimezone(tz string) {
	if tz == "" {
		return
	}
	loc, err := w.loadLocation(tz)
	if err != nil {
		w.logger.Warn("unknown timezone tz=%s error=%v", tz, err)
	} else if w.clock != nil {
		w.clock.SetLocation(loc)
	}
	w.logger.Info("timezone changed tz=%s", tz)
	w.bus.Publish(events.EventTimezoneChanged, map[string]any{"reason": "timezone", "timezone": tz})
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

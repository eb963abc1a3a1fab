// Package app assembles the collaborators shared by the daemon and every
// short-lived CLI activation from a sakina home directory.
package app

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/msageha/sakina/internal/alarm"
	"github.com/msageha/sakina/internal/config"
	"github.com/msageha/sakina/internal/dnd"
	"github.com/msageha/sakina/internal/events"
	"github.com/msageha/sakina/internal/history"
	"github.com/msageha/sakina/internal/lock"
	"github.com/msageha/sakina/internal/logging"
	"github.com/msageha/sakina/internal/model"
	"github.com/msageha/sakina/internal/notify"
	"github.com/msageha/sakina/internal/state"
	"github.com/msageha/sakina/internal/timer"
	"github.com/msageha/sakina/internal/window"
)

const auditMaxSize = 10 * 1024 * 1024

// Runtime holds one activation's view of a sakina home.
type Runtime struct {
	Paths  config.Paths
	Config model.Config
	Logger *logging.Logger

	Store      *state.Store
	FileTimers *timer.FileTimers
	Timers     timer.Timers
	Bridge     dnd.Bridge
	Clock      *window.SystemClock
	Notifier   notify.Notifier
	Audit      *events.AuditLogger
	Bus        *events.Bus
	Alarm      *alarm.Scheduler
}

// Options adjust how a runtime is opened.
type Options struct {
	// LogOutput receives log lines. Nil means stderr.
	LogOutput io.Writer
	// Bridge replaces the configured DND backend.
	Bridge dnd.Bridge
	// Timers replaces the configured timer backend.
	Timers timer.Timers
}

// Open loads the config under home and builds every collaborator. Backends
// that cannot be reached degrade with a warning: the file timer backend
// stands in for systemd, and a missing audit log disables auditing.
func Open(home string, opts Options) (*Runtime, error) {
	cfg, err := config.Load(home)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	out := opts.LogOutput
	if out == nil {
		out = os.Stderr
	}
	logger := logging.New(out, logging.ParseLevel(cfg.Logging.Level), "sakina")

	paths := config.PathsFor(home, cfg.History.Path)
	guard := lock.NewGuard(paths.LocksDir)
	rt := &Runtime{
		Paths:      paths,
		Config:     cfg,
		Logger:     logger,
		Store:      state.NewStore(home, paths.State, guard, logger.With("state")),
		FileTimers: timer.NewFileTimers(home, paths.Timers, guard),
		Clock:      window.NewSystemClock(),
		Notifier:   notify.New(cfg.Notifications.Enabled, logger.With("notify")),
		Bus:        events.NewBus(64),
	}

	rt.Bridge = opts.Bridge
	if rt.Bridge == nil {
		if rt.Bridge, err = dnd.New(cfg.DND, logger.With("dnd")); err != nil {
			return nil, err
		}
	}

	rt.Timers = opts.Timers
	if rt.Timers == nil {
		rt.Timers = rt.openTimers()
	}

	if rt.Audit, err = events.NewAuditLogger(paths.AuditLog, auditMaxSize); err != nil {
		logger.Warn("audit log disabled error=%v", err)
		rt.Audit = nil
	}

	rt.Alarm = alarm.New(alarm.Deps{
		Store:    rt.Store,
		Timers:   rt.Timers,
		Bridge:   rt.Bridge,
		Clock:    rt.Clock,
		Notifier: rt.Notifier,
		Audit:    rt.Audit,
		Bus:      rt.Bus,
		Logger:   logger.With("layer2"),
	}, alarm.Options{
		MaxPrayerSlots: cfg.Scheduler.MaxPrayerSlots,
		MidnightOffset: time.Duration(cfg.Scheduler.MidnightOffsetSec) * time.Second,
		Notify:         cfg.Notifications.Enabled,
	})
	return rt, nil
}

func (rt *Runtime) openTimers() timer.Timers {
	if rt.Config.Alarm.Backend != "systemd" {
		return rt.FileTimers
	}
	exe := rt.Config.Alarm.Executable
	if exe == "" {
		var err error
		if exe, err = os.Executable(); err != nil {
			rt.Logger.Warn("cannot resolve executable, using file timers error=%v", err)
			return rt.FileTimers
		}
	}
	st, err := timer.NewSystemdTimers(rt.FileTimers, exe, rt.Paths.Home, rt.Config.Alarm.WakeSystem)
	if err != nil {
		rt.Logger.Warn("systemd unavailable, using file timers error=%v", err)
		return rt.FileTimers
	}
	return st
}

// UsesFileTimers reports whether timers are fired by the daemon's dispatcher
// rather than by the OS.
func (rt *Runtime) UsesFileTimers() bool {
	ft, ok := rt.Timers.(*timer.FileTimers)
	return ok && ft == rt.FileTimers
}

// TimerBackend names the timer backend in use.
func (rt *Runtime) TimerBackend() string {
	if rt.UsesFileTimers() {
		return "file"
	}
	return rt.Config.Alarm.Backend
}

// OpenHistory opens the session history database.
func (rt *Runtime) OpenHistory() (*history.Store, error) {
	return history.Open(rt.Paths.History, rt.Store, rt.Config.History.Deduplicate, rt.Logger.With("history"))
}

// LoadPrayers reads the prayers file, warning about and skipping invalid
// entries.
func (rt *Runtime) LoadPrayers() (model.PrayerSet, error) {
	set, invalid, err := config.LoadPrayers(rt.Paths.Home)
	if err != nil {
		return model.PrayerSet{}, err
	}
	for _, e := range invalid {
		rt.Logger.Warn("prayer ignored error=%v", e)
	}
	return set, nil
}

// Close releases the audit log and the bus.
func (rt *Runtime) Close() error {
	rt.Bus.Close()
	var errs []error
	if err := rt.Audit.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

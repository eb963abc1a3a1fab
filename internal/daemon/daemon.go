// Package daemon is the long-running host process. It owns the in-process
// loop (Layer 1), fires file-backed alarm timers, listens for system events
// that invalidate the schedule, drains the pending session log into history
// and serves the CLI over a Unix socket.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/msageha/sakina/internal/app"
	"github.com/msageha/sakina/internal/config"
	"github.com/msageha/sakina/internal/engine"
	"github.com/msageha/sakina/internal/events"
	"github.com/msageha/sakina/internal/history"
	"github.com/msageha/sakina/internal/lock"
	"github.com/msageha/sakina/internal/logging"
	"github.com/msageha/sakina/internal/loop"
	"github.com/msageha/sakina/internal/sysevents"
	"github.com/msageha/sakina/internal/uds"
)

// Daemon is the main sakina daemon process.
type Daemon struct {
	rt     *app.Runtime
	logger *logging.Logger

	fileLock *lock.FileLock
	server   *uds.Server
	loop     *loop.Scheduler
	coord    *engine.Coordinator
	history  *history.Store
	sources  []sysevents.Source

	triggers  chan trigger
	unsubs    []func()
	startedAt time.Time
	started   atomic.Bool
	last      atomic.Pointer[rescheduleRecord]

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	shutdown sync.Once
	stopped  chan struct{}
}

// New wires a daemon over rt. Nothing runs until Start.
func New(rt *app.Runtime) *Daemon {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := rt.Config
	logger := rt.Logger.With("daemon")

	d := &Daemon{
		rt:       rt,
		logger:   logger,
		fileLock: lock.NewFileLock(rt.Paths.DaemonLock),
		server:   uds.NewServer(rt.Paths.Socket, rt.Logger.With("uds")),
		triggers: make(chan trigger, 16),
		ctx:      ctx,
		cancel:   cancel,
		stopped:  make(chan struct{}),
	}
	d.loop = loop.New(loop.Deps{
		Bridge:   rt.Bridge,
		Sessions: rt.Store,
		Clock:    rt.Clock,
		Audit:    rt.Audit,
		Bus:      rt.Bus,
		Logger:   rt.Logger.With("layer1"),
	}, loop.Options{
		PollInterval: time.Duration(cfg.Scheduler.PollIntervalSec) * time.Second,
		ErrorBackoff: time.Duration(cfg.Scheduler.ErrorBackoffSec) * time.Second,
	})
	d.coord = engine.NewCoordinator(rt.Store, rt.Alarm, d.loop, rt.Logger.With("engine"))

	d.sources = []sysevents.Source{
		sysevents.NewClockWatcher(rt.Bus,
			time.Duration(cfg.Daemon.ClockCheckIntervalSec)*time.Second,
			time.Duration(cfg.Daemon.ClockJumpToleranceSec)*time.Second,
			rt.Logger.With("clock")),
		sysevents.NewFileWatcher(rt.Paths.Home, config.WatchedFiles(), rt.Bus, rt.Logger.With("files")),
	}
	if cfg.Daemon.WatchSystemBus {
		d.sources = append(d.sources, sysevents.NewSystemBusWatcher(rt.Bus, rt.Clock, rt.Logger.With("sysbus")))
	}
	return d
}

// Run starts the daemon and blocks until a signal or a shutdown request.
func (d *Daemon) Run() error {
	if err := d.Start(); err != nil {
		return err
	}
	d.waitSignals()
	return nil
}

// Start brings the daemon up without waiting for signals.
func (d *Daemon) Start() error {
	// Step 1: Acquire file lock
	if err := d.fileLock.TryLock(); err != nil {
		return fmt.Errorf("daemon lock: %w", err)
	}
	d.startedAt = time.Now()
	d.started.Store(true)
	d.logger.Info("daemon starting pid=%d home=%s", os.Getpid(), d.rt.Paths.Home)

	// Step 2: Open history. A broken database costs history, not silence.
	h, err := d.rt.OpenHistory()
	if err != nil {
		d.logger.Error("history unavailable error=%v", err)
	} else {
		d.history = h
	}

	// Step 3: Register UDS handlers and start the server
	d.registerHandlers()
	if err := d.server.Start(); err != nil {
		d.cleanup()
		d.started.Store(false)
		return fmt.Errorf("start UDS server: %w", err)
	}
	d.logger.Info("UDS server listening on %s", d.rt.Paths.Socket)

	// Step 4: Subscribe to the bus
	d.unsubs = append(d.unsubs,
		d.rt.Bus.SubscribeMany(events.RescheduleTriggers, func(e events.Event) {
			d.requestReschedule(e.Reason(), e.Type == events.EventFilesChanged)
		}),
		d.rt.Bus.Subscribe(events.EventSessionRecorded, func(events.Event) {
			d.drainHistory()
		}),
	)

	// Step 5: Boot. Overdue file timers fire first so a missed DISABLE
	// restores notifications before the schedule is rebuilt.
	if d.rt.UsesFileTimers() {
		d.dispatchDue()
	}
	d.reschedule(trigger{reason: "boot", reload: true})
	d.drainHistory()

	// Step 6: Start background loops
	d.wg.Add(1)
	go d.rescheduleLoop()
	if d.rt.UsesFileTimers() {
		d.wg.Add(1)
		go d.dispatchLoop()
	}
	sysevents.Start(d.ctx, &d.wg, d.logger, d.sources...)

	d.logger.Info("daemon ready timers=%s dnd=%s", d.rt.TimerBackend(), d.rt.Config.DND.Backend)
	return nil
}

// Done is closed once shutdown has finished.
func (d *Daemon) Done() <-chan struct{} { return d.stopped }

// waitSignals blocks until a shutdown signal or a shutdown request.
func (d *Daemon) waitSignals() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		d.logger.Info("received signal=%s, initiating graceful shutdown", sig)
	case <-d.stopped:
		return
	}

	// Second signal → force exit
	go func() {
		select {
		case <-sigCh:
			d.logger.Warn("received second signal, forcing exit")
			os.Exit(1)
		case <-d.stopped:
		}
	}()

	d.Shutdown()
}

// Shutdown performs graceful shutdown (idempotent via sync.Once).
func (d *Daemon) Shutdown() {
	d.shutdown.Do(func() {
		if !d.started.Load() {
			d.cancel()
			close(d.stopped)
			return
		}
		d.logger.Info("shutdown started")
		timeout := time.Duration(d.rt.Config.Daemon.ShutdownTimeoutSec) * time.Second
		if timeout <= 0 {
			timeout = 10 * time.Second
		}

		// 1. Cancel context (stops accepting new work)
		d.cancel()
		for _, unsub := range d.unsubs {
			unsub()
		}

		// 2. Stop producers
		if d.server != nil {
			d.server.Stop()
		}
		stopCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := d.loop.Stop(stopCtx); err != nil {
			d.logger.Warn("loop did not stop error=%v", err)
		}

		// 3. Drain in-flight with timeout
		done := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			d.logger.Info("all goroutines drained")
		case <-stopCtx.Done():
			d.logger.Warn("shutdown timeout after %s, some operations may be incomplete", timeout)
		}

		// 4. Cleanup
		d.cleanup()
		d.logger.Info("daemon stopped")
		close(d.stopped)
	})
}

// cleanup releases resources.
func (d *Daemon) cleanup() {
	if d.history != nil {
		if err := d.history.Close(); err != nil {
			d.logger.Warn("close history error=%v", err)
		}
	}
	os.Remove(d.rt.Paths.Socket)
	d.fileLock.Unlock()
}

func (d *Daemon) drainHistory() {
	if d.history == nil || d.ctx.Err() != nil {
		return
	}
	res, err := d.history.Drain(d.ctx)
	if err != nil {
		d.logger.Error("drain pending sessions failed error=%v", err)
		return
	}
	if res.Imported+res.Duplicates > 0 {
		d.logger.Debug("pending sessions drained imported=%d duplicates=%d", res.Imported, res.Duplicates)
	}
}

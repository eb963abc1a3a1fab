package daemon

import (
	"context"
	"os"

	"github.com/msageha/sakina/internal/model"
	"github.com/msageha/sakina/internal/uds"
)

// registerHandlers registers UDS request handlers.
func (d *Daemon) registerHandlers() {
	d.server.Handle(uds.CmdPing, func(context.Context, *uds.Request) *uds.Response {
		return uds.SuccessResponse(map[string]any{"status": "ok", "pid": os.Getpid()})
	})
	d.server.Handle(uds.CmdReschedule, d.handleReschedule)
	d.server.Handle(uds.CmdArmLoop, d.handleArmLoop)
	d.server.Handle(uds.CmdStopLoop, d.handleStopLoop)
	d.server.Handle(uds.CmdStatus, d.handleStatus)
	d.server.Handle(uds.CmdShutdown, func(context.Context, *uds.Request) *uds.Response {
		d.logger.Info("shutdown requested via UDS")
		go d.Shutdown()
		return uds.SuccessResponse(map[string]string{"status": "shutdown_accepted"})
	})
}

// handleReschedule runs a reschedule synchronously so the caller sees its
// outcome.
func (d *Daemon) handleReschedule(_ context.Context, req *uds.Request) *uds.Response {
	var params model.RescheduleParams
	if err := req.DecodeParams(&params); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
	}
	if params.Reason == "" {
		params.Reason = "cli"
	}
	if err := d.reschedule(trigger{reason: params.Reason, reload: params.Reload}); err != nil {
		return uds.ErrorResponse(uds.ErrCodeInternal, err.Error())
	}
	return uds.SuccessResponse(map[string]string{"status": "rescheduled"})
}

// handleArmLoop arms the in-process loop for a CLI activation that already
// synced the prayers and armed the durable layer.
func (d *Daemon) handleArmLoop(ctx context.Context, req *uds.Request) *uds.Response {
	var snap model.Snapshot
	if err := req.DecodeParams(&snap); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
	}
	if !d.loop.Available(ctx) {
		return uds.ErrorResponse(uds.ErrCodeUnavailable, "dnd backend cannot toggle silence")
	}
	if err := d.loop.Arm(ctx, snap); err != nil {
		return uds.ErrorResponse(uds.ErrCodeInternal, err.Error())
	}
	return uds.SuccessResponse(map[string]any{"status": "armed", "prayers": len(snap.Prayers)})
}

func (d *Daemon) handleStopLoop(ctx context.Context, _ *uds.Request) *uds.Response {
	if err := d.loop.Stop(ctx); err != nil {
		return uds.ErrorResponse(uds.ErrCodeInternal, err.Error())
	}
	return uds.SuccessResponse(map[string]string{"status": "stopped"})
}

func (d *Daemon) handleStatus(ctx context.Context, _ *uds.Request) *uds.Response {
	return uds.SuccessResponse(d.Status(ctx))
}

// Status reports the daemon's own view: loop state, backends and the last
// reschedule.
func (d *Daemon) Status(ctx context.Context) model.DaemonStatus {
	st := model.DaemonStatus{
		PID:           os.Getpid(),
		StartedAt:     d.startedAt,
		LoopAvailable: d.loop.Available(ctx),
		LoopRunning:   d.loop.Running(),
		LoopPrayers:   len(d.loop.Snapshot().Prayers),
		TimerBackend:  d.rt.TimerBackend(),
		DNDBackend:    d.rt.Config.DND.Backend,
	}
	if d.history != nil {
		if n, err := d.history.Count(ctx); err == nil {
			st.HistorySessions = n
		}
	}
	if rec := d.last.Load(); rec != nil {
		st.LastReschedule = rec.At
		st.LastRescheduleReason = rec.Reason
		st.LastRescheduleError = rec.Err
	}
	return st
}

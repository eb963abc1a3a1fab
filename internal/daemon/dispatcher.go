package daemon

import (
	"fmt"
	"time"

	"github.com/msageha/sakina/internal/model"
)

// dispatchLoop fires file-backed timers. It sleeps until the earliest timer,
// waking early when the registry changes and at least every dispatch
// interval so a wall-clock jump cannot strand a timer.
func (d *Daemon) dispatchLoop() {
	defer d.wg.Done()

	interval := time.Duration(d.rt.Config.Daemon.DispatchIntervalSec) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ft := d.rt.FileTimers

	for {
		wait := interval
		next, ok, err := ft.NextFireAt(d.ctx)
		if err != nil {
			d.logger.Warn("read timer registry failed error=%v", err)
		} else if ok {
			if until := next.Sub(d.rt.Clock.Now()); until < wait {
				wait = max(until, 0)
			}
		}

		t := time.NewTimer(wait)
		select {
		case <-d.ctx.Done():
			t.Stop()
			return
		case <-ft.Changed():
			t.Stop()
		case <-t.C:
			d.dispatchDue()
		}
	}
}

// dispatchDue claims every due timer and handles each in order. A failing
// or panicking fire does not stop the others.
func (d *Daemon) dispatchDue() {
	due, err := d.rt.FileTimers.ClaimDue(d.ctx, d.rt.Clock.Now())
	if err != nil {
		d.logger.Error("claim due timers failed error=%v", err)
		return
	}
	for _, t := range due {
		if err := d.fire(t.ID, t.Payload); err != nil {
			d.logger.Error("timer fire failed id=%d action=%s error=%v", t.ID, t.Payload.Action, err)
		}
	}
}

func (d *Daemon) fire(id int, p model.TimerPayload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	d.logger.Debug("dispatching timer id=%d action=%s", id, p.Action)
	return d.rt.Alarm.HandleFire(d.ctx, p)
}

package daemon

import (
	"time"
)

// trigger is one reason to rebuild the schedule. reload re-reads the prayers
// file; otherwise the durable snapshot is reused.
type trigger struct {
	reason string
	reload bool
}

type rescheduleRecord struct {
	At     time.Time
	Reason string
	Err    string
}

func (d *Daemon) requestReschedule(reason string, reload bool) {
	select {
	case d.triggers <- trigger{reason: reason, reload: reload}:
	case <-d.ctx.Done():
	default:
		d.logger.Debug("reschedule already queued, dropped reason=%s", reason)
	}
}

// rescheduleLoop serves queued triggers. Triggers that pile up while one
// reschedule runs are merged into the next.
func (d *Daemon) rescheduleLoop() {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case t := <-d.triggers:
			t = d.coalesce(t)
			d.reschedule(t)
		}
	}
}

func (d *Daemon) coalesce(t trigger) trigger {
	for {
		select {
		case next := <-d.triggers:
			t.reload = t.reload || next.reload
			if next.reason != t.reason {
				t.reason += "," + next.reason
			}
		default:
			return t
		}
	}
}

// reschedule runs the coordinator. With reload it syncs the prayers file
// first; a missing or unreadable file falls back to the durable snapshot.
func (d *Daemon) reschedule(t trigger) error {
	ctx := d.ctx
	d.logger.Info("reschedule reason=%s reload=%t", t.reason, t.reload)

	var err error
	if t.reload {
		set, loadErr := d.rt.LoadPrayers()
		if loadErr != nil {
			d.logger.Warn("prayers file unreadable, using stored snapshot error=%v", loadErr)
			err = d.coord.RescheduleStored(ctx)
		} else {
			err = d.coord.Reschedule(ctx, set.Prayers, set.IsGloballyActive)
		}
	} else {
		err = d.coord.RescheduleStored(ctx)
	}

	rec := &rescheduleRecord{At: time.Now(), Reason: t.reason}
	if err != nil {
		rec.Err = err.Error()
		d.logger.Error("reschedule failed reason=%s error=%v", t.reason, err)
	}
	d.last.Store(rec)
	return err
}

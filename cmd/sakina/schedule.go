package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/spf13/cobra"

	"github.com/msageha/sakina/internal/app"
	"github.com/msageha/sakina/internal/config"
	"github.com/msageha/sakina/internal/model"
	"github.com/msageha/sakina/internal/timer"
)

func newRescheduleCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:     "reschedule",
		Short:   "Sync prayers.yaml and re-arm both scheduling layers",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			return syncPrayers(cmd, rt)
		},
	}
}

// syncPrayers reads the prayers file and reschedules from it.
func syncPrayers(cmd *cobra.Command, rt *app.Runtime) error {
	set, err := rt.LoadPrayers()
	if err != nil {
		return fmt.Errorf("load prayers (run 'sakina setup' first?): %w", err)
	}
	ctx := commandContext(cmd)
	err = coordinator(rt).Reschedule(ctx, set.Prayers, set.IsGloballyActive)
	printArmed(ctx, cmd.OutOrStdout(), rt, len(set.Prayers), set.IsGloballyActive)
	return err
}

// newBootCmd is run once per login or boot (systemd user unit, autostart).
// OS timers do not survive a reboot, so the durable snapshot is re-armed.
func newBootCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "boot",
		Short: "Re-arm timers from the stored snapshot after boot or login",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx := commandContext(cmd)
			st := rt.Store.Load()
			if len(st.Prayers) == 0 {
				// Nothing stored yet: first boot after setup.
				if _, err := rt.LoadPrayers(); err == nil {
					return syncPrayers(cmd, rt)
				}
			}
			err = coordinator(rt).RescheduleStored(ctx)
			printArmed(ctx, cmd.OutOrStdout(), rt, len(st.Prayers), st.IsGloballyActive)
			return err
		},
	}
}

func newToggleCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:       "toggle on|off",
		Short:     "Turn automatic silencing on or off",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			active := args[0] == "on"
			rt, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			ctx := commandContext(cmd)

			var prayers []model.Prayer
			set, err := rt.LoadPrayers()
			switch {
			case err == nil:
				set.IsGloballyActive = active
				if err := config.SavePrayers(rt.Paths.Home, set); err != nil {
					return fmt.Errorf("save prayers: %w", err)
				}
				prayers = set.Prayers
			case errors.Is(err, fs.ErrNotExist):
				prayers = rt.Store.Load().Prayers
			default:
				return err
			}

			if !active {
				if err := restoreSilence(cmd, rt); err != nil {
					rt.Logger.Warn("restore notifications failed error=%v", err)
				}
			}
			err = coordinator(rt).Reschedule(ctx, prayers, active)
			printArmed(ctx, cmd.OutOrStdout(), rt, len(prayers), active)
			return err
		},
	}
}

// restoreSilence ends a silence window sakina started, so turning the
// schedule off never leaves notifications muted with no DISABLE armed.
func restoreSilence(cmd *cobra.Command, rt *app.Runtime) error {
	st := rt.Store.Load()
	cs, ok := st.Current()
	if !ok {
		return nil
	}
	ctx := commandContext(cmd)
	if !rt.Bridge.DisableSilence(ctx) {
		return fmt.Errorf("disable silence for %s", cs.Prayer)
	}
	sess, err := rt.Store.CloseSilence(cs, rt.Clock.Now(), model.SessionInterrupted, model.SourceAlarm)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Notifications restored (%s ended early)\n", sess.PrayerName)
	return nil
}

func printArmed(ctx context.Context, w io.Writer, rt *app.Runtime, prayers int, active bool) {
	if !active {
		fmt.Fprintf(w, "Scheduling paused (%d prayers kept), no timers armed\n", prayers)
		return
	}
	timers, err := rt.Timers.Registered(ctx)
	if err != nil {
		fmt.Fprintf(w, "Rescheduled %d prayers (timer list unavailable: %v)\n", prayers, err)
		return
	}
	timer.SortByFireAt(timers)
	fmt.Fprintf(w, "Rescheduled %d prayers, %d timers armed\n", prayers, len(timers))
	if len(timers) > 0 {
		t := timers[0]
		fmt.Fprintf(w, "  next: %s %s at %s\n", t.Payload.Action, t.Payload.PrayerName, t.FireAt.Local().Format("Mon 15:04"))
	}
}

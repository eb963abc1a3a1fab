package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/msageha/sakina/internal/alarm"
	"github.com/msageha/sakina/internal/model"
	"github.com/msageha/sakina/internal/timer"
)

func newAlarmCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alarm",
		Short: "Durable timer layer",
	}
	cmd.AddCommand(newAlarmFireCmd(g))
	cmd.AddCommand(newAlarmListCmd(g))
	return cmd
}

// newAlarmFireCmd is the entry point of an OS timer. systemd transient units
// exec it with the payload the timer was armed with.
func newAlarmFireCmd(g *globals) *cobra.Command {
	var (
		id           int
		action       string
		payload      model.TimerPayload
		scheduledFor string
	)
	cmd := &cobra.Command{
		Use:    "fire",
		Short:  "Handle a fired timer",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := model.ParseTimerAction(action)
			if err != nil {
				return err
			}
			payload.Action = a
			if scheduledFor != "" {
				t, err := time.Parse(time.RFC3339, scheduledFor)
				if err != nil {
					return fmt.Errorf("--scheduled-for: %w", err)
				}
				payload.ScheduledFor = t
			}

			rt, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			ctx := commandContext(cmd)

			// The unit is gone once it fired; drop its registry mirror.
			if err := rt.FileTimers.Cancel(ctx, id); err != nil {
				rt.Logger.Warn("drop fired timer id=%d error=%v", id, err)
			}
			rt.Logger.Info("timer fired id=%d action=%s prayer=%s", id, payload.Action, payload.PrayerName)
			return rt.Alarm.HandleFire(ctx, payload)
		},
	}
	f := cmd.Flags()
	f.IntVar(&id, "id", 0, "timer id")
	f.StringVar(&action, "action", "", "ENABLE, DISABLE, RESCHEDULE, REMIND_START or REMIND_END")
	f.IntVar(&payload.PrayerID, "prayer-id", 0, "prayer id")
	f.StringVar(&payload.PrayerName, "prayer-name", "", "prayer name")
	f.IntVar(&payload.DurationMinutes, "duration", 0, "silence duration in minutes")
	f.StringVar(&scheduledFor, "scheduled-for", "", "instant the timer was armed for (RFC3339)")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("action")
	return cmd
}

func newAlarmListCmd(g *globals) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered timers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			timers, err := rt.Timers.Registered(commandContext(cmd))
			if err != nil {
				return err
			}
			timer.SortByFireAt(timers)

			w := cmd.OutOrStdout()
			if jsonOutput {
				if timers == nil {
					timers = []timer.Timer{}
				}
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(timers)
			}
			if len(timers) == 0 {
				fmt.Fprintf(w, "No timers registered (%s)\n", rt.TimerBackend())
				return nil
			}
			tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tFIRES\tACTION\tPRAYER")
			for _, t := range timers {
				prayer := t.Payload.PrayerName
				if _, ok := alarm.PrayerIDOf(t.ID); !ok {
					prayer = "-"
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", t.ID, t.FireAt.Local().Format("Mon Jan 2 15:04"), t.Payload.Action, prayer)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

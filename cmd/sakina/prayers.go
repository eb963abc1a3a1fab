package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/msageha/sakina/internal/model"
	"github.com/msageha/sakina/internal/window"
)

func newPrayersCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prayers",
		Short: "Inspect and apply the prayer set",
	}
	cmd.AddCommand(newPrayersListCmd(g))
	cmd.AddCommand(&cobra.Command{
		Use:   "sync",
		Short: "Apply prayers.yaml (same as reschedule)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			return syncPrayers(cmd, rt)
		},
	})
	return cmd
}

func newPrayersListCmd(g *globals) *cobra.Command {
	var (
		jsonOutput bool
		stored     bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List prayers with their next occurrence",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			var set model.PrayerSet
			if stored {
				st := rt.Store.Load()
				set = model.PrayerSet{IsGloballyActive: st.IsGloballyActive, Prayers: st.Prayers}
			} else if set, err = rt.LoadPrayers(); err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(set)
			}

			now := rt.Clock.Now()
			if !set.IsGloballyActive {
				fmt.Fprintln(w, "Scheduling is paused (is_globally_active: false)")
			}
			tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tTIME\tDURATION\tDAYS\tNEXT")
			for _, p := range set.Prayers {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%dm\t%s\t%s\n",
					p.ID, p.Name, p.ScheduledTime, p.DurationMinutes, days(p), nextLabel(p, now))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().BoolVar(&stored, "stored", false, "show the snapshot the scheduler last used instead of prayers.yaml")
	return cmd
}

func days(p model.Prayer) string {
	if len(p.ActiveDays) == 0 {
		return "every day"
	}
	return strings.Join(p.ActiveDays, ",")
}

func nextLabel(p model.Prayer, now time.Time) string {
	if !p.IsEnabled {
		return "disabled"
	}
	ms, err := window.MillisUntil(now, p.ScheduledTime)
	if err != nil {
		return "invalid time"
	}
	return "in " + window.FormatCountdown(ms)
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/msageha/sakina/internal/model"
)

func newSessionsCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Silence sessions: the pending log and the history database",
	}
	cmd.AddCommand(newSessionsPendingCmd(g))
	cmd.AddCommand(newSessionsClearCmd(g))
	cmd.AddCommand(newSessionsDrainCmd(g))
	cmd.AddCommand(newSessionsHistoryCmd(g))
	return cmd
}

// newSessionsPendingCmd prints the pending log as the JSON array consumers
// drain from.
func newSessionsPendingCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "Print pending sessions as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			data, err := rt.Store.PendingSessionsJSON()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	}
}

func newSessionsClearCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Discard pending sessions without importing them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			n := len(rt.Store.PendingSessions())
			if err := rt.Store.ClearPendingSessions(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d pending sessions\n", n)
			return nil
		},
	}
}

func newSessionsDrainCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Import pending sessions into the history database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			hist, err := rt.OpenHistory()
			if err != nil {
				return err
			}
			defer hist.Close()

			res, err := hist.Drain(commandContext(cmd))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d sessions (%d duplicates dropped)\n", res.Imported, res.Duplicates)
			return nil
		},
	}
}

func newSessionsHistoryCmd(g *globals) *cobra.Command {
	var (
		limit      int
		jsonOutput bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			hist, err := rt.OpenHistory()
			if err != nil {
				return err
			}
			defer hist.Close()

			sessions, err := hist.List(commandContext(cmd), limit)
			if err != nil {
				return err
			}
			if jsonOutput {
				if sessions == nil {
					sessions = []model.Session{}
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(sessions)
			}
			return printSessions(cmd.OutOrStdout(), sessions)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum sessions to show")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func printSessions(w io.Writer, sessions []model.Session) error {
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No sessions recorded")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PRAYER\tSTART\tEND\tSTATUS\tSOURCE")
	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.PrayerName,
			s.StartTime.Local().Format("2006-01-02 15:04"), s.EndTime.Local().Format("15:04"), s.Status, s.Source)
	}
	return tw.Flush()
}

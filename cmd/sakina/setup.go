package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/msageha/sakina/internal/setup"
)

func newSetupCmd(g *globals) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Initialize the sakina home with a config and sample prayers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			home, err := g.resolveHome()
			if err != nil {
				return err
			}
			res, err := setup.Run(home, force)
			if err != nil {
				return fmt.Errorf("setup: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Initialized %s\n", res.Home)
			for _, p := range res.Written {
				fmt.Fprintf(out, "  wrote %s\n", p)
			}
			for _, p := range res.Kept {
				fmt.Fprintf(out, "  kept  %s\n", p)
			}
			fmt.Fprintln(out, "Edit prayers.yaml, then run: sakina daemon")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config and prayers files")
	return cmd
}

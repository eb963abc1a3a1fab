package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/msageha/sakina/internal/app"
	"github.com/msageha/sakina/internal/dnd"
)

// grant is one of the two capabilities the user may have to approve.
type grant struct {
	use, short string
	check      func(ctx context.Context, b dnd.Bridge) bool
	request    func(ctx context.Context, b dnd.Bridge, delay time.Duration) bool
	missing    string
}

func newPermissionCmd(g *globals) *cobra.Command {
	return newGrantCmd(g, grant{
		use:   "permission",
		short: "Check or request the do-not-disturb permission",
		check: func(ctx context.Context, b dnd.Bridge) bool { return b.HasPermission(ctx) },
		request: func(ctx context.Context, b dnd.Bridge, delay time.Duration) bool {
			return dnd.RequestPermissionAndWait(ctx, b, delay)
		},
		missing: "silence cannot be toggled; sakina will send reminders instead",
	})
}

func newPowerCmd(g *globals) *cobra.Command {
	return newGrantCmd(g, grant{
		use:   "power",
		short: "Check or request the power exemption (logind lingering)",
		check: func(ctx context.Context, b dnd.Bridge) bool { return b.IsPowerExemptionGranted(ctx) },
		request: func(ctx context.Context, b dnd.Bridge, delay time.Duration) bool {
			return dnd.RequestPowerExemptionAndWait(ctx, b, delay)
		},
		missing: "timers may not fire while you are logged out",
	})
}

func newGrantCmd(g *globals, gr grant) *cobra.Command {
	cmd := &cobra.Command{
		Use:   gr.use,
		Short: gr.short,
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show whether it is granted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(g, cmd, func(ctx context.Context, rt *app.Runtime) error {
				printGrant(cmd, gr, gr.check(ctx, rt.Bridge))
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "request",
		Short: "Ask for it and re-check after a short delay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(g, cmd, func(ctx context.Context, rt *app.Runtime) error {
				delay := time.Duration(rt.Config.Scheduler.PermissionRecheckDelayMs) * time.Millisecond
				ok := gr.request(ctx, rt.Bridge, delay)
				printGrant(cmd, gr, ok)
				if ok && gr.use == "permission" {
					// Windows skipped for lack of permission can be armed now.
					return coordinator(rt).RescheduleStored(ctx)
				}
				return nil
			})
		},
	})
	return cmd
}

func withRuntime(g *globals, cmd *cobra.Command, fn func(ctx context.Context, rt *app.Runtime) error) error {
	rt, err := g.open(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(commandContext(cmd), rt)
}

func printGrant(cmd *cobra.Command, gr grant, granted bool) {
	w := cmd.OutOrStdout()
	if granted {
		fmt.Fprintf(w, "%s: granted\n", gr.use)
		return
	}
	fmt.Fprintf(w, "%s: not granted (%s)\n", gr.use, gr.missing)
}

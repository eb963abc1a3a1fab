// Command sakina silences desktop notifications during prayer windows.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/msageha/sakina/internal/app"
	"github.com/msageha/sakina/internal/config"
	"github.com/msageha/sakina/internal/engine"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// globals are the persistent flags shared by every command.
type globals struct {
	home string
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "sakina",
		Short:         "Silence notifications during prayer windows",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.home, "home", "", "sakina home directory (default $SAKINA_HOME or ~/.local/share/sakina)")

	root.AddCommand(newSetupCmd(g))
	root.AddCommand(newDaemonCmd(g))
	root.AddCommand(newStatusCmd(g))
	root.AddCommand(newRescheduleCmd(g))
	root.AddCommand(newBootCmd(g))
	root.AddCommand(newToggleCmd(g))
	root.AddCommand(newPrayersCmd(g))
	root.AddCommand(newAlarmCmd(g))
	root.AddCommand(newSessionsCmd(g))
	root.AddCommand(newPermissionCmd(g))
	root.AddCommand(newPowerCmd(g))
	root.AddCommand(newVersionCmd())
	return root
}

func (g *globals) resolveHome() (string, error) {
	return config.HomeDir(g.home)
}

// open builds the runtime for a short-lived activation. Logs go to the
// command's stderr.
func (g *globals) open(cmd *cobra.Command) (*app.Runtime, error) {
	return g.openWith(cmd.ErrOrStderr())
}

func (g *globals) openWith(logOut io.Writer) (*app.Runtime, error) {
	home, err := g.resolveHome()
	if err != nil {
		return nil, err
	}
	return app.Open(home, app.Options{LogOutput: logOut})
}

// coordinator pairs the durable layer with the daemon's loop, reached over
// the socket. Without a daemon only the durable layer is armed.
func coordinator(rt *app.Runtime) *engine.Coordinator {
	return engine.NewCoordinator(rt.Store, rt.Alarm, engine.NewRemoteLoop(rt.Paths.Socket), rt.Logger.With("engine"))
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "sakina %s\n", version)
		},
	}
}

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/msageha/sakina/internal/config"
	"github.com/msageha/sakina/internal/daemon"
	"github.com/msageha/sakina/internal/logging"
)

func newDaemonCmd(g *globals) *cobra.Command {
	var logStderr bool
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the daemon: in-process loop, timer dispatch and event watchers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			home, err := g.resolveHome()
			if err != nil {
				return err
			}
			logFile, err := logging.OpenFile(config.PathsFor(home, "").DaemonLog)
			if err != nil {
				return err
			}
			defer logFile.Close()

			var out io.Writer = logFile
			if logStderr {
				out = io.MultiWriter(logFile, os.Stderr)
			}
			rt, err := g.openWith(out)
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := daemon.New(rt).Run(); err != nil {
				return fmt.Errorf("daemon: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&logStderr, "log-stderr", false, "also write logs to stderr")
	return cmd
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths lists every file and directory under a sakina home.
type Paths struct {
	Home       string
	StateDir   string
	State      string // state/scheduling.yaml
	Timers     string // state/timers.yaml
	LocksDir   string
	DaemonLock string
	LogsDir    string
	DaemonLog  string
	AuditLog   string
	History    string
	Socket     string
}

// PathsFor lays out the home directory. historyPath overrides the default
// database location when non-empty.
func PathsFor(home, historyPath string) Paths {
	p := Paths{
		Home:     home,
		StateDir: filepath.Join(home, "state"),
		LocksDir: filepath.Join(home, "locks"),
		LogsDir:  filepath.Join(home, "logs"),
		Socket:   filepath.Join(home, "sakina.sock"),
		History:  filepath.Join(home, "history.db"),
	}
	p.State = filepath.Join(p.StateDir, "scheduling.yaml")
	p.Timers = filepath.Join(p.StateDir, "timers.yaml")
	p.DaemonLock = filepath.Join(p.LocksDir, "daemon.lock")
	p.DaemonLog = filepath.Join(p.LogsDir, "daemon.log")
	p.AuditLog = filepath.Join(p.LogsDir, "transitions.jsonl")
	if historyPath != "" {
		if filepath.IsAbs(historyPath) {
			p.History = historyPath
		} else {
			p.History = filepath.Join(home, historyPath)
		}
	}
	return p
}

// HomeDir resolves the sakina home: the explicit flag value, then
// $SAKINA_HOME, then $XDG_DATA_HOME/sakina, then ~/.local/share/sakina.
func HomeDir(flag string) (string, error) {
	if flag != "" {
		return filepath.Abs(flag)
	}
	if v := os.Getenv(EnvHome); v != "" {
		return filepath.Abs(v)
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "sakina"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "sakina"), nil
}

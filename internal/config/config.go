// Package config resolves sakina's home directory and loads config and
// prayer files in YAML or TOML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/msageha/sakina/internal/model"
	yamlutil "github.com/msageha/sakina/internal/yaml"
)

const (
	EnvHome       = "SAKINA_HOME"
	EnvLogLevel   = "SAKINA_LOG_LEVEL"
	EnvDNDBackend = "SAKINA_DND_BACKEND"
)

var (
	validDNDBackends   = map[string]bool{"gnome": true, "command": true, "memory": true, "unsupported": true}
	validAlarmBackends = map[string]bool{"file": true, "systemd": true}
)

// Defaults returns the configuration used when no file sets a value.
func Defaults() model.Config {
	return model.Config{
		Daemon: model.DaemonConfig{
			ShutdownTimeoutSec:    10,
			DispatchIntervalSec:   30,
			ClockCheckIntervalSec: 30,
			ClockJumpToleranceSec: 90,
			WatchSystemBus:        true,
		},
		Logging: model.LoggingConfig{Level: "info"},
		Scheduler: model.SchedulerConfig{
			PollIntervalSec:          300,
			ErrorBackoffSec:          30,
			MidnightOffsetSec:        5,
			PermissionRecheckDelayMs: 750,
			MaxPrayerSlots:           64,
		},
		DND:           model.DNDConfig{Backend: "gnome", Linger: true},
		Alarm:         model.AlarmConfig{Backend: "file", WakeSystem: true},
		Notifications: model.NotificationsConfig{Enabled: true},
		History:       model.HistoryConfig{Deduplicate: true},
	}
}

// ApplyDefaults fills zero numeric and string fields from Defaults. Booleans
// are left as decoded since false is a meaningful setting.
func ApplyDefaults(cfg *model.Config) {
	def := Defaults()
	setInt := func(dst *int, v int) {
		if *dst <= 0 {
			*dst = v
		}
	}
	setStr := func(dst *string, v string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = v
		}
	}

	setInt(&cfg.Daemon.ShutdownTimeoutSec, def.Daemon.ShutdownTimeoutSec)
	setInt(&cfg.Daemon.DispatchIntervalSec, def.Daemon.DispatchIntervalSec)
	setInt(&cfg.Daemon.ClockCheckIntervalSec, def.Daemon.ClockCheckIntervalSec)
	setInt(&cfg.Daemon.ClockJumpToleranceSec, def.Daemon.ClockJumpToleranceSec)
	setStr(&cfg.Logging.Level, def.Logging.Level)
	setInt(&cfg.Scheduler.PollIntervalSec, def.Scheduler.PollIntervalSec)
	setInt(&cfg.Scheduler.ErrorBackoffSec, def.Scheduler.ErrorBackoffSec)
	setInt(&cfg.Scheduler.MidnightOffsetSec, def.Scheduler.MidnightOffsetSec)
	setInt(&cfg.Scheduler.PermissionRecheckDelayMs, def.Scheduler.PermissionRecheckDelayMs)
	setInt(&cfg.Scheduler.MaxPrayerSlots, def.Scheduler.MaxPrayerSlots)
	setStr(&cfg.DND.Backend, def.DND.Backend)
	setStr(&cfg.Alarm.Backend, def.Alarm.Backend)
}

// ApplyEnvOverrides lets the environment override a few settings without
// editing the file.
func ApplyEnvOverrides(cfg *model.Config) {
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv(EnvDNDBackend); v != "" {
		cfg.DND.Backend = v
	}
}

// Validate rejects settings the scheduler cannot act on.
func Validate(cfg model.Config) error {
	if !validDNDBackends[cfg.DND.Backend] {
		return fmt.Errorf("dnd.backend: unknown backend %q", cfg.DND.Backend)
	}
	if cfg.DND.Backend == "command" && len(cfg.DND.Commands.Enable) == 0 {
		return fmt.Errorf("dnd.commands.enable is required for the command backend")
	}
	if cfg.DND.Backend == "command" && len(cfg.DND.Commands.Disable) == 0 {
		return fmt.Errorf("dnd.commands.disable is required for the command backend")
	}
	if !validAlarmBackends[cfg.Alarm.Backend] {
		return fmt.Errorf("alarm.backend: unknown backend %q", cfg.Alarm.Backend)
	}
	return nil
}

// Load reads config.yaml, config.yml or config.toml from homeDir, whichever
// exists first. No file at all yields the defaults.
func Load(homeDir string) (model.Config, error) {
	cfg := Defaults()
	path, err := findFile(homeDir, "config")
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return model.Config{}, err
	default:
		if err := decodeFile(path, &cfg); err != nil {
			return model.Config{}, err
		}
	}

	ApplyDefaults(&cfg)
	ApplyEnvOverrides(&cfg)
	if err := Validate(cfg); err != nil {
		return model.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ConfigPath returns the config file in use, or the default YAML path.
func ConfigPath(homeDir string) string {
	if p, err := findFile(homeDir, "config"); err == nil {
		return p
	}
	return filepath.Join(homeDir, "config.yaml")
}

var fileExts = []string{".yaml", ".yml", ".toml"}

// WatchedFiles lists the base names of every config and prayers file variant.
// An edit to any of them invalidates the armed schedule.
func WatchedFiles() []string {
	var names []string
	for _, base := range []string{"config", "prayers"} {
		for _, ext := range fileExts {
			names = append(names, base+ext)
		}
	}
	return names
}

func findFile(dir, base string) (string, error) {
	for _, ext := range fileExts {
		p := filepath.Join(dir, base+ext)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("stat %s: %w", p, err)
		}
	}
	return "", fmt.Errorf("%s.{yaml,yml,toml} in %s: %w", base, dir, fs.ErrNotExist)
}

func decodeFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	switch filepath.Ext(path) {
	case ".toml":
		if _, err := toml.Decode(string(data), v); err != nil {
			return fmt.Errorf("decode TOML %s: %w", filepath.Base(path), err)
		}
	default:
		if err := yamlv3.Unmarshal(data, v); err != nil {
			return fmt.Errorf("decode YAML %s: %w", filepath.Base(path), err)
		}
	}
	return nil
}

// PrayersPath returns the prayers file in use, or the default YAML path.
func PrayersPath(homeDir string) string {
	if p, err := findFile(homeDir, "prayers"); err == nil {
		return p
	}
	return filepath.Join(homeDir, "prayers.yaml")
}

// LoadPrayers reads the prayer set. Invalid prayers are returned alongside
// their errors so the caller can warn and skip them.
func LoadPrayers(homeDir string) (model.PrayerSet, []error, error) {
	path, err := findFile(homeDir, "prayers")
	if err != nil {
		return model.PrayerSet{}, nil, err
	}
	var set model.PrayerSet
	if err := decodeFile(path, &set); err != nil {
		return model.PrayerSet{}, nil, err
	}

	var invalid []error
	valid := set.Prayers[:0]
	seen := make(map[int]bool, len(set.Prayers))
	for _, p := range set.Prayers {
		if err := p.Validate(); err != nil {
			invalid = append(invalid, err)
			continue
		}
		if seen[p.ID] {
			invalid = append(invalid, fmt.Errorf("prayer %d (%s): duplicate id", p.ID, p.Name))
			continue
		}
		seen[p.ID] = true
		valid = append(valid, p)
	}
	set.Prayers = valid
	return set, invalid, nil
}

// SavePrayers writes the prayer set back in the format of the existing file.
func SavePrayers(homeDir string, set model.PrayerSet) error {
	path := PrayersPath(homeDir)
	if filepath.Ext(path) == ".toml" {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(set); err != nil {
			return fmt.Errorf("encode TOML: %w", err)
		}
		if err := os.WriteFile(path+".tmp", buf.Bytes(), 0600); err != nil {
			return fmt.Errorf("write prayers: %w", err)
		}
		return os.Rename(path+".tmp", path)
	}
	return yamlutil.AtomicWrite(path, set)
}

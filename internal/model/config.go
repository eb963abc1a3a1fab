package model

type Config struct {
	Daemon        DaemonConfig        `yaml:"daemon" toml:"daemon"`
	Logging       LoggingConfig       `yaml:"logging" toml:"logging"`
	Scheduler     SchedulerConfig     `yaml:"scheduler" toml:"scheduler"`
	DND           DNDConfig           `yaml:"dnd" toml:"dnd"`
	Alarm         AlarmConfig         `yaml:"alarm" toml:"alarm"`
	Notifications NotificationsConfig `yaml:"notifications" toml:"notifications"`
	History       HistoryConfig       `yaml:"history" toml:"history"`
}

type DaemonConfig struct {
	ShutdownTimeoutSec    int  `yaml:"shutdown_timeout_sec" toml:"shutdown_timeout_sec"`
	DispatchIntervalSec   int  `yaml:"dispatch_interval_sec" toml:"dispatch_interval_sec"` // file timer scan fallback
	ClockCheckIntervalSec int  `yaml:"clock_check_interval_sec" toml:"clock_check_interval_sec"`
	ClockJumpToleranceSec int  `yaml:"clock_jump_tolerance_sec" toml:"clock_jump_tolerance_sec"`
	WatchSystemBus        bool `yaml:"watch_system_bus" toml:"watch_system_bus"` // timedate1 / login1 signals
}

type LoggingConfig struct {
	Level string `yaml:"level" toml:"level"`
}

type SchedulerConfig struct {
	PollIntervalSec          int `yaml:"poll_interval_sec" toml:"poll_interval_sec"`                     // idle poll when no window exists
	ErrorBackoffSec          int `yaml:"error_backoff_sec" toml:"error_backoff_sec"`                     // Layer 1 backoff after a failed iteration
	MidnightOffsetSec        int `yaml:"midnight_offset_sec" toml:"midnight_offset_sec"`                 // rollover timer fires this long after 00:00
	PermissionRecheckDelayMs int `yaml:"permission_recheck_delay_ms" toml:"permission_recheck_delay_ms"` // fire-and-recheck delay
	MaxPrayerSlots           int `yaml:"max_prayer_slots" toml:"max_prayer_slots"`                       // timer id sweep range on cancel
}

type DNDConfig struct {
	Backend  string            `yaml:"backend" toml:"backend"` // "gnome", "command", "memory", "unsupported"
	Commands DNDCommandsConfig `yaml:"commands" toml:"commands"`
	Linger   bool              `yaml:"linger" toml:"linger"` // use logind lingering as the power exemption
}

// DNDCommandsConfig holds argv templates for the command backend.
type DNDCommandsConfig struct {
	Enable      []string `yaml:"enable" toml:"enable"`
	Disable     []string `yaml:"disable" toml:"disable"`
	Query       []string `yaml:"query" toml:"query"`
	ActiveValue string   `yaml:"active_value" toml:"active_value"` // Query stdout meaning "silence on"
}

type AlarmConfig struct {
	Backend    string `yaml:"backend" toml:"backend"` // "file" or "systemd"
	Executable string `yaml:"executable" toml:"executable"`
	WakeSystem bool   `yaml:"wake_system" toml:"wake_system"`
}

type NotificationsConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`
}

type HistoryConfig struct {
	Path        string `yaml:"path" toml:"path"`
	Deduplicate bool   `yaml:"deduplicate" toml:"deduplicate"`
}

package dnd

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/msageha/sakina/internal/logging"
	"github.com/msageha/sakina/internal/model"
)

const gnomeSchema = "org.gnome.desktop.notifications"

// GnomePreset toggles GNOME's notification banners. show-banners=false is
// GNOME's "Do Not Disturb".
func GnomePreset() model.DNDCommandsConfig {
	return model.DNDCommandsConfig{
		Enable:      []string{"gsettings", "set", gnomeSchema, "show-banners", "false"},
		Disable:     []string{"gsettings", "set", gnomeSchema, "show-banners", "true"},
		Query:       []string{"gsettings", "get", gnomeSchema, "show-banners"},
		ActiveValue: "false",
	}
}

// Runner executes argv and returns trimmed stdout.
type Runner func(ctx context.Context, argv []string) (string, error)

// LookPath reports whether a program can be found.
type LookPath func(file string) (string, error)

func execRunner(ctx context.Context, argv []string) (string, error) {
	if len(argv) == 0 {
		return "", fmt.Errorf("empty command")
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s: %w (stderr: %s)", argv[0], err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// CommandBridge drives silence through external commands: gsettings for
// GNOME, or anything configured (dunstctl, makoctl, swaync-client ...).
type CommandBridge struct {
	cmds     model.DNDCommandsConfig
	power    PowerExemption
	run      Runner
	lookPath LookPath
	logger   *logging.Logger
}

// NewCommandBridge builds a bridge from argv templates. A nil runner executes
// real processes.
func NewCommandBridge(cmds model.DNDCommandsConfig, power PowerExemption, run Runner, logger *logging.Logger) *CommandBridge {
	if run == nil {
		run = execRunner
	}
	if power == nil {
		power = NotRequired{}
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &CommandBridge{cmds: cmds, power: power, run: run, lookPath: exec.LookPath, logger: logger}
}

func (b *CommandBridge) Supported() bool {
	return len(b.cmds.Enable) > 0 && len(b.cmds.Disable) > 0
}

// HasPermission is true when the configured tools are installed. Desktop
// notification daemons have no per-app grant beyond that.
func (b *CommandBridge) HasPermission(context.Context) bool {
	if !b.Supported() {
		return false
	}
	for _, argv := range [][]string{b.cmds.Enable, b.cmds.Disable} {
		if _, err := b.lookPath(argv[0]); err != nil {
			return false
		}
	}
	return true
}

func (b *CommandBridge) RequestPermission(ctx context.Context) {
	if !b.HasPermission(ctx) {
		b.logger.Warn("dnd tool not found; install it or set dnd.commands enable=%v", b.cmds.Enable)
	}
}

func (b *CommandBridge) toggle(ctx context.Context, argv []string, what string) bool {
	if !b.HasPermission(ctx) {
		b.logger.Warn("%s skipped: dnd permission missing", what)
		return false
	}
	if _, err := b.run(ctx, argv); err != nil {
		b.logger.Warn("%s failed error=%v", what, err)
		return false
	}
	return true
}

func (b *CommandBridge) EnableSilence(ctx context.Context) bool {
	return b.toggle(ctx, b.cmds.Enable, "enable silence")
}

func (b *CommandBridge) DisableSilence(ctx context.Context) bool {
	return b.toggle(ctx, b.cmds.Disable, "disable silence")
}

func (b *CommandBridge) query(ctx context.Context) (bool, error) {
	if len(b.cmds.Query) == 0 {
		return false, ErrUnsupported
	}
	out, err := b.run(ctx, b.cmds.Query)
	if err != nil {
		return false, err
	}
	want := strings.TrimSpace(b.cmds.ActiveValue)
	return strings.Trim(out, `"'`) == want, nil
}

func (b *CommandBridge) IsSilenceActive(ctx context.Context) bool {
	active, err := b.query(ctx)
	if err != nil {
		b.logger.Debug("silence query failed error=%v", err)
		return false
	}
	return active
}

func (b *CommandBridge) QueryOverrideState(ctx context.Context) (OverrideState, error) {
	active, err := b.query(ctx)
	if err != nil {
		return Restricted, err
	}
	if active {
		return Restricted, nil
	}
	return Unrestricted, nil
}

func (b *CommandBridge) IsPowerExemptionGranted(ctx context.Context) bool {
	return b.power.Granted(ctx)
}

func (b *CommandBridge) RequestPowerExemption(ctx context.Context) {
	b.power.Request(ctx)
}

// Package dnd adapts the desktop's "do not disturb" capability. Every
// operation degrades to a safe default (false or no-op) instead of failing.
package dnd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/msageha/sakina/internal/logging"
	"github.com/msageha/sakina/internal/model"
)

// ErrUnsupported is returned by override queries on platforms that cannot
// report silence state.
var ErrUnsupported = errors.New("dnd: not supported on this platform")

// OverrideState is the live silence policy as reported by the OS.
type OverrideState int

const (
	// Restricted means interruptions are filtered (silence is on).
	Restricted OverrideState = iota
	// Unrestricted means every notification gets through.
	Unrestricted
)

func (s OverrideState) String() string {
	if s == Unrestricted {
		return "Unrestricted"
	}
	return "Restricted"
}

// Bridge is the silence capability.
type Bridge interface {
	EnableSilence(ctx context.Context) bool
	DisableSilence(ctx context.Context) bool
	IsSilenceActive(ctx context.Context) bool
	HasPermission(ctx context.Context) bool
	RequestPermission(ctx context.Context)
	IsPowerExemptionGranted(ctx context.Context) bool
	RequestPowerExemption(ctx context.Context)
	// QueryOverrideState reports the live policy. The error is only a
	// "query failed" signal; callers decide the fallback.
	QueryOverrideState(ctx context.Context) (OverrideState, error)
	// Supported is false when the platform cannot toggle silence at all.
	Supported() bool
}

// PowerExemption keeps timers firing while the user is logged out or the
// session is idle.
type PowerExemption interface {
	Granted(ctx context.Context) bool
	Request(ctx context.Context)
}

// NotRequired is the exemption used when the platform needs none.
type NotRequired struct{}

func (NotRequired) Granted(context.Context) bool { return true }
func (NotRequired) Request(context.Context)      {}

// Unavailable is the exemption used when it cannot be queried.
type Unavailable struct{}

func (Unavailable) Granted(context.Context) bool { return false }
func (Unavailable) Request(context.Context)      {}

// RequestPermissionAndWait fires a permission request and re-checks after
// delay, since the grant may happen in a system dialog with no callback.
func RequestPermissionAndWait(ctx context.Context, b Bridge, delay time.Duration) bool {
	b.RequestPermission(ctx)
	if !sleepCtx(ctx, delay) {
		return false
	}
	return b.HasPermission(ctx)
}

// RequestPowerExemptionAndWait is the same fire-and-recheck for the power exemption.
func RequestPowerExemptionAndWait(ctx context.Context, b Bridge, delay time.Duration) bool {
	b.RequestPowerExemption(ctx)
	if !sleepCtx(ctx, delay) {
		return false
	}
	return b.IsPowerExemptionGranted(ctx)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// New builds the bridge selected by cfg.Backend.
func New(cfg model.DNDConfig, logger *logging.Logger) (Bridge, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	var power PowerExemption = NotRequired{}
	if cfg.Linger {
		l, err := NewLinger()
		if err != nil {
			logger.Warn("logind unavailable, power exemption reported as not granted error=%v", err)
			power = Unavailable{}
		} else {
			power = l
		}
	}

	switch cfg.Backend {
	case "gnome":
		return NewCommandBridge(GnomePreset(), power, nil, logger), nil
	case "command":
		return NewCommandBridge(cfg.Commands, power, nil, logger), nil
	case "memory":
		return NewMemory(), nil
	case "unsupported":
		return Unsupported{}, nil
	default:
		return nil, fmt.Errorf("unknown dnd backend %q", cfg.Backend)
	}
}

// Unsupported is the bridge for platforms with no silence API. Schedulers
// fall back to reminder notifications when they see it.
type Unsupported struct{}

func (Unsupported) EnableSilence(context.Context) bool           { return false }
func (Unsupported) DisableSilence(context.Context) bool          { return false }
func (Unsupported) IsSilenceActive(context.Context) bool         { return false }
func (Unsupported) HasPermission(context.Context) bool           { return false }
func (Unsupported) RequestPermission(context.Context)            {}
func (Unsupported) IsPowerExemptionGranted(context.Context) bool { return false }
func (Unsupported) RequestPowerExemption(context.Context)        {}
func (Unsupported) Supported() bool                              { return false }

func (Unsupported) QueryOverrideState(context.Context) (OverrideState, error) {
	return Restricted, ErrUnsupported
}

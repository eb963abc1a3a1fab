// Package notify presents best-effort desktop notifications. Failures are
// returned to the caller to log; they never block a silence toggle.
package notify

import (
	"runtime"

	"github.com/msageha/sakina/internal/logging"
)

// Notifier shows a local notification.
type Notifier interface {
	Send(title, message string) error
	IsSupported() bool
}

type noopNotifier struct{}

func (noopNotifier) Send(title, message string) error { return nil }
func (noopNotifier) IsSupported() bool                { return false }

// Noop returns a notifier that drops everything.
func Noop() Notifier { return noopNotifier{} }

// New returns the platform notifier, or a no-op when notifications are
// disabled or the platform has none.
func New(enabled bool, logger *logging.Logger) Notifier {
	if !enabled {
		return Noop()
	}
	var n Notifier
	switch runtime.GOOS {
	case "darwin":
		n = OSAScript{}
	case "linux", "freebsd", "openbsd", "netbsd":
		d, err := NewFreedesktop()
		if err != nil {
			if logger != nil {
				logger.Debug("notifications unavailable error=%v", err)
			}
			return Noop()
		}
		n = d
	}
	if n == nil || !n.IsSupported() {
		return Noop()
	}
	return n
}

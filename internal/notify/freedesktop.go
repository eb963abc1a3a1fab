package notify

import (
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	notificationsDest  = "org.freedesktop.Notifications"
	notificationsPath  = dbus.ObjectPath("/org/freedesktop/Notifications")
	notificationsIface = "org.freedesktop.Notifications"
	appName            = "sakina"
	expireMillis       = int32(8000)
)

// Freedesktop posts notifications over the session bus
// (org.freedesktop.Notifications), as GNOME, KDE, dunst and mako accept.
type Freedesktop struct {
	obj dbus.BusObject
}

func NewFreedesktop() (*Freedesktop, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	return &Freedesktop{obj: conn.Object(notificationsDest, notificationsPath)}, nil
}

func (f *Freedesktop) IsSupported() bool { return f.obj != nil }

// Send posts a notification. Hints mark it as a low-urgency "im" so
// notification servers may still show it while DND suppresses banners.
func (f *Freedesktop) Send(title, message string) error {
	hints := map[string]dbus.Variant{
		"urgency":  dbus.MakeVariant(byte(1)),
		"category": dbus.MakeVariant("presence"),
	}
	call := f.obj.Call(notificationsIface+".Notify", 0,
		appName, uint32(0), "", title, message, []string{}, hints, expireMillis)
	if call.Err != nil {
		return fmt.Errorf("notify: %w", call.Err)
	}
	return nil
}

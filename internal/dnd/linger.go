package dnd

import (
	"context"
	"fmt"
	"os"

	"github.com/godbus/dbus/v5"
)

const (
	login1Dest    = "org.freedesktop.login1"
	login1Path    = dbus.ObjectPath("/org/freedesktop/login1")
	login1Manager = "org.freedesktop.login1.Manager"
	login1User    = "org.freedesktop.login1.User"
)

// Linger uses systemd-logind user lingering as the power exemption: with it
// the user manager, and the alarm timers it owns, keep running after logout.
type Linger struct {
	conn *dbus.Conn
	uid  uint32
}

// NewLinger connects to the system bus for the current user.
func NewLinger() (*Linger, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}
	return &Linger{conn: conn, uid: uint32(os.Getuid())}, nil
}

func (l *Linger) Granted(ctx context.Context) bool {
	var userPath dbus.ObjectPath
	err := l.conn.Object(login1Dest, login1Path).
		CallWithContext(ctx, login1Manager+".GetUser", 0, l.uid).
		Store(&userPath)
	if err != nil {
		return false
	}
	v, err := l.conn.Object(login1Dest, userPath).GetProperty(login1User + ".Linger")
	if err != nil {
		return false
	}
	on, _ := v.Value().(bool)
	return on
}

// Request asks logind to enable lingering. It is interactive, so polkit may
// show an authentication dialog; callers re-check Granted afterwards.
func (l *Linger) Request(ctx context.Context) {
	_ = l.conn.Object(login1Dest, login1Path).
		CallWithContext(ctx, login1Manager+".SetUserLinger", 0, l.uid, true, true).
		Err
}

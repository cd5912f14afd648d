package display

import (
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	screenSaverName  = "org.freedesktop.ScreenSaver"
	screenSaverPath  = dbus.ObjectPath("/org/freedesktop/ScreenSaver")
	screenSaverIface = "org.freedesktop.ScreenSaver"
)

// Inhibitor keeps the screen saver away while the preview window is shown.
// The car is driven with a gamepad or the browser, so the desktop sees no
// input.
type Inhibitor struct {
	conn   *dbus.Conn
	cookie uint32
}

// Inhibit asks the session's screen saver service to stay off
func Inhibit(app, reason string) (*Inhibitor, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}

	var cookie uint32
	obj := conn.Object(screenSaverName, screenSaverPath)
	if err := obj.Call(screenSaverIface+".Inhibit", 0, app, reason).Store(&cookie); err != nil {
		conn.Close()
		return nil, fmt.Errorf("screen saver inhibit failed: %w", err)
	}
	return &Inhibitor{conn: conn, cookie: cookie}, nil
}

// Release lifts the inhibition and closes the bus connection
func (i *Inhibitor) Release() error {
	obj := i.conn.Object(screenSaverName, screenSaverPath)
	err := obj.Call(screenSaverIface+".UnInhibit", 0, i.cookie).Err
	i.conn.Close()
	if err != nil {
		return fmt.Errorf("screen saver uninhibit failed: %w", err)
	}
	return nil
}

//go:build linux

package notify

import (
	"fmt"

	"github.com/godbus/dbus/v5"

	"driftwatch/internal/mode"
	"driftwatch/internal/reconcile"
	"driftwatch/internal/threat"
)

// Desktop notification constants for org.freedesktop.Notifications.
const (
	notifyService   = "org.freedesktop.Notifications"
	notifyPath      = "/org/freedesktop/Notifications"
	notifyMethod    = "org.freedesktop.Notifications.Notify"
	notifyAppName   = "driftwatch"
	notifyExpireMs  = int32(5000)
	notifyUrgencyHi = byte(2)
)

// DesktopNotifier surfaces high-signal engine events as desktop
// notifications over the session bus. Low-severity noise is not
// forwarded.
type DesktopNotifier struct {
	conn *dbus.Conn
}

// NewDesktopNotifier connects to the D-Bus session bus.
func NewDesktopNotifier() (*DesktopNotifier, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("notify: connect session bus: %w", err)
	}
	return &DesktopNotifier{conn: conn}, nil
}

// Close releases the bus connection.
func (d *DesktopNotifier) Close() error {
	return d.conn.Close()
}

// OnModeChange surfaces entries into Elevated and Alarm, and the
// recovery back to Idle from either.
func (d *DesktopNotifier) OnModeChange(from, to mode.State) {
	switch {
	case to == mode.Alarm:
		d.send("Driftwatch: ALARM", "Critical activity detected in watched collections", true)
	case to == mode.Elevated:
		d.send("Driftwatch: elevated", "Multiple findings under investigation", false)
	case to == mode.Idle && from >= mode.Elevated:
		d.send("Driftwatch: all clear", "Watched collections are back to baseline", false)
	}
}

// OnFinding surfaces high and critical findings individually.
func (d *DesktopNotifier) OnFinding(f threat.Finding) {
	if f.Severity < threat.SeverityHigh {
		return
	}
	title := fmt.Sprintf("Driftwatch: %s finding", f.Severity)
	body := fmt.Sprintf("%s on %s", f.Kind, f.Path)
	d.send(title, body, f.Severity >= threat.SeverityCritical)
}

// OnReconcileReport surfaces cycles that resolved conflicts.
func (d *DesktopNotifier) OnReconcileReport(r reconcile.Report) {
	if len(r.Conflicts) == 0 {
		return
	}
	d.send("Driftwatch: conflicts resolved",
		fmt.Sprintf("%d conflict(s) resolved in favor of local files", len(r.Conflicts)), false)
}

func (d *DesktopNotifier) send(summary, body string, urgent bool) {
	hints := map[string]dbus.Variant{}
	if urgent {
		hints["urgency"] = dbus.MakeVariant(notifyUrgencyHi)
	}
	obj := d.conn.Object(notifyService, notifyPath)
	// Fire and forget; a missing notification daemon must never
	// affect the engine.
	_ = obj.Call(notifyMethod, 0,
		notifyAppName, uint32(0), "", summary, body,
		[]string{}, hints, notifyExpireMs,
	).Err
}

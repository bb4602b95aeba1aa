// Package notify sends desktop notifications when an update run ends.
package notify

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/pikaos-linux/pikman-update-manager/common"
)

const (
	busName    = "org.freedesktop.Notifications"
	objectPath = "/org/freedesktop/Notifications"
	notifyCall = busName + ".Notify"

	callTimeout = 3 * time.Second
)

// Type represents the type of notification.
type Type int

const (
	Info Type = iota
	Success
	Warning
	Error
)

// urgency values from the Desktop Notifications spec.
const (
	urgencyLow      byte = 0
	urgencyNormal   byte = 1
	urgencyCritical byte = 2
)

// Notification represents a desktop notification.
type Notification struct {
	Title   string
	Message string
	Type    Type
	Icon    string
}

func (n Notification) icon() string {
	if n.Icon != "" {
		return n.Icon
	}
	switch n.Type {
	case Success:
		return "system-software-update"
	case Warning:
		return "dialog-warning"
	case Error:
		return "dialog-error"
	default:
		return "system-software-update"
	}
}

func (n Notification) urgency() byte {
	switch n.Type {
	case Error:
		return urgencyCritical
	case Warning:
		return urgencyNormal
	default:
		return urgencyLow
	}
}

// caller is the part of a D-Bus object the notifier uses.
type caller interface {
	CallWithContext(ctx context.Context, method string, flags dbus.Flags, args ...interface{}) *dbus.Call
}

// Notifier sends notifications over the session bus. When no session bus
// is reachable it falls back to notify-send, and failing that it does
// nothing.
type Notifier struct {
	mu     sync.Mutex
	conn   *dbus.Conn
	obj    caller
	appID  string
	lastID uint32
	logger common.Logger
}

// New connects to the session bus. It never fails: without a bus the
// notifier degrades to the fallback.
func New(logger common.Logger) *Notifier {
	if logger == nil {
		logger = common.GetLogger()
	}
	n := &Notifier{appID: common.AppName, logger: logger}

	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		logger.Debug("No session bus, notifications fall back to notify-send: %v", err)
		return n
	}
	n.conn = conn
	n.obj = conn.Object(busName, dbus.ObjectPath(objectPath))
	return n
}

// Show displays n. Errors are logged and returned; callers usually ignore
// them since a missed notification is harmless.
func (n *Notifier) Show(notif Notification) error {
	n.mu.Lock()
	obj := n.obj
	n.mu.Unlock()

	if obj == nil {
		return n.fallback(notif)
	}

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	hints := map[string]dbus.Variant{
		"urgency":       dbus.MakeVariant(notif.urgency()),
		"desktop-entry": dbus.MakeVariant(common.AppID),
	}
	// Reusing the previous id replaces our last notification instead of
	// stacking one per run.
	n.mu.Lock()
	replaces := n.lastID
	n.mu.Unlock()

	call := obj.CallWithContext(ctx, notifyCall, 0,
		n.appID, replaces, notif.icon(), notif.Title, notif.Message,
		[]string{}, hints, int32(-1))
	if call.Err != nil {
		n.logger.Warn("Error showing notification: %v", call.Err)
		return fmt.Errorf("notification failed: %w", call.Err)
	}

	var id uint32
	if err := call.Store(&id); err == nil {
		n.mu.Lock()
		n.lastID = id
		n.mu.Unlock()
	}
	return nil
}

func (n *Notifier) fallback(notif Notification) error {
	path, err := exec.LookPath("notify-send")
	if err != nil {
		return nil
	}
	urgency := map[byte]string{urgencyLow: "low", urgencyNormal: "normal", urgencyCritical: "critical"}[notif.urgency()]
	cmd := exec.Command(path,
		"--app-name="+n.appID,
		"--icon="+notif.icon(),
		"--urgency="+urgency,
		notif.Title,
		notif.Message,
	)
	if err := cmd.Run(); err != nil {
		n.logger.Warn("Error showing notification: %v", err)
		return err
	}
	return nil
}

// Close releases the bus connection.
func (n *Notifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.obj = nil
	if n.conn != nil {
		err := n.conn.Close()
		n.conn = nil
		return err
	}
	return nil
}

// Succeeded builds the notification for a finished run.
func Succeeded(title, message string) Notification {
	return Notification{Title: title, Message: message, Type: Success}
}

// Failed builds the notification for a failed run.
func Failed(title, reason string) Notification {
	return Notification{Title: title, Message: reason, Type: Error}
}

// Nop discards notifications. Used when notifications are disabled.
type Nop struct{}

// Show does nothing.
func (Nop) Show(Notification) error { return nil }

package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/godbus/dbus/v5"

	"github.com/pikaos-linux/pikman-update-manager/common"
)

type fakeBus struct {
	calls [][]interface{}
	id    uint32
	err   error
}

func (f *fakeBus) CallWithContext(ctx context.Context, method string, flags dbus.Flags, args ...interface{}) *dbus.Call {
	if method != notifyCall {
		return &dbus.Call{Err: errors.New("unexpected method " + method)}
	}
	f.calls = append(f.calls, args)
	if f.err != nil {
		return &dbus.Call{Err: f.err}
	}
	return &dbus.Call{Body: []interface{}{f.id}}
}

func newTestNotifier(bus *fakeBus) *Notifier {
	return &Notifier{obj: bus, appID: common.AppName, logger: common.NopLogger{}}
}

func TestNotifier_Show(t *testing.T) {
	bus := &fakeBus{id: 42}
	n := newTestNotifier(bus)

	if err := n.Show(Failed("Upgrade failed", "dpkg was interrupted")); err != nil {
		t.Fatalf("Show() error = %v", err)
	}
	if len(bus.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(bus.calls))
	}

	args := bus.calls[0]
	if args[0] != common.AppName {
		t.Errorf("app name = %v", args[0])
	}
	if args[1] != uint32(0) {
		t.Errorf("first notification replaces_id = %v, want 0", args[1])
	}
	if args[2] != "dialog-error" || args[3] != "Upgrade failed" || args[4] != "dpkg was interrupted" {
		t.Errorf("icon/title/body = %v %v %v", args[2], args[3], args[4])
	}
	hints := args[6].(map[string]dbus.Variant)
	if hints["urgency"].Value() != urgencyCritical {
		t.Errorf("urgency = %v, want critical", hints["urgency"].Value())
	}

	// The next notification replaces the previous one.
	if err := n.Show(Succeeded("Updates installed", "All packages are up to date")); err != nil {
		t.Fatal(err)
	}
	if bus.calls[1][1] != uint32(42) {
		t.Errorf("replaces_id = %v, want 42", bus.calls[1][1])
	}
}

func TestNotifier_ShowError(t *testing.T) {
	n := newTestNotifier(&fakeBus{err: errors.New("no such service")})
	if err := n.Show(Succeeded("Done", "")); err == nil {
		t.Error("Show() should report the bus error")
	}
}

func TestNotification_IconAndUrgency(t *testing.T) {
	tests := []struct {
		n       Notification
		icon    string
		urgency byte
	}{
		{Notification{Type: Info}, "system-software-update", urgencyLow},
		{Notification{Type: Success}, "system-software-update", urgencyLow},
		{Notification{Type: Warning}, "dialog-warning", urgencyNormal},
		{Notification{Type: Error}, "dialog-error", urgencyCritical},
		{Notification{Type: Error, Icon: "custom"}, "custom", urgencyCritical},
	}
	for _, tt := range tests {
		if got := tt.n.icon(); got != tt.icon {
			t.Errorf("icon() = %q, want %q", got, tt.icon)
		}
		if got := tt.n.urgency(); got != tt.urgency {
			t.Errorf("urgency() = %d, want %d", got, tt.urgency)
		}
	}
}

func TestNop(t *testing.T) {
	if err := (Nop{}).Show(Failed("a", "b")); err != nil {
		t.Error(err)
	}
}

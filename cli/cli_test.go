package cli

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pikaos-linux/pikman-update-manager/apt"
	"github.com/pikaos-linux/pikman-update-manager/common"
	"github.com/pikaos-linux/pikman-update-manager/flatpak"
	"github.com/pikaos-linux/pikman-update-manager/history"
	"github.com/pikaos-linux/pikman-update-manager/operation"
	"github.com/pikaos-linux/pikman-update-manager/updater"
)

type fakeRun struct {
	events  chan operation.Event
	outcome operation.Outcome
}

func (r *fakeRun) Events() <-chan operation.Event { return r.events }
func (r *fakeRun) Wait() operation.Outcome        { return r.outcome }

func finishedRun(op string, state operation.State, reason string, events ...operation.Event) *fakeRun {
	ch := make(chan operation.Event, len(events))
	for _, e := range events {
		ch <- e
	}
	close(ch)
	now := time.Now()
	return &fakeRun{events: ch, outcome: operation.Outcome{
		Operation: op,
		State:     state,
		Reason:    reason,
		Started:   now.Add(-90 * time.Second),
		Finished:  now,
	}}
}

type fakeManager struct {
	pkgs    []apt.Package
	refs    []flatpak.Ref
	records []history.Record

	upgradeState operation.State
	startErr     error

	calls    []string
	excluded []string
}

func (f *fakeManager) CheckUpdates(context.Context) (Run, error) {
	f.calls = append(f.calls, updater.OpAptUpdate)
	return finishedRun(updater.OpAptUpdate, operation.StateSucceeded, ""), nil
}

func (f *fakeManager) Upgrade(_ context.Context, excluded []string) (Run, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.calls = append(f.calls, updater.OpAptUpgrade)
	f.excluded = excluded
	state := f.upgradeState
	if state == operation.StateNotStarted {
		state = operation.StateSucceeded
	}
	reason := ""
	if state == operation.StateFailed {
		reason = "E: Broken packages"
	}
	return finishedRun(updater.OpAptUpgrade, state, reason,
		operation.Event{Kind: operation.EventProgress, Fraction: 0.4},
		operation.Event{Kind: operation.EventStatus, Text: "Unpacking vim"},
	), nil
}

func (f *fakeManager) UpdateFlatpaks(context.Context, []flatpak.Ref) (Run, error) {
	f.calls = append(f.calls, updater.OpFlatpakUpdate)
	return finishedRun(updater.OpFlatpakUpdate, operation.StateSucceeded, ""), nil
}

func (f *fakeManager) Upgradable(context.Context) ([]apt.Package, error) {
	return f.pkgs, nil
}

func (f *fakeManager) FlatpakUpdates(context.Context) ([]flatpak.Ref, error) {
	return f.refs, nil
}

func (f *fakeManager) History(context.Context, int) ([]history.Record, error) {
	return f.records, nil
}

func TestCLI_List(t *testing.T) {
	m := &fakeManager{
		pkgs: []apt.Package{
			{Name: "firefox", Origin: "pika", Current: "130.0-1", Candidate: "131.0-1"},
			{Name: "vim", Origin: "pika", Current: "9.1-1", Candidate: "9.1-2"},
		},
		refs: []flatpak.Ref{
			{Ref: "app/org.gnome.Maps/x86_64/stable", Name: "Maps", Remote: "flathub", Installation: flatpak.System},
		},
	}
	var out bytes.Buffer
	c := New(m, &out, false)

	if err := c.List(context.Background(), []string{"firefox"}, true); err != nil {
		t.Fatalf("List() error = %v", err)
	}

	got := out.String()
	for _, want := range []string{"PACKAGE", "firefox", "131.0-1", "Yes", "APPLICATION", "Maps", "stable", "flathub"} {
		if !strings.Contains(got, want) {
			t.Errorf("List() output missing %q:\n%s", want, got)
		}
	}
}

func TestCLI_ListNothing(t *testing.T) {
	var out bytes.Buffer
	c := New(&fakeManager{}, &out, false)

	if err := c.List(context.Background(), nil, false); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "No package upgrades available.") {
		t.Errorf("output = %q", out.String())
	}
	if strings.Contains(out.String(), "Flatpak") {
		t.Error("Flatpak section should be skipped")
	}
}

func TestCLI_Upgrade(t *testing.T) {
	tests := []struct {
		name        string
		state       operation.State
		withFlatpak bool
		wantCalls   []string
		wantErr     bool
	}{
		{"apt only", operation.StateSucceeded, false, []string{updater.OpAptUpgrade}, false},
		{"with flatpak", operation.StateSucceeded, true, []string{updater.OpAptUpgrade, updater.OpFlatpakUpdate}, false},
		{"failure stops flatpak", operation.StateFailed, true, []string{updater.OpAptUpgrade}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &fakeManager{upgradeState: tt.state}
			var out bytes.Buffer
			c := New(m, &out, false)

			err := c.Upgrade(context.Background(), []string{"firefox"}, tt.withFlatpak)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Upgrade() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, common.ErrOperationFailed) {
				t.Errorf("Upgrade() error = %v, want ErrOperationFailed", err)
			}
			if strings.Join(m.calls, ",") != strings.Join(tt.wantCalls, ",") {
				t.Errorf("calls = %v, want %v", m.calls, tt.wantCalls)
			}
			if len(m.excluded) != 1 || m.excluded[0] != "firefox" {
				t.Errorf("excluded = %v", m.excluded)
			}

			got := out.String()
			if !strings.Contains(got, "[ 40%] Unpacking vim") {
				t.Errorf("missing progress line:\n%s", got)
			}
			if tt.wantErr && !strings.Contains(got, "System upgrade failed: E: Broken packages") {
				t.Errorf("missing failure line:\n%s", got)
			}
			if !tt.wantErr && !strings.Contains(got, "System upgrade finished in 1m 30s") {
				t.Errorf("missing success line:\n%s", got)
			}
		})
	}
}

func TestCLI_UpgradeStartError(t *testing.T) {
	m := &fakeManager{startErr: common.ErrAlreadyRunning}
	c := New(m, &bytes.Buffer{}, false)

	if err := c.Upgrade(context.Background(), nil, false); !errors.Is(err, common.ErrAlreadyRunning) {
		t.Errorf("Upgrade() error = %v, want ErrAlreadyRunning", err)
	}
}

func TestCLI_InPlaceProgress(t *testing.T) {
	var out bytes.Buffer
	c := New(&fakeManager{}, &out, true)

	if err := c.Upgrade(context.Background(), nil, false); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "\r\033[K") {
		t.Error("a terminal should get in-place progress updates")
	}
}

func TestCLI_History(t *testing.T) {
	finished := time.Date(2026, 3, 1, 10, 0, 0, 0, time.Local)
	m := &fakeManager{records: []history.Record{
		{Operation: updater.OpAptUpgrade, State: "Failed", Reason: "E: Broken packages", Started: finished.Add(-time.Minute), Finished: finished},
		{Operation: updater.OpAptUpdate, State: "Succeeded", Excluded: []string{"vim"}, Started: finished.Add(-5 * time.Second), Finished: finished},
	}}
	var out bytes.Buffer
	c := New(m, &out, false)

	if err := c.History(context.Background(), 10); err != nil {
		t.Fatal(err)
	}
	got := out.String()
	for _, want := range []string{"2026-03-01 10:00", "System upgrade", "E: Broken packages", "1m 0s", "excluded vim"} {
		if !strings.Contains(got, want) {
			t.Errorf("History() output missing %q:\n%s", want, got)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{5 * time.Second, "5s"},
		{90 * time.Second, "1m 30s"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1h 2m 3s"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestPrintHelp(t *testing.T) {
	var out bytes.Buffer
	PrintHelp(&out)
	for _, flag := range []string{"--check", "--list", "--upgrade", "--exclude", "--flatpak", "--history"} {
		if !strings.Contains(out.String(), flag) {
			t.Errorf("help does not mention %s", flag)
		}
	}
}

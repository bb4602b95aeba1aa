package operation

import (
	"context"
	"errors"
	"math"
	"strconv"
	"testing"
	"time"

	"github.com/pikaos-linux/pikman-update-manager/common"
	"github.com/pikaos-linux/pikman-update-manager/privilege"
	"github.com/pikaos-linux/pikman-update-manager/relay"
)

func newTestTracker(opts ...TrackerOption) *Tracker {
	opts = append([]TrackerOption{WithTrackerLogger(common.NopLogger{})}, opts...)
	return NewTracker("apt_update", opts...)
}

func collect(t *testing.T, tr *Tracker) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e, ok := <-tr.Events():
			if !ok {
				return events
			}
			events = append(events, e)
		case <-timeout:
			t.Fatal("event stream was not closed")
			return nil
		}
	}
}

func drain(tr *Tracker) {
	for range tr.Events() {
	}
}

func percent(text string) relay.Message {
	return relay.Message{Channel: relay.ChannelPercent, Text: text}
}

func status(text string) relay.Message {
	return relay.Message{Channel: relay.ChannelStatus, Text: text}
}

func TestParsePercent(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"0", 0, false},
		{"10", 0.10, false},
		{"55.5", 0.555, false},
		{"100", 1, false},
		{" 42 ", 0.42, false},
		{"75%", 0.75, false},
		{"", 0, true},
		{"abc", 0, true},
		{"-1", 0, true},
		{"100.5", 0, true},
		{"NaN", 0, true},
		{"Inf", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePercent(tt.in)
			if tt.wantErr {
				if !errors.Is(err, common.ErrInvalidPercent) {
					t.Errorf("ParsePercent(%q) error = %v, want ErrInvalidPercent", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePercent(%q) error = %v", tt.in, err)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("ParsePercent(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParsePercent_WholeRange(t *testing.T) {
	for i := 0; i <= 100; i++ {
		got, err := ParsePercent(strconv.Itoa(i))
		if err != nil {
			t.Fatalf("ParsePercent(%d) error = %v", i, err)
		}
		if got < 0 || got > 1 {
			t.Fatalf("ParsePercent(%d) = %v outside [0,1]", i, got)
		}
	}
}

func TestTracker_ProgressInOrder(t *testing.T) {
	tr := newTestTracker()
	tr.Start()
	tr.HandleMessage(percent("10"))
	tr.HandleMessage(percent("55.5"))
	tr.HandleMessage(status(common.SentinelSucceeded))

	events := collect(t, tr)
	var fractions []float64
	for _, e := range events {
		if e.Kind == EventProgress {
			fractions = append(fractions, e.Fraction)
		}
	}
	if len(fractions) != 2 || math.Abs(fractions[0]-0.10) > 1e-9 || math.Abs(fractions[1]-0.555) > 1e-9 {
		t.Errorf("fractions = %v, want [0.10 0.555]", fractions)
	}
	if last := events[len(events)-1]; last.Kind != EventSucceeded {
		t.Errorf("last event = %v, want succeeded", last.Kind)
	}
}

func TestTracker_MalformedPercentDoesNotCrash(t *testing.T) {
	tr := newTestTracker()
	tr.Start()
	tr.HandleMessage(percent("fifty"))
	tr.HandleMessage(status(common.SentinelSucceeded))

	events := collect(t, tr)
	found := false
	for _, e := range events {
		if e.Kind == EventStatus && e.Text == "fifty" {
			found = true
		}
	}
	if !found {
		t.Error("malformed percent should surface as a status event")
	}
	if tr.State() != StateSucceeded {
		t.Errorf("State = %v, want succeeded", tr.State())
	}
}

func TestTracker_IgnoresStatusAfterSuccess(t *testing.T) {
	tr := newTestTracker()
	tr.Start()
	tr.HandleMessage(status(common.SentinelSucceeded))
	tr.HandleMessage(status("Late status line"))
	tr.HandleMessage(status(common.SentinelFailed))
	tr.HandleExit(privilege.Result{Code: 2})

	for _, e := range collect(t, tr) {
		if e.Text == "Late status line" || e.Kind == EventFailed {
			t.Errorf("unexpected event after success: %+v", e)
		}
	}
	if tr.State() != StateSucceeded {
		t.Errorf("State = %v, want succeeded", tr.State())
	}
}

func TestTracker_FailedSentinelUsesLastStatus(t *testing.T) {
	tr := newTestTracker()
	tr.Start()
	tr.HandleMessage(status("E: Unable to locate package foo"))
	tr.HandleMessage(status(common.SentinelFailed))

	collect(t, tr)
	out := tr.Outcome()
	if out.State != StateFailed {
		t.Fatalf("State = %v, want failed", out.State)
	}
	if out.Reason != "E: Unable to locate package foo" {
		t.Errorf("Reason = %q", out.Reason)
	}
	if !errors.Is(out.Err(), common.ErrOperationFailed) {
		t.Errorf("Err() = %v, want ErrOperationFailed", out.Err())
	}
}

func TestTracker_ExitCodes(t *testing.T) {
	tests := []struct {
		name      string
		result    privilege.Result
		wantState State
		wantWait  bool
		wantErr   error
	}{
		{"success", privilege.Result{Code: 0}, StateSucceeded, false, nil},
		{"handled", privilege.Result{Code: 53}, StateRunning, true, nil},
		{"dismissed", privilege.Result{Code: 126}, StateFailed, false, common.ErrNotAuthorized},
		{"unexpected", privilege.Result{Code: 100}, StateFailed, false, common.ErrOperationFailed},
		{"launch", privilege.Result{Code: -1, Err: errors.New("boom")}, StateFailed, false, common.ErrOperationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTestTracker()
			tr.Start()
			if wait := tr.HandleExit(tt.result); wait != tt.wantWait {
				t.Errorf("HandleExit() = %v, want %v", wait, tt.wantWait)
			}
			if tr.State() != tt.wantState {
				t.Errorf("State = %v, want %v", tr.State(), tt.wantState)
			}
			if tt.wantErr != nil && !errors.Is(tr.Outcome().Err(), tt.wantErr) {
				t.Errorf("Err() = %v, want %v", tr.Outcome().Err(), tt.wantErr)
			}
			if !tr.State().Terminal() {
				tr.Fail("test cleanup", nil)
			}
			collect(t, tr)
		})
	}
}

func TestTracker_UnexpectedExitSynthesizesStatus(t *testing.T) {
	tr := newTestTracker()
	tr.Start()
	tr.HandleExit(privilege.Result{Code: 100})

	events := collect(t, tr)
	if len(events) < 3 {
		t.Fatalf("events = %+v", events)
	}
	if events[1].Kind != EventStatus || events[2].Kind != EventFailed {
		t.Errorf("want status then failed, got %v then %v", events[1].Kind, events[2].Kind)
	}
}

func TestTracker_RunHandledExitWaitsForSentinel(t *testing.T) {
	tr := newTestTracker(WithHandledGrace(5 * time.Second))
	messages := make(chan relay.Message, 4)
	exits := make(chan privilege.Result, 1)

	// The exit is observed before the relay delivers the sentinel.
	exits <- privilege.Result{Code: 53}
	go func() {
		time.Sleep(50 * time.Millisecond)
		messages <- status("dpkg was interrupted")
		messages <- status(common.SentinelFailed)
	}()

	done := make(chan Outcome, 1)
	go func() { done <- tr.Run(context.Background(), messages, exits) }()
	events := collect(t, tr)
	out := <-done

	if out.State != StateFailed {
		t.Errorf("State = %v, want failed", out.State)
	}
	if out.Reason != "dpkg was interrupted" {
		t.Errorf("Reason = %q, want the relayed status", out.Reason)
	}
	for _, e := range events {
		if e.Kind == EventStatus && e.Text != "dpkg was interrupted" {
			t.Errorf("exit 53 should not add a generic failure status, got %q", e.Text)
		}
	}
}

func TestTracker_RunHandledExitGraceExpires(t *testing.T) {
	tr := newTestTracker(WithHandledGrace(20 * time.Millisecond))
	messages := make(chan relay.Message)
	exits := make(chan privilege.Result, 1)
	exits <- privilege.Result{Code: 53}

	go drain(tr)
	out := tr.Run(context.Background(), messages, exits)
	if out.State != StateFailed {
		t.Errorf("State = %v, want failed", out.State)
	}
}

func TestTracker_RunFirstTerminalWins(t *testing.T) {
	tr := newTestTracker()
	messages := make(chan relay.Message, 2)
	exits := make(chan privilege.Result, 1)

	messages <- percent("100")
	messages <- status(common.SentinelSucceeded)

	go drain(tr)
	out := tr.Run(context.Background(), messages, nil)
	if out.State != StateSucceeded {
		t.Fatalf("State = %v, want succeeded", out.State)
	}

	// The helper exiting badly afterwards does not change the outcome.
	exits <- privilege.Result{Code: 1}
	tr.HandleExit(<-exits)
	if tr.State() != StateSucceeded {
		t.Errorf("State = %v after late exit, want succeeded", tr.State())
	}
	if out.Fraction != 1 {
		t.Errorf("Fraction = %v, want 1", out.Fraction)
	}
}

func TestTracker_RunContextCancelled(t *testing.T) {
	tr := newTestTracker()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	go drain(tr)
	out := tr.Run(ctx, make(chan relay.Message), make(chan privilege.Result))
	if out.State != StateFailed {
		t.Errorf("State = %v, want failed", out.State)
	}
	if !errors.Is(out.Err(), context.Canceled) {
		t.Errorf("Err() = %v, want context.Canceled", out.Err())
	}
}

func TestTracker_RunClosedChannels(t *testing.T) {
	tr := newTestTracker()
	messages := make(chan relay.Message)
	exits := make(chan privilege.Result)
	close(messages)
	close(exits)

	go drain(tr)
	if out := tr.Run(context.Background(), messages, exits); out.State != StateFailed {
		t.Errorf("State = %v, want failed", out.State)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateNotStarted, "Not started"},
		{StateRunning, "Running"},
		{StateSucceeded, "Succeeded"},
		{StateFailed, "Failed"},
		{State(42), "Unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

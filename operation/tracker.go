package operation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pikaos-linux/pikman-update-manager/common"
	"github.com/pikaos-linux/pikman-update-manager/privilege"
	"github.com/pikaos-linux/pikman-update-manager/queue"
	"github.com/pikaos-linux/pikman-update-manager/relay"
)

// Tracker is the single arbitration point for one run. Relay messages from
// both channels and the helper's exit Result are fed into it, and it
// publishes one ordered event stream. The first terminal signal wins;
// anything arriving afterwards is ignored.
type Tracker struct {
	name   string
	grace  time.Duration
	logger common.Logger
	events *queue.Unbounded[Event]

	mu         sync.Mutex
	state      State
	fraction   float64
	lastStatus string
	reason     string
	cause      error
	started    time.Time
	finished   time.Time
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithHandledGrace sets how long to wait for the relay sentinel after the
// helper exits with the "already handled" code.
func WithHandledGrace(d time.Duration) TrackerOption {
	return func(t *Tracker) {
		if d > 0 {
			t.grace = d
		}
	}
}

// WithTrackerLogger sets the tracker's logger.
func WithTrackerLogger(l common.Logger) TrackerOption {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewTracker creates a tracker for the named operation.
func NewTracker(name string, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		name:   name,
		grace:  common.HandledExitGrace,
		logger: common.GetLogger(),
		events: queue.NewUnbounded[Event](),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Events returns the ordered event stream. It is closed after the
// terminal event.
func (t *Tracker) Events() <-chan Event {
	return t.events.Out()
}

// Discard drops events nobody is going to read, so the stream's goroutine
// can exit. Later events are dropped too.
func (t *Tracker) Discard() {
	t.events.Discard()
}

// State returns the current state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Start moves the run from NotStarted to Running.
func (t *Tracker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateNotStarted {
		return
	}
	t.state = StateRunning
	t.started = time.Now()
	t.emitLocked(Event{Kind: EventStarted})
}

// HandleMessage applies one relay message.
func (t *Tracker) HandleMessage(m relay.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.Terminal() {
		t.logger.Debug("%s: ignoring %s message %q after %s", t.name, m.Channel, m.Text, t.state)
		return
	}
	if t.state == StateNotStarted {
		t.state = StateRunning
		t.started = time.Now()
	}

	switch m.Channel {
	case relay.ChannelPercent:
		fraction, err := ParsePercent(m.Text)
		if err != nil {
			t.logger.Warn("%s: %v", t.name, err)
			t.emitLocked(Event{Kind: EventStatus, Text: m.Text})
			return
		}
		t.fraction = fraction
		t.emitLocked(Event{Kind: EventProgress, Fraction: fraction})

	case relay.ChannelStatus:
		switch m.Text {
		case common.SentinelSucceeded:
			t.finishLocked(StateSucceeded, "", nil)
		case common.SentinelFailed:
			reason := t.lastStatus
			if reason == "" {
				reason = "the update helper reported a failure"
			}
			t.finishLocked(StateFailed, reason, common.ErrOperationFailed)
		default:
			t.lastStatus = m.Text
			t.emitLocked(Event{Kind: EventStatus, Text: m.Text})
		}
	}
}

// HandleExit applies the helper's exit Result. It reports true when the
// exit code defers to the relay and the caller should wait for the
// sentinel (see WithHandledGrace).
func (t *Tracker) HandleExit(r privilege.Result) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	class := privilege.Classify(r)
	if t.state.Terminal() {
		t.logger.Debug("%s: helper exit %d (%s) after %s", t.name, r.Code, class, t.state)
		return false
	}

	switch class {
	case privilege.ClassSuccess:
		t.finishLocked(StateSucceeded, "", nil)
	case privilege.ClassHandled:
		t.logger.Debug("%s: helper exit %d, failure reported over relay", t.name, r.Code)
		return true
	case privilege.ClassUnauthorized:
		reason := "Authentication was cancelled or denied"
		t.emitLocked(Event{Kind: EventStatus, Text: reason})
		t.finishLocked(StateFailed, reason, common.ErrNotAuthorized)
	case privilege.ClassLaunchError:
		reason := fmt.Sprintf("Could not start the update helper: %v", r.Err)
		t.emitLocked(Event{Kind: EventStatus, Text: reason})
		t.finishLocked(StateFailed, reason, common.ErrOperationFailed)
	default:
		reason := fmt.Sprintf("The update helper exited unexpectedly (exit code %d)", r.Code)
		t.emitLocked(Event{Kind: EventStatus, Text: reason})
		t.finishLocked(StateFailed, reason, common.ErrOperationFailed)
	}
	return false
}

// Fail ends the run from outside the relay, e.g. when the front-end gives
// up waiting. It is a no-op after a terminal state.
func (t *Tracker) Fail(reason string, cause error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Terminal() {
		return
	}
	if cause == nil {
		cause = common.ErrOperationFailed
	}
	t.finishLocked(StateFailed, reason, cause)
}

// Run consumes messages and the exit result until the run is terminal and
// returns its Outcome. ctx cancellation stops waiting (the helper itself
// keeps running) and fails the run.
func (t *Tracker) Run(ctx context.Context, messages <-chan relay.Message, exits <-chan privilege.Result) Outcome {
	t.Start()

	var grace <-chan time.Time
	for t.State() == StateRunning {
		if messages == nil && exits == nil && grace == nil {
			t.Fail("progress relay closed before the helper finished", nil)
			break
		}

		select {
		case m, ok := <-messages:
			if !ok {
				messages = nil
				continue
			}
			t.HandleMessage(m)

		case r, ok := <-exits:
			if !ok {
				exits = nil
				continue
			}
			exits = nil
			if t.HandleExit(r) {
				timer := time.NewTimer(t.grace)
				defer timer.Stop()
				grace = timer.C
			}

		case <-grace:
			grace = nil
			t.Fail("the update helper failed without reporting a reason", nil)

		case <-ctx.Done():
			t.Fail("stopped waiting for the update helper", ctx.Err())
		}
	}

	return t.Outcome()
}

// Outcome returns the run summary. Meaningful once State is terminal.
func (t *Tracker) Outcome() Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Outcome{
		Operation: t.name,
		State:     t.state,
		Reason:    t.reason,
		Fraction:  t.fraction,
		Started:   t.started,
		Finished:  t.finished,
		cause:     t.cause,
	}
}

func (t *Tracker) finishLocked(state State, reason string, cause error) {
	t.state = state
	t.reason = reason
	t.cause = cause
	t.finished = time.Now()
	if state == StateSucceeded {
		t.fraction = 1
		t.emitLocked(Event{Kind: EventSucceeded, Fraction: 1})
	} else {
		t.emitLocked(Event{Kind: EventFailed, Text: reason})
	}
	t.logger.Info("%s: %s %s", t.name, state, reason)
	t.events.Close()
}

func (t *Tracker) emitLocked(e Event) {
	e.Operation = t.name
	e.State = t.state
	e.At = time.Now()
	t.events.Push(e)
}

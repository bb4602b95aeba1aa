// Package operation turns the two relay channels and the helper's exit
// status into one ordered stream of state changes for a single run.
package operation

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pikaos-linux/pikman-update-manager/common"
)

// State is where a run is in its lifecycle.
type State int

const (
	StateNotStarted State = iota
	StateRunning
	StateSucceeded
	StateFailed
)

// String returns a human-readable state.
func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "Not started"
	case StateRunning:
		return "Running"
	case StateSucceeded:
		return "Succeeded"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// EventKind tags an Event.
type EventKind int

const (
	EventStarted EventKind = iota
	EventProgress
	EventStatus
	EventSucceeded
	EventFailed
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventProgress:
		return "progress"
	case EventStatus:
		return "status"
	case EventSucceeded:
		return "succeeded"
	case EventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event is one entry of a run's ordered event stream.
type Event struct {
	Operation string
	Kind      EventKind
	// Fraction is set for EventProgress, in [0, 1].
	Fraction float64
	// Text is the status line for EventStatus and the reason for EventFailed.
	Text  string
	State State
	At    time.Time
}

// Outcome summarizes a finished run.
type Outcome struct {
	Operation string
	State     State
	Reason    string
	Fraction  float64
	Started   time.Time
	Finished  time.Time

	cause error
}

// Err returns nil for a successful run and a wrapped sentinel otherwise.
func (o Outcome) Err() error {
	if o.State == StateSucceeded {
		return nil
	}
	cause := o.cause
	if cause == nil {
		cause = common.ErrOperationFailed
	}
	if o.Reason == "" {
		return fmt.Errorf("%s: %w", o.Operation, cause)
	}
	return fmt.Errorf("%s: %w: %s", o.Operation, cause, o.Reason)
}

// Duration is how long the run took.
func (o Outcome) Duration() time.Duration {
	if o.Started.IsZero() || o.Finished.IsZero() {
		return 0
	}
	return o.Finished.Sub(o.Started)
}

// ParsePercent decodes a percent string ("0".."100", decimals allowed,
// optional trailing "%") into a fraction in [0, 1].
func ParsePercent(text string) (float64, error) {
	s := strings.TrimSpace(text)
	s = strings.TrimSuffix(s, "%")
	if s == "" {
		return 0, fmt.Errorf("%w: empty", common.ErrInvalidPercent)
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		var numErr *strconv.NumError
		if errors.As(err, &numErr) {
			err = numErr.Err
		}
		return 0, fmt.Errorf("%w: %q: %v", common.ErrInvalidPercent, text, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > 100 {
		return 0, fmt.Errorf("%w: %q out of range", common.ErrInvalidPercent, text)
	}
	return v / 100, nil
}

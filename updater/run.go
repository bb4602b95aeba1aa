package updater

import (
	"github.com/pikaos-linux/pikman-update-manager/operation"
)

// Run is one operation in progress.
type Run struct {
	tracker *operation.Tracker
	done    chan struct{}
	outcome operation.Outcome
}

func newRun(t *operation.Tracker) *Run {
	return &Run{tracker: t, done: make(chan struct{})}
}

// Name returns the operation name.
func (r *Run) Name() string {
	return r.tracker.Outcome().Operation
}

// Events is the ordered event stream of the run. It must be drained, or
// Discard called, for the run's goroutines to exit.
func (r *Run) Events() <-chan operation.Event {
	return r.tracker.Events()
}

// Discard drops the event stream for callers that only want the outcome.
func (r *Run) Discard() {
	r.tracker.Discard()
}

// Done is closed once the outcome is recorded.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run is over and returns its outcome.
func (r *Run) Wait() operation.Outcome {
	<-r.done
	return r.outcome
}

func (r *Run) complete(o operation.Outcome) {
	r.outcome = o
	close(r.done)
}

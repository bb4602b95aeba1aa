// Package queue provides an unbounded multi-producer, single-consumer
// channel used to hand relay messages and operation events across
// goroutines without ever blocking the producer for long.
package queue

import "sync"

// Unbounded is a FIFO queue with a channel on each side.
// Producers call Push from any goroutine; the single consumer ranges over Out.
// Out is closed after Close once every pushed item has been delivered.
type Unbounded[T any] struct {
	in     chan T
	out    chan T
	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewUnbounded creates a queue and starts its pump goroutine.
func NewUnbounded[T any]() *Unbounded[T] {
	q := &Unbounded[T]{
		in:   make(chan T),
		out:  make(chan T),
		done: make(chan struct{}),
	}
	go q.pump()
	return q
}

// Push enqueues v. It reports false if the queue is already closed.
func (q *Unbounded[T]) Push(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.in <- v
	return true
}

// Out returns the consumer side of the queue.
func (q *Unbounded[T]) Out() <-chan T {
	return q.out
}

// Close stops accepting items. Items already pushed are still delivered.
func (q *Unbounded[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.in)
}

// Discard closes the queue and drops anything not yet consumed.
// It returns once the pump goroutine has exited.
func (q *Unbounded[T]) Discard() {
	q.Close()
	go func() {
		for range q.out {
		}
	}()
	<-q.done
}

func (q *Unbounded[T]) pump() {
	defer close(q.done)
	defer close(q.out)

	var pending []T
	in := q.in
	for in != nil || len(pending) > 0 {
		var out chan T
		var next T
		if len(pending) > 0 {
			out = q.out
			next = pending[0]
		}

		select {
		case v, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			pending = append(pending, v)
		case out <- next:
			var zero T
			pending[0] = zero
			pending = pending[1:]
		}
	}
}

// Package task provides a cancellable unit of work with observable state.
//
// A [Task] moves one way through Ready, Executing and Finished. Cancellation
// is cooperative: cancelling a running task marks it Finished and cancels the
// context handed to its body, but the body keeps running until it returns.
package task

import (
	"context"
	"sync"
)

// State is the execution state of a [Task].
type State int32

const (
	// Ready means the task has not started.
	Ready State = iota

	// Executing means the body is running.
	Executing

	// Finished is terminal; the body returned or the task was cancelled.
	Finished
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Executing:
		return "executing"
	case Finished:
		return "finished"
	default:
		return "unknown"
	}
}

// Observer is notified of every state transition, outside the task's lock.
type Observer func(t *Task, from, to State)

// Option configures a [Task].
type Option func(*Task)

// WithObserver registers fn to be called on every state transition.
// Multiple observers run in registration order.
func WithObserver(fn Observer) Option {
	return func(t *Task) {
		if fn != nil {
			t.observers = append(t.observers, fn)
		}
	}
}

// Task is one schedulable, cancellable unit of work.
//
// All methods are safe for concurrent use.
type Task struct {
	tag       string
	body      func(ctx context.Context)
	observers []Observer

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	state     State
	cancelled bool
	done      chan struct{}
	exited    chan struct{}
}

// New creates a Ready task. tag groups tasks, e.g. by stream, for bulk
// cancellation; it has no effect on execution.
func New(tag string, body func(ctx context.Context), opts ...Option) *Task {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Task{
		tag:    tag,
		body:   body,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Tag returns the tag given to [New].
func (t *Task) Tag() string {
	return t.tag
}

// State returns the current state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Cancelled reports whether [Task.Cancel] has been called.
func (t *Task) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// Done is closed when the task reaches Finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Exited is closed once the body has returned, or when the task finished
// without running it.
func (t *Task) Exited() <-chan struct{} {
	return t.exited
}

// Start runs the body on the calling goroutine.
//
// If the task was cancelled beforehand it goes straight to Finished without
// running the body. Calling Start more than once is a no-op.
func (t *Task) Start() {
	t.mu.Lock()
	if t.state != Ready {
		t.mu.Unlock()
		return
	}
	if t.cancelled {
		t.state = Finished
		close(t.done)
		close(t.exited)
		t.mu.Unlock()
		t.notify(Ready, Finished)
		return
	}
	t.state = Executing
	t.mu.Unlock()
	t.notify(Ready, Executing)

	defer func() {
		close(t.exited)
		t.finish()
		t.cancel()
	}()
	t.body(t.ctx)
}

// Cancel marks the task cancelled and cancels the body's context.
//
// A Ready task finishes without running when started. An Executing task is
// forced to Finished immediately; its body must observe the context to stop
// early. Cancelling a Finished task has no effect.
func (t *Task) Cancel() {
	t.mu.Lock()
	if t.state == Finished || t.cancelled {
		t.mu.Unlock()
		return
	}
	t.cancelled = true
	executing := t.state == Executing
	t.mu.Unlock()

	t.cancel()
	if executing {
		t.finish()
	}
}

// finish moves an Executing task to Finished exactly once.
func (t *Task) finish() {
	t.mu.Lock()
	if t.state != Executing {
		t.mu.Unlock()
		return
	}
	t.state = Finished
	close(t.done)
	t.mu.Unlock()
	t.notify(Executing, Finished)
}

func (t *Task) notify(from, to State) {
	for _, fn := range t.observers {
		fn(t, from, to)
	}
}

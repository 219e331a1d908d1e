package executor

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"

	"github.com/jpalmerr/pulsesync/internal/task"
)

// Option configures a [Serial].
type Option func(*Serial)

// AwaitExit makes the executor wait for each body to return before starting
// the next task, even if the running task was cancelled.
func AwaitExit() Option {
	return func(s *Serial) {
		s.awaitExit = true
	}
}

// WithLogger sets the logger used to report recovered panics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Serial) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Serial executes tasks one at a time in FIFO order.
//
// All methods are safe for concurrent use.
type Serial struct {
	name      string
	awaitExit bool
	logger    *slog.Logger

	mu        sync.Mutex
	queue     []*task.Task
	current   *task.Task
	running   bool
	suspended bool

	wg sync.WaitGroup
}

// New creates an empty, unsuspended executor. name is used in log output.
func New(name string, opts ...Option) *Serial {
	s := &Serial{
		name:   name,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit appends t to the queue.
//
// While the executor is suspended the task is cancelled and finished
// immediately, and Submit returns false.
func (s *Serial) Submit(t *task.Task) bool {
	s.mu.Lock()
	if s.suspended {
		s.mu.Unlock()
		t.Cancel()
		t.Start()
		return false
	}
	s.queue = append(s.queue, t)
	if !s.running {
		s.running = true
		s.wg.Add(1)
		go s.run()
	}
	s.mu.Unlock()
	return true
}

// CancelAll cancels every queued and running task and suspends intake until
// [Serial.Resume] is called.
func (s *Serial) CancelAll() {
	s.mu.Lock()
	s.suspended = true
	queued := s.queue
	s.queue = nil
	current := s.current
	s.mu.Unlock()

	discard(queued)
	if current != nil {
		current.Cancel()
	}
}

// CancelTagged cancels queued and running tasks whose tag equals tag.
// Intake is not suspended.
func (s *Serial) CancelTagged(tag string) int {
	s.mu.Lock()
	var matched []*task.Task
	kept := s.queue[:0]
	for _, t := range s.queue {
		if t.Tag() == tag {
			matched = append(matched, t)
			continue
		}
		kept = append(kept, t)
	}
	// clear the tail so dropped tasks can be collected
	for i := len(kept); i < len(s.queue); i++ {
		s.queue[i] = nil
	}
	s.queue = kept
	current := s.current
	s.mu.Unlock()

	discard(matched)
	n := len(matched)
	if current != nil && current.Tag() == tag {
		current.Cancel()
		n++
	}
	return n
}

// Resume lifts a suspension set by [Serial.CancelAll].
func (s *Serial) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suspended = false
	if len(s.queue) > 0 && !s.running {
		s.running = true
		s.wg.Add(1)
		go s.run()
	}
}

// Idle reports whether no task is queued or running.
//
// A cancelled task whose body is still winding down does not count as
// running unless the executor was created with [AwaitExit].
func (s *Serial) Idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue) == 0 && s.current == nil
}

// Len returns the number of queued tasks, excluding the running one.
func (s *Serial) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Wait blocks until the worker and every body it started have returned.
// Call it after [Serial.CancelAll] to wait for a clean stop.
func (s *Serial) Wait() {
	s.wg.Wait()
}

// run is the worker loop. It exits when the queue is empty or intake is
// suspended.
func (s *Serial) run() {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		if len(s.queue) == 0 || s.suspended {
			s.running = false
			s.current = nil
			s.mu.Unlock()
			return
		}
		t := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.current = t
		s.mu.Unlock()

		s.execute(t)

		s.mu.Lock()
		s.current = nil
		s.mu.Unlock()
	}
}

// execute runs t and returns once it counts as complete.
func (s *Serial) execute(t *task.Task) {
	if s.awaitExit {
		s.startSafe(t)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.startSafe(t)
	}()

	select {
	case <-t.Done():
	case <-t.Exited():
	}
}

// startSafe runs the task with panic recovery.
// A panicking body is logged with a correlation ID and treated as finished.
func (s *Serial) startSafe(t *task.Task) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			s.logger.Error("task panic",
				"executor", s.name,
				"tag", t.Tag(),
				"correlation_id", correlationID,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	t.Start()
}

// discard finishes tasks that were removed from the queue before starting.
func discard(tasks []*task.Task) {
	for _, t := range tasks {
		t.Cancel()
		t.Start()
	}
}

package poller

import (
	"context"
	"log/slog"

	"github.com/jpalmerr/pulsesync/internal/executor"
	"github.com/jpalmerr/pulsesync/internal/stream"
	"github.com/jpalmerr/pulsesync/internal/task"
)

// Kind distinguishes the core stream from special streams.
type Kind int

const (
	// KindCore is the single general stream.
	KindCore Kind = iota

	// KindSpecial is a per-resource stream such as a calendar.
	KindSpecial
)

// String returns "core" or "special".
func (k Kind) String() string {
	if k == KindCore {
		return "core"
	}
	return "special"
}

// Submitter accepts tasks for execution. [executor.Serial] implements it.
type Submitter interface {
	Submit(t *task.Task) bool
}

// Scheduler binds one [Poller] to a private serial executor.
//
// Every poll for the stream runs on that executor, which waits for a body to
// return before starting the next one. A stream therefore never has two
// polls in flight, even when the coordinator cancels a task whose fetch is
// still outstanding and immediately enqueues a new one.
//
// The ordering key is used by the coordinator to produce a deterministic
// refill order; it has no effect on concurrency.
type Scheduler struct {
	kind    Kind
	key     int
	poller  *Poller
	private *executor.Serial
	logger  *slog.Logger
}

// NewScheduler creates a [Scheduler] for p with the given ordering key.
func NewScheduler(kind Kind, key int, p *Poller, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		kind:   kind,
		key:    key,
		poller: p,
		logger: logger,
	}
	s.private = executor.New(s.Tag(), executor.AwaitExit(), executor.WithLogger(logger))
	return s
}

// ID returns the stream identifier.
func (s *Scheduler) ID() stream.ID {
	return s.poller.ID()
}

// Kind returns whether this is the core stream or a special stream.
func (s *Scheduler) Kind() Kind {
	return s.kind
}

// Key returns the ordering key assigned at registration.
func (s *Scheduler) Key() int {
	return s.key
}

// Tag identifies tasks belonging to this stream on a shared queue.
func (s *Scheduler) Tag() string {
	return s.kind.String() + ":" + string(s.poller.ID())
}

// Report receives the result of a pass together with the queue task that
// carried it. The task may be cancelled after the pass ended and before the
// result is consumed; callers check [task.Task.Cancelled] before acting on it.
type Report func(queued *task.Task, res Result)

// EnqueueNext submits one poll task for this stream to q.
//
// When the task runs it forwards the poll to the private executor and waits
// until the poll completes or the task is cancelled. report receives the
// result of every pass that was not cancelled; it is called before the task
// finishes, so a report of [OutcomeMorePages] can enqueue the follow-up poll
// before the queue goes idle.
func (s *Scheduler) EnqueueNext(q Submitter, report Report) bool {
	var queued *task.Task
	queued = task.New(s.Tag(), func(ctx context.Context) {
		s.run(ctx, func(res Result) { report(queued, res) })
	})
	return q.Submit(queued)
}

func (s *Scheduler) run(ctx context.Context, report func(Result)) {
	poll := task.New(s.Tag(), func(own context.Context) {
		pollCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(own, cancel)
		defer stop()

		res := s.poller.Poll(pollCtx)
		if res.Outcome == OutcomeCancelled || pollCtx.Err() != nil {
			s.logger.Debug("poll discarded after cancellation", "stream", res.Stream, "kind", s.kind.String())
			return
		}
		report(res)
	})

	if !s.private.Submit(poll) {
		return
	}

	select {
	case <-poll.Done():
	case <-ctx.Done():
	}
}

// Idle reports whether no poll for this stream is queued or running.
func (s *Scheduler) Idle() bool {
	return s.private.Idle()
}

// Close cancels outstanding polls and refuses new ones.
// It does not wait; use [Scheduler.Wait].
func (s *Scheduler) Close() {
	s.private.CancelAll()
}

// Wait blocks until every poll body started for this stream has returned.
func (s *Scheduler) Wait() {
	s.private.Wait()
}

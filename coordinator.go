package pulsesync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jpalmerr/pulsesync/dashboard"
	"github.com/jpalmerr/pulsesync/internal/executor"
	"github.com/jpalmerr/pulsesync/internal/metrics"
	"github.com/jpalmerr/pulsesync/internal/poller"
	"github.com/jpalmerr/pulsesync/internal/server"
	"github.com/jpalmerr/pulsesync/internal/store"
	"github.com/jpalmerr/pulsesync/internal/task"
)

const (
	defaultInterval = 60 * time.Second

	// coreKey is the ordering key of the core stream; specials start at 1.
	coreKey = 0

	// maxPendingErrors bounds the errors waiting for slow error handlers.
	maxPendingErrors = 1024
)

// Coordinator keeps local state in sync with a server by polling one core
// stream and any number of special streams.
//
// All streams share one serial queue, so at most one stream polls at a time.
// Each stream also runs its polls on a private serial executor, so a stream
// never has two polls in flight even when a trigger cancels a poll whose
// fetch is still outstanding.
//
// A single goroutine owns the stream registry, the refill timer and the
// shared queue; every public method is a message to it. Methods are safe for
// concurrent use.
//
// The typical lifecycle is:
//
//	c, err := pulsesync.New(
//	    pulsesync.WithCoreSource(coreSrc),
//	    pulsesync.WithSpecialSource(calendarSrc),
//	    pulsesync.WithCursorStore(cursors),
//	)
//	if err != nil {
//	    slog.Error("failed to create coordinator", "error", err)
//	    os.Exit(1)
//	}
//	defer c.Close()
//
//	c.EnableCoreStream("account-1")
//	c.EnableSpecialStream("calendar-7")
//	c.Start()
//
// [Coordinator.Run] wraps Start and Close around a context and serves the
// diagnostics API.
type Coordinator struct {
	coreSource    Source
	specialSource Source
	cursors       CursorStore
	interval      time.Duration
	clock         clock.Clock
	logger        *slog.Logger
	errorHandlers []func(*StreamError)
	registry      *prometheus.Registry
	metrics       *metrics.Collector
	statuses      *store.MemoryStore
	port          int
	title         string

	cmds      chan func()
	results   chan pollEvent
	errs      chan *StreamError
	done      chan struct{}
	closeOnce sync.Once
	loopWG    sync.WaitGroup

	// owned by the run loop, and by Close once the loop has exited
	shared   *executor.Serial
	started  bool
	timer    clock.Timer
	core     *poller.Scheduler
	specials map[StreamID]*poller.Scheduler
	nextKey  int
	retired  []*poller.Scheduler
	pending  []*StreamError
}

// pollEvent carries a pass result to the run loop.
type pollEvent struct {
	sched  *poller.Scheduler
	queued *task.Task
	res    poller.Result
}

// New creates a [Coordinator] with the given options.
//
// [WithCursorStore] and at least one of [WithCoreSource] and
// [WithSpecialSource] are required. The coordinator starts suspended with no
// streams enabled. Call [Coordinator.Close] to release it.
//
// Returns an error if a required option is missing or any option is invalid.
func New(opts ...Option) (*Coordinator, error) {
	cfg := &coordConfig{
		interval: defaultInterval,
		clock:    clock.WallClock,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.coreSource == nil && cfg.specialSource == nil {
		return nil, errors.New("at least one source is required")
	}
	if cfg.cursors == nil {
		return nil, errors.New("cursor store is required")
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	registry := cfg.registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	collector := metrics.NewCollector()
	if err := registry.Register(collector); err != nil {
		return nil, fmt.Errorf("registering metrics: %w", err)
	}

	shared := executor.New("shared", executor.WithLogger(logger))
	shared.CancelAll()

	c := &Coordinator{
		coreSource:    cfg.coreSource,
		specialSource: cfg.specialSource,
		cursors:       cfg.cursors,
		interval:      cfg.interval,
		clock:         cfg.clock,
		logger:        logger,
		errorHandlers: cfg.errorHandlers,
		registry:      registry,
		metrics:       collector,
		statuses:      store.NewMemoryStore(),
		port:          cfg.port,
		title:         cfg.title,
		cmds:          make(chan func()),
		results:       make(chan pollEvent),
		errs:          make(chan *StreamError),
		done:          make(chan struct{}),
		shared:        shared,
		specials:      make(map[StreamID]*poller.Scheduler),
		nextKey:       coreKey + 1,
	}

	c.loopWG.Add(2)
	go c.loop()
	go c.dispatchErrors()

	return c, nil
}

// Start resumes the shared queue and arms the refill timer.
//
// The first refill happens immediately, then one every interval. Calling
// Start on a started coordinator has no effect.
func (c *Coordinator) Start() error {
	return c.do(func() error {
		if c.started {
			return nil
		}
		c.started = true
		c.shared.Resume()
		c.logger.Info("coordinator started", "interval", c.interval.String(), "streams", len(c.ordered()))
		c.refill()
		c.timer = c.clock.NewTimer(c.interval)
		return nil
	})
}

// Suspend cancels every queued and running poll, refuses new ones and
// disarms the timer. In-flight fetch and apply calls are not interrupted,
// but their results are discarded.
//
// Suspend is idempotent. Streams stay enabled; [Coordinator.Start] resumes.
func (c *Coordinator) Suspend() {
	_ = c.do(func() error {
		c.suspend()
		return nil
	})
}

// Reset suspends the coordinator, disables every special stream and drops
// the statuses of special streams. The core stream stays enabled.
func (c *Coordinator) Reset() {
	_ = c.do(func() error {
		c.suspend()
		for _, s := range c.specials {
			c.retire(s)
		}
		c.specials = make(map[StreamID]*poller.Scheduler)
		for _, st := range c.statuses.GetAll() {
			if st.Kind == poller.KindSpecial.String() {
				c.statuses.Remove(st.Kind, st.ID)
			}
		}
		c.metrics.SetEnabled(poller.KindSpecial.String(), 0)
		c.logger.Info("special streams cleared")
		return nil
	})
}

// EnableCoreStream registers the core stream under id, replacing a core
// stream registered under another id.
//
// Enabling does not poll; the stream is picked up by the next refill or
// trigger. Enabling the current core stream again has no effect.
//
// Returns [ErrNoSource] if no core source is configured and [ErrStreamIDInUse]
// if a special stream is registered under id.
func (c *Coordinator) EnableCoreStream(id StreamID) error {
	if id == "" {
		return errors.New("stream id cannot be empty")
	}
	return c.do(func() error {
		if c.coreSource == nil {
			return fmt.Errorf("enable core stream %q: %w", id, ErrNoSource)
		}
		if _, ok := c.specials[id]; ok {
			return fmt.Errorf("enable core stream %q: %w", id, ErrStreamIDInUse)
		}
		if c.core != nil {
			if c.core.ID() == id {
				return nil
			}
			c.shared.CancelTagged(c.core.Tag())
			c.retire(c.core)
			c.statuses.Remove(c.core.Kind().String(), string(c.core.ID()))
		}
		c.core = c.newScheduler(poller.KindCore, coreKey, id, c.coreSource)
		c.metrics.SetEnabled(poller.KindCore.String(), 1)
		c.logger.Info("core stream enabled", "stream", id)
		return nil
	})
}

// EnableSpecialStream registers a special stream under id.
//
// Each newly registered stream is refilled after the streams registered
// before it. Enabling does not poll. Enabling a registered stream again has
// no effect and keeps its place in the order.
//
// Returns [ErrNoSource] if no special source is configured and
// [ErrStreamIDInUse] if the core stream is registered under id.
func (c *Coordinator) EnableSpecialStream(id StreamID) error {
	if id == "" {
		return errors.New("stream id cannot be empty")
	}
	return c.do(func() error {
		if c.specialSource == nil {
			return fmt.Errorf("enable special stream %q: %w", id, ErrNoSource)
		}
		if c.core != nil && c.core.ID() == id {
			return fmt.Errorf("enable special stream %q: %w", id, ErrStreamIDInUse)
		}
		if _, ok := c.specials[id]; ok {
			return nil
		}
		key := c.nextKey
		c.nextKey++
		c.specials[id] = c.newScheduler(poller.KindSpecial, key, id, c.specialSource)
		c.metrics.SetEnabled(poller.KindSpecial.String(), len(c.specials))
		c.logger.Info("special stream enabled", "stream", id, "key", key)
		return nil
	})
}

// DisableSpecialStream unregisters a special stream and cancels its queued
// and running polls.
//
// Returns [ErrStreamNotEnabled] if the stream is not registered.
func (c *Coordinator) DisableSpecialStream(id StreamID) error {
	return c.do(func() error {
		s, ok := c.specials[id]
		if !ok {
			return fmt.Errorf("disable special stream %q: %w", id, ErrStreamNotEnabled)
		}
		c.removeSpecial(s)
		c.statuses.Remove(s.Kind().String(), string(id))
		c.logger.Info("special stream disabled", "stream", id)
		return nil
	})
}

// TriggerCoreStream cancels everything on the shared queue and enqueues a
// core stream poll. Special streams are not polled.
//
// Returns [ErrNotStarted] while suspended and [ErrStreamNotEnabled] if no
// core stream is registered.
func (c *Coordinator) TriggerCoreStream() error {
	return c.do(c.triggerCore)
}

// TriggerSpecialStream cancels everything on the shared queue and enqueues a
// core stream poll, if a core stream is registered, followed by a poll of
// the special stream id.
//
// Returns [ErrNotStarted] while suspended and [ErrStreamNotEnabled] if the
// stream is not registered.
func (c *Coordinator) TriggerSpecialStream(id StreamID) error {
	return c.do(func() error {
		if !c.started {
			return ErrNotStarted
		}
		s, ok := c.specials[id]
		if !ok {
			return fmt.Errorf("trigger special stream %q: %w", id, ErrStreamNotEnabled)
		}
		c.restartQueue()
		if c.core != nil {
			c.enqueue(c.core)
		}
		c.enqueue(s)
		return nil
	})
}

// CurrentlyEnabled returns the registered streams: the core stream first,
// then special streams in registration order. It returns nil after Close.
func (c *Coordinator) CurrentlyEnabled() []StreamID {
	var ids []StreamID
	_ = c.do(func() error {
		for _, s := range c.ordered() {
			ids = append(ids, s.ID())
		}
		return nil
	})
	return ids
}

// Idle reports whether no poll is queued or running for any stream,
// including streams that were disabled while a poll was in flight.
func (c *Coordinator) Idle() bool {
	idle := true
	err := c.do(func() error {
		if !c.shared.Idle() {
			idle = false
			return nil
		}
		for _, s := range c.ordered() {
			if !s.Idle() {
				idle = false
				return nil
			}
		}
		for _, s := range c.retired {
			if !s.Idle() {
				idle = false
				return nil
			}
		}
		return nil
	})
	return err == nil && idle
}

// Statuses returns the last known state of every stream: the core stream
// first, then special streams in registration order.
func (c *Coordinator) Statuses() []StreamStatus {
	all := c.statuses.GetAll()
	out := make([]StreamStatus, len(all))
	for i, s := range all {
		out[i] = fromStoreStatus(s)
	}
	return out
}

// Handler returns the diagnostics API and dashboard as an [http.Handler],
// for mounting on an existing server.
func (c *Coordinator) Handler() http.Handler {
	return c.newServer().Handler()
}

// Run starts the coordinator and, if a port is configured, the diagnostics
// server. It blocks until ctx is cancelled, then closes the coordinator.
//
// Returns nil on graceful shutdown. Returns an error if the coordinator was
// closed or the HTTP server fails to start.
func (c *Coordinator) Run(ctx context.Context) error {
	defer c.Close()

	if ctx.Err() != nil {
		return nil
	}
	if err := c.Start(); err != nil {
		return err
	}

	if c.port > 0 {
		if err := c.newServer().Start(ctx); err != nil {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		c.logger.Info("dashboard available", "url", fmt.Sprintf("http://localhost:%d", c.port))
	}

	<-ctx.Done()
	return nil
}

// Close stops the coordinator, cancels every poll and waits for in-flight
// fetch and apply calls to return. Later calls to other methods return
// [ErrClosed]. Close is idempotent.
//
// Error handlers must not call Close.
func (c *Coordinator) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.loopWG.Wait()

		c.shared.CancelAll()
		if c.timer != nil {
			c.timer.Stop()
		}

		all := append(c.ordered(), c.retired...)
		for _, s := range all {
			s.Close()
		}
		for _, s := range all {
			s.Wait()
		}
		c.shared.Wait()

		c.registry.Unregister(c.metrics)
		c.logger.Info("coordinator stopped")
	})
	return nil
}

// do runs fn on the loop goroutine and returns its error.
func (c *Coordinator) do(fn func() error) error {
	errc := make(chan error, 1)
	select {
	case c.cmds <- func() { errc <- fn() }:
	case <-c.done:
		return ErrClosed
	}
	return <-errc
}

// loop serializes every registry, timer and queue mutation.
func (c *Coordinator) loop() {
	defer c.loopWG.Done()

	for {
		var tick <-chan time.Time
		if c.timer != nil {
			tick = c.timer.Chan()
		}
		var sink chan<- *StreamError
		var next *StreamError
		if len(c.pending) > 0 {
			sink = c.errs
			next = c.pending[0]
		}

		select {
		case fn := <-c.cmds:
			fn()
		case ev := <-c.results:
			c.handleResult(ev)
		case <-tick:
			c.refill()
			c.timer.Reset(c.interval)
		case sink <- next:
			c.pending[0] = nil
			c.pending = c.pending[1:]
		case <-c.done:
			return
		}
	}
}

// dispatchErrors runs error handlers off the loop goroutine, so handlers may
// call back into the coordinator.
func (c *Coordinator) dispatchErrors() {
	defer c.loopWG.Done()

	for {
		select {
		case err := <-c.errs:
			for _, h := range c.errorHandlers {
				c.invokeHandlerSafe(h, err)
			}
		case <-c.done:
			return
		}
	}
}

// refill enqueues one poll per enabled stream in ordering-key order, but
// only when the shared queue is idle.
func (c *Coordinator) refill() {
	c.pruneRetired()

	if !c.shared.Idle() {
		c.logger.Debug("refill skipped, queue busy", "queued", c.shared.Len())
		return
	}
	streams := c.ordered()
	for _, s := range streams {
		c.enqueue(s)
	}
	c.logger.Debug("refill", "streams", len(streams))
}

func (c *Coordinator) handleResult(ev pollEvent) {
	s, res := ev.sched, ev.res
	if !c.registered(s) {
		c.logger.Debug("result for disabled stream ignored", "stream", res.Stream, "kind", s.Kind().String())
		return
	}
	// cancelled while the result waited for the loop
	if ev.queued.Cancelled() {
		c.logger.Debug("result of cancelled poll ignored", "stream", res.Stream, "kind", s.Kind().String())
		return
	}

	kind := s.Kind().String()
	applied := res.Outcome == poller.OutcomeDone || res.Outcome == poller.OutcomeMorePages
	errKind := ""
	if res.Err != nil {
		errKind = res.Err.Kind.String()
	}
	c.metrics.ObservePoll(kind, res.Outcome.String(), applied, errKind, res.Duration)
	c.recordStatus(s, res, applied)

	switch res.Outcome {
	case poller.OutcomeMorePages:
		c.logger.Debug("more pages pending", "stream", res.Stream, "kind", kind, "cursor", res.Cursor)
		c.enqueue(s)
	case poller.OutcomeDone:
		c.logger.Debug("stream in sync", "stream", res.Stream, "kind", kind, "cursor", res.Cursor, "events", res.Events)
	case poller.OutcomeRetry:
		c.logger.Warn("stream poll failed", "stream", res.Stream, "kind", kind, "error", res.Err.Error())
		c.report(res.Err)
	case poller.OutcomeTerminated:
		c.logger.Error("stream terminated", "stream", res.Stream, "kind", kind, "error", res.Err.Error())
		if s == c.core {
			c.shared.CancelTagged(s.Tag())
			c.retire(s)
			c.core = nil
			c.metrics.SetEnabled(kind, 0)
		} else {
			c.removeSpecial(s)
		}
		c.report(res.Err)
	}
}

func (c *Coordinator) recordStatus(s *poller.Scheduler, res poller.Result, applied bool) {
	kind := s.Kind().String()
	prev, _ := c.statuses.Get(kind, string(s.ID()))

	st := store.StreamStatus{
		ID:           string(s.ID()),
		Kind:         kind,
		Order:        s.Key(),
		Enabled:      res.Outcome != poller.OutcomeTerminated,
		Cursor:       res.Cursor,
		Outcome:      res.Outcome.String(),
		PagesApplied: prev.PagesApplied,
		DurationMs:   res.Duration.Milliseconds(),
		PolledAt:     res.PolledAt,
	}
	if res.Cursor == "" {
		st.Cursor = prev.Cursor
	}
	if applied {
		st.PagesApplied++
	}
	if res.Err != nil {
		msg := res.Err.Error()
		st.Error = &msg
	}
	c.statuses.Update(st)
}

func (c *Coordinator) newScheduler(kind poller.Kind, key int, id StreamID, src Source) *poller.Scheduler {
	logger := c.logger.With("stream", id, "kind", kind.String())
	p := poller.NewPoller(id, src, c.cursors, c.clock, logger)
	s := poller.NewScheduler(kind, key, p, logger)

	c.statuses.Update(store.StreamStatus{
		ID:      string(id),
		Kind:    kind.String(),
		Order:   key,
		Enabled: true,
		Outcome: OutcomePending,
	})
	return s
}

// enqueue submits one poll for s to the shared queue.
func (c *Coordinator) enqueue(s *poller.Scheduler) {
	s.EnqueueNext(c.shared, func(queued *task.Task, res poller.Result) {
		select {
		case c.results <- pollEvent{sched: s, queued: queued, res: res}:
		case <-queued.Done():
		case <-c.done:
		}
	})
}

func (c *Coordinator) triggerCore() error {
	if !c.started {
		return ErrNotStarted
	}
	if c.core == nil {
		return fmt.Errorf("trigger core stream: %w", ErrStreamNotEnabled)
	}
	c.restartQueue()
	c.enqueue(c.core)
	return nil
}

func (c *Coordinator) suspend() {
	c.shared.CancelAll()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.started {
		c.logger.Info("coordinator suspended")
	}
	c.started = false
}

// restartQueue cancels everything on the shared queue and resumes intake.
func (c *Coordinator) restartQueue() {
	c.shared.CancelAll()
	c.shared.Resume()
}

func (c *Coordinator) removeSpecial(s *poller.Scheduler) {
	delete(c.specials, s.ID())
	c.shared.CancelTagged(s.Tag())
	c.retire(s)
	c.metrics.SetEnabled(poller.KindSpecial.String(), len(c.specials))
}

// retire closes s and keeps it until its last poll has returned.
func (c *Coordinator) retire(s *poller.Scheduler) {
	s.Close()
	c.retired = append(c.retired, s)
}

func (c *Coordinator) pruneRetired() {
	kept := c.retired[:0]
	for _, s := range c.retired {
		if !s.Idle() {
			kept = append(kept, s)
		}
	}
	for i := len(kept); i < len(c.retired); i++ {
		c.retired[i] = nil
	}
	c.retired = kept
}

func (c *Coordinator) registered(s *poller.Scheduler) bool {
	if s.Kind() == poller.KindCore {
		return s == c.core
	}
	return c.specials[s.ID()] == s
}

// ordered returns the core stream, if any, then specials by ordering key.
func (c *Coordinator) ordered() []*poller.Scheduler {
	out := make([]*poller.Scheduler, 0, len(c.specials)+1)
	if c.core != nil {
		out = append(out, c.core)
	}
	specials := make([]*poller.Scheduler, 0, len(c.specials))
	for _, s := range c.specials {
		specials = append(specials, s)
	}
	sort.Slice(specials, func(i, j int) bool {
		return specials[i].Key() < specials[j].Key()
	})
	return append(out, specials...)
}

// report queues err for the error handlers. Once maxPendingErrors are
// waiting, new errors are dropped until the handlers catch up.
func (c *Coordinator) report(err *StreamError) {
	if len(c.errorHandlers) == 0 {
		return
	}
	if len(c.pending) >= maxPendingErrors {
		c.logger.Warn("stream error dropped for slow error handler",
			"stream", err.Stream,
			"error", err.Error(),
			"pending", len(c.pending),
		)
		return
	}
	c.pending = append(c.pending, err)
}

func (c *Coordinator) newServer() *server.Server {
	return server.NewServer(server.Config{
		Store:      c.statuses,
		Controller: c,
		Gatherer:   c.registry,
		Port:       c.port,
		Assets:     dashboard.Assets,
		Title:      c.title,
		Logger:     c.logger,
	})
}

// invokeHandlerSafe calls an error handler with panic recovery.
// Panics are logged with a correlation ID and do not propagate.
func (c *Coordinator) invokeHandlerSafe(h func(*StreamError), err *StreamError) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("error handler panicked",
				"stream", err.Stream,
				"correlation_id", uuid.NewString(),
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	h(err)
}

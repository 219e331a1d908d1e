// Package pulsesync keeps local state in sync with a remote server by
// periodically polling event streams.
//
// A [Coordinator] polls one core stream (for example an account's general
// event feed) and any number of special streams (for example one per
// calendar). Each poll fetches the page of events since the stream's stored
// cursor, applies it through the stream's [Source], and only then advances
// the cursor in the [CursorStore]. A failed or cancelled poll leaves the
// cursor where it was, so the same page is fetched again later and nothing
// is lost or skipped.
//
// # Quick Start
//
//	cursors := pulsesync.NewMemoryCursorStore()
//	cursors.Seed("account-1", "0")
//
//	c, err := pulsesync.New(
//	    pulsesync.WithCoreSource(src),
//	    pulsesync.WithCursorStore(cursors),
//	    pulsesync.WithInterval(30*time.Second),
//	    pulsesync.WithPort(8080),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	c.EnableCoreStream("account-1")
//
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//
//	c.Run(ctx) // blocks until ctx is cancelled
//
// # Scheduling
//
// All polls go through one shared serial queue. On Start, and then every
// interval, the queue is refilled with one poll per enabled stream: the core
// stream first, then special streams in the order they were enabled. A
// refill is skipped while the queue is still busy. When a page reports more
// pages, the next poll for that stream is enqueued straight away.
//
// [Coordinator.TriggerCoreStream] and [Coordinator.TriggerSpecialStream]
// cancel whatever is queued and poll right away. A stream never has two
// polls in flight: a poll cancelled mid-fetch must return before the next
// poll of the same stream starts.
//
// # Errors
//
// Every failure is reported as a [*StreamError] to handlers registered with
// [WithErrorHandler]. Network, apply and cursor storage failures are retried
// on the next refill. A missing cursor or a cache invalidation signalled by
// the server is terminal: the stream is removed from scheduling, and the
// caller decides whether to rebuild and enable it again.
//
// # Architecture
//
// The internal packages are:
//
//   - internal/task: cancellable unit of work with observable state
//   - internal/executor: strictly ordered single-concurrency queue
//   - internal/poller: one-pass stream poller, per-stream scheduler and an HTTP source
//   - internal/store: stream statuses with pub/sub, in-memory cursors
//   - internal/store/sqlite: durable cursors and an event journal
//   - internal/server: REST API, Server-Sent Events and /metrics
//   - internal/metrics: Prometheus collector
//   - dashboard: embedded web UI assets
//
// The internal packages are not part of the public API and may change
// without notice.
package pulsesync

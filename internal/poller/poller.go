package poller

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"

	"github.com/jpalmerr/pulsesync/internal/stream"
)

// Outcome is how a single pass over a stream ended.
type Outcome int

const (
	// OutcomeDone means a page was applied and no more pages are pending.
	OutcomeDone Outcome = iota

	// OutcomeMorePages means a page was applied and another one is
	// immediately available.
	OutcomeMorePages

	// OutcomeRetry means a recoverable error occurred; the cursor is unchanged
	// and the stream is retried on the next refill.
	OutcomeRetry

	// OutcomeTerminated means a terminal error occurred; the stream must be
	// removed from scheduling.
	OutcomeTerminated

	// OutcomeCancelled means cancellation was observed; nothing was recorded.
	OutcomeCancelled
)

// String returns the lower-case outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeDone:
		return "done"
	case OutcomeMorePages:
		return "more_pages"
	case OutcomeRetry:
		return "retry"
	case OutcomeTerminated:
		return "terminated"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Result holds the outcome of one pass over a stream.
type Result struct {
	// Stream is the identifier of the polled stream.
	Stream stream.ID

	// Outcome is how the pass ended.
	Outcome Outcome

	// Err is set for OutcomeRetry and OutcomeTerminated.
	Err *stream.Error

	// Cursor is the cursor of record after the pass. It only differs from the
	// cursor the pass started with when a page was applied.
	Cursor string

	// Events is the number of events in the fetched page.
	Events int

	// PolledAt is when the pass started.
	PolledAt time.Time

	// Duration is the time taken by the pass.
	Duration time.Duration
}

// Poller synchronizes one stream to the latest server state, one page per
// call to [Poller.Poll].
//
// A Poller holds no mutable state of its own; the cursor lives in the
// CursorStore. Callers must not run two passes of the same Poller at once;
// [Scheduler] guarantees this.
type Poller struct {
	id      stream.ID
	source  stream.Source
	cursors stream.CursorStore
	clock   clock.Clock
	logger  *slog.Logger
}

// NewPoller creates a [Poller] for the stream id.
func NewPoller(id stream.ID, source stream.Source, cursors stream.CursorStore, clk clock.Clock, logger *slog.Logger) *Poller {
	if clk == nil {
		clk = clock.WallClock
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		id:      id,
		source:  source,
		cursors: cursors,
		clock:   clk,
		logger:  logger,
	}
}

// ID returns the identifier of the polled stream.
func (p *Poller) ID() stream.ID {
	return p.id
}

// Poll runs one pass: load the cursor, fetch the page since that cursor,
// classify it, apply it, then advance the cursor.
//
// The cursor is saved only after Apply returned successfully and no
// cancellation was observed. ctx cancellation is checked on return from every
// external call; a cancelled pass reports [OutcomeCancelled] and leaves the
// cursor untouched.
func (p *Poller) Poll(ctx context.Context) Result {
	started := p.clock.Now()
	res := Result{Stream: p.id, PolledAt: started}
	end := func(o Outcome, err *stream.Error) Result {
		res.Outcome = o
		res.Err = err
		res.Duration = p.clock.Now().Sub(started)
		return res
	}

	if ctx.Err() != nil {
		return end(OutcomeCancelled, nil)
	}

	cursor, ok, err := p.cursors.LoadCursor(ctx, p.id)
	if ctx.Err() != nil {
		return end(OutcomeCancelled, nil)
	}
	if err != nil {
		return end(OutcomeRetry, stream.NewError(p.id, stream.KindCursorStore, fmt.Errorf("load cursor: %w", err)))
	}
	if !ok {
		return end(OutcomeTerminated, stream.NewError(p.id, stream.KindMissingCursor, nil))
	}
	res.Cursor = cursor

	page, err := p.source.Fetch(ctx, p.id, cursor)
	if ctx.Err() != nil {
		return end(OutcomeCancelled, nil)
	}
	if err != nil {
		return end(OutcomeRetry, stream.NewError(p.id, stream.KindNetwork, err))
	}
	res.Events = len(page.Events)

	if kind, outdated := invalidation(page); outdated {
		return end(OutcomeTerminated, stream.NewError(p.id, kind, nil))
	}

	err = p.safeApply(ctx, page)
	if ctx.Err() != nil {
		return end(OutcomeCancelled, nil)
	}
	if err != nil {
		return end(OutcomeRetry, stream.NewError(p.id, stream.KindApply, err))
	}

	// an empty cursor carries no position; keep the one of record
	if page.Cursor != "" && page.Cursor != cursor {
		if err := p.cursors.SaveCursor(ctx, p.id, page.Cursor); err != nil {
			return end(OutcomeRetry, stream.NewError(p.id, stream.KindCursorStore, fmt.Errorf("save cursor: %w", err)))
		}
		res.Cursor = page.Cursor
	}

	if page.HasMore {
		// a page that does not move the cursor would re-fetch itself forever
		if res.Cursor == cursor {
			p.logger.Warn("more pages reported without cursor advance", "stream", p.id, "cursor", cursor)
			return end(OutcomeDone, nil)
		}
		return end(OutcomeMorePages, nil)
	}
	return end(OutcomeDone, nil)
}

// invalidation returns the error kind for the first invalidation flag set on
// the page, checking the general cache first.
func invalidation(page stream.Page) (stream.ErrorKind, bool) {
	switch {
	case page.CacheOutdated:
		return stream.KindCacheOutdated, true
	case page.MailCacheOutdated:
		return stream.KindMailCacheOutdated, true
	case page.ContactsCacheOutdated:
		return stream.KindContactsCacheOutdated, true
	default:
		return 0, false
	}
}

// safeApply calls the source's Apply with panic recovery.
// If Apply panics, it logs the full stack trace with a correlation ID and
// returns an error containing the ID.
func (p *Poller) safeApply(ctx context.Context, page stream.Page) (err error) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()

			p.logger.Error("apply panic",
				"stream", p.id,
				"correlation_id", correlationID,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)

			err = fmt.Errorf("apply panic (correlation_id: %s)", correlationID)
		}
	}()
	return p.source.Apply(ctx, p.id, page)
}

package pulsesync

import (
	"time"

	"github.com/jpalmerr/pulsesync/internal/store"
)

// Outcome values reported in [StreamStatus.Outcome].
const (
	OutcomePending    = "pending"
	OutcomeDone       = "done"
	OutcomeMorePages  = "more_pages"
	OutcomeRetry      = "retry"
	OutcomeTerminated = "terminated"
)

// StreamStatus is the last known state of one stream.
//
// Statuses of disabled streams are dropped; a stream removed after a
// terminal error keeps its status with Enabled false and the error set.
type StreamStatus struct {
	// ID is the stream identifier.
	ID StreamID

	// Kind is "core" or "special".
	Kind string

	// Enabled reports whether the stream is registered for polling.
	Enabled bool

	// Cursor is the cursor of record after the last pass.
	Cursor string

	// Outcome is the outcome of the last pass, or [OutcomePending].
	Outcome string

	// PagesApplied counts pages applied since the stream was enabled.
	PagesApplied int64

	// Duration is the time taken by the last pass.
	Duration time.Duration

	// PolledAt is when the last pass started. Zero until the first pass.
	PolledAt time.Time

	// Err is the message of the last pass's error, empty on success.
	Err string
}

// fromStoreStatus converts the storage representation to the public type.
func fromStoreStatus(s store.StreamStatus) StreamStatus {
	out := StreamStatus{
		ID:           StreamID(s.ID),
		Kind:         s.Kind,
		Enabled:      s.Enabled,
		Cursor:       s.Cursor,
		Outcome:      s.Outcome,
		PagesApplied: s.PagesApplied,
		Duration:     time.Duration(s.DurationMs) * time.Millisecond,
		PolledAt:     s.PolledAt,
	}
	if s.Error != nil {
		out.Err = *s.Error
	}
	return out
}

package store

import "time"

// StreamStatus represents the last known state of one stream.
//
// StreamStatus is the storage representation of a pass result, shaped for
// JSON serialization (used by the REST API and SSE). It is decoupled from
// the poller's internal types.
type StreamStatus struct {
	// ID is the stream identifier.
	ID string `json:"id"`

	// Kind is "core" or "special".
	Kind string `json:"kind"`

	// Order is the stream's registration key; statuses of one kind are
	// listed in this order.
	Order int `json:"order"`

	// Enabled is false once the stream was disabled or terminated.
	Enabled bool `json:"enabled"`

	// Cursor is the cursor of record after the last pass.
	Cursor string `json:"cursor"`

	// Outcome is the outcome of the last pass (e.g., "done", "retry").
	Outcome string `json:"outcome"`

	// PagesApplied counts pages applied since the stream was enabled.
	PagesApplied int64 `json:"pages_applied"`

	// DurationMs is the duration of the last pass in milliseconds.
	DurationMs int64 `json:"duration_ms"`

	// PolledAt is the timestamp of the last pass.
	PolledAt time.Time `json:"polled_at"`

	// Error contains the error message if the last pass failed.
	Error *string `json:"error"`
}

func (s StreamStatus) key() string {
	return statusKey(s.Kind, s.ID)
}

func statusKey(kind, id string) string {
	return kind + ":" + id
}

// Store defines the interface for storing and subscribing to stream statuses.
//
// Store implementations must be safe for concurrent access.
type Store interface {
	// Update stores a status and notifies all subscribers.
	// The status is keyed by Kind and ID, so subsequent updates replace
	// previous values.
	Update(status StreamStatus)

	// Remove deletes the status of a stream. Subscribers are not notified.
	Remove(kind, id string)

	// Get returns the status of a stream.
	Get(kind, id string) (StreamStatus, bool)

	// GetAll returns all stored statuses ordered by kind, then Order, then ID.
	// The returned slice is a snapshot; modifications do not affect the store.
	GetAll() []StreamStatus

	// Subscribe returns a channel that receives status updates.
	// Caller must call Unsubscribe when done to prevent resource leaks.
	Subscribe() <-chan StreamStatus

	// Unsubscribe removes a subscription and closes the channel.
	// Safe to call with a channel that was already unsubscribed.
	Unsubscribe(ch <-chan StreamStatus)
}

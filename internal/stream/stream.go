package stream

import (
	"context"
	"encoding/json"
)

// ID identifies one event stream, e.g. an account or a calendar.
type ID string

// String returns the identifier as a plain string.
func (id ID) String() string {
	return string(id)
}

// Page is the result of a single fetch call.
//
// A Page is a value produced fresh by every fetch and never mutated. The three
// invalidation flags are independent; when any of them is set the page is not
// applied and the stream is terminated.
type Page struct {
	// Cursor is the position to resume from once this page has been applied.
	Cursor string

	// HasMore reports whether more pages are immediately available after Cursor.
	HasMore bool

	// Events holds the raw page contents. Interpretation is up to the Source.
	Events []json.RawMessage

	// CacheOutdated signals that the whole local cache must be rebuilt.
	CacheOutdated bool

	// MailCacheOutdated signals that the local mail cache must be rebuilt.
	MailCacheOutdated bool

	// ContactsCacheOutdated signals that the local contacts cache must be rebuilt.
	ContactsCacheOutdated bool
}

// Source supplies the external capabilities for one kind of stream.
//
// Apply may be invoked more than once with the same page (after a failure or
// a cancellation), so it must be idempotent or transactional.
type Source interface {
	// Fetch returns the next page of events since the given cursor.
	// Any returned error is treated as a recoverable transport failure.
	Fetch(ctx context.Context, id ID, since string) (Page, error)

	// Apply persists the contents of a page to local storage.
	Apply(ctx context.Context, id ID, page Page) error
}

// CursorStore persists the last fully applied cursor of each stream.
type CursorStore interface {
	// LoadCursor returns the stored cursor. ok is false when none exists.
	LoadCursor(ctx context.Context, id ID) (cursor string, ok bool, err error)

	// SaveCursor stores cursor as the position of record for id.
	SaveCursor(ctx context.Context, id ID, cursor string) error
}

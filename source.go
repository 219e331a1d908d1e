package pulsesync

import (
	"context"

	"github.com/jpalmerr/pulsesync/internal/store"
	"github.com/jpalmerr/pulsesync/internal/stream"
)

// StreamID identifies a stream, e.g. an account or a calendar.
type StreamID = stream.ID

// Page is one batch of changes returned by a fetch, plus continuation and
// cache invalidation metadata.
type Page = stream.Page

// Source fetches pages and applies them to local storage.
//
// Apply must be safe to repeat for the same page: after a failed apply the
// page is fetched and applied again from the unchanged cursor.
type Source = stream.Source

// CursorStore persists the cursor of record for each stream.
type CursorStore = stream.CursorStore

// SourceFuncs adapts a pair of functions to [Source].
// A nil ApplyFunc accepts every page.
type SourceFuncs struct {
	FetchFunc func(ctx context.Context, id StreamID, since string) (Page, error)
	ApplyFunc func(ctx context.Context, id StreamID, page Page) error
}

// Fetch calls FetchFunc.
func (s SourceFuncs) Fetch(ctx context.Context, id StreamID, since string) (Page, error) {
	return s.FetchFunc(ctx, id, since)
}

// Apply calls ApplyFunc if set.
func (s SourceFuncs) Apply(ctx context.Context, id StreamID, page Page) error {
	if s.ApplyFunc == nil {
		return nil
	}
	return s.ApplyFunc(ctx, id, page)
}

// MemoryCursorStore is a [CursorStore] kept in memory. Cursors are lost when
// the process exits.
type MemoryCursorStore = store.MemoryCursors

// NewMemoryCursorStore returns an empty [MemoryCursorStore].
// Use Seed to give a stream its starting cursor.
func NewMemoryCursorStore() *MemoryCursorStore {
	return store.NewMemoryCursors()
}

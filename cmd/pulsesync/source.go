package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jpalmerr/pulsesync"
	"github.com/jpalmerr/pulsesync/internal/poller"
	"github.com/jpalmerr/pulsesync/internal/store/sqlite"
)

// journalSource fetches pages over HTTP and journals their events in the
// same database that holds the cursors.
type journalSource struct {
	client *poller.Client
	db     *sqlite.Store
	logger *slog.Logger
}

func (s *journalSource) Fetch(ctx context.Context, id pulsesync.StreamID, since string) (pulsesync.Page, error) {
	return s.client.Fetch(ctx, id, since)
}

// Apply journals page under the stream's current cursor, which is the
// cursor the page was fetched from.
func (s *journalSource) Apply(ctx context.Context, id pulsesync.StreamID, page pulsesync.Page) error {
	since, _, err := s.db.LoadCursor(ctx, id)
	if err != nil {
		return err
	}
	written, err := s.db.ApplyPage(ctx, id, since, page)
	if err != nil {
		return fmt.Errorf("journal page: %w", err)
	}
	s.logger.Debug("page journaled",
		"stream", id,
		"since", since,
		"events", len(page.Events),
		"written", written,
	)
	return nil
}

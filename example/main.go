package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jpalmerr/pulsesync"
	"github.com/jpalmerr/pulsesync/example/mockfeed"
)

const feedURL = "http://localhost:9999/events"

// eventCounts is a toy local store: the number of events applied per stream.
type eventCounts struct {
	mu     sync.Mutex
	counts map[pulsesync.StreamID]int
}

func (e *eventCounts) apply(_ context.Context, id pulsesync.StreamID, page pulsesync.Page) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.counts[id] += len(page.Events)
	slog.Info("page applied", "stream", id, "events", len(page.Events), "total", e.counts[id], "cursor", page.Cursor)
	return nil
}

func (e *eventCounts) reset(id pulsesync.StreamID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.counts, id)
}

// fetch requests one page from the mock feed.
func fetch(ctx context.Context, id pulsesync.StreamID, since string) (pulsesync.Page, error) {
	target := feedURL + "/" + url.PathEscape(string(id)) + "?since=" + url.QueryEscape(since)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return pulsesync.Page{}, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return pulsesync.Page{}, err
	}
	defer resp.Body.Close()

	var body struct {
		Cursor  string            `json:"cursor"`
		More    bool              `json:"more"`
		Events  []json.RawMessage `json:"events"`
		Refresh bool              `json:"refresh"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return pulsesync.Page{}, fmt.Errorf("decode page: %w", err)
	}
	return pulsesync.Page{
		Cursor:        body.Cursor,
		HasMore:       body.More,
		Events:        body.Events,
		CacheOutdated: body.Refresh,
	}, nil
}

func main() {
	feed := mockfeed.New("/events")
	mux := http.NewServeMux()
	mux.Handle("/events/", feed)
	go func() {
		if err := http.ListenAndServe(":9999", mux); err != nil {
			slog.Error("mock feed error", "error", err)
		}
	}()
	time.Sleep(100 * time.Millisecond)

	local := &eventCounts{counts: make(map[pulsesync.StreamID]int)}
	src := pulsesync.SourceFuncs{FetchFunc: fetch, ApplyFunc: local.apply}

	cursors := pulsesync.NewMemoryCursorStore()
	for _, id := range []pulsesync.StreamID{"account-1", "calendar-1", "calendar-2"} {
		cursors.Seed(id, "0")
	}

	var c *pulsesync.Coordinator
	c, err := pulsesync.New(
		pulsesync.WithCoreSource(src),
		pulsesync.WithSpecialSource(src),
		pulsesync.WithCursorStore(cursors),
		pulsesync.WithInterval(5*time.Second),
		pulsesync.WithPort(8080),
		pulsesync.WithTitle("pulsesync demo"),
		// rebuild the local cache from scratch, then resume the stream
		pulsesync.WithErrorHandler(func(err *pulsesync.StreamError) {
			if !errors.Is(err, pulsesync.ErrCacheOutdated) {
				return
			}
			local.reset(err.Stream)
			_ = cursors.SaveCursor(context.Background(), err.Stream, "0")
			enable := c.EnableSpecialStream
			if err.Stream == "account-1" {
				enable = c.EnableCoreStream
			}
			if enableErr := enable(err.Stream); enableErr != nil {
				slog.Error("failed to re-enable stream", "stream", err.Stream, "error", enableErr)
			}
		}),
	)
	if err != nil {
		slog.Error("failed to create coordinator", "error", err)
		os.Exit(1)
	}

	_ = c.EnableCoreStream("account-1")
	_ = c.EnableSpecialStream("calendar-1")
	_ = c.EnableSpecialStream("calendar-2")

	// invalidate calendar-2 once to show a cache rebuild
	time.AfterFunc(20*time.Second, func() { feed.Invalidate("calendar-2") })

	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════════════════╗")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   pulsesync Demo                                      ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   Open http://localhost:8080 in your browser          ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   Streams:                                            ║")
	fmt.Println("  ║   • account-1 (core)                                  ║")
	fmt.Println("  ║   • calendar-1, calendar-2 (special)                  ║")
	fmt.Println("  ║   • calendar-2 is invalidated after 20s               ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   Press Ctrl+C to stop                                ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ╚═══════════════════════════════════════════════════════╝")
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := c.Run(ctx); err != nil {
		slog.Error("coordinator error", "error", err)
		os.Exit(1)
	}
}

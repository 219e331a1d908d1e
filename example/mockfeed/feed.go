// Package mockfeed serves a synthetic paged event feed for demos.
//
// Every stream produces one new event per period. A page for stream id
// since cursor c is served at {prefix}/{id}?since={c}; cursors are event
// counts. A stream can be invalidated, which makes its next response ask
// the client to rebuild its cache.
package mockfeed

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	defaultPageSize = 5
	defaultPeriod   = 2 * time.Second

	// initialEvents are available before the first period elapses
	initialEvents = 12
)

// Option configures a [Feed].
type Option func(*Feed)

// WithPageSize sets the maximum number of events per page.
func WithPageSize(n int) Option {
	return func(f *Feed) {
		if n > 0 {
			f.pageSize = n
		}
	}
}

// WithPeriod sets how often each stream produces a new event.
func WithPeriod(d time.Duration) Option {
	return func(f *Feed) {
		if d > 0 {
			f.period = d
		}
	}
}

// WithNow overrides the time source.
func WithNow(now func() time.Time) Option {
	return func(f *Feed) {
		f.now = now
	}
}

// Feed is an [http.Handler] serving event pages.
type Feed struct {
	prefix   string
	pageSize int
	period   time.Duration
	now      func() time.Time
	start    time.Time

	mu          sync.Mutex
	invalidated map[string]bool
}

// New creates a Feed serving pages under prefix, e.g. "/events".
func New(prefix string, opts ...Option) *Feed {
	f := &Feed{
		prefix:      strings.TrimRight(prefix, "/"),
		pageSize:    defaultPageSize,
		period:      defaultPeriod,
		now:         time.Now,
		invalidated: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.start = f.now()
	return f
}

// Invalidate makes the next response for id carry the refresh flag.
func (f *Feed) Invalidate(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated[id] = true
}

// page is the JSON body of one response.
type page struct {
	Cursor  string            `json:"cursor"`
	More    bool              `json:"more"`
	Events  []json.RawMessage `json:"events"`
	Refresh bool              `json:"refresh,omitempty"`
}

// ServeHTTP implements http.Handler.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, f.prefix+"/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}

	since, err := strconv.Atoi(r.URL.Query().Get("since"))
	if err != nil || since < 0 {
		http.Error(w, "since must be a non-negative integer", http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	refresh := f.invalidated[id]
	delete(f.invalidated, id)
	f.mu.Unlock()

	total := initialEvents + int(f.now().Sub(f.start)/f.period)

	resp := page{Cursor: strconv.Itoa(since), Events: []json.RawMessage{}}
	switch {
	case refresh:
		resp.Refresh = true
		slog.Info("stream invalidated", "stream", id)
	case since > total:
		// a cursor from the future means the client's cache is not ours
		resp.Refresh = true
	default:
		end := min(since+f.pageSize, total)
		for n := since; n < end; n++ {
			resp.Events = append(resp.Events, json.RawMessage(fmt.Sprintf(`{"stream":%q,"seq":%d}`, id, n)))
		}
		resp.Cursor = strconv.Itoa(end)
		resp.More = end < total
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

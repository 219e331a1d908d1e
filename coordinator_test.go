package pulsesync

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCoordinator_CleanMultiPageSync(t *testing.T) {
	f := newFixture(t)
	f.seed("cal-1", "0")
	f.src.page("cal-1", "0", Page{Cursor: "10", HasMore: true})
	f.src.page("cal-1", "10", Page{Cursor: "20"})

	if err := f.c.EnableSpecialStream("cal-1"); err != nil {
		t.Fatalf("EnableSpecialStream() error = %v", err)
	}
	if err := f.c.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	f.waitIdle(t)

	// both pages drained without a timer tick
	if got := f.src.fetchesOf("cal-1"); !reflect.DeepEqual(got, []string{"0", "10"}) {
		t.Errorf("fetches = %v, want [0 10]", got)
	}
	if got := f.src.appliedOf("cal-1"); got != 2 {
		t.Errorf("applied = %d, want 2", got)
	}
	if got := f.cursors.cursor(t, "cal-1"); got != "20" {
		t.Errorf("cursor = %q, want 20", got)
	}
	if !contains(f.c.CurrentlyEnabled(), "cal-1") {
		t.Error("cal-1 no longer enabled after a clean sync")
	}
}

func TestCoordinator_ApplyFailureThenRetry(t *testing.T) {
	f := newFixture(t)
	f.seed("cal-1", "5")
	f.src.page("cal-1", "5", Page{Cursor: "6"})
	f.src.setApplyErr("cal-1", errors.New("disk full"))

	_ = f.c.EnableSpecialStream("cal-1")
	_ = f.c.Start()
	f.waitIdle(t)

	err := f.nextError(t)
	if !errors.Is(err, ErrApply) || err.Stream != "cal-1" {
		t.Errorf("reported error = %v, want apply error for cal-1", err)
	}
	if got := f.cursors.cursor(t, "cal-1"); got != "5" {
		t.Errorf("cursor after failed apply = %q, want 5", got)
	}
	if f.cursors.writesOf("cal-1") != 0 {
		t.Error("cursor written after failed apply")
	}
	if !contains(f.c.CurrentlyEnabled(), "cal-1") {
		t.Error("apply failure removed the stream")
	}

	f.src.setApplyErr("cal-1", nil)
	f.tick(t)
	f.waitIdle(t)

	if got := f.src.fetchesOf("cal-1"); !reflect.DeepEqual(got, []string{"5", "5"}) {
		t.Errorf("fetches = %v, want [5 5]", got)
	}
	if got := f.cursors.cursor(t, "cal-1"); got != "6" {
		t.Errorf("cursor after retry = %q, want 6", got)
	}
}

func TestCoordinator_NetworkErrorRetriedOnNextTick(t *testing.T) {
	f := newFixture(t)
	f.seed("acct", "1")
	f.src.setFetchErr("acct", errors.New("connection refused"))

	_ = f.c.EnableCoreStream("acct")
	_ = f.c.Start()
	f.waitIdle(t)

	err := f.nextError(t)
	if !errors.Is(err, ErrNetwork) || err.Terminal() {
		t.Errorf("reported error = %v, want recoverable network error", err)
	}
	if f.src.appliedOf("acct") != 0 {
		t.Error("apply called after a failed fetch")
	}

	f.src.setFetchErr("acct", nil)
	f.src.page("acct", "1", Page{Cursor: "2"})
	f.tick(t)
	f.waitIdle(t)

	if got := f.src.fetchesOf("acct"); !reflect.DeepEqual(got, []string{"1", "1"}) {
		t.Errorf("fetches = %v, want [1 1]", got)
	}
	if got := f.cursors.cursor(t, "acct"); got != "2" {
		t.Errorf("cursor = %q, want 2", got)
	}
}

func TestCoordinator_TerminalErrorRemovesStream(t *testing.T) {
	tests := []struct {
		name string
		seed bool
		page Page
		want error
	}{
		{"general cache outdated", true, Page{Cursor: "9", CacheOutdated: true}, ErrCacheOutdated},
		{"mail cache outdated", true, Page{Cursor: "9", MailCacheOutdated: true}, ErrMailCacheOutdated},
		{"contacts cache outdated", true, Page{Cursor: "9", ContactsCacheOutdated: true}, ErrContactsCacheOutdated},
		{"missing cursor", false, Page{}, ErrMissingCursor},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.seed("acct", "1")
			if tt.seed {
				f.seed("cal-1", "3")
			}
			f.src.page("cal-1", "3", tt.page)

			_ = f.c.EnableCoreStream("acct")
			_ = f.c.EnableSpecialStream("cal-1")
			_ = f.c.Start()

			err := f.nextError(t)
			if !errors.Is(err, tt.want) || err.Stream != "cal-1" || !err.Terminal() {
				t.Fatalf("reported error = %v, want terminal %v for cal-1", err, tt.want)
			}
			f.waitIdle(t)

			if got := f.c.CurrentlyEnabled(); !reflect.DeepEqual(got, []StreamID{"acct"}) {
				t.Errorf("CurrentlyEnabled() = %v, want [acct]", got)
			}
			if f.src.appliedOf("cal-1") != 0 {
				t.Error("apply called for a terminated stream")
			}
			if f.cursors.writesOf("cal-1") != 0 {
				t.Error("cursor written for a terminated stream")
			}

			fetched := len(f.src.fetchesOf("cal-1"))
			f.tick(t)
			waitFor(t, "core refill", func() bool { return len(f.src.fetchesOf("acct")) == 2 })
			f.waitIdle(t)

			if got := len(f.src.fetchesOf("cal-1")); got != fetched {
				t.Errorf("cal-1 fetched %d times after removal, want %d", got, fetched)
			}
			if err := f.c.TriggerSpecialStream("cal-1"); !errors.Is(err, ErrStreamNotEnabled) {
				t.Errorf("TriggerSpecialStream(removed) error = %v, want ErrStreamNotEnabled", err)
			}
		})
	}
}

func TestCoordinator_TerminalCoreErrorRemovesCore(t *testing.T) {
	f := newFixture(t)

	_ = f.c.EnableCoreStream("acct")
	_ = f.c.Start()

	if err := f.nextError(t); !errors.Is(err, ErrMissingCursor) {
		t.Fatalf("reported error = %v, want missing cursor", err)
	}
	f.waitIdle(t)

	if got := f.c.CurrentlyEnabled(); len(got) != 0 {
		t.Errorf("CurrentlyEnabled() = %v, want none", got)
	}
	if err := f.c.TriggerCoreStream(); !errors.Is(err, ErrStreamNotEnabled) {
		t.Errorf("TriggerCoreStream() error = %v, want ErrStreamNotEnabled", err)
	}

	// re-seeding and re-enabling resumes the stream
	f.seed("acct", "0")
	if err := f.c.EnableCoreStream("acct"); err != nil {
		t.Fatalf("EnableCoreStream() error = %v", err)
	}
	if err := f.c.TriggerCoreStream(); err != nil {
		t.Fatalf("TriggerCoreStream() error = %v", err)
	}
	f.waitIdle(t)
	if got := f.src.fetchesOf("acct"); !reflect.DeepEqual(got, []string{"0"}) {
		t.Errorf("fetches = %v, want [0]", got)
	}
}

func TestCoordinator_IdleGatedRefill(t *testing.T) {
	f := newFixture(t)
	f.seed("acct", "1")
	release := f.src.hold("acct")
	defer release()

	_ = f.c.EnableCoreStream("acct")
	_ = f.c.Start()
	f.src.waitStarted(t, "acct")

	f.tick(t)
	f.tick(t)
	if f.c.Idle() {
		t.Fatal("Idle() = true with a poll in flight")
	}

	release()
	f.waitIdle(t)

	if got := len(f.src.fetchesOf("acct")); got != 1 {
		t.Errorf("fetches = %d, want 1 (ticks while busy enqueue nothing)", got)
	}
}

func TestCoordinator_RefillOrder(t *testing.T) {
	f := newFixture(t)
	for _, id := range []StreamID{"acct", "cal-b", "cal-a", "cal-c"} {
		f.seed(id, "0")
	}

	_ = f.c.EnableSpecialStream("cal-b")
	_ = f.c.EnableSpecialStream("cal-a")
	_ = f.c.EnableCoreStream("acct")
	_ = f.c.EnableSpecialStream("cal-c")
	_ = f.c.Start()
	f.waitIdle(t)

	f.src.mu.Lock()
	var order []StreamID
	for _, call := range f.src.fetches {
		order = append(order, call.id)
	}
	f.src.mu.Unlock()

	want := []StreamID{"acct", "cal-b", "cal-a", "cal-c"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("fetch order = %v, want %v", order, want)
	}
	if got := f.c.CurrentlyEnabled(); !reflect.DeepEqual(got, want) {
		t.Errorf("CurrentlyEnabled() = %v, want %v", got, want)
	}
}

func TestCoordinator_SharedQueueRunsOneStreamAtATime(t *testing.T) {
	f := newFixture(t)
	f.seed("cal-1", "0")
	f.seed("cal-2", "0")
	release := f.src.hold("cal-1")
	defer release()

	_ = f.c.EnableSpecialStream("cal-1")
	_ = f.c.EnableSpecialStream("cal-2")
	_ = f.c.Start()
	f.src.waitStarted(t, "cal-1")

	time.Sleep(20 * time.Millisecond)
	if n := len(f.src.fetchesOf("cal-2")); n != 0 {
		t.Fatalf("cal-2 fetched %d times while cal-1 was in flight", n)
	}

	release()
	f.waitIdle(t)
	if n := len(f.src.fetchesOf("cal-2")); n != 1 {
		t.Errorf("cal-2 fetches = %d, want 1", n)
	}
}

func TestCoordinator_TriggerDuringTickKeepsOnePollInFlight(t *testing.T) {
	f := newFixture(t)
	f.seed("acct", "0")
	f.seed("cal-1", "0")
	release := f.src.hold("cal-1")
	defer release()

	_ = f.c.EnableCoreStream("acct")
	_ = f.c.EnableSpecialStream("cal-1")
	_ = f.c.Start()
	f.src.waitStarted(t, "cal-1")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := f.c.TriggerSpecialStream("cal-1"); err != nil {
			t.Errorf("TriggerSpecialStream() error = %v", err)
		}
	}()
	f.tick(t)
	wg.Wait()

	// the retriggered poll waits behind the cancelled one
	time.Sleep(20 * time.Millisecond)
	if n := len(f.src.fetchesOf("cal-1")); n != 1 {
		t.Fatalf("cal-1 fetches while first in flight = %d, want 1", n)
	}

	release()
	f.waitIdle(t)

	if got := f.src.maxConcurrent("cal-1"); got != 1 {
		t.Errorf("max concurrent cal-1 fetches = %d, want 1", got)
	}
	if n := len(f.src.fetchesOf("cal-1")); n != 2 {
		t.Errorf("cal-1 fetches = %d, want 2", n)
	}
	if n := len(f.src.fetchesOf("acct")); n != 2 {
		t.Errorf("acct fetches = %d, want 2 (refill plus trigger)", n)
	}
}

func TestCoordinator_RepeatedTriggersKeepOnePollInFlight(t *testing.T) {
	f := newFixture(t)
	f.seed("cal-1", "0")
	f.src.page("cal-1", "0", Page{Cursor: "1", HasMore: true})
	f.src.page("cal-1", "1", Page{Cursor: "2", HasMore: true})
	f.src.page("cal-1", "2", Page{Cursor: "3"})

	_ = f.c.EnableSpecialStream("cal-1")
	_ = f.c.Start()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.c.TriggerSpecialStream("cal-1")
		}()
	}
	wg.Wait()
	f.waitIdle(t)

	if got := f.src.maxConcurrent("cal-1"); got != 1 {
		t.Errorf("max concurrent cal-1 fetches = %d, want 1", got)
	}
	if got := f.cursors.cursor(t, "cal-1"); got != "3" {
		t.Errorf("cursor = %q, want 3", got)
	}
}

func TestCoordinator_TriggerCoreDoesNotPollSpecials(t *testing.T) {
	f := newFixture(t)
	f.seed("acct", "0")
	f.seed("cal-1", "0")

	_ = f.c.EnableCoreStream("acct")
	_ = f.c.EnableSpecialStream("cal-1")
	_ = f.c.Start()
	f.waitIdle(t)

	if err := f.c.TriggerCoreStream(); err != nil {
		t.Fatalf("TriggerCoreStream() error = %v", err)
	}
	f.waitIdle(t)

	if n := len(f.src.fetchesOf("acct")); n != 2 {
		t.Errorf("acct fetches = %d, want 2", n)
	}
	if n := len(f.src.fetchesOf("cal-1")); n != 1 {
		t.Errorf("cal-1 fetches = %d, want 1", n)
	}
}

func TestCoordinator_TriggerErrors(t *testing.T) {
	f := newFixture(t)
	f.seed("acct", "0")
	_ = f.c.EnableCoreStream("acct")
	_ = f.c.EnableSpecialStream("cal-1")

	if err := f.c.TriggerCoreStream(); !errors.Is(err, ErrNotStarted) {
		t.Errorf("TriggerCoreStream() before Start error = %v, want ErrNotStarted", err)
	}
	if err := f.c.TriggerSpecialStream("cal-1"); !errors.Is(err, ErrNotStarted) {
		t.Errorf("TriggerSpecialStream() before Start error = %v, want ErrNotStarted", err)
	}

	_ = f.c.Start()
	if err := f.c.TriggerSpecialStream("cal-9"); !errors.Is(err, ErrStreamNotEnabled) {
		t.Errorf("TriggerSpecialStream(unknown) error = %v, want ErrStreamNotEnabled", err)
	}

	f.c.Suspend()
	if err := f.c.TriggerCoreStream(); !errors.Is(err, ErrNotStarted) {
		t.Errorf("TriggerCoreStream() after Suspend error = %v, want ErrNotStarted", err)
	}
}

func TestCoordinator_EnableDisable(t *testing.T) {
	f := newFixture(t)

	if err := f.c.EnableSpecialStream(""); err == nil {
		t.Error("EnableSpecialStream(\"\") expected error")
	}
	_ = f.c.EnableSpecialStream("cal-1")
	_ = f.c.EnableSpecialStream("cal-2")
	_ = f.c.EnableSpecialStream("cal-1")

	if got := f.c.CurrentlyEnabled(); !reflect.DeepEqual(got, []StreamID{"cal-1", "cal-2"}) {
		t.Errorf("CurrentlyEnabled() = %v, want [cal-1 cal-2]", got)
	}

	if err := f.c.DisableSpecialStream("cal-1"); err != nil {
		t.Fatalf("DisableSpecialStream() error = %v", err)
	}
	if err := f.c.DisableSpecialStream("cal-1"); !errors.Is(err, ErrStreamNotEnabled) {
		t.Errorf("second DisableSpecialStream() error = %v, want ErrStreamNotEnabled", err)
	}

	// re-enabled streams go to the back of the order
	_ = f.c.EnableSpecialStream("cal-1")
	if got := f.c.CurrentlyEnabled(); !reflect.DeepEqual(got, []StreamID{"cal-2", "cal-1"}) {
		t.Errorf("CurrentlyEnabled() = %v, want [cal-2 cal-1]", got)
	}

	_ = f.c.EnableCoreStream("acct")
	_ = f.c.EnableCoreStream("acct-2")
	if got := f.c.CurrentlyEnabled(); !reflect.DeepEqual(got, []StreamID{"acct-2", "cal-2", "cal-1"}) {
		t.Errorf("CurrentlyEnabled() = %v, want [acct-2 cal-2 cal-1]", got)
	}
}

func TestCoordinator_EnableWithoutSource(t *testing.T) {
	c, err := New(
		WithCoreSource(newScriptedSource()),
		WithCursorStore(NewMemoryCursorStore()),
		WithLogger(testLogger()),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer c.Close()

	if err := c.EnableSpecialStream("cal-1"); !errors.Is(err, ErrNoSource) {
		t.Errorf("EnableSpecialStream() error = %v, want ErrNoSource", err)
	}
	if err := c.EnableCoreStream("acct"); err != nil {
		t.Errorf("EnableCoreStream() error = %v", err)
	}
}

func TestCoordinator_DisableCancelsInFlightPoll(t *testing.T) {
	f := newFixture(t)
	f.seed("cal-1", "0")
	f.src.page("cal-1", "0", Page{Cursor: "1"})
	f.src.blockUntilCancelled("cal-1")

	_ = f.c.EnableSpecialStream("cal-1")
	_ = f.c.Start()
	f.src.waitStarted(t, "cal-1")

	if err := f.c.DisableSpecialStream("cal-1"); err != nil {
		t.Fatalf("DisableSpecialStream() error = %v", err)
	}
	f.waitIdle(t)

	if f.cursors.writesOf("cal-1") != 0 {
		t.Error("cursor written by a cancelled poll")
	}
	for _, s := range f.c.Statuses() {
		if s.ID == "cal-1" {
			t.Errorf("status of disabled stream still listed: %+v", s)
		}
	}
}

func TestCoordinator_SuspendDiscardsInFlightResults(t *testing.T) {
	f := newFixture(t)
	f.seed("acct", "0")
	f.src.page("acct", "0", Page{Cursor: "1", HasMore: true})
	release := f.src.hold("acct")
	defer release()

	_ = f.c.EnableCoreStream("acct")
	_ = f.c.Start()
	f.src.waitStarted(t, "acct")

	f.c.Suspend()
	f.c.Suspend()
	release()
	f.waitIdle(t)

	if f.cursors.writesOf("acct") != 0 {
		t.Error("cursor written by a poll cancelled by Suspend")
	}
	if f.src.appliedOf("acct") != 0 {
		t.Error("page applied after Suspend")
	}
	if n := len(f.src.fetchesOf("acct")); n != 1 {
		t.Errorf("fetches = %d, want 1 (no follow-up page after Suspend)", n)
	}

	// Start resumes and refills immediately
	_ = f.c.Start()
	f.waitIdle(t)
	if got := f.cursors.cursor(t, "acct"); got != "1" {
		t.Errorf("cursor after restart = %q, want 1", got)
	}
}

func TestCoordinator_ResetClearsSpecialStreams(t *testing.T) {
	f := newFixture(t)
	f.seed("acct", "0")
	f.seed("cal-1", "0")

	_ = f.c.EnableCoreStream("acct")
	_ = f.c.EnableSpecialStream("cal-1")
	_ = f.c.EnableSpecialStream("cal-2")
	_ = f.c.Start()
	f.waitIdle(t)

	f.c.Reset()

	if got := f.c.CurrentlyEnabled(); !reflect.DeepEqual(got, []StreamID{"acct"}) {
		t.Errorf("CurrentlyEnabled() after Reset = %v, want [acct]", got)
	}
	if err := f.c.TriggerCoreStream(); !errors.Is(err, ErrNotStarted) {
		t.Errorf("TriggerCoreStream() after Reset error = %v, want ErrNotStarted", err)
	}
	for _, s := range f.c.Statuses() {
		if s.Kind == "special" {
			t.Errorf("special status kept after Reset: %+v", s)
		}
	}
}

func TestCoordinator_Statuses(t *testing.T) {
	f := newFixture(t)
	f.seed("acct", "0")
	f.seed("cal-1", "0")
	f.src.page("acct", "0", Page{Cursor: "5", HasMore: true})
	f.src.page("acct", "5", Page{Cursor: "8"})
	f.src.setFetchErr("cal-1", errors.New("timeout"))

	_ = f.c.EnableCoreStream("acct")
	_ = f.c.EnableSpecialStream("cal-1")
	_ = f.c.EnableSpecialStream("cal-2")

	for _, s := range f.c.Statuses() {
		if s.Outcome != OutcomePending || !s.Enabled {
			t.Errorf("status before Start = %+v, want pending and enabled", s)
		}
	}

	_ = f.c.Start()
	f.waitIdle(t)

	got := f.c.Statuses()
	if len(got) != 3 {
		t.Fatalf("Statuses() = %d entries, want 3", len(got))
	}

	acct := got[0]
	if acct.ID != "acct" || acct.Cursor != "8" || acct.PagesApplied != 2 || acct.Outcome != OutcomeDone || acct.Err != "" {
		t.Errorf("acct status = %+v", acct)
	}
	cal1 := got[1]
	if cal1.ID != "cal-1" || cal1.Outcome != OutcomeRetry || cal1.Err == "" || !cal1.Enabled {
		t.Errorf("cal-1 status = %+v", cal1)
	}
	cal2 := got[2]
	if cal2.ID != "cal-2" || cal2.Outcome != OutcomeTerminated || cal2.Enabled {
		t.Errorf("cal-2 status = %+v, want terminated and disabled", cal2)
	}
}

func TestCoordinator_ErrorHandlerMayCallBack(t *testing.T) {
	var f *fixture
	reenabled := make(chan error, 1)
	f = newFixture(t, WithErrorHandler(func(err *StreamError) {
		if errors.Is(err, ErrCacheOutdated) {
			// rebuild out of band, then resume
			f.seed(err.Stream, "100")
			reenabled <- f.c.EnableSpecialStream(err.Stream)
		}
	}))
	f.seed("cal-1", "0")
	f.src.page("cal-1", "0", Page{CacheOutdated: true})

	_ = f.c.EnableSpecialStream("cal-1")
	_ = f.c.Start()

	select {
	case err := <-reenabled:
		if err != nil {
			t.Fatalf("EnableSpecialStream() from handler error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("error handler did not run")
	}

	if !contains(f.c.CurrentlyEnabled(), "cal-1") {
		t.Error("cal-1 not re-enabled by the error handler")
	}
}

func TestCoordinator_ErrorHandlerPanicRecovered(t *testing.T) {
	f := newFixture(t, WithErrorHandler(func(*StreamError) {
		panic("handler bug")
	}))
	f.seed("acct", "0")
	f.src.setFetchErr("acct", errors.New("offline"))

	_ = f.c.EnableCoreStream("acct")
	_ = f.c.Start()

	// the fixture's own handler runs first and still receives errors
	f.nextError(t)
	f.waitIdle(t)
	f.tick(t)
	f.nextError(t)
}

func TestCoordinator_CloseIsFinal(t *testing.T) {
	f := newFixture(t)
	f.seed("acct", "0")
	f.src.blockUntilCancelled("acct")
	_ = f.c.EnableCoreStream("acct")
	_ = f.c.Start()
	f.src.waitStarted(t, "acct")

	if err := f.c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := f.c.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	if err := f.c.Start(); !errors.Is(err, ErrClosed) {
		t.Errorf("Start() after Close error = %v, want ErrClosed", err)
	}
	if err := f.c.EnableSpecialStream("cal-1"); !errors.Is(err, ErrClosed) {
		t.Errorf("EnableSpecialStream() after Close error = %v, want ErrClosed", err)
	}
	if got := f.c.CurrentlyEnabled(); got != nil {
		t.Errorf("CurrentlyEnabled() after Close = %v, want nil", got)
	}
	f.c.Suspend()
	f.c.Reset()
	if f.c.Idle() {
		t.Error("Idle() after Close = true, want false")
	}
}

func TestCoordinator_Run(t *testing.T) {
	f := newFixture(t)
	f.seed("acct", "0")
	_ = f.c.EnableCoreStream("acct")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- f.c.Run(ctx)
	}()

	f.src.waitStarted(t, "acct")

	select {
	case err := <-done:
		t.Fatalf("Run() returned early with error: %v", err)
	default:
	}

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after context cancellation")
	}

	if err := f.c.Start(); !errors.Is(err, ErrClosed) {
		t.Errorf("Start() after Run error = %v, want ErrClosed", err)
	}
}

func TestCoordinator_RunReturnsImmediatelyIfContextCancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := f.c.Run(ctx); err != nil {
		t.Errorf("Run() error = %v", err)
	}
}

func TestCoordinator_Handler(t *testing.T) {
	f := newFixture(t)
	f.seed("acct", "0")
	f.src.page("acct", "0", Page{Cursor: "4"})
	_ = f.c.EnableCoreStream("acct")
	_ = f.c.Start()
	f.waitIdle(t)

	ts := httptest.NewServer(f.c.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/streams/trigger", "", nil)
	if err != nil {
		t.Fatalf("POST trigger: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("trigger status = %d, want %d", resp.StatusCode, http.StatusAccepted)
	}
	f.waitIdle(t)

	resp, err = http.Post(ts.URL+"/api/streams/cal-9/trigger", "", nil)
	if err != nil {
		t.Fatalf("POST special trigger: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown stream trigger status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}

	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	want := `pulsesync_polls_total{kind="core",outcome="done"} 2`
	if !strings.Contains(string(body), want) {
		t.Errorf("metrics missing %q", want)
	}
}

func TestCoordinator_TriggerDropsResultAwaitingLoop(t *testing.T) {
	f := newFixture(t)
	f.seed("acct", "0")
	f.src.page("acct", "0", Page{Cursor: "1", HasMore: true})
	f.src.page("acct", "1", Page{Cursor: "2"})
	release := f.src.hold("acct")
	defer release()

	_ = f.c.EnableCoreStream("acct")
	_ = f.c.Start()
	f.src.waitStarted(t, "acct")

	// with the loop busy, the first page's more-pages result waits to be
	// consumed while a trigger replaces the poll that produced it
	err := f.c.do(func() error {
		release()
		deadline := time.Now().Add(2 * time.Second)
		for {
			cur, _, _ := f.cursors.LoadCursor(context.Background(), "acct")
			if cur == "1" {
				break
			}
			if time.Now().After(deadline) {
				return errors.New("first page not applied")
			}
			time.Sleep(time.Millisecond)
		}
		time.Sleep(20 * time.Millisecond)
		return f.c.triggerCore()
	})
	if err != nil {
		t.Fatalf("trigger while result pending: %v", err)
	}

	f.waitIdle(t)
	time.Sleep(20 * time.Millisecond)
	f.waitIdle(t)

	if got := f.src.fetchesOf("acct"); !reflect.DeepEqual(got, []string{"0", "1"}) {
		t.Errorf("acct fetches = %v, want [0 1]", got)
	}
	if got := f.cursors.cursor(t, "acct"); got != "2" {
		t.Errorf("acct cursor = %q, want 2", got)
	}
}

func TestCoordinator_CoreAndSpecialCannotShareID(t *testing.T) {
	f := newFixture(t)
	f.seed("acct", "0")
	f.src.page("acct", "0", Page{Cursor: "core-5"})

	if err := f.c.EnableCoreStream("acct"); err != nil {
		t.Fatalf("EnableCoreStream() error = %v", err)
	}
	if err := f.c.EnableSpecialStream("acct"); !errors.Is(err, ErrStreamIDInUse) {
		t.Errorf("EnableSpecialStream(core id) error = %v, want ErrStreamIDInUse", err)
	}
	if err := f.c.EnableSpecialStream("cal-1"); err != nil {
		t.Fatalf("EnableSpecialStream() error = %v", err)
	}
	if err := f.c.EnableCoreStream("cal-1"); !errors.Is(err, ErrStreamIDInUse) {
		t.Errorf("EnableCoreStream(special id) error = %v, want ErrStreamIDInUse", err)
	}

	if got := f.c.CurrentlyEnabled(); !reflect.DeepEqual(got, []StreamID{"acct", "cal-1"}) {
		t.Errorf("CurrentlyEnabled() = %v, want [acct cal-1]", got)
	}

	// the id is free again once the special stream is gone
	_ = f.c.DisableSpecialStream("cal-1")
	if err := f.c.EnableCoreStream("cal-1"); err != nil {
		t.Errorf("EnableCoreStream() after disable error = %v", err)
	}
}

func TestCoordinator_StatusesFollowRegistrationOrder(t *testing.T) {
	f := newFixture(t)

	_ = f.c.EnableCoreStream("zz-acct")
	for _, id := range []StreamID{"zeta", "alpha", "mid"} {
		_ = f.c.EnableSpecialStream(id)
	}

	var got []StreamID
	for _, s := range f.c.Statuses() {
		got = append(got, s.ID)
	}
	want := f.c.CurrentlyEnabled()
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Statuses() order = %v, want %v", got, want)
	}
	if !reflect.DeepEqual(want, []StreamID{"zz-acct", "zeta", "alpha", "mid"}) {
		t.Errorf("CurrentlyEnabled() = %v", want)
	}
}

func TestCoordinator_PendingErrorsAreBounded(t *testing.T) {
	var delivered atomic.Int64
	c, err := New(
		WithSpecialSource(newScriptedSource()),
		WithCursorStore(NewMemoryCursorStore()),
		WithLogger(testLogger()),
		WithErrorHandler(func(*StreamError) { delivered.Add(1) }),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer c.Close()

	var queued int
	_ = c.do(func() error {
		for i := 0; i < maxPendingErrors+10; i++ {
			c.report(&StreamError{Stream: "cal-1", Kind: KindNetwork})
		}
		queued = len(c.pending)
		return nil
	})
	if queued != maxPendingErrors {
		t.Errorf("pending errors = %d, want %d", queued, maxPendingErrors)
	}

	waitFor(t, "pending errors delivered", func() bool {
		return delivered.Load() == maxPendingErrors
	})
}

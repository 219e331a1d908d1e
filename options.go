package pulsesync

import (
	"errors"
	"log/slog"
	"time"

	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"
)

// coordConfig holds mutable state during Coordinator construction.
type coordConfig struct {
	coreSource    Source
	specialSource Source
	cursors       CursorStore
	interval      time.Duration
	clock         clock.Clock
	logger        *slog.Logger
	errorHandlers []func(*StreamError)
	registry      *prometheus.Registry
	port          int
	title         string
}

// Option is a function that configures a [Coordinator] during construction.
//
// Options return an error if validation fails; [New] returns the first one.
type Option func(*coordConfig) error

// WithCoreSource sets the [Source] used by the core stream.
//
// At least one of WithCoreSource and [WithSpecialSource] is required.
func WithCoreSource(src Source) Option {
	return func(cfg *coordConfig) error {
		if src == nil {
			return errors.New("core source cannot be nil")
		}
		cfg.coreSource = src
		return nil
	}
}

// WithSpecialSource sets the [Source] shared by all special streams.
// The stream identifier passed to Fetch and Apply tells them apart.
func WithSpecialSource(src Source) Option {
	return func(cfg *coordConfig) error {
		if src == nil {
			return errors.New("special source cannot be nil")
		}
		cfg.specialSource = src
		return nil
	}
}

// WithCursorStore sets where cursors are loaded from and saved to. Required.
//
// Example:
//
//	db, err := sqlite.Open("pulsesync.db")
//	...
//	c, err := pulsesync.New(
//	    pulsesync.WithCoreSource(src),
//	    pulsesync.WithCursorStore(db),
//	)
func WithCursorStore(cs CursorStore) Option {
	return func(cfg *coordConfig) error {
		if cs == nil {
			return errors.New("cursor store cannot be nil")
		}
		cfg.cursors = cs
		return nil
	}
}

// WithInterval sets how often the shared queue is refilled.
//
// A refill enqueues one poll per enabled stream, and only happens when the
// queue is idle. Defaults to 60 seconds.
//
// Returns an error if the duration is zero or negative.
func WithInterval(d time.Duration) Option {
	return func(cfg *coordConfig) error {
		if d <= 0 {
			return errors.New("interval must be positive")
		}
		cfg.interval = d
		return nil
	}
}

// WithClock sets the clock that drives the refill timer and poll timestamps.
// Tests pass a *testclock.Clock. Defaults to [clock.WallClock].
func WithClock(clk clock.Clock) Option {
	return func(cfg *coordConfig) error {
		if clk == nil {
			return errors.New("clock cannot be nil")
		}
		cfg.clock = clk
		return nil
	}
}

// WithLogger sets a custom [slog.Logger] for the Coordinator.
// If not specified, [slog.Default] is used.
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *coordConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithErrorHandler registers a function called for every stream error.
//
// Every error kind is reported, recoverable or terminal. Handlers run on a
// dedicated goroutine in registration order, so they may call back into the
// Coordinator (for example to re-enable a stream after rebuilding a cache).
// Panics within handlers are recovered and logged.
//
// Example:
//
//	pulsesync.WithErrorHandler(func(err *pulsesync.StreamError) {
//	    if errors.Is(err, pulsesync.ErrCacheOutdated) {
//	        rebuild <- err.Stream
//	    }
//	})
//
// Nil handlers are silently ignored.
func WithErrorHandler(fn func(*StreamError)) Option {
	return func(cfg *coordConfig) error {
		if fn == nil {
			return nil
		}
		cfg.errorHandlers = append(cfg.errorHandlers, fn)
		return nil
	}
}

// WithMetricsRegistry registers the Coordinator's collector with reg, which
// also backs the /metrics route. Defaults to a private registry.
func WithMetricsRegistry(reg *prometheus.Registry) Option {
	return func(cfg *coordConfig) error {
		if reg == nil {
			return errors.New("metrics registry cannot be nil")
		}
		cfg.registry = reg
		return nil
	}
}

// WithPort sets the diagnostics HTTP port used by [Coordinator.Run].
// 0 disables the server, which is the default.
//
// Returns an error if the port is outside 0-65535.
func WithPort(port int) Option {
	return func(cfg *coordConfig) error {
		if port < 0 || port > 65535 {
			return errors.New("port must be between 0 and 65535")
		}
		cfg.port = port
		return nil
	}
}

// WithTitle sets the dashboard title. Defaults to "pulsesync".
func WithTitle(title string) Option {
	return func(cfg *coordConfig) error {
		cfg.title = title
		return nil
	}
}

package config

import (
	"context"
	"fmt"

	"github.com/jpalmerr/pulsesync"
	"github.com/jpalmerr/pulsesync/internal/poller"
)

// Seeder stores a starting cursor for a stream that has none.
// *sqlite.Store implements it.
type Seeder interface {
	Seed(ctx context.Context, id pulsesync.StreamID, cursor string) (bool, error)
}

// Enabler registers streams. *pulsesync.Coordinator implements it.
type Enabler interface {
	EnableCoreStream(id pulsesync.StreamID) error
	EnableSpecialStream(id pulsesync.StreamID) error
}

// BuildOptions converts parsed configuration into coordinator options.
//
// Sources, the cursor store and the logger are not part of the file and
// must be appended by the caller.
func BuildOptions(cfg *Config) []pulsesync.Option {
	opts := []pulsesync.Option{
		pulsesync.WithInterval(cfg.Interval.Duration()),
		pulsesync.WithPort(cfg.Port),
	}
	if cfg.Title != "" {
		opts = append(opts, pulsesync.WithTitle(cfg.Title))
	}
	return opts
}

// BuildClient creates the HTTP client for the configured events endpoint.
func BuildClient(cfg *Config) *poller.Client {
	var opts []poller.ClientOption

	if len(cfg.Source.Headers) > 0 {
		opts = append(opts, poller.WithHeaders(cfg.Source.Headers))
	}
	if cfg.Source.Timeout != 0 {
		opts = append(opts, poller.WithTimeout(cfg.Source.Timeout.Duration()))
	}
	if cfg.Source.RateLimit > 0 {
		opts = append(opts, poller.WithRateLimit(cfg.Source.RateLimit, cfg.Source.Burst))
	}

	return poller.NewClient(cfg.Source.URL, opts...)
}

// SeedCursors writes the configured seed cursors of streams that have no
// stored cursor. It returns the streams that were seeded.
func SeedCursors(ctx context.Context, s Seeder, cfg *Config) ([]pulsesync.StreamID, error) {
	var seeded []pulsesync.StreamID

	seed := func(sc StreamConfig) error {
		if sc.SeedCursor == nil {
			return nil
		}
		id := pulsesync.StreamID(sc.ID)
		wrote, err := s.Seed(ctx, id, *sc.SeedCursor)
		if err != nil {
			return fmt.Errorf("seeding %s: %w", sc.ID, err)
		}
		if wrote {
			seeded = append(seeded, id)
		}
		return nil
	}

	if cfg.Core != nil {
		if err := seed(*cfg.Core); err != nil {
			return nil, err
		}
	}
	for _, sc := range cfg.Streams {
		if err := seed(sc); err != nil {
			return nil, err
		}
	}

	return seeded, nil
}

// EnableStreams registers the configured streams, the core stream first and
// special streams in file order.
func EnableStreams(e Enabler, cfg *Config) error {
	if cfg.Core != nil {
		if err := e.EnableCoreStream(pulsesync.StreamID(cfg.Core.ID)); err != nil {
			return err
		}
	}
	for _, sc := range cfg.Streams {
		if err := e.EnableSpecialStream(pulsesync.StreamID(sc.ID)); err != nil {
			return err
		}
	}
	return nil
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/pulsesync"
	"github.com/jpalmerr/pulsesync/config"
	"github.com/jpalmerr/pulsesync/internal/poller"
	"github.com/jpalmerr/pulsesync/internal/store/sqlite"
)

const (
	shutdownTimeout = 10 * time.Second
)

// newLogger creates a JSON logger for CLI use.
func newLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// serveCmd starts syncing.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start syncing the configured streams",
	Long: `Start syncing the configured streams.

The server will:
  - Load configuration from the specified YAML file
  - Open the SQLite database and seed missing cursors
  - Poll the core stream and every special stream each interval
  - Serve the diagnostics dashboard on the configured port, if any

The server runs until interrupted (Ctrl+C) or receives SIGTERM.

Example:
  pulsesync serve -c config.yaml
  pulsesync serve --config /etc/pulsesync/config.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = serveCmd.MarkFlagRequired("config")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	db, err := sqlite.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	logger.Info("config loaded",
		"streams", len(cfg.StreamIDs()),
		"database", db.Path(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, client, err := newCoordinator(ctx, cfg, db, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	logger.Info("starting sync",
		"port", cfg.Port,
		"interval", cfg.Interval.Duration().String(),
	)

	// start - blocks until context cancelled
	errChan := make(chan error, 1)
	go func() {
		errChan <- c.Run(ctx)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		logger.Info("shutdown complete")
		return nil

	case <-ctx.Done():
		// signal received, wait for in-flight polls with timeout
		select {
		case err := <-errChan:
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			logger.Info("shutdown complete")
			return nil
		case <-time.After(shutdownTimeout):
			logger.Warn("shutdown timed out",
				"timeout", shutdownTimeout.String(),
				"action", "forcing exit",
			)
			return nil
		}
	}
}

// newCoordinator seeds missing cursors and builds a coordinator with every
// configured stream enabled. The caller owns the returned client.
func newCoordinator(ctx context.Context, cfg *config.Config, db *sqlite.Store, logger *slog.Logger) (*pulsesync.Coordinator, *poller.Client, error) {
	seeded, err := config.SeedCursors(ctx, db, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to seed cursors: %w", err)
	}
	for _, id := range seeded {
		logger.Info("cursor seeded", "stream", id)
	}

	client := config.BuildClient(cfg)
	src := &journalSource{client: client, db: db, logger: logger}

	opts := append(config.BuildOptions(cfg),
		pulsesync.WithCursorStore(db),
		pulsesync.WithLogger(logger),
		pulsesync.WithErrorHandler(func(err *pulsesync.StreamError) {
			if err.Terminal() {
				logger.Error("stream stopped, reset its cursor to resume",
					"stream", err.Stream,
					"error", err.Error(),
				)
			}
		}),
	)
	if cfg.Core != nil {
		opts = append(opts, pulsesync.WithCoreSource(src))
	}
	if len(cfg.Streams) > 0 {
		opts = append(opts, pulsesync.WithSpecialSource(src))
	}

	c, err := pulsesync.New(opts...)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to create coordinator: %w", err)
	}

	if err := config.EnableStreams(c, cfg); err != nil {
		_ = c.Close()
		client.Close()
		return nil, nil, fmt.Errorf("failed to enable streams: %w", err)
	}

	return c, client, nil
}

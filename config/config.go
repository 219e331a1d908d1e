// Package config provides YAML configuration parsing for pulsesync.
//
// This package enables running pulsesync as a standalone binary with a
// configuration file, as an alternative to the programmatic SDK approach.
//
// Example configuration:
//
//	interval: 60s
//	port: 8080
//	database: ./pulsesync.db
//
//	source:
//	  url: ${EVENTS_URL:-http://localhost:9999/events}
//	  timeout: 10s
//	  headers:
//	    Authorization: Bearer ${TOKEN}
//	  rate_limit: 5
//	  burst: 10
//
//	core:
//	  id: account-1
//	  seed_cursor: "0"
//
//	streams:
//	  - id: calendar-1
//	    seed_cursor: "0"
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// minInterval is the minimum allowed refill interval.
// This prevents accidental hammering of the events server.
const minInterval = 1 * time.Second

const (
	defaultInterval = 60 * time.Second
	defaultDatabase = "pulsesync.db"
)

// Config is the root configuration structure for pulsesync.
//
// It maps directly to the YAML configuration file structure.
// Use [Load] or [Parse] to create a Config from YAML.
type Config struct {
	// Title is the dashboard title. Defaults to "pulsesync" if not set.
	Title string `yaml:"title"`

	// Interval is the time between refills of the shared poll queue.
	// Accepts duration strings like "30s", "1m". Defaults to 60s.
	Interval Duration `yaml:"interval"`

	// Port is the diagnostics HTTP server port. 0 disables the server.
	Port int `yaml:"port"`

	// Database is the SQLite file holding cursors and the event journal.
	// Defaults to "pulsesync.db".
	Database string `yaml:"database"`

	// Source describes the HTTP events endpoint shared by all streams.
	Source SourceConfig `yaml:"source"`

	// Core is the core stream. Optional if at least one special stream is set.
	Core *StreamConfig `yaml:"core"`

	// Streams are the special streams, polled after the core stream in the
	// order listed.
	Streams []StreamConfig `yaml:"streams"`
}

// SourceConfig defines the HTTP events endpoint.
type SourceConfig struct {
	// URL is the base URL; pages are requested at {url}/{stream}?since={cursor}.
	// Supports environment variable substitution: ${VAR} or ${VAR:-default}
	URL string `yaml:"url"`

	// Timeout is the per-request timeout. Defaults to 10s.
	Timeout Duration `yaml:"timeout"`

	// Headers are custom HTTP headers sent with each request.
	// Values support environment variable substitution.
	Headers map[string]string `yaml:"headers"`

	// RateLimit caps requests per second. 0 disables limiting.
	RateLimit float64 `yaml:"rate_limit"`

	// Burst is the number of requests allowed above RateLimit at once.
	// Defaults to 1 when RateLimit is set.
	Burst int `yaml:"burst"`
}

// StreamConfig defines one stream.
type StreamConfig struct {
	// ID is the stream identifier sent to the events endpoint.
	ID string `yaml:"id"`

	// SeedCursor is written to the database only when the stream has no
	// stored cursor. A stream without any cursor is terminated on its
	// first poll.
	SeedCursor *string `yaml:"seed_cursor"`
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		hasDefault := len(submatches) > 2 && submatches[2] != ""
		defaultVal := ""
		if hasDefault && len(submatches) > 3 {
			defaultVal = submatches[3]
		}

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return defaultVal
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a YAML configuration file.
//
// Environment variables in the file are expanded before parsing.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data.
//
// Environment variables are expanded in the source URL, header values and
// the database path. Defaults are applied for Interval (60s) and Database.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if cfg.Interval == 0 {
		cfg.Interval = Duration(defaultInterval)
	}
	if cfg.Database == "" {
		cfg.Database = defaultDatabase
	}

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// expandAndValidate expands environment variables and validates the config.
func (c *Config) expandAndValidate() error {
	if c.Interval.Duration() < minInterval {
		return fmt.Errorf("interval must be at least %s, got %s", minInterval, c.Interval.Duration())
	}

	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535, got %d", c.Port)
	}

	expanded, err := expandEnvVars(c.Database)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	c.Database = expanded

	if err := c.Source.expandAndValidate(); err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(c.Streams))
	if c.Core != nil && c.Core.ID == "" {
		return errors.New("core: id is required")
	}
	for i, s := range c.Streams {
		if s.ID == "" {
			return fmt.Errorf("streams[%d]: id is required", i)
		}
		if _, exists := seen[s.ID]; exists {
			return fmt.Errorf("streams[%d]: duplicate id %q", i, s.ID)
		}
		// a core and a special stream sharing an id would share a cursor
		if c.Core != nil && s.ID == c.Core.ID {
			return fmt.Errorf("streams[%d]: id %q is already used by core", i, s.ID)
		}
		seen[s.ID] = struct{}{}
	}

	if c.Core == nil && len(c.Streams) == 0 {
		return errors.New("at least one of core or streams must be defined")
	}

	return nil
}

func (s *SourceConfig) expandAndValidate() error {
	if s.URL == "" {
		return errors.New("source: url is required")
	}
	expanded, err := expandEnvVars(s.URL)
	if err != nil {
		return fmt.Errorf("source: url: %w", err)
	}
	s.URL = expanded

	parsedURL, err := url.Parse(s.URL)
	if err != nil {
		return fmt.Errorf("source: invalid url: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("source: url scheme must be http or https, got %q", parsedURL.Scheme)
	}

	for k, v := range s.Headers {
		expanded, err := expandEnvVars(v)
		if err != nil {
			return fmt.Errorf("source: headers[%s]: %w", k, err)
		}
		s.Headers[k] = expanded
	}

	if s.Timeout != 0 && s.Timeout.Duration() < time.Second {
		return fmt.Errorf("source: timeout must be at least 1s if specified, got %s", s.Timeout.Duration())
	}

	if s.RateLimit < 0 {
		return fmt.Errorf("source: rate_limit cannot be negative, got %v", s.RateLimit)
	}
	if s.Burst < 0 {
		return fmt.Errorf("source: burst cannot be negative, got %d", s.Burst)
	}

	return nil
}

// StreamIDs returns the configured stream identifiers, the core stream first.
func (c *Config) StreamIDs() []string {
	var ids []string
	if c.Core != nil {
		ids = append(ids, c.Core.ID)
	}
	for _, s := range c.Streams {
		ids = append(ids, s.ID)
	}
	return ids
}

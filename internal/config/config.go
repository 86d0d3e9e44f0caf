// Package config defines the process configuration and how it is loaded.
package config

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"strings"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr is the ops HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// QueueSize bounds the in-memory command queue.
	QueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of command workers. Values below 1 pick a
	// CPU based default.
	WorkerCount int `koanf:"worker_count"`

	// DedupeSize caps the remembered command IDs. Values <= 0 remember all.
	DedupeSize int `koanf:"dedupe_size"`

	// DefaultTopN is the heatmap size shown when none is requested.
	DefaultTopN int `koanf:"default_top_n"`

	// NearbyRadius is the default search radius for nearby queries. Zero
	// means unlimited.
	NearbyRadius float64 `koanf:"nearby_radius"`

	// Sim* size the load simulation.
	SimRequesters int   `koanf:"sim_requesters"`
	SimFulfillers int   `koanf:"sim_fulfillers"`
	SimVenues     int   `koanf:"sim_venues"`
	SimRounds     int   `koanf:"sim_rounds"`
	SimSeed       int64 `koanf:"sim_seed"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:      "info",
		LogFormat:     "text",
		Addr:          ":9080",
		QueueSize:     10_000,
		WorkerCount:   runtime.NumCPU(),
		DedupeSize:    100_000,
		DefaultTopN:   5,
		NearbyRadius:  0,
		SimRequesters: 50,
		SimFulfillers: 20,
		SimVenues:     5,
		SimRounds:     5,
		SimSeed:       1,
	}
}

var (
	logLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	logFormats = map[string]bool{"text": true, "json": true}
)

// JSONLogs reports whether logs should be written as JSON.
func (c *Config) JSONLogs() bool {
	return strings.EqualFold(strings.TrimSpace(c.LogFormat), "json")
}

// Validate reports the first invalid setting, wrapped in ErrInvalidConfig.
func (c *Config) Validate(_ context.Context) error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case !logLevels[strings.ToLower(c.LogLevel)]:
		return fmt.Errorf("%w: unknown log_level %q", ErrInvalidConfig, c.LogLevel)
	case !logFormats[strings.ToLower(strings.TrimSpace(c.LogFormat))]:
		return fmt.Errorf("%w: unknown log_format %q", ErrInvalidConfig, c.LogFormat)
	case c.QueueSize < 1:
		return fmt.Errorf("%w: queue_size must be >= 1, got %d", ErrInvalidConfig, c.QueueSize)
	case c.DefaultTopN < 1:
		return fmt.Errorf("%w: default_top_n must be >= 1, got %d", ErrInvalidConfig, c.DefaultTopN)
	case c.NearbyRadius < 0 || math.IsNaN(c.NearbyRadius):
		return fmt.Errorf("%w: nearby_radius must be >= 0, got %v", ErrInvalidConfig, c.NearbyRadius)
	case c.SimRequesters < 1 || c.SimFulfillers < 1:
		return fmt.Errorf("%w: the simulation needs at least one requester and one fulfiller", ErrInvalidConfig)
	case c.SimVenues < 0:
		return fmt.Errorf("%w: sim_venues must be >= 0, got %d", ErrInvalidConfig, c.SimVenues)
	case c.SimRounds < 1:
		return fmt.Errorf("%w: sim_rounds must be >= 1, got %d", ErrInvalidConfig, c.SimRounds)
	}
	return nil
}

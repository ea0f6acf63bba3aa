// Geoboard - Real-Time Collaborative Map Annotation
// Copyright 2026 Geoboard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/geoboard/geoboard

// Package config defines the typed configuration for Geoboard and loads it
// from layered sources (defaults, optional YAML file, environment variables)
// using koanf v2.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration for the server process.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Registry RegistryConfig `koanf:"registry"`
	Presence PresenceConfig `koanf:"presence"`
	Cursor   CursorConfig   `koanf:"cursor"`
	Quality  QualityConfig  `koanf:"quality"`
	Sync     SyncConfig     `koanf:"sync"`
	Cleanup  CleanupConfig  `koanf:"cleanup"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig configures the HTTP/WebSocket listener.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout         time.Duration `koanf:"timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs" validate:"min=0"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// DatabaseConfig configures the embedded DuckDB store.
type DatabaseConfig struct {
	Path      string `koanf:"path" validate:"required"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads" validate:"min=0"`
}

// RegistryConfig configures the connection registry.
type RegistryConfig struct {
	// MaxStoredUsers caps the number of remembered client entries. Inserting
	// past the cap evicts the oldest entries by last-seen time.
	MaxStoredUsers int `koanf:"max_stored_users" validate:"min=1"`

	// EvictionBatch is how many entries are evicted at once when the cap is hit.
	EvictionBatch int `koanf:"eviction_batch" validate:"min=1"`

	// InactiveTimeout is how long an entry may go untouched before the sweep
	// removes it.
	InactiveTimeout time.Duration `koanf:"inactive_timeout"`

	// CleanupInterval is the sweep period.
	CleanupInterval time.Duration `koanf:"cleanup_interval"`

	// GraceWindow is the reconnection window during which a disconnected
	// client's presence is held as "away" instead of removed.
	GraceWindow time.Duration `koanf:"grace_window"`
}

// PresenceConfig configures room state.
type PresenceConfig struct {
	// Shards is the number of lock shards for room state.
	Shards int `koanf:"shards" validate:"min=1"`

	// MutationRate is the per-room sustained feature/comment mutation rate
	// (events per second) enforced at the socket dispatch boundary.
	MutationRate float64 `koanf:"mutation_rate" validate:"min=0"`

	// MutationBurst is the per-room mutation burst allowance.
	MutationBurst int `koanf:"mutation_burst" validate:"min=0"`
}

// CursorConfig configures the cursor throttler.
type CursorConfig struct {
	// Interval is the minimum spacing between emitted cursor updates per user.
	Interval time.Duration `koanf:"interval"`
}

// QualityConfig configures the connection quality monitor.
type QualityConfig struct {
	ProbeInterval time.Duration `koanf:"probe_interval"`
	SampleWindow  int           `koanf:"sample_window" validate:"min=1"`
	MinSamples    int           `koanf:"min_samples" validate:"min=1"`

	// Classification thresholds on the rolling average round trip.
	ExcellentBelow time.Duration `koanf:"excellent_below"`
	GoodBelow      time.Duration `koanf:"good_below"`
	PoorBelow      time.Duration `koanf:"poor_below"`

	// StatsTTL and MaxTracked mirror the registry eviction policy for
	// per-connection latency stats.
	StatsTTL   time.Duration `koanf:"stats_ttl"`
	MaxTracked int           `koanf:"max_tracked" validate:"min=1"`
}

// SyncConfig configures the delta engine.
type SyncConfig struct {
	DefaultPageSize int `koanf:"default_page_size" validate:"min=1"`
	MaxPageSize     int `koanf:"max_page_size" validate:"min=1"`

	// SafetyCeiling is the total-match count above which sync responses carry
	// a narrowing warning.
	SafetyCeiling int `koanf:"safety_ceiling" validate:"min=1"`

	// CoordinatePrecision is the number of decimal places kept on egress
	// geometry.
	CoordinatePrecision int `koanf:"coordinate_precision" validate:"min=0,max=15"`
}

// CleanupConfig configures room lifecycle cleanup.
type CleanupConfig struct {
	Interval     time.Duration `koanf:"interval"`
	InactiveDays int           `koanf:"inactive_days" validate:"min=1"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Validate checks the configuration for structural errors.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Sync.DefaultPageSize > c.Sync.MaxPageSize {
		return fmt.Errorf("sync.default_page_size (%d) exceeds sync.max_page_size (%d)",
			c.Sync.DefaultPageSize, c.Sync.MaxPageSize)
	}
	if c.Quality.ExcellentBelow >= c.Quality.GoodBelow || c.Quality.GoodBelow >= c.Quality.PoorBelow {
		return fmt.Errorf("quality thresholds must be strictly increasing")
	}
	if c.Quality.MinSamples > c.Quality.SampleWindow {
		return fmt.Errorf("quality.min_samples (%d) exceeds quality.sample_window (%d)",
			c.Quality.MinSamples, c.Quality.SampleWindow)
	}
	return nil
}

// defaultConfig returns a Config with production defaults. Defaults are applied
// first, then overridden by the config file and environment variables.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            4326,
			Timeout:         30 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		Database: DatabaseConfig{
			Path:      "/data/geoboard.duckdb",
			MaxMemory: "1GB",
			Threads:   0, // 0 = runtime.NumCPU()
		},
		Registry: RegistryConfig{
			MaxStoredUsers:  10000,
			EvictionBatch:   50,
			InactiveTimeout: 30 * time.Minute,
			CleanupInterval: time.Minute,
			GraceWindow:     2 * time.Minute,
		},
		Presence: PresenceConfig{
			Shards:        16,
			MutationRate:  50,
			MutationBurst: 100,
		},
		Cursor: CursorConfig{
			Interval: 50 * time.Millisecond,
		},
		Quality: QualityConfig{
			ProbeInterval:  5 * time.Second,
			SampleWindow:   10,
			MinSamples:     3,
			ExcellentBelow: 100 * time.Millisecond,
			GoodBelow:      300 * time.Millisecond,
			PoorBelow:      time.Second,
			StatsTTL:       30 * time.Minute,
			MaxTracked:     10000,
		},
		Sync: SyncConfig{
			DefaultPageSize:     100,
			MaxPageSize:         500,
			SafetyCeiling:       10000,
			CoordinatePrecision: 5,
		},
		Cleanup: CleanupConfig{
			Interval:     24 * time.Hour,
			InactiveDays: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

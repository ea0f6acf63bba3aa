// Geoboard - Real-Time Collaborative Map Annotation
// Copyright 2026 Geoboard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/geoboard/geoboard

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 4326, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 2*time.Minute, cfg.Registry.GraceWindow)
	assert.Equal(t, 50*time.Millisecond, cfg.Cursor.Interval)
	assert.Equal(t, 100*time.Millisecond, cfg.Quality.ExcellentBelow)
	assert.Equal(t, 100, cfg.Sync.DefaultPageSize)
	assert.Equal(t, 5, cfg.Sync.CoordinatePrecision)
	assert.Equal(t, 30, cfg.Cleanup.InactiveDays)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9090
  cors_origins:
    - https://maps.example.com
sync:
  default_page_size: 25
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"https://maps.example.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 25, cfg.Sync.DefaultPageSize)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// Untouched sections keep defaults.
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 500, cfg.Sync.MaxPageSize)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0o600))

	t.Setenv("HTTP_PORT", "7070")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("CORS_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("RECONNECT_GRACE_WINDOW", "5m")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 5*time.Minute, cfg.Registry.GraceWindow)
}

func TestUnmappedEnvVarsIgnored(t *testing.T) {
	t.Setenv("PATH_MAX", "nonsense")
	t.Setenv("DATABASE_URL", "postgres://nope")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/data/geoboard.duckdb", cfg.Database.Path)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "page size ordering",
			mutate:  func(c *Config) { c.Sync.DefaultPageSize = 1000; c.Sync.MaxPageSize = 100 },
			wantErr: "exceeds sync.max_page_size",
		},
		{
			name:    "quality thresholds not increasing",
			mutate:  func(c *Config) { c.Quality.GoodBelow = c.Quality.ExcellentBelow },
			wantErr: "strictly increasing",
		},
		{
			name:    "min samples above window",
			mutate:  func(c *Config) { c.Quality.MinSamples = 20; c.Quality.SampleWindow = 10 },
			wantErr: "exceeds quality.sample_window",
		},
		{
			name:    "invalid port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "invalid configuration",
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "invalid configuration",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load("/does/not/exist.yaml")
	assert.Error(t, err)
}

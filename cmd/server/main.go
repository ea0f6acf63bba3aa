// Geoboard - Real-Time Collaborative Map Annotation
// Copyright 2026 Geoboard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/geoboard/geoboard

// Command server runs the Geoboard collaboration server: an embedded DuckDB
// store, the websocket realtime layer, and the HTTP API, all under one
// supervision tree.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/geoboard/geoboard/internal/api"
	"github.com/geoboard/geoboard/internal/config"
	"github.com/geoboard/geoboard/internal/cursor"
	"github.com/geoboard/geoboard/internal/delta"
	"github.com/geoboard/geoboard/internal/logging"
	"github.com/geoboard/geoboard/internal/models"
	"github.com/geoboard/geoboard/internal/quality"
	"github.com/geoboard/geoboard/internal/registry"
	"github.com/geoboard/geoboard/internal/room"
	"github.com/geoboard/geoboard/internal/store"
	"github.com/geoboard/geoboard/internal/supervisor"
	"github.com/geoboard/geoboard/internal/supervisor/services"
	"github.com/geoboard/geoboard/internal/websocket"
)

func main() {
	configPath := flag.String("config", "", "path to config file (yaml)")
	flag.Parse()

	if err := run(*configPath); err != nil && !errors.Is(err, context.Canceled) {
		logging.Fatal().Err(err).Msg("server exited")
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().
		Int("port", cfg.Server.Port).
		Str("db_path", cfg.Database.Path).
		Msg("starting geoboard")

	db, err := store.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("close store")
		}
	}()

	hub := websocket.NewHub()
	rooms := room.NewState(cfg.Presence.Shards, hub)

	// The registry's evict handler needs the session, which needs the
	// registry; the closure breaks the cycle.
	var session *websocket.Session
	reg := registry.New(registry.Config{
		MaxStoredUsers:  cfg.Registry.MaxStoredUsers,
		EvictionBatch:   cfg.Registry.EvictionBatch,
		InactiveTimeout: cfg.Registry.InactiveTimeout,
		CleanupInterval: cfg.Registry.CleanupInterval,
		GraceWindow:     cfg.Registry.GraceWindow,
	}, func(state models.ConnectionState, reason registry.EvictReason) {
		if session != nil {
			session.HandleEviction(state, reason)
		}
	})

	throttler := cursor.New(cfg.Cursor.Interval)
	defer throttler.Stop()

	monitor := quality.NewMonitor(quality.Config{
		ProbeInterval:  cfg.Quality.ProbeInterval,
		SampleWindow:   cfg.Quality.SampleWindow,
		MinSamples:     cfg.Quality.MinSamples,
		ExcellentBelow: cfg.Quality.ExcellentBelow,
		GoodBelow:      cfg.Quality.GoodBelow,
		PoorBelow:      cfg.Quality.PoorBelow,
		StatsTTL:       cfg.Quality.StatsTTL,
		MaxTracked:     cfg.Quality.MaxTracked,
	}, websocket.QualityNotifier(hub))

	engine := delta.NewEngine(db, cfg.Sync)
	session = websocket.NewSession(cfg.Presence, hub, rooms, reg, throttler, monitor, engine, db)

	router := api.NewRouter(cfg.Server, db, engine, hub, session)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router.Setup(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddLifecycleService(reg)
	tree.AddLifecycleService(services.NewCleanupService(db, cfg.Cleanup, rooms.ActiveRoomIDs))
	tree.AddRealtimeService(hub)
	tree.AddRealtimeService(services.NewProberService(monitor, websocket.ProbeSender(hub)))
	tree.AddAPIService(services.NewHTTPServerService(httpServer, cfg.Server.Timeout))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = tree.Serve(ctx)
	if errors.Is(err, context.Canceled) {
		logging.Info().Msg("shutdown complete")
		return nil
	}
	return err
}

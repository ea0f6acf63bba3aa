// Geoboard - Real-Time Collaborative Map Annotation
// Copyright 2026 Geoboard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/geoboard/geoboard

package services

import (
	"context"
	"time"

	"github.com/geoboard/geoboard/internal/config"
	"github.com/geoboard/geoboard/internal/logging"
	"github.com/geoboard/geoboard/internal/store"
)

// CleanupService periodically reaps rooms with no recent activity. Rooms with
// live presence are always excluded regardless of their persisted activity
// timestamps.
type CleanupService struct {
	db        *store.DB
	cfg       config.CleanupConfig
	liveRooms func() []string
}

// NewCleanupService creates the scheduler. liveRooms reports rooms that
// currently have users present.
func NewCleanupService(db *store.DB, cfg config.CleanupConfig, liveRooms func() []string) *CleanupService {
	if liveRooms == nil {
		liveRooms = func() []string { return nil }
	}
	return &CleanupService{db: db, cfg: cfg, liveRooms: liveRooms}
}

// Serve implements suture.Service, running one cleanup pass per interval.
func (c *CleanupService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.runOnce(ctx)
		}
	}
}

func (c *CleanupService) runOnce(ctx context.Context) {
	cleaned, err := c.db.CleanupInactiveRooms(ctx, c.cfg.InactiveDays, c.liveRooms())
	if err != nil {
		logging.Error().Err(err).Msg("room cleanup pass failed")
		return
	}
	if cleaned > 0 {
		logging.Info().Int("rooms", cleaned).Msg("inactive rooms cleaned")
	}
}

// String implements fmt.Stringer for supervisor logging.
func (c *CleanupService) String() string { return "room-cleanup" }

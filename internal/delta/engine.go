// Geoboard - Real-Time Collaborative Map Annotation
// Copyright 2026 Geoboard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/geoboard/geoboard

// Package delta computes incremental "since timestamp" updates so resuming
// clients can catch up without re-fetching everything: created/updated
// features and comments, plus the ids of features deleted in the window.
package delta

import (
	"context"
	"fmt"
	"time"

	"github.com/geoboard/geoboard/internal/config"
	"github.com/geoboard/geoboard/internal/geo"
	"github.com/geoboard/geoboard/internal/logging"
	"github.com/geoboard/geoboard/internal/metrics"
	"github.com/geoboard/geoboard/internal/models"
	"github.com/geoboard/geoboard/internal/store"
)

// Request is a get-updates-since query. A zero Since means full sync.
type Request struct {
	MapID    string
	Since    time.Time
	Page     int
	Limit    int
	Viewport *geo.Viewport
}

// Pagination reports the page window and totals ignoring pagination.
type Pagination struct {
	Page          int  `json:"page"`
	Limit         int  `json:"limit"`
	TotalFeatures int  `json:"totalFeatures"`
	TotalComments int  `json:"totalComments"`
	TotalPages    int  `json:"totalPages"`
	HasMore       bool `json:"hasMore"`
}

// Response is the delta needed to bring a client up to date.
type Response struct {
	Features          []models.Feature `json:"features"`
	Comments          []models.Comment `json:"comments"`
	DeletedFeatureIDs []string         `json:"deletedFeatures"`
	Pagination        Pagination       `json:"pagination"`

	// Warning is set when the total match count exceeds the safety ceiling.
	// The requested page is still returned; the client should narrow its
	// viewport or time range rather than paging through everything.
	Warning string `json:"warning,omitempty"`
}

// Engine computes deltas against the store.
type Engine struct {
	db  *store.DB
	cfg config.SyncConfig
}

// NewEngine creates a delta engine.
func NewEngine(db *store.DB, cfg config.SyncConfig) *Engine {
	return &Engine{db: db, cfg: cfg}
}

// GetUpdatesSince computes the minimal created/updated/deleted set for the
// map since the given time, paginated and optionally viewport-filtered.
// Egress geometry is precision-reduced; stored geometry is never touched.
func (e *Engine) GetUpdatesSince(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	defer metrics.ObserveSyncQuery(start)

	if req.Viewport != nil {
		if err := req.Viewport.Validate(); err != nil {
			return nil, models.NewValidationError("viewport", err.Error())
		}
	}

	page := req.Page
	if page < 1 {
		page = 1
	}
	limit := req.Limit
	if limit <= 0 {
		limit = e.cfg.DefaultPageSize
	}
	if limit > e.cfg.MaxPageSize {
		limit = e.cfg.MaxPageSize
	}
	offset := (page - 1) * limit

	features, err := e.db.FeaturesSince(ctx, req.MapID, req.Since, req.Viewport, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("feature delta query failed: %w", err)
	}
	comments, err := e.db.CommentsSince(ctx, req.MapID, req.Since, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("comment delta query failed: %w", err)
	}
	deleted, err := e.db.DeletedFeatureIDsSince(ctx, req.MapID, req.Since)
	if err != nil {
		return nil, fmt.Errorf("deleted-id delta query failed: %w", err)
	}

	totalFeatures, err := e.db.CountFeaturesSince(ctx, req.MapID, req.Since, req.Viewport)
	if err != nil {
		return nil, fmt.Errorf("feature count query failed: %w", err)
	}
	totalComments, err := e.db.CountCommentsSince(ctx, req.MapID, req.Since)
	if err != nil {
		return nil, fmt.Errorf("comment count query failed: %w", err)
	}

	total := totalFeatures
	if totalComments > total {
		total = totalComments
	}
	totalPages := (total + limit - 1) / limit

	resp := &Response{
		Features:          e.reduceFeatures(features),
		Comments:          e.reduceComments(comments),
		DeletedFeatureIDs: deleted,
		Pagination: Pagination{
			Page:          page,
			Limit:         limit,
			TotalFeatures: totalFeatures,
			TotalComments: totalComments,
			TotalPages:    totalPages,
			HasMore:       page < totalPages,
		},
	}

	if ceiling := e.cfg.SafetyCeiling; ceiling > 0 && total > ceiling {
		resp.Warning = fmt.Sprintf(
			"result set of %d exceeds the %d item ceiling; narrow the viewport or time range", total, ceiling)
		metrics.SyncQueryWarnings.Inc()
		logging.Warn().
			Str("map_id", req.MapID).
			Int("total", total).
			Int("ceiling", ceiling).
			Msg("sync query exceeded safety ceiling")
	}
	return resp, nil
}

// reduceFeatures applies egress precision reduction to a copy of each
// feature's geometry.
func (e *Engine) reduceFeatures(features []models.Feature) []models.Feature {
	if features == nil {
		return []models.Feature{}
	}
	for i := range features {
		features[i].Geometry = geo.ReducePrecision(features[i].Geometry, e.cfg.CoordinatePrecision)
	}
	return features
}

func (e *Engine) reduceComments(comments []models.Comment) []models.Comment {
	if comments == nil {
		return []models.Comment{}
	}
	for i := range comments {
		comments[i].Position = geo.ReducePosition(comments[i].Position, e.cfg.CoordinatePrecision)
	}
	return comments
}

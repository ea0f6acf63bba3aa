// Geoboard - Real-Time Collaborative Map Annotation
// Copyright 2026 Geoboard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/geoboard/geoboard

package delta

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geoboard/geoboard/internal/config"
	"github.com/geoboard/geoboard/internal/geo"
	"github.com/geoboard/geoboard/internal/logging"
	"github.com/geoboard/geoboard/internal/models"
	"github.com/geoboard/geoboard/internal/store"
)

func init() {
	logging.Init(logging.Config{Level: "disabled", Output: io.Discard})
}

func testSyncConfig() config.SyncConfig {
	return config.SyncConfig{
		DefaultPageSize:     50,
		MaxPageSize:         200,
		SafetyCeiling:       1000,
		CoordinatePrecision: 5,
	}
}

func newTestEngine(t *testing.T) (*Engine, *store.DB) {
	t.Helper()
	db, err := store.NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewEngine(db, testSyncConfig()), db
}

func createPoint(t *testing.T, db *store.DB, mapID, opID string, lng, lat float64) *models.Feature {
	t.Helper()
	res, err := db.CreateFeature(context.Background(), &models.Feature{
		MapID:             mapID,
		Type:              models.FeatureTypePoint,
		Geometry:          geo.Geometry{Type: "Point", Coordinates: []float64{lng, lat}},
		AuthorID:          "author-1",
		AuthorName:        "Author One",
		ClientOperationID: opID,
	})
	require.NoError(t, err)
	return res.Feature
}

func TestFullSync(t *testing.T) {
	engine, db := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, db.EnsureMap(ctx, "map-1"))

	createPoint(t, db, "map-1", "op-1", 10, 20)
	createPoint(t, db, "map-1", "op-2", 30, 40)
	_, err := db.CreateComment(ctx, &models.Comment{
		MapID:    "map-1",
		Position: geo.Position{Lng: 1, Lat: 2},
		Content:  "hello",
		AuthorID: "author-1",
	})
	require.NoError(t, err)

	resp, err := engine.GetUpdatesSince(ctx, Request{MapID: "map-1"})
	require.NoError(t, err)
	assert.Len(t, resp.Features, 2)
	assert.Len(t, resp.Comments, 1)
	assert.Empty(t, resp.DeletedFeatureIDs)
	assert.Equal(t, 2, resp.Pagination.TotalFeatures)
	assert.Equal(t, 1, resp.Pagination.TotalComments)
	assert.False(t, resp.Pagination.HasMore)
	assert.Empty(t, resp.Warning)
}

func TestSinceCursorFiltersOldRows(t *testing.T) {
	engine, db := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, db.EnsureMap(ctx, "map-1"))

	old := createPoint(t, db, "map-1", "op-old", 10, 20)
	cursor := time.Now().UTC()
	time.Sleep(5 * time.Millisecond)
	fresh := createPoint(t, db, "map-1", "op-new", 30, 40)

	resp, err := engine.GetUpdatesSince(ctx, Request{MapID: "map-1", Since: cursor})
	require.NoError(t, err)
	require.Len(t, resp.Features, 1)
	assert.Equal(t, fresh.ID, resp.Features[0].ID)

	// Updating the old feature moves it past the cursor.
	_, err = db.UpdateFeature(ctx, old.ID, store.FeaturePatch{
		Properties: map[string]any{"color": "blue"},
	}, 1, "author-1", "Author One", "op-old-update")
	require.NoError(t, err)

	resp, err = engine.GetUpdatesSince(ctx, Request{MapID: "map-1", Since: cursor})
	require.NoError(t, err)
	assert.Len(t, resp.Features, 2)
}

func TestDeletedFeatureIDs(t *testing.T) {
	engine, db := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, db.EnsureMap(ctx, "map-1"))

	f := createPoint(t, db, "map-1", "op-1", 10, 20)
	cursor := time.Now().UTC()
	time.Sleep(5 * time.Millisecond)
	_, err := db.DeleteFeature(ctx, f.ID, 1, "author-1", "Author One", "op-del")
	require.NoError(t, err)

	resp, err := engine.GetUpdatesSince(ctx, Request{MapID: "map-1", Since: cursor})
	require.NoError(t, err)
	assert.Empty(t, resp.Features)
	assert.Equal(t, []string{f.ID}, resp.DeletedFeatureIDs)
}

func TestViewportFilter(t *testing.T) {
	engine, db := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, db.EnsureMap(ctx, "map-1"))

	inside := createPoint(t, db, "map-1", "op-in", 5, 5)
	createPoint(t, db, "map-1", "op-out", 100, 50)

	resp, err := engine.GetUpdatesSince(ctx, Request{
		MapID:    "map-1",
		Viewport: &geo.Viewport{MinLng: 0, MinLat: 0, MaxLng: 10, MaxLat: 10},
	})
	require.NoError(t, err)
	require.Len(t, resp.Features, 1)
	assert.Equal(t, inside.ID, resp.Features[0].ID)
	assert.Equal(t, 1, resp.Pagination.TotalFeatures)

	// Comments are not viewport-filtered, and deletions always propagate.
	assert.Equal(t, 0, resp.Pagination.TotalComments)
}

func TestInvalidViewport(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.GetUpdatesSince(context.Background(), Request{
		MapID:    "map-1",
		Viewport: &geo.Viewport{MinLng: 10, MinLat: 0, MaxLng: -10, MaxLat: 10},
	})
	var verr *models.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestPagination(t *testing.T) {
	engine, db := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, db.EnsureMap(ctx, "map-1"))

	for i := 0; i < 5; i++ {
		createPoint(t, db, "map-1", fmt.Sprintf("op-%d", i), float64(i), float64(i))
	}

	resp, err := engine.GetUpdatesSince(ctx, Request{MapID: "map-1", Page: 1, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, resp.Features, 2)
	assert.Equal(t, 5, resp.Pagination.TotalFeatures)
	assert.Equal(t, 3, resp.Pagination.TotalPages)
	assert.True(t, resp.Pagination.HasMore)

	resp, err = engine.GetUpdatesSince(ctx, Request{MapID: "map-1", Page: 3, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, resp.Features, 1)
	assert.False(t, resp.Pagination.HasMore)

	// Limits are clamped to the configured maximum.
	resp, err = engine.GetUpdatesSince(ctx, Request{MapID: "map-1", Limit: 10000})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Pagination.Limit)
}

func TestSafetyCeilingWarning(t *testing.T) {
	db, err := store.NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cfg := testSyncConfig()
	cfg.SafetyCeiling = 2
	engine := NewEngine(db, cfg)

	ctx := context.Background()
	require.NoError(t, db.EnsureMap(ctx, "map-1"))
	for i := 0; i < 3; i++ {
		createPoint(t, db, "map-1", fmt.Sprintf("op-%d", i), float64(i), float64(i))
	}

	resp, err := engine.GetUpdatesSince(ctx, Request{MapID: "map-1"})
	require.NoError(t, err)
	assert.Contains(t, resp.Warning, "narrow the viewport or time range")
	assert.Len(t, resp.Features, 3)
}

func TestEgressPrecisionReduction(t *testing.T) {
	engine, db := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, db.EnsureMap(ctx, "map-1"))

	created := createPoint(t, db, "map-1", "op-1", 10.123456789, 20.987654321)

	resp, err := engine.GetUpdatesSince(ctx, Request{MapID: "map-1"})
	require.NoError(t, err)
	require.Len(t, resp.Features, 1)
	// Geometry round-trips through JSON storage, so coordinates decode as []any.
	assert.Equal(t, []any{10.12346, 20.98765}, resp.Features[0].Geometry.Coordinates)

	// Stored geometry keeps full precision.
	stored, err := db.GetFeature(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, []any{10.123456789, 20.987654321}, stored.Geometry.Coordinates)
}

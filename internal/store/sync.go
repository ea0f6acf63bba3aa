// Geoboard - Real-Time Collaborative Map Annotation
// Copyright 2026 Geoboard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/geoboard/geoboard

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/geoboard/geoboard/internal/geo"
	"github.com/geoboard/geoboard/internal/models"
)

// FeaturesSince returns features on the map updated strictly after since,
// optionally restricted to a viewport, ordered by updated_at ascending.
// The viewport test is bounding-box intersection against the precomputed
// feature envelope.
func (db *DB) FeaturesSince(ctx context.Context, mapID string, since time.Time, viewport *geo.Viewport, limit, offset int) ([]models.Feature, error) {
	query := selectFeatureSQL + ` WHERE map_id = ? AND updated_at > ?`
	args := []any{mapID, since.UTC()}
	if viewport != nil {
		query += ` AND max_lng >= ? AND min_lng <= ? AND max_lat >= ? AND min_lat <= ?`
		args = append(args, viewport.MinLng, viewport.MaxLng, viewport.MinLat, viewport.MaxLat)
	}
	query += ` ORDER BY updated_at ASC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query features since %s: %w", since.Format(time.RFC3339), err)
	}
	defer func() { _ = rows.Close() }()
	return scanFeatures(rows)
}

// CountFeaturesSince returns the total match count ignoring pagination.
func (db *DB) CountFeaturesSince(ctx context.Context, mapID string, since time.Time, viewport *geo.Viewport) (int, error) {
	query := `SELECT COUNT(*) FROM features WHERE map_id = ? AND updated_at > ?`
	args := []any{mapID, since.UTC()}
	if viewport != nil {
		query += ` AND max_lng >= ? AND min_lng <= ? AND max_lat >= ? AND min_lat <= ?`
		args = append(args, viewport.MinLng, viewport.MaxLng, viewport.MinLat, viewport.MaxLat)
	}

	var count int
	if err := db.conn.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count features: %w", err)
	}
	return count, nil
}

// CommentsSince returns comments updated strictly after since with all their
// replies attached. A reply mutation bumps the parent comment's updated_at,
// so reply activity surfaces through this query as well.
func (db *DB) CommentsSince(ctx context.Context, mapID string, since time.Time, limit, offset int) ([]models.Comment, error) {
	rows, err := db.conn.QueryContext(ctx,
		selectCommentSQL+` WHERE map_id = ? AND updated_at > ? ORDER BY updated_at ASC LIMIT ? OFFSET ?`,
		mapID, since.UTC(), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query comments since %s: %w", since.Format(time.RFC3339), err)
	}
	defer func() { _ = rows.Close() }()

	var comments []models.Comment
	var ids []string
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		comments = append(comments, *c)
		ids = append(ids, c.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	replies, err := db.repliesFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range comments {
		comments[i].Replies = replies[comments[i].ID]
	}
	return comments, nil
}

// CountCommentsSince returns the total comment match count ignoring pagination.
func (db *DB) CountCommentsSince(ctx context.Context, mapID string, since time.Time) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM comments WHERE map_id = ? AND updated_at > ?`,
		mapID, since.UTC()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count comments: %w", err)
	}
	return count, nil
}

// DeletedFeatureIDsSince returns ids of features deleted strictly after
// since, from the history log. History rows with a null feature id are
// excluded; those features were hard-purged and can no longer be referenced.
func (db *DB) DeletedFeatureIDsSince(ctx context.Context, mapID string, since time.Time) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT DISTINCT feature_id FROM feature_history
		 WHERE map_id = ? AND ts > ? AND operation = 'delete' AND feature_id IS NOT NULL
		 ORDER BY feature_id`,
		mapID, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query deleted feature ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan deleted feature id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// HistorySince returns history entries after since, oldest first. Used by the
// admin API for audit inspection.
func (db *DB) HistorySince(ctx context.Context, mapID string, since time.Time, limit int) ([]models.FeatureHistory, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, feature_id, map_id, operation, previous_state, new_state,
		        author_id, author_name, ts, client_operation_id
		 FROM feature_history WHERE map_id = ? AND ts > ? ORDER BY ts ASC LIMIT ?`,
		mapID, since.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.FeatureHistory
	for rows.Next() {
		var (
			h          models.FeatureHistory
			featureID  *string
			clientOpID *string
			operation  string
			prevJSON   sql.NullString
			newJSON    sql.NullString
		)
		if err := rows.Scan(&h.ID, &featureID, &h.MapID, &operation, &prevJSON, &newJSON,
			&h.AuthorID, &h.AuthorName, &h.Timestamp, &clientOpID); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		h.Operation = models.HistoryOperation(operation)
		if featureID != nil {
			h.FeatureID = *featureID
		}
		if clientOpID != nil {
			h.ClientOperationID = *clientOpID
		}
		if h.PreviousState, err = decodeHistoryState(prevJSON); err != nil {
			return nil, err
		}
		if h.NewState, err = decodeHistoryState(newJSON); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// decodeHistoryState unmarshals a stored feature snapshot; NULL stays nil.
func decodeHistoryState(state sql.NullString) (*models.Feature, error) {
	if !state.Valid || state.String == "" {
		return nil, nil
	}
	var f models.Feature
	if err := json.Unmarshal([]byte(state.String), &f); err != nil {
		return nil, fmt.Errorf("failed to decode history state: %w", err)
	}
	return &f, nil
}

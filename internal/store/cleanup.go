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

	"github.com/geoboard/geoboard/internal/logging"
	"github.com/geoboard/geoboard/internal/metrics"
)

// CleanupRoom deletes everything belonging to a room in dependency order
// inside one transaction, so a crash mid-cleanup cannot leave orphaned
// children: the op ledger, replies, comments, history entries, features, then
// the map row.
func (db *DB) CleanupRoom(ctx context.Context, mapID string) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		steps := []struct {
			name string
			stmt string
		}{
			{"annotation ops", `DELETE FROM annotation_ops WHERE map_id = ?`},
			{"replies", `DELETE FROM replies WHERE map_id = ?`},
			{"comments", `DELETE FROM comments WHERE map_id = ?`},
			{"history", `DELETE FROM feature_history WHERE map_id = ?`},
			{"features", `DELETE FROM features WHERE map_id = ?`},
			{"map", `DELETE FROM maps WHERE id = ?`},
		}
		for _, step := range steps {
			if _, err := tx.Exec(step.stmt, mapID); err != nil {
				return fmt.Errorf("cleanup of %s for room %s failed: %w", step.name, mapID, err)
			}
		}
		return nil
	})
}

// InactiveMapIDs returns maps with no recorded activity since the cutoff,
// excluding rooms that currently have live presence.
func (db *DB) InactiveMapIDs(ctx context.Context, cutoff time.Time, exclude []string) ([]string, error) {
	query := `SELECT id FROM maps WHERE updated_at < ?`
	args := []any{cutoff.UTC()}
	if len(exclude) > 0 {
		query += ` AND id NOT IN (` + placeholders(len(exclude)) + `)`
		for _, id := range exclude {
			args = append(args, id)
		}
	}
	query += ` ORDER BY id`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list inactive maps: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan map id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// CleanupInactiveRooms reaps rooms idle longer than inactiveDays. Rooms in
// liveRooms are skipped. Per-room failures are logged and the batch
// continues; the returned count is successful cleanups only.
func (db *DB) CleanupInactiveRooms(ctx context.Context, inactiveDays int, liveRooms []string) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -inactiveDays)
	ids, err := db.InactiveMapIDs(ctx, cutoff, liveRooms)
	if err != nil {
		return 0, err
	}

	cleaned := 0
	for _, id := range ids {
		if err := db.CleanupRoom(ctx, id); err != nil {
			metrics.RoomCleanupErrors.Inc()
			logging.Error().Err(err).Str("room", id).Msg("room cleanup failed, continuing batch")
			continue
		}
		metrics.RoomsCleaned.Inc()
		cleaned++
	}

	if cleaned > 0 {
		logging.Info().Int("cleaned", cleaned).Int("candidates", len(ids)).Msg("inactive room cleanup completed")
	}
	return cleaned, nil
}

// Geoboard - Real-Time Collaborative Map Annotation
// Copyright 2026 Geoboard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/geoboard/geoboard

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/geoboard/geoboard/internal/models"
)

// CreateMap inserts a new map record.
func (db *DB) CreateMap(ctx context.Context, m *models.Map) error {
	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO maps (id, name, description, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.Name, m.Description, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create map %s: %w", m.ID, err)
	}
	return nil
}

// EnsureMap creates the map row if it does not exist. Joining a room for the
// first time lazily creates its persistent record.
func (db *DB) EnsureMap(ctx context.Context, mapID string) error {
	now := time.Now().UTC()
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO maps (id, name, description, created_at, updated_at)
		 VALUES (?, ?, '', ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		mapID, mapID, now, now)
	if err != nil {
		return fmt.Errorf("failed to ensure map %s: %w", mapID, err)
	}
	return nil
}

// GetMap returns the map record or models.ErrNotFound.
func (db *DB) GetMap(ctx context.Context, mapID string) (*models.Map, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT id, name, description, created_at, updated_at FROM maps WHERE id = ?`, mapID)

	var m models.Map
	err := row.Scan(&m.ID, &m.Name, &m.Description, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load map %s: %w", mapID, err)
	}
	return &m, nil
}

// ListMaps returns all maps ordered by update time descending.
func (db *DB) ListMaps(ctx context.Context) ([]models.Map, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, name, description, created_at, updated_at FROM maps ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list maps: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.Map
	for rows.Next() {
		var m models.Map
		if err := rows.Scan(&m.ID, &m.Name, &m.Description, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan map row: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpdateMap updates name/description on the map record.
func (db *DB) UpdateMap(ctx context.Context, m *models.Map) error {
	m.UpdatedAt = time.Now().UTC()
	res, err := db.conn.ExecContext(ctx,
		`UPDATE maps SET name = ?, description = ?, updated_at = ? WHERE id = ?`,
		m.Name, m.Description, m.UpdatedAt, m.ID)
	if err != nil {
		return fmt.Errorf("failed to update map %s: %w", m.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

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

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/geoboard/geoboard/internal/geo"
	"github.com/geoboard/geoboard/internal/logging"
	"github.com/geoboard/geoboard/internal/metrics"
	"github.com/geoboard/geoboard/internal/models"
)

// featureNamespace derives stable feature ids from client operation ids so a
// retried offline create addresses the same content.
var featureNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// FeatureResult is the outcome of a feature mutation.
type FeatureResult struct {
	Feature *models.Feature

	// Duplicate is true when the idempotency ledger matched the client
	// operation id; Feature then holds the originally recorded result and no
	// new mutation was applied.
	Duplicate bool
}

// FeaturePatch carries the mutable fields of a feature update. Nil fields are
// left unchanged.
type FeaturePatch struct {
	Geometry   *geo.Geometry
	Properties map[string]any
}

// CreateFeature inserts a new feature at version 1 together with its history
// entry. A client operation id makes the create idempotent: a replay returns
// the original feature without inserting a second row or history entry.
func (db *DB) CreateFeature(ctx context.Context, f *models.Feature) (*FeatureResult, error) {
	if !models.ValidFeatureType(f.Type) {
		return nil, models.NewValidationError("type", fmt.Sprintf("unknown feature type %q", f.Type))
	}

	if f.ClientOperationID != "" {
		// Content-addressed id: the same offline operation always produces
		// the same feature id.
		f.ID = uuid.NewSHA1(featureNamespace, []byte(f.MapID+"/"+f.ClientOperationID)).String()
		unlock := db.lockRow("op:" + f.ClientOperationID)
		defer unlock()
	} else {
		f.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	f.CreatedAt = now
	f.UpdatedAt = now
	f.Version = 1

	var result *FeatureResult
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		if f.ClientOperationID != "" {
			prior, err := lookupRecordedResult(tx, f.MapID, f.ClientOperationID)
			if err != nil {
				return err
			}
			if prior != nil {
				result = &FeatureResult{Feature: prior, Duplicate: true}
				return nil
			}
		}

		geomJSON, propsJSON, err := encodeFeatureJSON(f)
		if err != nil {
			return err
		}
		env, ok := geo.Envelope(f.Geometry)
		if !ok {
			// An empty envelope would store ±Inf bounds and hide the feature
			// from every viewport query.
			return models.NewValidationError("geometry", "geometry has no coordinates")
		}

		_, err = tx.Exec(`INSERT INTO features
			(id, map_id, type, geometry, properties, author_id, author_name,
			 created_at, updated_at, version, client_operation_id, offline_created,
			 min_lng, min_lat, max_lng, max_lat)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			f.ID, f.MapID, string(f.Type), geomJSON, propsJSON, f.AuthorID, f.AuthorName,
			f.CreatedAt, f.UpdatedAt, f.Version, nullable(f.ClientOperationID), f.OfflineCreated,
			env.MinLng, env.MinLat, env.MaxLng, env.MaxLat)
		if err != nil {
			return fmt.Errorf("failed to insert feature: %w", err)
		}

		if err := insertHistory(tx, historyEntry{
			featureID: f.ID, mapID: f.MapID, operation: models.HistoryOpCreate,
			newState: f, authorID: f.AuthorID, authorName: f.AuthorName,
			timestamp: now, clientOperationID: f.ClientOperationID,
		}); err != nil {
			return err
		}
		if err := touchMap(tx, f.MapID, now); err != nil {
			return err
		}

		result = &FeatureResult{Feature: f}
		return nil
	})
	if err != nil {
		metrics.FeatureMutations.WithLabelValues("create", "error").Inc()
		return nil, err
	}

	if result.Duplicate {
		metrics.DuplicateOperations.Inc()
		metrics.FeatureMutations.WithLabelValues("create", "duplicate").Inc()
	} else {
		metrics.FeatureMutations.WithLabelValues("create", "applied").Inc()
	}
	return result, nil
}

// UpdateFeature applies a version-gated patch under the feature's row lock.
// A stale expectedVersion mutates nothing and surfaces the current version in
// a VersionConflictError; the caller decides whether to re-fetch and retry.
func (db *DB) UpdateFeature(ctx context.Context, id string, patch FeaturePatch, expectedVersion int64, authorID, authorName, clientOpID string) (*FeatureResult, error) {
	unlock := db.lockRow(id)
	defer unlock()

	var result *FeatureResult
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		current, err := loadFeatureTx(tx, id)
		if err != nil {
			return err
		}

		if clientOpID != "" {
			prior, err := lookupRecordedResult(tx, current.MapID, clientOpID)
			if err != nil {
				return err
			}
			if prior != nil {
				result = &FeatureResult{Feature: prior, Duplicate: true}
				return nil
			}
		}

		if current.AuthorID != authorID {
			return models.ErrUnauthorized
		}
		if current.Version != expectedVersion {
			return &models.VersionConflictError{
				ExpectedVersion: expectedVersion,
				CurrentVersion:  current.Version,
			}
		}

		previous := *current
		updated := *current
		if patch.Geometry != nil {
			updated.Geometry = *patch.Geometry
		}
		if patch.Properties != nil {
			updated.Properties = patch.Properties
		}
		updated.Version = current.Version + 1
		updated.UpdatedAt = time.Now().UTC()
		updated.ClientOperationID = clientOpID

		geomJSON, propsJSON, err := encodeFeatureJSON(&updated)
		if err != nil {
			return err
		}
		env, ok := geo.Envelope(updated.Geometry)
		if !ok {
			return models.NewValidationError("geometry", "geometry has no coordinates")
		}

		_, err = tx.Exec(`UPDATE features SET
			geometry = ?, properties = ?, updated_at = ?, version = ?, client_operation_id = ?,
			min_lng = ?, min_lat = ?, max_lng = ?, max_lat = ?
			WHERE id = ?`,
			geomJSON, propsJSON, updated.UpdatedAt, updated.Version, nullable(clientOpID),
			env.MinLng, env.MinLat, env.MaxLng, env.MaxLat, id)
		if err != nil {
			return fmt.Errorf("failed to update feature %s: %w", id, err)
		}

		if err := insertHistory(tx, historyEntry{
			featureID: id, mapID: updated.MapID, operation: models.HistoryOpUpdate,
			previousState: &previous, newState: &updated,
			authorID: authorID, authorName: authorName,
			timestamp: updated.UpdatedAt, clientOperationID: clientOpID,
		}); err != nil {
			return err
		}
		if err := touchMap(tx, updated.MapID, updated.UpdatedAt); err != nil {
			return err
		}

		result = &FeatureResult{Feature: &updated}
		return nil
	})
	if err != nil {
		outcome := "error"
		if _, conflict := models.IsVersionConflict(err); conflict {
			outcome = "conflict"
			metrics.VersionConflicts.Inc()
		}
		metrics.FeatureMutations.WithLabelValues("update", outcome).Inc()
		return nil, err
	}

	if result.Duplicate {
		metrics.DuplicateOperations.Inc()
		metrics.FeatureMutations.WithLabelValues("update", "duplicate").Inc()
	} else {
		metrics.FeatureMutations.WithLabelValues("update", "applied").Inc()
	}
	return result, nil
}

// DeleteFeature removes a feature version-gated, recording a delete history
// entry in the same transaction. The history entry keeps the feature id so
// delta queries can report the deletion to resuming clients.
func (db *DB) DeleteFeature(ctx context.Context, id string, expectedVersion int64, authorID, authorName, clientOpID string) (*FeatureResult, error) {
	unlock := db.lockRow(id)
	defer unlock()

	var result *FeatureResult
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		current, err := loadFeatureTx(tx, id)
		if errors.Is(err, models.ErrNotFound) && clientOpID != "" {
			// The feature may already be gone because this very operation was
			// applied before; the ledger answers that.
			prior, lerr := lookupDeleteRecord(tx, clientOpID)
			if lerr != nil {
				return lerr
			}
			if prior != nil {
				result = &FeatureResult{Feature: prior, Duplicate: true}
				return nil
			}
		}
		if err != nil {
			return err
		}

		if clientOpID != "" {
			prior, err := lookupDeleteRecord(tx, clientOpID)
			if err != nil {
				return err
			}
			if prior != nil {
				result = &FeatureResult{Feature: prior, Duplicate: true}
				return nil
			}
		}

		if current.AuthorID != authorID {
			return models.ErrUnauthorized
		}
		if current.Version != expectedVersion {
			return &models.VersionConflictError{
				ExpectedVersion: expectedVersion,
				CurrentVersion:  current.Version,
			}
		}

		now := time.Now().UTC()
		if _, err := tx.Exec(`DELETE FROM features WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete feature %s: %w", id, err)
		}

		if err := insertHistory(tx, historyEntry{
			featureID: id, mapID: current.MapID, operation: models.HistoryOpDelete,
			previousState: current, authorID: authorID, authorName: authorName,
			timestamp: now, clientOperationID: clientOpID,
		}); err != nil {
			return err
		}
		if err := touchMap(tx, current.MapID, now); err != nil {
			return err
		}

		result = &FeatureResult{Feature: current}
		return nil
	})
	if err != nil {
		outcome := "error"
		if _, conflict := models.IsVersionConflict(err); conflict {
			outcome = "conflict"
			metrics.VersionConflicts.Inc()
		}
		metrics.FeatureMutations.WithLabelValues("delete", outcome).Inc()
		return nil, err
	}

	if result.Duplicate {
		metrics.DuplicateOperations.Inc()
		metrics.FeatureMutations.WithLabelValues("delete", "duplicate").Inc()
	} else {
		metrics.FeatureMutations.WithLabelValues("delete", "applied").Inc()
	}
	return result, nil
}

// GetFeature loads a feature by id.
func (db *DB) GetFeature(ctx context.Context, id string) (*models.Feature, error) {
	row := db.conn.QueryRowContext(ctx, selectFeatureSQL+` WHERE id = ?`, id)
	return scanFeature(row)
}

// ListFeatures returns all features on a map ordered by update time.
func (db *DB) ListFeatures(ctx context.Context, mapID string) ([]models.Feature, error) {
	rows, err := db.conn.QueryContext(ctx,
		selectFeatureSQL+` WHERE map_id = ? ORDER BY updated_at ASC`, mapID)
	if err != nil {
		return nil, fmt.Errorf("failed to list features: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanFeatures(rows)
}

const selectFeatureSQL = `SELECT id, map_id, type, geometry, properties, author_id, author_name,
	created_at, updated_at, version, client_operation_id, offline_created FROM features`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFeature(row rowScanner) (*models.Feature, error) {
	var (
		f           models.Feature
		geomJSON    string
		propsJSON   sql.NullString
		clientOpID  sql.NullString
		featureType string
	)
	err := row.Scan(&f.ID, &f.MapID, &featureType, &geomJSON, &propsJSON,
		&f.AuthorID, &f.AuthorName, &f.CreatedAt, &f.UpdatedAt, &f.Version,
		&clientOpID, &f.OfflineCreated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan feature row: %w", err)
	}

	f.Type = models.FeatureType(featureType)
	f.ClientOperationID = clientOpID.String
	if err := json.Unmarshal([]byte(geomJSON), &f.Geometry); err != nil {
		return nil, fmt.Errorf("failed to decode geometry for %s: %w", f.ID, err)
	}
	if propsJSON.Valid && propsJSON.String != "" {
		if err := json.Unmarshal([]byte(propsJSON.String), &f.Properties); err != nil {
			return nil, fmt.Errorf("failed to decode properties for %s: %w", f.ID, err)
		}
	}
	return &f, nil
}

func scanFeatures(rows *sql.Rows) ([]models.Feature, error) {
	var out []models.Feature
	for rows.Next() {
		f, err := scanFeature(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

func loadFeatureTx(tx *sql.Tx, id string) (*models.Feature, error) {
	return scanFeature(tx.QueryRow(selectFeatureSQL+` WHERE id = ?`, id))
}

func encodeFeatureJSON(f *models.Feature) (geomJSON string, propsJSON any, err error) {
	geomBytes, err := json.Marshal(f.Geometry)
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode geometry: %w", err)
	}
	if f.Properties == nil {
		return string(geomBytes), nil, nil
	}
	propsBytes, err := json.Marshal(f.Properties)
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode properties: %w", err)
	}
	return string(geomBytes), string(propsBytes), nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// historyEntry carries one append-only history row.
type historyEntry struct {
	featureID         string
	mapID             string
	operation         models.HistoryOperation
	previousState     *models.Feature
	newState          *models.Feature
	authorID          string
	authorName        string
	timestamp         time.Time
	clientOperationID string
}

func insertHistory(tx *sql.Tx, e historyEntry) error {
	encode := func(f *models.Feature) (any, error) {
		if f == nil {
			return nil, nil
		}
		b, err := json.Marshal(f)
		if err != nil {
			return nil, fmt.Errorf("failed to encode history state: %w", err)
		}
		return string(b), nil
	}

	prev, err := encode(e.previousState)
	if err != nil {
		return err
	}
	next, err := encode(e.newState)
	if err != nil {
		return err
	}

	_, err = tx.Exec(`INSERT INTO feature_history
		(id, feature_id, map_id, operation, previous_state, new_state,
		 author_id, author_name, ts, client_operation_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), nullable(e.featureID), e.mapID, string(e.operation),
		prev, next, e.authorID, e.authorName, e.timestamp, nullable(e.clientOperationID))
	if err != nil {
		return fmt.Errorf("failed to insert history entry: %w", err)
	}
	return nil
}

// lookupRecordedResult is the idempotency ledger read: a prior history entry
// with the client operation id means the operation already applied, and its
// recorded new state is the original result.
func lookupRecordedResult(tx *sql.Tx, mapID, clientOpID string) (*models.Feature, error) {
	row := tx.QueryRow(
		`SELECT new_state FROM feature_history
		 WHERE map_id = ? AND client_operation_id = ? LIMIT 1`, mapID, clientOpID)

	var stateJSON sql.NullString
	err := row.Scan(&stateJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency lookup failed: %w", err)
	}
	if !stateJSON.Valid || stateJSON.String == "" {
		logging.Warn().Str("client_operation_id", clientOpID).Msg("idempotency hit without recorded state")
		return nil, nil
	}

	var f models.Feature
	if err := json.Unmarshal([]byte(stateJSON.String), &f); err != nil {
		return nil, fmt.Errorf("failed to decode recorded result: %w", err)
	}
	return &f, nil
}

// lookupDeleteRecord answers whether a delete with the client operation id
// already applied, returning its recorded previous state.
func lookupDeleteRecord(tx *sql.Tx, clientOpID string) (*models.Feature, error) {
	row := tx.QueryRow(
		`SELECT previous_state FROM feature_history
		 WHERE client_operation_id = ? AND operation = 'delete' LIMIT 1`, clientOpID)

	var stateJSON sql.NullString
	err := row.Scan(&stateJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency lookup failed: %w", err)
	}
	if !stateJSON.Valid || stateJSON.String == "" {
		return nil, nil
	}

	var f models.Feature
	if err := json.Unmarshal([]byte(stateJSON.String), &f); err != nil {
		return nil, fmt.Errorf("failed to decode recorded result: %w", err)
	}
	return &f, nil
}

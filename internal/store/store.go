// Geoboard - Real-Time Collaborative Map Annotation
// Copyright 2026 Geoboard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/geoboard/geoboard

// Package store provides DuckDB-backed persistence for maps, features,
// comments, replies, and the append-only feature history log. All mutations
// run inside multi-statement transactions so a mutation, its history entry,
// and its idempotency record are never visible independently.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/geoboard/geoboard/internal/config"
	"github.com/geoboard/geoboard/internal/logging"
)

// DB wraps the DuckDB connection and provides data access methods.
type DB struct {
	conn *sql.DB

	// rowLocks serializes read-modify-write cycles per feature/comment id so
	// concurrent version checks cannot interleave between read and write.
	rowLocks sync.Map
}

// New opens (creating if needed) the database and initializes the schema.
func New(cfg *config.DatabaseConfig) (*DB, error) {
	numThreads := cfg.Threads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}

	// Ensure the parent directory exists for file-backed databases.
	if dbDir := filepath.Dir(cfg.Path); dbDir != "" && dbDir != "." && cfg.Path != "" {
		if err := os.MkdirAll(dbDir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
		}
	}

	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s",
		cfg.Path, numThreads, cfg.MaxMemory)

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.initSchema(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logging.Info().Str("path", cfg.Path).Int("threads", numThreads).Msg("database opened")
	return db, nil
}

// NewInMemory opens an in-memory database, for tests.
func NewInMemory() (*DB, error) {
	conn, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}
	db := &DB{conn: conn}
	if err := db.initSchema(context.Background()); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping verifies the connection is usable. Readiness checks call this.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// initSchema creates the tables and indexes if they do not exist. Geometry
// and state snapshots are stored as JSON; feature bounding boxes are
// precomputed into plain columns so viewport queries stay index-friendly
// without the spatial extension.
func (db *DB) initSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS maps (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			created_at  TIMESTAMP NOT NULL,
			updated_at  TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS features (
			id                  TEXT PRIMARY KEY,
			map_id              TEXT NOT NULL,
			type                TEXT NOT NULL,
			geometry            TEXT NOT NULL,
			properties          TEXT,
			author_id           TEXT NOT NULL,
			author_name         TEXT NOT NULL,
			created_at          TIMESTAMP NOT NULL,
			updated_at          TIMESTAMP NOT NULL,
			version             BIGINT NOT NULL,
			client_operation_id TEXT,
			offline_created     BOOLEAN NOT NULL DEFAULT FALSE,
			min_lng DOUBLE, min_lat DOUBLE, max_lng DOUBLE, max_lat DOUBLE
		)`,
		`CREATE TABLE IF NOT EXISTS feature_history (
			id                  TEXT PRIMARY KEY,
			feature_id          TEXT,
			map_id              TEXT NOT NULL,
			operation           TEXT NOT NULL,
			previous_state      TEXT,
			new_state           TEXT,
			author_id           TEXT NOT NULL,
			author_name         TEXT NOT NULL,
			ts                  TIMESTAMP NOT NULL,
			client_operation_id TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS comments (
			id          TEXT PRIMARY KEY,
			map_id      TEXT NOT NULL,
			lng         DOUBLE NOT NULL,
			lat         DOUBLE NOT NULL,
			content     TEXT NOT NULL,
			author_id   TEXT NOT NULL,
			author_name TEXT NOT NULL,
			created_at  TIMESTAMP NOT NULL,
			updated_at  TIMESTAMP NOT NULL,
			version     BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS replies (
			id          TEXT PRIMARY KEY,
			comment_id  TEXT NOT NULL,
			map_id      TEXT NOT NULL,
			content     TEXT NOT NULL,
			author_id   TEXT NOT NULL,
			author_name TEXT NOT NULL,
			created_at  TIMESTAMP NOT NULL,
			updated_at  TIMESTAMP NOT NULL,
			version     BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS annotation_ops (
			map_id              TEXT NOT NULL,
			client_operation_id TEXT NOT NULL,
			target_type         TEXT NOT NULL,
			operation           TEXT NOT NULL,
			target_id           TEXT NOT NULL,
			result_state        TEXT,
			ts                  TIMESTAMP NOT NULL,
			PRIMARY KEY (map_id, client_operation_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_features_map_updated ON features (map_id, updated_at)`,
		`CREATE INDEX IF NOT EXISTS idx_history_map_ts ON feature_history (map_id, ts)`,
		`CREATE INDEX IF NOT EXISTS idx_history_client_op ON feature_history (client_operation_id)`,
		`CREATE INDEX IF NOT EXISTS idx_comments_map_updated ON comments (map_id, updated_at)`,
		`CREATE INDEX IF NOT EXISTS idx_replies_comment ON replies (comment_id)`,
		`CREATE INDEX IF NOT EXISTS idx_annotation_ops_client_op ON annotation_ops (client_operation_id)`,
	}

	for _, stmt := range statements {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}

// withTx runs fn inside a transaction, committing on nil error and rolling
// back otherwise.
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logging.Warn().Err(rbErr).Msg("transaction rollback failed")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// lockRow acquires the per-row write lock for id and returns its release
// function. Storage-level row locking resolves version-check races without
// application-level retries racing each other.
func (db *DB) lockRow(id string) func() {
	muIface, _ := db.rowLocks.LoadOrStore(id, &sync.Mutex{})
	mu := muIface.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// touchMap bumps the map's updated_at inside the caller's transaction. Map
// activity feeds the inactive-room cleanup scan.
func touchMap(tx *sql.Tx, mapID string, now time.Time) error {
	_, err := tx.Exec(`UPDATE maps SET updated_at = ? WHERE id = ?`, now, mapID)
	if err != nil {
		return fmt.Errorf("failed to touch map %s: %w", mapID, err)
	}
	return nil
}

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

// annotationNamespace derives stable comment and reply ids from client
// operation ids so a retried offline create addresses the same content.
var annotationNamespace = uuid.MustParse("91f0d2ea-5b0c-4f65-9f02-3a7c8c1de1a4")

// CommentResult is the outcome of a comment mutation.
type CommentResult struct {
	Comment *models.Comment

	// Duplicate is true when the idempotency ledger matched the client
	// operation id; Comment then holds the originally recorded result and no
	// new mutation was applied.
	Duplicate bool
}

// ReplyResult is the outcome of a reply mutation.
type ReplyResult struct {
	Reply     *models.Reply
	Duplicate bool
}

// CreateComment inserts a point-anchored comment at version 1. A client
// operation id makes the create idempotent: a replay returns the original
// comment without inserting a second row.
func (db *DB) CreateComment(ctx context.Context, c *models.Comment) (*CommentResult, error) {
	if !c.Position.Valid() {
		return nil, models.NewValidationError("position", "coordinates out of range")
	}

	if c.ClientOperationID != "" {
		c.ID = uuid.NewSHA1(annotationNamespace, []byte(c.MapID+"/"+c.ClientOperationID)).String()
		unlock := db.lockRow("op:" + c.ClientOperationID)
		defer unlock()
	} else {
		c.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	c.Version = 1

	var result *CommentResult
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		if c.ClientOperationID != "" {
			prior, err := lookupCommentRecord(tx, c.MapID, c.ClientOperationID)
			if err != nil {
				return err
			}
			if prior != nil {
				result = &CommentResult{Comment: prior, Duplicate: true}
				return nil
			}
		}

		_, err := tx.Exec(`INSERT INTO comments
			(id, map_id, lng, lat, content, author_id, author_name, created_at, updated_at, version)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.MapID, c.Position.Lng, c.Position.Lat, c.Content,
			c.AuthorID, c.AuthorName, c.CreatedAt, c.UpdatedAt, c.Version)
		if err != nil {
			return fmt.Errorf("failed to insert comment: %w", err)
		}

		if err := recordAnnotationOp(tx, annotationOp{
			mapID: c.MapID, clientOperationID: c.ClientOperationID,
			targetType: annotationTargetComment, operation: "create",
			targetID: c.ID, state: c, ts: now,
		}); err != nil {
			return err
		}

		result = &CommentResult{Comment: c}
		return touchMap(tx, c.MapID, now)
	})
	if err != nil {
		metrics.AnnotationMutations.WithLabelValues("comment-create", "error").Inc()
		return nil, err
	}
	countAnnotationOutcome("comment-create", result.Duplicate)
	return result, nil
}

// UpdateComment applies a version-gated content update.
func (db *DB) UpdateComment(ctx context.Context, id, content string, expectedVersion int64, authorID, clientOpID string) (*CommentResult, error) {
	unlock := db.lockRow("comment:" + id)
	defer unlock()

	var result *CommentResult
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		current, err := loadCommentTx(tx, id)
		if err != nil {
			return err
		}

		if clientOpID != "" {
			prior, err := lookupCommentRecord(tx, current.MapID, clientOpID)
			if err != nil {
				return err
			}
			if prior != nil {
				result = &CommentResult{Comment: prior, Duplicate: true}
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
		current.Content = content
		current.Version++
		current.UpdatedAt = now

		_, err = tx.Exec(`UPDATE comments SET content = ?, updated_at = ?, version = ? WHERE id = ?`,
			current.Content, current.UpdatedAt, current.Version, id)
		if err != nil {
			return fmt.Errorf("failed to update comment %s: %w", id, err)
		}

		if err := recordAnnotationOp(tx, annotationOp{
			mapID: current.MapID, clientOperationID: clientOpID,
			targetType: annotationTargetComment, operation: "update",
			targetID: id, state: current, ts: now,
		}); err != nil {
			return err
		}

		result = &CommentResult{Comment: current}
		return touchMap(tx, current.MapID, now)
	})
	if err != nil {
		countAnnotationError("comment-update", err)
		return nil, err
	}
	countAnnotationOutcome("comment-update", result.Duplicate)
	return result, nil
}

// DeleteComment removes a comment and cascades to its replies in the same
// transaction. The deleted state is recorded against the client operation id
// so a replayed delete answers with the original outcome.
func (db *DB) DeleteComment(ctx context.Context, id string, expectedVersion int64, authorID, clientOpID string) (*CommentResult, error) {
	unlock := db.lockRow("comment:" + id)
	defer unlock()

	var result *CommentResult
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		current, err := loadCommentTx(tx, id)
		if errors.Is(err, models.ErrNotFound) && clientOpID != "" {
			// The comment may already be gone because this very operation was
			// applied before; the ledger answers that.
			prior, lerr := lookupCommentDelete(tx, clientOpID)
			if lerr != nil {
				return lerr
			}
			if prior != nil {
				result = &CommentResult{Comment: prior, Duplicate: true}
				return nil
			}
		}
		if err != nil {
			return err
		}

		if clientOpID != "" {
			prior, err := lookupCommentDelete(tx, clientOpID)
			if err != nil {
				return err
			}
			if prior != nil {
				result = &CommentResult{Comment: prior, Duplicate: true}
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
		if _, err := tx.Exec(`DELETE FROM replies WHERE comment_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete replies for comment %s: %w", id, err)
		}
		if _, err := tx.Exec(`DELETE FROM comments WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete comment %s: %w", id, err)
		}

		if err := recordAnnotationOp(tx, annotationOp{
			mapID: current.MapID, clientOperationID: clientOpID,
			targetType: annotationTargetComment, operation: "delete",
			targetID: id, state: current, ts: now,
		}); err != nil {
			return err
		}

		result = &CommentResult{Comment: current}
		return touchMap(tx, current.MapID, now)
	})
	if err != nil {
		countAnnotationError("comment-delete", err)
		return nil, err
	}
	countAnnotationOutcome("comment-delete", result.Duplicate)
	return result, nil
}

// CreateReply inserts a reply under a comment, bumping the parent's
// updated_at so the reply is visible to since-timestamp delta queries. A
// client operation id makes the create idempotent.
func (db *DB) CreateReply(ctx context.Context, r *models.Reply) (*ReplyResult, error) {
	if r.ClientOperationID != "" {
		r.ID = uuid.NewSHA1(annotationNamespace, []byte(r.CommentID+"/"+r.ClientOperationID)).String()
		unlock := db.lockRow("op:" + r.ClientOperationID)
		defer unlock()
	} else {
		r.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now
	r.Version = 1

	var result *ReplyResult
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		if r.ClientOperationID != "" {
			// Checked before the parent load: a replay must succeed even if
			// the parent comment was deleted after the original apply.
			prior, err := lookupReplyRecord(tx, r.ClientOperationID)
			if err != nil {
				return err
			}
			if prior != nil {
				result = &ReplyResult{Reply: prior, Duplicate: true}
				return nil
			}
		}

		parent, err := loadCommentTx(tx, r.CommentID)
		if err != nil {
			return err
		}
		r.MapID = parent.MapID

		_, err = tx.Exec(`INSERT INTO replies
			(id, comment_id, map_id, content, author_id, author_name, created_at, updated_at, version)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.CommentID, r.MapID, r.Content, r.AuthorID, r.AuthorName,
			r.CreatedAt, r.UpdatedAt, r.Version)
		if err != nil {
			return fmt.Errorf("failed to insert reply: %w", err)
		}
		if _, err := tx.Exec(`UPDATE comments SET updated_at = ? WHERE id = ?`, now, r.CommentID); err != nil {
			return fmt.Errorf("failed to touch parent comment: %w", err)
		}

		if err := recordAnnotationOp(tx, annotationOp{
			mapID: r.MapID, clientOperationID: r.ClientOperationID,
			targetType: annotationTargetReply, operation: "create",
			targetID: r.ID, state: r, ts: now,
		}); err != nil {
			return err
		}

		result = &ReplyResult{Reply: r}
		return touchMap(tx, r.MapID, now)
	})
	if err != nil {
		metrics.AnnotationMutations.WithLabelValues("reply-create", "error").Inc()
		return nil, err
	}
	countAnnotationOutcome("reply-create", result.Duplicate)
	return result, nil
}

// UpdateReply applies a version-gated content update to a reply.
func (db *DB) UpdateReply(ctx context.Context, id, content string, expectedVersion int64, authorID, clientOpID string) (*ReplyResult, error) {
	unlock := db.lockRow("reply:" + id)
	defer unlock()

	var result *ReplyResult
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		current, err := loadReplyTx(tx, id)
		if err != nil {
			return err
		}

		if clientOpID != "" {
			prior, err := lookupReplyRecord(tx, clientOpID)
			if err != nil {
				return err
			}
			if prior != nil {
				result = &ReplyResult{Reply: prior, Duplicate: true}
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
		current.Content = content
		current.Version++
		current.UpdatedAt = now

		_, err = tx.Exec(`UPDATE replies SET content = ?, updated_at = ?, version = ? WHERE id = ?`,
			current.Content, current.UpdatedAt, current.Version, id)
		if err != nil {
			return fmt.Errorf("failed to update reply %s: %w", id, err)
		}
		if _, err := tx.Exec(`UPDATE comments SET updated_at = ? WHERE id = ?`, now, current.CommentID); err != nil {
			return fmt.Errorf("failed to touch parent comment: %w", err)
		}

		if err := recordAnnotationOp(tx, annotationOp{
			mapID: current.MapID, clientOperationID: clientOpID,
			targetType: annotationTargetReply, operation: "update",
			targetID: id, state: current, ts: now,
		}); err != nil {
			return err
		}

		result = &ReplyResult{Reply: current}
		return touchMap(tx, current.MapID, now)
	})
	if err != nil {
		countAnnotationError("reply-update", err)
		return nil, err
	}
	countAnnotationOutcome("reply-update", result.Duplicate)
	return result, nil
}

// DeleteReply removes a single reply version-gated.
func (db *DB) DeleteReply(ctx context.Context, id string, expectedVersion int64, authorID, clientOpID string) (*ReplyResult, error) {
	unlock := db.lockRow("reply:" + id)
	defer unlock()

	var result *ReplyResult
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		current, err := loadReplyTx(tx, id)
		if errors.Is(err, models.ErrNotFound) && clientOpID != "" {
			prior, lerr := lookupReplyDelete(tx, clientOpID)
			if lerr != nil {
				return lerr
			}
			if prior != nil {
				result = &ReplyResult{Reply: prior, Duplicate: true}
				return nil
			}
		}
		if err != nil {
			return err
		}

		if clientOpID != "" {
			prior, err := lookupReplyDelete(tx, clientOpID)
			if err != nil {
				return err
			}
			if prior != nil {
				result = &ReplyResult{Reply: prior, Duplicate: true}
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
		if _, err := tx.Exec(`DELETE FROM replies WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete reply %s: %w", id, err)
		}
		if _, err := tx.Exec(`UPDATE comments SET updated_at = ? WHERE id = ?`, now, current.CommentID); err != nil {
			return fmt.Errorf("failed to touch parent comment: %w", err)
		}

		if err := recordAnnotationOp(tx, annotationOp{
			mapID: current.MapID, clientOperationID: clientOpID,
			targetType: annotationTargetReply, operation: "delete",
			targetID: id, state: current, ts: now,
		}); err != nil {
			return err
		}

		result = &ReplyResult{Reply: current}
		return touchMap(tx, current.MapID, now)
	})
	if err != nil {
		countAnnotationError("reply-delete", err)
		return nil, err
	}
	countAnnotationOutcome("reply-delete", result.Duplicate)
	return result, nil
}

// GetComment loads a comment with its replies.
func (db *DB) GetComment(ctx context.Context, id string) (*models.Comment, error) {
	c, err := scanComment(db.conn.QueryRowContext(ctx, selectCommentSQL+` WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	replies, err := db.repliesFor(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	c.Replies = replies[id]
	return c, nil
}

const (
	annotationTargetComment = "comment"
	annotationTargetReply   = "reply"
)

// annotationOp is one idempotency ledger row for a comment or reply mutation.
// The result state snapshots the entity after the mutation (before it, for
// deletes) so a replay can answer with the original outcome.
type annotationOp struct {
	mapID             string
	clientOperationID string
	targetType        string
	operation         string
	targetID          string
	state             any
	ts                time.Time
}

// recordAnnotationOp writes the ledger row. Operations without a client
// operation id are not recorded; there is nothing to replay against.
func recordAnnotationOp(tx *sql.Tx, op annotationOp) error {
	if op.clientOperationID == "" {
		return nil
	}
	stateJSON, err := json.Marshal(op.state)
	if err != nil {
		return fmt.Errorf("failed to encode ledger state: %w", err)
	}
	_, err = tx.Exec(`INSERT INTO annotation_ops
		(map_id, client_operation_id, target_type, operation, target_id, result_state, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		op.mapID, op.clientOperationID, op.targetType, op.operation,
		op.targetID, string(stateJSON), op.ts)
	if err != nil {
		return fmt.Errorf("failed to record annotation operation: %w", err)
	}
	return nil
}

func annotationOpState(tx *sql.Tx, cond string, args ...any) (sql.NullString, error) {
	row := tx.QueryRow(`SELECT result_state FROM annotation_ops WHERE `+cond+` LIMIT 1`, args...)
	var state sql.NullString
	err := row.Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return state, nil
	}
	if err != nil {
		return state, fmt.Errorf("idempotency lookup failed: %w", err)
	}
	if !state.Valid || state.String == "" {
		logging.Warn().Msg("idempotency hit without recorded state")
		state.Valid = false
	}
	return state, nil
}

// lookupCommentRecord is the ledger read for comment creates and updates,
// scoped to the map the operation targets.
func lookupCommentRecord(tx *sql.Tx, mapID, clientOpID string) (*models.Comment, error) {
	state, err := annotationOpState(tx,
		`map_id = ? AND client_operation_id = ? AND target_type = 'comment'`, mapID, clientOpID)
	if err != nil || !state.Valid {
		return nil, err
	}
	return decodeCommentState(state.String)
}

// lookupCommentDelete answers whether a comment delete with the client
// operation id already applied, returning the recorded prior state.
func lookupCommentDelete(tx *sql.Tx, clientOpID string) (*models.Comment, error) {
	state, err := annotationOpState(tx,
		`client_operation_id = ? AND target_type = 'comment' AND operation = 'delete'`, clientOpID)
	if err != nil || !state.Valid {
		return nil, err
	}
	return decodeCommentState(state.String)
}

func lookupReplyRecord(tx *sql.Tx, clientOpID string) (*models.Reply, error) {
	state, err := annotationOpState(tx,
		`client_operation_id = ? AND target_type = 'reply'`, clientOpID)
	if err != nil || !state.Valid {
		return nil, err
	}
	return decodeReplyState(state.String)
}

func lookupReplyDelete(tx *sql.Tx, clientOpID string) (*models.Reply, error) {
	state, err := annotationOpState(tx,
		`client_operation_id = ? AND target_type = 'reply' AND operation = 'delete'`, clientOpID)
	if err != nil || !state.Valid {
		return nil, err
	}
	return decodeReplyState(state.String)
}

func decodeCommentState(stateJSON string) (*models.Comment, error) {
	var c models.Comment
	if err := json.Unmarshal([]byte(stateJSON), &c); err != nil {
		return nil, fmt.Errorf("failed to decode recorded result: %w", err)
	}
	return &c, nil
}

func decodeReplyState(stateJSON string) (*models.Reply, error) {
	var r models.Reply
	if err := json.Unmarshal([]byte(stateJSON), &r); err != nil {
		return nil, fmt.Errorf("failed to decode recorded result: %w", err)
	}
	return &r, nil
}

func countAnnotationOutcome(operation string, duplicate bool) {
	if duplicate {
		metrics.DuplicateOperations.Inc()
		metrics.AnnotationMutations.WithLabelValues(operation, "duplicate").Inc()
	} else {
		metrics.AnnotationMutations.WithLabelValues(operation, "applied").Inc()
	}
}

func countAnnotationError(operation string, err error) {
	outcome := "error"
	if _, conflict := models.IsVersionConflict(err); conflict {
		outcome = "conflict"
		metrics.VersionConflicts.Inc()
	}
	metrics.AnnotationMutations.WithLabelValues(operation, outcome).Inc()
}

const selectCommentSQL = `SELECT id, map_id, lng, lat, content, author_id, author_name,
	created_at, updated_at, version FROM comments`

func scanComment(row rowScanner) (*models.Comment, error) {
	var c models.Comment
	var lng, lat float64
	err := row.Scan(&c.ID, &c.MapID, &lng, &lat, &c.Content,
		&c.AuthorID, &c.AuthorName, &c.CreatedAt, &c.UpdatedAt, &c.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan comment row: %w", err)
	}
	c.Position = geo.Position{Lng: lng, Lat: lat}
	return &c, nil
}

func loadCommentTx(tx *sql.Tx, id string) (*models.Comment, error) {
	return scanComment(tx.QueryRow(selectCommentSQL+` WHERE id = ?`, id))
}

func loadReplyTx(tx *sql.Tx, id string) (*models.Reply, error) {
	var r models.Reply
	err := tx.QueryRow(`SELECT id, comment_id, map_id, content, author_id, author_name,
		created_at, updated_at, version FROM replies WHERE id = ?`, id).
		Scan(&r.ID, &r.CommentID, &r.MapID, &r.Content, &r.AuthorID, &r.AuthorName,
			&r.CreatedAt, &r.UpdatedAt, &r.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan reply row: %w", err)
	}
	return &r, nil
}

// repliesFor loads replies for a set of comment ids, grouped by parent.
func (db *DB) repliesFor(ctx context.Context, commentIDs []string) (map[string][]models.Reply, error) {
	out := make(map[string][]models.Reply, len(commentIDs))
	if len(commentIDs) == 0 {
		return out, nil
	}

	query := `SELECT id, comment_id, map_id, content, author_id, author_name,
		created_at, updated_at, version FROM replies WHERE comment_id IN (` +
		placeholders(len(commentIDs)) + `) ORDER BY created_at ASC`

	args := make([]any, len(commentIDs))
	for i, id := range commentIDs {
		args[i] = id
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load replies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var r models.Reply
		if err := rows.Scan(&r.ID, &r.CommentID, &r.MapID, &r.Content, &r.AuthorID,
			&r.AuthorName, &r.CreatedAt, &r.UpdatedAt, &r.Version); err != nil {
			return nil, fmt.Errorf("failed to scan reply row: %w", err)
		}
		out[r.CommentID] = append(out[r.CommentID], r)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	out := make([]byte, 0, n*3)
	for i := 0; i < n; i++ {
		if i > 0 {
			out = append(out, ", "...)
		}
		out = append(out, '?')
	}
	return string(out)
}

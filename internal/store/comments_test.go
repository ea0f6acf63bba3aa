// Geoboard - Real-Time Collaborative Map Annotation
// Copyright 2026 Geoboard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/geoboard/geoboard

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geoboard/geoboard/internal/geo"
	"github.com/geoboard/geoboard/internal/models"
)

func testComment(mapID string) *models.Comment {
	return &models.Comment{
		MapID:      mapID,
		Position:   geo.Position{Lng: 10, Lat: 20},
		Content:    "what is this area?",
		AuthorID:   "author-1",
		AuthorName: "Author One",
	}
}

func mustCreateComment(t *testing.T, db *DB, c *models.Comment) {
	t.Helper()
	result, err := db.CreateComment(context.Background(), c)
	require.NoError(t, err)
	require.False(t, result.Duplicate)
}

func mustCreateReply(t *testing.T, db *DB, r *models.Reply) {
	t.Helper()
	result, err := db.CreateReply(context.Background(), r)
	require.NoError(t, err)
	require.False(t, result.Duplicate)
}

func TestCreateAndGetComment(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.EnsureMap(ctx, "map-1"))

	c := testComment("map-1")
	mustCreateComment(t, db, c)
	assert.Equal(t, int64(1), c.Version)

	loaded, err := db.GetComment(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "what is this area?", loaded.Content)
	assert.Equal(t, geo.Position{Lng: 10, Lat: 20}, loaded.Position)
	assert.Empty(t, loaded.Replies)
}

func TestCreateCommentRejectsInvalidPosition(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	c := testComment("map-1")
	c.Position = geo.Position{Lng: 200, Lat: 0}
	_, err := db.CreateComment(ctx, c)

	var verr *models.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestCreateCommentIdempotentReplay(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.EnsureMap(ctx, "map-1"))

	c := testComment("map-1")
	c.ClientOperationID = "op-comment-1"
	mustCreateComment(t, db, c)

	// A retried offline create with the same operation id returns the
	// original comment and inserts nothing.
	retry := testComment("map-1")
	retry.ClientOperationID = "op-comment-1"
	result, err := db.CreateComment(ctx, retry)
	require.NoError(t, err)
	assert.True(t, result.Duplicate)
	assert.Equal(t, c.ID, result.Comment.ID)
	assert.Equal(t, int64(1), result.Comment.Version)

	comments, err := db.CommentsSince(ctx, "map-1", time.Time{}, 10, 0)
	require.NoError(t, err)
	assert.Len(t, comments, 1)
}

func TestUpdateCommentVersionGate(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.EnsureMap(ctx, "map-1"))

	c := testComment("map-1")
	mustCreateComment(t, db, c)

	updated, err := db.UpdateComment(ctx, c.ID, "edited", 1, "author-1", "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Comment.Version)

	_, err = db.UpdateComment(ctx, c.ID, "stale edit", 1, "author-1", "")
	current, conflict := models.IsVersionConflict(err)
	require.True(t, conflict)
	assert.Equal(t, int64(2), current)

	_, err = db.UpdateComment(ctx, c.ID, "not mine", 2, "intruder", "")
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestUpdateCommentIdempotentReplay(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.EnsureMap(ctx, "map-1"))

	c := testComment("map-1")
	mustCreateComment(t, db, c)

	first, err := db.UpdateComment(ctx, c.ID, "edited", 1, "author-1", "op-edit-1")
	require.NoError(t, err)
	require.False(t, first.Duplicate)
	assert.Equal(t, int64(2), first.Comment.Version)

	// The retry carries a now-stale expected version; the ledger answers
	// before the version gate fires.
	retry, err := db.UpdateComment(ctx, c.ID, "edited", 1, "author-1", "op-edit-1")
	require.NoError(t, err)
	assert.True(t, retry.Duplicate)
	assert.Equal(t, int64(2), retry.Comment.Version)
	assert.Equal(t, "edited", retry.Comment.Content)
}

func TestDeleteCommentCascadesReplies(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.EnsureMap(ctx, "map-1"))

	c := testComment("map-1")
	mustCreateComment(t, db, c)

	reply := &models.Reply{
		CommentID:  c.ID,
		Content:    "looks like a park",
		AuthorID:   "author-2",
		AuthorName: "Author Two",
	}
	mustCreateReply(t, db, reply)

	// Reply creation bumped the parent's version-independent updated_at, so
	// deletion still presents the comment's own version.
	_, err := db.DeleteComment(ctx, c.ID, 1, "author-1", "")
	require.NoError(t, err)

	_, err = db.GetComment(ctx, c.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = db.UpdateReply(ctx, reply.ID, "orphan edit", 1, "author-2", "")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestDeleteCommentIdempotentReplay(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.EnsureMap(ctx, "map-1"))

	c := testComment("map-1")
	mustCreateComment(t, db, c)

	first, err := db.DeleteComment(ctx, c.ID, 1, "author-1", "op-del-1")
	require.NoError(t, err)
	require.False(t, first.Duplicate)

	// The row is gone; the replay is answered from the ledger instead of
	// failing with not-found.
	retry, err := db.DeleteComment(ctx, c.ID, 1, "author-1", "op-del-1")
	require.NoError(t, err)
	assert.True(t, retry.Duplicate)
	assert.Equal(t, c.ID, retry.Comment.ID)
}

func TestReplyBumpsParentForSinceQueries(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.EnsureMap(ctx, "map-1"))

	c := testComment("map-1")
	mustCreateComment(t, db, c)

	cursor := time.Now().UTC()
	time.Sleep(5 * time.Millisecond)

	reply := &models.Reply{
		CommentID:  c.ID,
		Content:    "new reply",
		AuthorID:   "author-2",
		AuthorName: "Author Two",
	}
	mustCreateReply(t, db, reply)

	// The parent comment surfaces in a since-query issued before the reply.
	comments, err := db.CommentsSince(ctx, "map-1", cursor, 10, 0)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, c.ID, comments[0].ID)
	require.Len(t, comments[0].Replies, 1)
	assert.Equal(t, "new reply", comments[0].Replies[0].Content)
}

func TestReplyLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.EnsureMap(ctx, "map-1"))

	c := testComment("map-1")
	mustCreateComment(t, db, c)

	reply := &models.Reply{
		CommentID:  c.ID,
		Content:    "first",
		AuthorID:   "author-2",
		AuthorName: "Author Two",
	}
	mustCreateReply(t, db, reply)
	assert.Equal(t, int64(1), reply.Version)
	assert.Equal(t, "map-1", reply.MapID)

	updated, err := db.UpdateReply(ctx, reply.ID, "second", 1, "author-2", "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Reply.Version)

	_, err = db.UpdateReply(ctx, reply.ID, "third", 1, "author-2", "")
	_, conflict := models.IsVersionConflict(err)
	assert.True(t, conflict)

	_, err = db.DeleteReply(ctx, reply.ID, 2, "author-2", "")
	require.NoError(t, err)

	loaded, err := db.GetComment(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, loaded.Replies)
}

func TestCreateReplyIdempotentReplay(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.EnsureMap(ctx, "map-1"))

	c := testComment("map-1")
	mustCreateComment(t, db, c)

	reply := &models.Reply{
		CommentID:         c.ID,
		Content:           "queued offline",
		AuthorID:          "author-2",
		AuthorName:        "Author Two",
		ClientOperationID: "op-reply-1",
	}
	mustCreateReply(t, db, reply)

	retry := &models.Reply{
		CommentID:         c.ID,
		Content:           "queued offline",
		AuthorID:          "author-2",
		AuthorName:        "Author Two",
		ClientOperationID: "op-reply-1",
	}
	result, err := db.CreateReply(ctx, retry)
	require.NoError(t, err)
	assert.True(t, result.Duplicate)
	assert.Equal(t, reply.ID, result.Reply.ID)

	loaded, err := db.GetComment(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, loaded.Replies, 1)
}

func TestCreateReplyReplaySurvivesParentDeletion(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.EnsureMap(ctx, "map-1"))

	c := testComment("map-1")
	mustCreateComment(t, db, c)

	reply := &models.Reply{
		CommentID:         c.ID,
		Content:           "queued offline",
		AuthorID:          "author-2",
		AuthorName:        "Author Two",
		ClientOperationID: "op-reply-1",
	}
	mustCreateReply(t, db, reply)

	_, err := db.DeleteComment(ctx, c.ID, 1, "author-1", "")
	require.NoError(t, err)

	// The parent is gone but the ledger still answers the replay.
	retry := &models.Reply{
		CommentID:         c.ID,
		Content:           "queued offline",
		AuthorID:          "author-2",
		AuthorName:        "Author Two",
		ClientOperationID: "op-reply-1",
	}
	result, err := db.CreateReply(ctx, retry)
	require.NoError(t, err)
	assert.True(t, result.Duplicate)
	assert.Equal(t, reply.ID, result.Reply.ID)
}

func TestDeleteReplyIdempotentReplay(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.EnsureMap(ctx, "map-1"))

	c := testComment("map-1")
	mustCreateComment(t, db, c)

	reply := &models.Reply{
		CommentID:  c.ID,
		Content:    "short-lived",
		AuthorID:   "author-2",
		AuthorName: "Author Two",
	}
	mustCreateReply(t, db, reply)

	first, err := db.DeleteReply(ctx, reply.ID, 1, "author-2", "op-rdel-1")
	require.NoError(t, err)
	require.False(t, first.Duplicate)

	retry, err := db.DeleteReply(ctx, reply.ID, 1, "author-2", "op-rdel-1")
	require.NoError(t, err)
	assert.True(t, retry.Duplicate)
	assert.Equal(t, reply.ID, retry.Reply.ID)
}

func TestCreateReplyUnknownParent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	reply := &models.Reply{
		CommentID: "no-such-comment",
		Content:   "hello?",
		AuthorID:  "author-1",
	}
	_, err := db.CreateReply(ctx, reply)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

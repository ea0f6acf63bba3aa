// Geoboard - Real-Time Collaborative Map Annotation
// Copyright 2026 Geoboard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/geoboard/geoboard

package websocket

import (
	"github.com/geoboard/geoboard/internal/geo"
	"github.com/geoboard/geoboard/internal/models"
	"github.com/geoboard/geoboard/internal/quality"
)

// Client-to-server event types.
const (
	EventJoinRoom        = "join-room"
	EventLeaveRoom       = "leave-room"
	EventCursorMove      = "cursor-move"
	EventSelectionUpdate = "selection-update"
	EventFeatureCreate   = "feature-create"
	EventFeatureUpdate   = "feature-update"
	EventFeatureDelete   = "feature-delete"
	EventCommentCreate   = "comment-create"
	EventCommentUpdate   = "comment-update"
	EventCommentDelete   = "comment-delete"
	EventReplyCreate     = "reply-create"
	EventReplyUpdate     = "reply-update"
	EventReplyDelete     = "reply-delete"
	EventGetUpdatesSince = "get-updates-since"
	EventLatencyResponse = "latency-check-response"
)

// Server-to-client event types.
const (
	EventRoomSnapshot     = "room-snapshot"
	EventUserJoined       = "user-joined"
	EventUserLeft         = "user-left"
	EventUserStatus       = "user-status"
	EventCursorUpdate     = "cursor-update"
	EventSelectionChanged = "selection-changed"
	EventFeatureCreated   = "feature-created"
	EventFeatureUpdated   = "feature-updated"
	EventFeatureDeleted   = "feature-deleted"
	EventCommentCreated   = "comment-created"
	EventCommentUpdated   = "comment-updated"
	EventCommentDeleted   = "comment-deleted"
	EventReplyCreated     = "reply-created"
	EventReplyUpdated     = "reply-updated"
	EventReplyDeleted     = "reply-deleted"
	EventSyncUpdates      = "sync-updates"
	EventLatencyCheck     = "latency-check"
	EventQuality          = "connection-quality"
	EventAdaptiveSettings = "adaptive-settings"
	EventOperationError   = "operation-error"
)

// Message is the wire envelope for every event in both directions.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Inbound payloads, validated at the boundary before dispatch.

// JoinRoomPayload admits the client into a room.
type JoinRoomPayload struct {
	RoomID      string `json:"roomId" validate:"required,min=1,max=128"`
	DisplayName string `json:"displayName" validate:"omitempty,max=128"`
}

// CursorMovePayload carries a cursor position update.
type CursorMovePayload struct {
	Position PositionPayload `json:"position" validate:"required"`
}

// PositionPayload is a wire lng/lat pair.
type PositionPayload struct {
	Lng float64 `json:"lng" validate:"longitude"`
	Lat float64 `json:"lat" validate:"latitude"`
}

// SelectionUpdatePayload replaces the client's selected feature set.
type SelectionUpdatePayload struct {
	FeatureIDs []string `json:"featureIds" validate:"max=256"`
}

// FeatureCreatePayload creates an annotation feature.
type FeatureCreatePayload struct {
	Type              string         `json:"type" validate:"required,oneof=point line polygon text image"`
	Geometry          geo.Geometry   `json:"geometry" validate:"required"`
	Properties        map[string]any `json:"properties"`
	ClientOperationID string         `json:"clientOperationId" validate:"omitempty,max=128"`
	OfflineCreated    bool           `json:"offlineCreated"`
}

// FeatureUpdatePayload patches a feature with optimistic concurrency.
type FeatureUpdatePayload struct {
	FeatureID         string         `json:"featureId" validate:"required"`
	Geometry          *geo.Geometry  `json:"geometry"`
	Properties        map[string]any `json:"properties"`
	ExpectedVersion   int64          `json:"expectedVersion" validate:"min=1"`
	ClientOperationID string         `json:"clientOperationId" validate:"omitempty,max=128"`
}

// FeatureDeletePayload deletes a feature with optimistic concurrency.
type FeatureDeletePayload struct {
	FeatureID         string `json:"featureId" validate:"required"`
	ExpectedVersion   int64  `json:"expectedVersion" validate:"min=1"`
	ClientOperationID string `json:"clientOperationId" validate:"omitempty,max=128"`
}

// CommentCreatePayload anchors a comment at a position.
type CommentCreatePayload struct {
	Position          PositionPayload `json:"position" validate:"required"`
	Content           string          `json:"content" validate:"required,max=4096"`
	ClientOperationID string          `json:"clientOperationId" validate:"omitempty,max=128"`
}

// CommentUpdatePayload edits a comment.
type CommentUpdatePayload struct {
	CommentID         string `json:"commentId" validate:"required"`
	Content           string `json:"content" validate:"required,max=4096"`
	ExpectedVersion   int64  `json:"expectedVersion" validate:"min=1"`
	ClientOperationID string `json:"clientOperationId" validate:"omitempty,max=128"`
}

// CommentDeletePayload deletes a comment and its replies.
type CommentDeletePayload struct {
	CommentID         string `json:"commentId" validate:"required"`
	ExpectedVersion   int64  `json:"expectedVersion" validate:"min=1"`
	ClientOperationID string `json:"clientOperationId" validate:"omitempty,max=128"`
}

// ReplyCreatePayload adds a reply to a comment.
type ReplyCreatePayload struct {
	CommentID         string `json:"commentId" validate:"required"`
	Content           string `json:"content" validate:"required,max=4096"`
	ClientOperationID string `json:"clientOperationId" validate:"omitempty,max=128"`
}

// ReplyUpdatePayload edits a reply.
type ReplyUpdatePayload struct {
	ReplyID           string `json:"replyId" validate:"required"`
	Content           string `json:"content" validate:"required,max=4096"`
	ExpectedVersion   int64  `json:"expectedVersion" validate:"min=1"`
	ClientOperationID string `json:"clientOperationId" validate:"omitempty,max=128"`
}

// ReplyDeletePayload deletes a reply.
type ReplyDeletePayload struct {
	ReplyID           string `json:"replyId" validate:"required"`
	ExpectedVersion   int64  `json:"expectedVersion" validate:"min=1"`
	ClientOperationID string `json:"clientOperationId" validate:"omitempty,max=128"`
}

// GetUpdatesSincePayload requests a delta. Since is Unix milliseconds; zero
// means full sync.
type GetUpdatesSincePayload struct {
	MapID    string           `json:"mapId" validate:"required"`
	Since    int64            `json:"since" validate:"min=0"`
	Page     int              `json:"page" validate:"min=0"`
	Limit    int              `json:"limit" validate:"min=0"`
	Viewport *ViewportPayload `json:"viewport"`
}

// ViewportPayload is a wire bounding box.
type ViewportPayload struct {
	MinLng float64 `json:"minLng"`
	MinLat float64 `json:"minLat"`
	MaxLng float64 `json:"maxLng"`
	MaxLat float64 `json:"maxLat"`
}

// LatencyResponsePayload answers a latency probe.
type LatencyResponsePayload struct {
	ID string `json:"id" validate:"required"`
}

// Outbound payloads.

// RoomSnapshotPayload is sent to a joining client with the room's live state.
type RoomSnapshotPayload struct {
	Room       string             `json:"room"`
	Users      []models.Presence  `json:"users"`
	Selections []models.Selection `json:"selections"`

	// Rejoined is true when the server re-admitted the client automatically
	// after a reconnect inside the grace window.
	Rejoined bool `json:"rejoined,omitempty"`
}

// CursorUpdatePayload is a coalesced cursor broadcast.
type CursorUpdatePayload struct {
	UserID    string       `json:"userId"`
	Position  geo.Position `json:"position"`
	Timestamp int64        `json:"timestamp"`
}

// UserLeftPayload announces a departure to the remaining room members.
type UserLeftPayload struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

// UserStatusPayload announces an active/away transition.
type UserStatusPayload struct {
	UserID string                `json:"userId"`
	Status models.PresenceStatus `json:"status"`
}

// QualityPayload reports the connection's classification and latency.
type QualityPayload struct {
	Quality   string `json:"quality"`
	LatencyMs int64  `json:"latencyMs"`
}

// AdaptiveSettingsPayload carries advisory tuning hints on quality change.
type AdaptiveSettingsPayload struct {
	Quality string        `json:"quality"`
	Hints   quality.Hints `json:"hints"`
}

// OperationErrorPayload reports a failed operation to the requesting client.
type OperationErrorPayload struct {
	Op             string `json:"op"`
	Code           string `json:"code"`
	Message        string `json:"message"`
	CurrentVersion int64  `json:"currentVersion,omitempty"`
}

// Error codes surfaced on the wire.
const (
	CodeNotFound        = "NOT_FOUND"
	CodeVersionConflict = "VERSION_CONFLICT"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeValidation      = "VALIDATION_ERROR"
	CodeRateLimited     = "RATE_LIMITED"
	CodeInternal        = "INTERNAL_ERROR"
	CodeNotInRoom       = "NOT_IN_ROOM"
)

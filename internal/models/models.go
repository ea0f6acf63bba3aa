// Geoboard - Real-Time Collaborative Map Annotation
// Copyright 2026 Geoboard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/geoboard/geoboard

// Package models defines the persistent and ephemeral data structures shared
// across Geoboard components: map features, comments, history entries,
// presence records, and connection state.
package models

import (
	"time"

	"github.com/geoboard/geoboard/internal/geo"
)

// FeatureType enumerates the supported annotation feature kinds.
type FeatureType string

const (
	FeatureTypePoint   FeatureType = "point"
	FeatureTypeLine    FeatureType = "line"
	FeatureTypePolygon FeatureType = "polygon"
	FeatureTypeText    FeatureType = "text"
	FeatureTypeImage   FeatureType = "image"
)

// ValidFeatureType reports whether t is a known feature type.
func ValidFeatureType(t FeatureType) bool {
	switch t {
	case FeatureTypePoint, FeatureTypeLine, FeatureTypePolygon, FeatureTypeText, FeatureTypeImage:
		return true
	default:
		return false
	}
}

// Feature is a persistent map annotation. Version increases by exactly 1 on
// every accepted mutation; update and delete requests must present the version
// they observed.
type Feature struct {
	ID                string         `json:"id"`
	MapID             string         `json:"mapId"`
	Type              FeatureType    `json:"type"`
	Geometry          geo.Geometry   `json:"geometry"`
	Properties        map[string]any `json:"properties,omitempty"`
	AuthorID          string         `json:"authorId"`
	AuthorName        string         `json:"authorName"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
	Version           int64          `json:"version"`
	ClientOperationID string         `json:"clientOperationId,omitempty"`
	OfflineCreated    bool           `json:"offlineCreated,omitempty"`
}

// HistoryOperation enumerates feature history operations.
type HistoryOperation string

const (
	HistoryOpCreate HistoryOperation = "create"
	HistoryOpUpdate HistoryOperation = "update"
	HistoryOpDelete HistoryOperation = "delete"
)

// FeatureHistory is an append-only log entry recording a feature mutation.
// FeatureID is empty once the feature has been hard-deleted and only the
// history row remains. Entries are never mutated; only room cleanup removes
// them.
type FeatureHistory struct {
	ID                string           `json:"id"`
	FeatureID         string           `json:"featureId,omitempty"`
	MapID             string           `json:"mapId"`
	Operation         HistoryOperation `json:"operation"`
	PreviousState     *Feature         `json:"previousState,omitempty"`
	NewState          *Feature         `json:"newState,omitempty"`
	AuthorID          string           `json:"authorId"`
	AuthorName        string           `json:"authorName"`
	Timestamp         time.Time        `json:"timestamp"`
	ClientOperationID string           `json:"clientOperationId,omitempty"`
}

// Comment is a persistent point-anchored discussion on a map.
type Comment struct {
	ID         string       `json:"id"`
	MapID      string       `json:"mapId"`
	Position   geo.Position `json:"position"`
	Content    string       `json:"content"`
	AuthorID   string       `json:"authorId"`
	AuthorName string       `json:"authorName"`
	CreatedAt  time.Time    `json:"createdAt"`
	UpdatedAt  time.Time    `json:"updatedAt"`
	Version    int64        `json:"version"`
	Replies    []Reply      `json:"replies,omitempty"`

	// ClientOperationID is the client-chosen idempotency id of the create,
	// if the comment was created with one.
	ClientOperationID string `json:"clientOperationId,omitempty"`
}

// Reply is a child of a Comment. Replies are cascade-deleted with the parent.
type Reply struct {
	ID         string    `json:"id"`
	CommentID  string    `json:"commentId"`
	MapID      string    `json:"mapId"`
	Content    string    `json:"content"`
	AuthorID   string    `json:"authorId"`
	AuthorName string    `json:"authorName"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
	Version    int64     `json:"version"`

	// ClientOperationID is the client-chosen idempotency id of the create,
	// if the reply was created with one.
	ClientOperationID string `json:"clientOperationId,omitempty"`
}

// Map is the persistent room record.
type Map struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// PresenceStatus enumerates live presence states.
type PresenceStatus string

const (
	PresenceActive PresenceStatus = "active"

	// PresenceAway marks a user whose connection dropped but whose reconnect
	// grace window has not yet expired.
	PresenceAway PresenceStatus = "away"
)

// Presence is a user's ephemeral membership in a room. One record per
// (room, user); overwritten on move, removed on leave or grace expiry.
type Presence struct {
	UserID       string         `json:"userId"`
	DisplayName  string         `json:"displayName"`
	Room         string         `json:"room"`
	Position     geo.Position   `json:"position"`
	Status       PresenceStatus `json:"status"`
	JoinedAt     time.Time      `json:"joinedAt"`
	LastActivity time.Time      `json:"lastActivity"`
}

// ConnectionState is the registry's memory of a client across reconnects,
// keyed by the client-stable identifier rather than the transport connection.
type ConnectionState struct {
	ClientID          string               `json:"clientId"`
	UserID            string               `json:"userId"`
	LastSeen          time.Time            `json:"lastSeen"`
	ReconnectCount    int                  `json:"reconnectCount"`
	LastRoom          string               `json:"lastRoom,omitempty"`
	LastActivityByMap map[string]time.Time `json:"lastActivityByMap,omitempty"`
}

// Selection is a user's ephemeral set of selected feature ids within a room.
// Last writer wins per user; cleared on disconnect.
type Selection struct {
	UserID     string   `json:"userId"`
	UserName   string   `json:"userName"`
	FeatureIDs []string `json:"featureIds"`
}

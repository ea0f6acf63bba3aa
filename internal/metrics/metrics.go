// Geoboard - Real-Time Collaborative Map Annotation
// Copyright 2026 Geoboard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/geoboard/geoboard

// Package metrics provides Prometheus instrumentation for the coordination
// layer: connections, presence, cursor coalescing, sync queries, mutation
// conflicts, and registry eviction.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection / presence metrics
	ConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "geoboard_connected_clients",
			Help: "Current number of connected WebSocket clients",
		},
	)

	ActiveRooms = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "geoboard_active_rooms",
			Help: "Current number of rooms with at least one present user",
		},
	)

	PresenceOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geoboard_presence_operations_total",
			Help: "Total presence operations by kind",
		},
		[]string{"operation"}, // "join", "leave", "move", "away", "grace_expired"
	)

	RegistryEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geoboard_registry_evictions_total",
			Help: "Total connection registry evictions by reason",
		},
		[]string{"reason"}, // "capacity", "inactive"
	)

	Reconnections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geoboard_reconnections_total",
			Help: "Total reconnections recovered within the grace window",
		},
	)

	// Cursor throttler metrics
	CursorUpdatesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geoboard_cursor_updates_received_total",
			Help: "Total cursor position updates received from clients",
		},
	)

	CursorUpdatesEmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geoboard_cursor_updates_emitted_total",
			Help: "Total cursor position updates broadcast after coalescing",
		},
	)

	// Sync/delta metrics
	SyncQueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "geoboard_sync_query_duration_seconds",
			Help:    "Duration of get-updates-since queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SyncQueryWarnings = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geoboard_sync_query_warnings_total",
			Help: "Total sync responses exceeding the safety ceiling",
		},
	)

	// Mutation metrics
	FeatureMutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geoboard_feature_mutations_total",
			Help: "Total feature mutations by operation and outcome",
		},
		[]string{"operation", "outcome"}, // outcome: "applied", "conflict", "duplicate", "error"
	)

	AnnotationMutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geoboard_annotation_mutations_total",
			Help: "Total comment and reply mutations by operation and outcome",
		},
		[]string{"operation", "outcome"}, // outcome: "applied", "conflict", "duplicate", "error"
	)

	VersionConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geoboard_version_conflicts_total",
			Help: "Total optimistic-concurrency conflicts surfaced to callers",
		},
	)

	DuplicateOperations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geoboard_duplicate_operations_total",
			Help: "Total idempotency ledger hits returning a prior result",
		},
	)

	// Quality monitor metrics
	QualityTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geoboard_quality_transitions_total",
			Help: "Total connection quality state transitions",
		},
		[]string{"from", "to"},
	)

	// Room lifecycle metrics
	RoomsCleaned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geoboard_rooms_cleaned_total",
			Help: "Total inactive rooms garbage-collected",
		},
	)

	RoomCleanupErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geoboard_room_cleanup_errors_total",
			Help: "Total per-room cleanup failures (batch continues)",
		},
	)
)

// ObserveSyncQuery records a completed sync query duration.
func ObserveSyncQuery(start time.Time) {
	SyncQueryDuration.Observe(time.Since(start).Seconds())
}

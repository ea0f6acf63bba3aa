// Geoboard - Real-Time Collaborative Map Annotation
// Copyright 2026 Geoboard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/geoboard/geoboard

// Package registry tracks connection state across reconnects. Entries are
// keyed by the client-stable identifier, not the transient transport
// connection id, so a reconnect within the grace window recovers the prior
// room membership and per-room sync cursors without the client replaying
// anything.
package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/geoboard/geoboard/internal/logging"
	"github.com/geoboard/geoboard/internal/metrics"
	"github.com/geoboard/geoboard/internal/models"
)

// Config holds registry tuning parameters.
type Config struct {
	// MaxStoredUsers caps remembered entries; inserting at the cap evicts the
	// EvictionBatch oldest entries by last-seen time first.
	MaxStoredUsers int
	EvictionBatch  int

	// InactiveTimeout is how long an entry may go untouched before the
	// background sweep removes it.
	InactiveTimeout time.Duration

	// CleanupInterval is the sweep period.
	CleanupInterval time.Duration

	// GraceWindow is the reconnection window during which a disconnected
	// client's presence is held as away instead of removed.
	GraceWindow time.Duration
}

// EvictReason identifies why an entry was evicted.
type EvictReason string

const (
	EvictReasonCapacity EvictReason = "capacity"
	EvictReasonInactive EvictReason = "inactive"
)

// EvictHandler is invoked for every evicted entry, outside the registry lock.
// The handler removes the user's room presence and broadcasts the disconnect.
type EvictHandler func(state models.ConnectionState, reason EvictReason)

// RegisterResult reports the outcome of a Register call.
type RegisterResult struct {
	State models.ConnectionState

	// Reconnected is true when the stable id matched a non-expired entry.
	Reconnected bool

	// RejoinRoom, when non-empty, instructs the caller to re-admit the client
	// into its prior room without a client-sent join.
	RejoinRoom string

	// SyncSince is the stored last-activity timestamp for RejoinRoom, used as
	// the get-updates-since cursor to avoid a full-state reload.
	SyncSince time.Time
}

// Registry is the connection registry. Safe for concurrent use; no method
// blocks on I/O while holding the lock.
type Registry struct {
	cfg     Config
	onEvict EvictHandler

	mu      sync.Mutex
	entries map[string]*models.ConnectionState

	// now is replaceable in tests.
	now func() time.Time
}

// New creates a registry. onEvict may be nil.
func New(cfg Config, onEvict EvictHandler) *Registry {
	if cfg.EvictionBatch <= 0 {
		cfg.EvictionBatch = 1
	}
	return &Registry{
		cfg:     cfg,
		onEvict: onEvict,
		entries: make(map[string]*models.ConnectionState),
		now:     time.Now,
	}
}

// Register records a connection for the stable client id. A matching
// non-expired entry is treated as a reconnection: prior room and per-room
// activity cursors are restored and the reconnect counter incremented.
func (r *Registry) Register(clientID, userID string) RegisterResult {
	now := r.now()

	r.mu.Lock()
	if entry, ok := r.entries[clientID]; ok && now.Sub(entry.LastSeen) <= r.cfg.InactiveTimeout {
		entry.LastSeen = now
		entry.ReconnectCount++
		if userID != "" {
			entry.UserID = userID
		}
		result := RegisterResult{
			State:       cloneState(entry),
			Reconnected: true,
		}
		if entry.LastRoom != "" {
			result.RejoinRoom = entry.LastRoom
			result.SyncSince = entry.LastActivityByMap[entry.LastRoom]
		}
		r.mu.Unlock()

		metrics.Reconnections.Inc()
		logging.Debug().
			Str("client_id", clientID).
			Str("rejoin_room", result.RejoinRoom).
			Int("reconnect_count", result.State.ReconnectCount).
			Msg("client reconnected")
		return result
	}

	evicted := r.evictForCapacityLocked()

	entry := &models.ConnectionState{
		ClientID:          clientID,
		UserID:            userID,
		LastSeen:          now,
		LastActivityByMap: make(map[string]time.Time),
	}
	r.entries[clientID] = entry
	result := RegisterResult{State: cloneState(entry)}
	r.mu.Unlock()

	r.notifyEvicted(evicted, EvictReasonCapacity)
	return result
}

// Touch refreshes the last-seen time for the client.
func (r *Registry) Touch(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.entries[clientID]; ok {
		entry.LastSeen = r.now()
	}
}

// TouchRoom records activity for the client within a room, updating both the
// sync cursor for that room and the room to auto-rejoin on reconnect.
func (r *Registry) TouchRoom(clientID, roomID string) {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[clientID]
	if !ok {
		return
	}
	entry.LastSeen = now
	entry.LastRoom = roomID
	if entry.LastActivityByMap == nil {
		entry.LastActivityByMap = make(map[string]time.Time)
	}
	entry.LastActivityByMap[roomID] = now
}

// ClearRoom forgets the auto-rejoin room after an explicit leave.
func (r *Registry) ClearRoom(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.entries[clientID]; ok {
		entry.LastRoom = ""
	}
}

// Resolve returns a copy of the stored state for the client.
func (r *Registry) Resolve(clientID string) (models.ConnectionState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[clientID]
	if !ok {
		return models.ConnectionState{}, false
	}
	return cloneState(entry), true
}

// Evict removes the entry for the client without invoking the evict handler;
// the caller already owns the disconnect path.
func (r *Registry) Evict(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, clientID)
}

// Len returns the current entry count.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// GraceWindow exposes the configured reconnection grace window.
func (r *Registry) GraceWindow() time.Duration {
	return r.cfg.GraceWindow
}

// Sweep removes entries idle past InactiveTimeout, invoking the evict handler
// for each. Returns the number removed.
func (r *Registry) Sweep() int {
	now := r.now()

	r.mu.Lock()
	var evicted []models.ConnectionState
	for id, entry := range r.entries {
		if now.Sub(entry.LastSeen) > r.cfg.InactiveTimeout {
			evicted = append(evicted, cloneState(entry))
			delete(r.entries, id)
		}
	}
	r.mu.Unlock()

	r.notifyEvicted(evicted, EvictReasonInactive)
	if len(evicted) > 0 {
		logging.Info().Int("evicted", len(evicted)).Msg("registry sweep removed inactive entries")
	}
	return len(evicted)
}

// Serve runs the background sweep until the context is canceled. Implements
// suture.Service.
func (r *Registry) Serve(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// String implements fmt.Stringer for supervisor logging.
func (r *Registry) String() string { return "connection-registry" }

// evictForCapacityLocked evicts the oldest entries by last-seen time when the
// registry is at capacity. Must be called with the lock held; returns copies
// of the evicted entries for post-unlock notification.
func (r *Registry) evictForCapacityLocked() []models.ConnectionState {
	if r.cfg.MaxStoredUsers <= 0 || len(r.entries) < r.cfg.MaxStoredUsers {
		return nil
	}

	type aged struct {
		id       string
		lastSeen time.Time
	}
	ordered := make([]aged, 0, len(r.entries))
	for id, entry := range r.entries {
		ordered = append(ordered, aged{id: id, lastSeen: entry.LastSeen})
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].lastSeen.Before(ordered[j].lastSeen)
	})

	count := r.cfg.EvictionBatch
	if count > len(ordered) {
		count = len(ordered)
	}

	evicted := make([]models.ConnectionState, 0, count)
	for _, a := range ordered[:count] {
		evicted = append(evicted, cloneState(r.entries[a.id]))
		delete(r.entries, a.id)
	}
	return evicted
}

func (r *Registry) notifyEvicted(evicted []models.ConnectionState, reason EvictReason) {
	for _, state := range evicted {
		metrics.RegistryEvictions.WithLabelValues(string(reason)).Inc()
		if r.onEvict != nil {
			r.onEvict(state, reason)
		}
	}
}

func cloneState(s *models.ConnectionState) models.ConnectionState {
	out := *s
	if s.LastActivityByMap != nil {
		out.LastActivityByMap = make(map[string]time.Time, len(s.LastActivityByMap))
		for k, v := range s.LastActivityByMap {
			out.LastActivityByMap[k] = v
		}
	}
	return out
}

// Geoboard - Real-Time Collaborative Map Annotation
// Copyright 2026 Geoboard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/geoboard/geoboard

// Package room holds the in-memory room state: who is live where, their
// cursor positions, and their feature selections. It is the single source of
// truth for presence; everything here is rebuilt from zero on restart.
package room

import (
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/geoboard/geoboard/internal/geo"
	"github.com/geoboard/geoboard/internal/metrics"
	"github.com/geoboard/geoboard/internal/models"
)

// Notifier receives presence change notifications for room-scoped broadcast.
// Implementations must not call back into State.
type Notifier interface {
	NotifyJoin(room string, presence models.Presence)
	NotifyLeave(room, userID, displayName string)
	NotifyStatus(room, userID string, status models.PresenceStatus)
}

// NopNotifier discards all notifications. Useful in tests.
type NopNotifier struct{}

func (NopNotifier) NotifyJoin(string, models.Presence)                 {}
func (NopNotifier) NotifyLeave(string, string, string)                 {}
func (NopNotifier) NotifyStatus(string, string, models.PresenceStatus) {}

// State is the process-wide room coordination service. Rooms are sharded by
// id so concurrent connection handlers contend only on their own shard. A
// separate user index enforces the single-room-membership invariant.
type State struct {
	notifier Notifier
	shards   []*shard

	// userMu guards userRoom, the user -> current room index.
	userMu   sync.Mutex
	userRoom map[string]string

	now func() time.Time
}

type shard struct {
	mu    sync.RWMutex
	rooms map[string]*roomEntry
}

type roomEntry struct {
	presences  map[string]*models.Presence
	selections map[string]models.Selection
}

// NewState creates room state with the given shard count.
func NewState(shardCount int, notifier Notifier) *State {
	if shardCount <= 0 {
		shardCount = 1
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	shards := make([]*shard, shardCount)
	for i := range shards {
		shards[i] = &shard{rooms: make(map[string]*roomEntry)}
	}
	return &State{
		notifier: notifier,
		shards:   shards,
		userRoom: make(map[string]string),
		now:      time.Now,
	}
}

func (s *State) shardFor(room string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(room))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

// Join admits the user into the room, lazily creating it, and returns a
// snapshot of everyone now present (including the joiner). A user already
// present in a different room is transparently removed from it first, with
// the old room's leave notification emitted before the new room's join
// notification.
func (s *State) Join(room, userID, displayName string) []models.Presence {
	s.userMu.Lock()
	prior, hadPrior := s.userRoom[userID]
	s.userRoom[userID] = room
	s.userMu.Unlock()

	if hadPrior && prior != room {
		s.removePresence(prior, userID, true)
	}

	now := s.now()
	presence := models.Presence{
		UserID:       userID,
		DisplayName:  displayName,
		Room:         room,
		Status:       models.PresenceActive,
		JoinedAt:     now,
		LastActivity: now,
	}

	sh := s.shardFor(room)
	sh.mu.Lock()
	entry, ok := sh.rooms[room]
	if !ok {
		entry = &roomEntry{
			presences:  make(map[string]*models.Presence),
			selections: make(map[string]models.Selection),
		}
		sh.rooms[room] = entry
		metrics.ActiveRooms.Inc()
	}
	if existing, rejoining := entry.presences[userID]; rejoining {
		// Rejoin of the same room keeps the original join time.
		presence.JoinedAt = existing.JoinedAt
	}
	entry.presences[userID] = &presence
	snapshot := snapshotLocked(entry)
	sh.mu.Unlock()

	metrics.PresenceOperations.WithLabelValues("join").Inc()
	s.notifier.NotifyJoin(room, presence)
	return snapshot
}

// Leave removes the user's presence and selections from the room, notifying
// remaining members exactly once. Returns false if the user was not present.
func (s *State) Leave(room, userID string) bool {
	s.userMu.Lock()
	if s.userRoom[userID] == room {
		delete(s.userRoom, userID)
	}
	s.userMu.Unlock()

	return s.removePresence(room, userID, true)
}

// Disconnect removes the user from whatever room they are in, if any.
// Used for registry evictions where the room is known only to the index.
func (s *State) Disconnect(userID string) (string, bool) {
	s.userMu.Lock()
	room, ok := s.userRoom[userID]
	if ok {
		delete(s.userRoom, userID)
	}
	s.userMu.Unlock()
	if !ok {
		return "", false
	}
	s.removePresence(room, userID, true)
	return room, true
}

// UpdatePosition overwrites the user's cursor position. Last write wins;
// ordering is only meaningful within a single user's update stream.
func (s *State) UpdatePosition(room, userID string, position geo.Position) bool {
	sh := s.shardFor(room)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	entry, ok := sh.rooms[room]
	if !ok {
		return false
	}
	presence, ok := entry.presences[userID]
	if !ok {
		return false
	}
	presence.Position = position
	presence.Status = models.PresenceActive
	presence.LastActivity = s.now()
	metrics.PresenceOperations.WithLabelValues("move").Inc()
	return true
}

// MarkAway flags the user as away pending the reconnect grace window.
func (s *State) MarkAway(userID string) {
	s.userMu.Lock()
	room, ok := s.userRoom[userID]
	s.userMu.Unlock()
	if !ok {
		return
	}

	sh := s.shardFor(room)
	sh.mu.Lock()
	entry, exists := sh.rooms[room]
	if exists {
		if presence, present := entry.presences[userID]; present {
			presence.Status = models.PresenceAway
		} else {
			exists = false
		}
	}
	sh.mu.Unlock()

	if exists {
		metrics.PresenceOperations.WithLabelValues("away").Inc()
		s.notifier.NotifyStatus(room, userID, models.PresenceAway)
	}
}

// MarkActive restores an away user to active after a reconnect inside the
// grace window.
func (s *State) MarkActive(userID string) {
	s.userMu.Lock()
	room, ok := s.userRoom[userID]
	s.userMu.Unlock()
	if !ok {
		return
	}

	sh := s.shardFor(room)
	sh.mu.Lock()
	entry, exists := sh.rooms[room]
	if exists {
		if presence, present := entry.presences[userID]; present {
			presence.Status = models.PresenceActive
			presence.LastActivity = s.now()
		} else {
			exists = false
		}
	}
	sh.mu.Unlock()

	if exists {
		s.notifier.NotifyStatus(room, userID, models.PresenceActive)
	}
}

// ExpireAway treats a user still away after the grace window as a full leave.
// Returns the room left, if any.
func (s *State) ExpireAway(userID string) (string, bool) {
	s.userMu.Lock()
	room, ok := s.userRoom[userID]
	s.userMu.Unlock()
	if !ok {
		return "", false
	}

	sh := s.shardFor(room)
	sh.mu.Lock()
	entry, exists := sh.rooms[room]
	stillAway := false
	if exists {
		if presence, present := entry.presences[userID]; present && presence.Status == models.PresenceAway {
			stillAway = true
		}
	}
	sh.mu.Unlock()

	if !stillAway {
		return "", false
	}

	s.userMu.Lock()
	if s.userRoom[userID] == room {
		delete(s.userRoom, userID)
	}
	s.userMu.Unlock()

	metrics.PresenceOperations.WithLabelValues("grace_expired").Inc()
	s.removePresence(room, userID, true)
	return room, true
}

// Snapshot returns the room's presence records sorted by user id.
func (s *State) Snapshot(room string) []models.Presence {
	sh := s.shardFor(room)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	entry, ok := sh.rooms[room]
	if !ok {
		return nil
	}
	return snapshotLocked(entry)
}

// RoomOf returns the room the user is currently in.
func (s *State) RoomOf(userID string) (string, bool) {
	s.userMu.Lock()
	defer s.userMu.Unlock()
	room, ok := s.userRoom[userID]
	return room, ok
}

// ActiveRoomIDs returns every room with at least one present user. The room
// cleanup scan excludes these from inactivity reaping.
func (s *State) ActiveRoomIDs() []string {
	var ids []string
	for _, sh := range s.shards {
		sh.mu.RLock()
		for id, entry := range sh.rooms {
			if len(entry.presences) > 0 {
				ids = append(ids, id)
			}
		}
		sh.mu.RUnlock()
	}
	sort.Strings(ids)
	return ids
}

// removePresence deletes the presence record and the user's selections,
// emitting the leave notification outside the shard lock.
func (s *State) removePresence(room, userID string, notify bool) bool {
	sh := s.shardFor(room)

	sh.mu.Lock()
	entry, ok := sh.rooms[room]
	if !ok {
		sh.mu.Unlock()
		return false
	}
	presence, present := entry.presences[userID]
	if !present {
		sh.mu.Unlock()
		return false
	}
	displayName := presence.DisplayName
	delete(entry.presences, userID)
	delete(entry.selections, userID)
	if len(entry.presences) == 0 {
		delete(sh.rooms, room)
		metrics.ActiveRooms.Dec()
	}
	sh.mu.Unlock()

	metrics.PresenceOperations.WithLabelValues("leave").Inc()
	if notify {
		s.notifier.NotifyLeave(room, userID, displayName)
	}
	return true
}

// snapshotLocked copies and sorts the room's presences. Caller holds the
// shard lock.
func snapshotLocked(entry *roomEntry) []models.Presence {
	out := make([]models.Presence, 0, len(entry.presences))
	for _, p := range entry.presences {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

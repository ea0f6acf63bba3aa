// Geoboard - Real-Time Collaborative Map Annotation
// Copyright 2026 Geoboard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/geoboard/geoboard

package room

import (
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geoboard/geoboard/internal/geo"
	"github.com/geoboard/geoboard/internal/logging"
	"github.com/geoboard/geoboard/internal/models"
)

func init() {
	logging.Init(logging.Config{Level: "disabled", Output: io.Discard})
}

// recordingNotifier captures notifications in order for assertions.
type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) NotifyJoin(room string, p models.Presence) {
	n.record("join:" + room + ":" + p.UserID)
}

func (n *recordingNotifier) NotifyLeave(room, userID, _ string) {
	n.record("leave:" + room + ":" + userID)
}

func (n *recordingNotifier) NotifyStatus(room, userID string, status models.PresenceStatus) {
	n.record("status:" + room + ":" + userID + ":" + string(status))
}

func (n *recordingNotifier) record(event string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) Events() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}

func TestJoinReturnsSortedSnapshotIncludingJoiner(t *testing.T) {
	s := NewState(4, nil)

	s.Join("map-1", "user-b", "Bee")
	snapshot := s.Join("map-1", "user-a", "Ay")

	require.Len(t, snapshot, 2)
	assert.Equal(t, "user-a", snapshot[0].UserID)
	assert.Equal(t, "user-b", snapshot[1].UserID)
	assert.Equal(t, models.PresenceActive, snapshot[0].Status)
}

func TestJoinSecondRoomLeavesFirst(t *testing.T) {
	n := &recordingNotifier{}
	s := NewState(4, n)

	s.Join("map-1", "user-a", "Ay")
	s.Join("map-2", "user-a", "Ay")

	// Single room membership: gone from map-1, present in map-2.
	assert.Empty(t, s.Snapshot("map-1"))
	require.Len(t, s.Snapshot("map-2"), 1)

	room, ok := s.RoomOf("user-a")
	require.True(t, ok)
	assert.Equal(t, "map-2", room)

	// The old room's leave lands before the new room's join.
	assert.Equal(t, []string{
		"join:map-1:user-a",
		"leave:map-1:user-a",
		"join:map-2:user-a",
	}, n.Events())
}

func TestRejoinKeepsOriginalJoinTime(t *testing.T) {
	s := NewState(4, nil)

	first := s.Join("map-1", "user-a", "Ay")
	again := s.Join("map-1", "user-a", "Ay")

	require.Len(t, again, 1)
	assert.Equal(t, first[0].JoinedAt, again[0].JoinedAt)
}

func TestLeaveRemovesPresenceOnce(t *testing.T) {
	n := &recordingNotifier{}
	s := NewState(4, n)

	s.Join("map-1", "user-a", "Ay")
	assert.True(t, s.Leave("map-1", "user-a"))
	assert.False(t, s.Leave("map-1", "user-a"))

	_, ok := s.RoomOf("user-a")
	assert.False(t, ok)

	leaves := 0
	for _, e := range n.Events() {
		if e == "leave:map-1:user-a" {
			leaves++
		}
	}
	assert.Equal(t, 1, leaves)
}

func TestUpdatePositionLastWriteWins(t *testing.T) {
	s := NewState(4, nil)
	s.Join("map-1", "user-a", "Ay")

	assert.True(t, s.UpdatePosition("map-1", "user-a", geo.Position{Lng: 1, Lat: 2}))
	assert.True(t, s.UpdatePosition("map-1", "user-a", geo.Position{Lng: 3, Lat: 4}))

	snapshot := s.Snapshot("map-1")
	require.Len(t, snapshot, 1)
	assert.Equal(t, geo.Position{Lng: 3, Lat: 4}, snapshot[0].Position)
}

func TestUpdatePositionUnknownUser(t *testing.T) {
	s := NewState(4, nil)
	s.Join("map-1", "user-a", "Ay")

	assert.False(t, s.UpdatePosition("map-1", "ghost", geo.Position{Lng: 1, Lat: 1}))
	assert.False(t, s.UpdatePosition("no-such-room", "user-a", geo.Position{Lng: 1, Lat: 1}))
}

func TestAwayThenExpireLeavesRoom(t *testing.T) {
	n := &recordingNotifier{}
	s := NewState(4, n)

	s.Join("map-1", "user-a", "Ay")
	s.MarkAway("user-a")

	snapshot := s.Snapshot("map-1")
	require.Len(t, snapshot, 1)
	assert.Equal(t, models.PresenceAway, snapshot[0].Status)

	room, left := s.ExpireAway("user-a")
	assert.True(t, left)
	assert.Equal(t, "map-1", room)
	assert.Empty(t, s.Snapshot("map-1"))
}

func TestMarkActiveCancelsAway(t *testing.T) {
	s := NewState(4, nil)

	s.Join("map-1", "user-a", "Ay")
	s.MarkAway("user-a")
	s.MarkActive("user-a")

	// A reconnect inside the grace window means expiry is a no-op.
	_, left := s.ExpireAway("user-a")
	assert.False(t, left)

	snapshot := s.Snapshot("map-1")
	require.Len(t, snapshot, 1)
	assert.Equal(t, models.PresenceActive, snapshot[0].Status)
}

func TestDisconnectRemovesFromCurrentRoom(t *testing.T) {
	s := NewState(4, nil)

	s.Join("map-1", "user-a", "Ay")
	room, ok := s.Disconnect("user-a")
	assert.True(t, ok)
	assert.Equal(t, "map-1", room)

	_, ok = s.Disconnect("user-a")
	assert.False(t, ok)
}

func TestActiveRoomIDs(t *testing.T) {
	s := NewState(4, nil)

	s.Join("map-b", "user-1", "")
	s.Join("map-a", "user-2", "")
	s.Join("map-a", "user-3", "")

	assert.Equal(t, []string{"map-a", "map-b"}, s.ActiveRoomIDs())

	s.Leave("map-b", "user-1")
	assert.Equal(t, []string{"map-a"}, s.ActiveRoomIDs())
}

func TestSelectionsRequirePresence(t *testing.T) {
	s := NewState(4, nil)

	assert.False(t, s.UpdateSelection("map-1", "user-a", "Ay", []string{"f1"}))

	s.Join("map-1", "user-a", "Ay")
	assert.True(t, s.UpdateSelection("map-1", "user-a", "Ay", []string{"f1", "f2"}))

	selections := s.Selections("map-1")
	require.Len(t, selections, 1)
	assert.Equal(t, []string{"f1", "f2"}, selections[0].FeatureIDs)
}

func TestSelectionLastWriterWinsAndClearedOnLeave(t *testing.T) {
	s := NewState(4, nil)
	s.Join("map-1", "user-a", "Ay")

	s.UpdateSelection("map-1", "user-a", "Ay", []string{"f1"})
	s.UpdateSelection("map-1", "user-a", "Ay", []string{"f9"})

	selections := s.Selections("map-1")
	require.Len(t, selections, 1)
	assert.Equal(t, []string{"f9"}, selections[0].FeatureIDs)

	s.Join("map-1", "user-b", "Bee")
	s.Leave("map-1", "user-a")
	assert.Empty(t, s.Selections("map-1"))
}

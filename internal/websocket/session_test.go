// Geoboard - Real-Time Collaborative Map Annotation
// Copyright 2026 Geoboard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/geoboard/geoboard

package websocket

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geoboard/geoboard/internal/config"
	"github.com/geoboard/geoboard/internal/cursor"
	"github.com/geoboard/geoboard/internal/delta"
	"github.com/geoboard/geoboard/internal/models"
	"github.com/geoboard/geoboard/internal/quality"
	"github.com/geoboard/geoboard/internal/registry"
	"github.com/geoboard/geoboard/internal/room"
	"github.com/geoboard/geoboard/internal/store"
)

const testGrace = 50 * time.Millisecond

func newTestSession(t *testing.T) (*Session, *Hub, *room.State) {
	t.Helper()

	db, err := store.NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	hub := newTestHub(t)
	rooms := room.NewState(4, hub)
	reg := registry.New(registry.Config{
		MaxStoredUsers:  100,
		EvictionBatch:   10,
		InactiveTimeout: time.Minute,
		CleanupInterval: time.Minute,
		GraceWindow:     testGrace,
	}, nil)
	throttler := cursor.New(10 * time.Millisecond)
	t.Cleanup(throttler.Stop)
	monitor := quality.NewMonitor(quality.Config{
		ProbeInterval: time.Second,
		SampleWindow:  10,
		MinSamples:    3,
		StatsTTL:      time.Minute,
		MaxTracked:    100,
	}, nil)
	engine := delta.NewEngine(db, config.SyncConfig{
		DefaultPageSize:     50,
		MaxPageSize:         200,
		SafetyCeiling:       1000,
		CoordinatePrecision: 5,
	})

	session := NewSession(config.PresenceConfig{Shards: 4}, hub, rooms, reg, throttler, monitor, engine, db)
	return session, hub, rooms
}

func joinRoom(t *testing.T, s *Session, c *Client, roomID string) {
	t.Helper()
	payload, err := json.Marshal(JoinRoomPayload{RoomID: roomID, DisplayName: c.displayName})
	require.NoError(t, err)
	s.Dispatch(c, rawMessage{Type: EventJoinRoom, Data: payload})
	require.Len(t, s.rooms.Snapshot(roomID), 1)
}

// drainMessages empties a client's send queue and returns counts by type.
func drainMessages(t *testing.T, c *Client, wait time.Duration) map[string]int {
	t.Helper()
	counts := make(map[string]int)
	deadline := time.After(wait)
	for {
		select {
		case data := <-c.send:
			var msg rawMessage
			require.NoError(t, json.Unmarshal(data, &msg))
			counts[msg.Type]++
		case <-deadline:
			return counts
		}
	}
}

func TestCommentCreateReplayAnswersSenderOnly(t *testing.T) {
	session, hub, _ := newTestSession(t)

	author := testClient(hub, "client-a")
	observer := testClient(hub, "client-b")
	session.HandleConnect(author)
	session.HandleConnect(observer)
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 5*time.Millisecond)
	joinRoom(t, session, observer, "map-5")
	payload, err := json.Marshal(JoinRoomPayload{RoomID: "map-5", DisplayName: author.displayName})
	require.NoError(t, err)
	session.Dispatch(author, rawMessage{Type: EventJoinRoom, Data: payload})
	drainMessages(t, observer, 50*time.Millisecond)

	create, err := json.Marshal(CommentCreatePayload{
		Position:          PositionPayload{Lng: 1, Lat: 2},
		Content:           "queued while offline",
		ClientOperationID: "op-comment-1",
	})
	require.NoError(t, err)
	session.Dispatch(author, rawMessage{Type: EventCommentCreate, Data: create})
	session.Dispatch(author, rawMessage{Type: EventCommentCreate, Data: create})

	// The retry answers the author but peers only hear about it once.
	authorCounts := drainMessages(t, author, 50*time.Millisecond)
	observerCounts := drainMessages(t, observer, 50*time.Millisecond)
	assert.Equal(t, 2, authorCounts[EventCommentCreated])
	assert.Equal(t, 1, observerCounts[EventCommentCreated])
}

func TestStaleTeardownKeepsNewConnectionPresence(t *testing.T) {
	session, hub, state := newTestSession(t)

	old := testClient(hub, "client-x")
	session.HandleConnect(old)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	joinRoom(t, session, old, "map-5")

	// A reconnect with the same client-stable id takes over; the old
	// connection is dropped by the hub and its read pump tears down.
	fresh := testClient(hub, "client-x")
	session.HandleConnect(fresh)
	require.Eventually(t, func() bool { return hub.Superseded(old) }, time.Second, 5*time.Millisecond)

	session.HandleDisconnect(old)
	time.Sleep(3 * testGrace)

	snapshot := state.Snapshot("map-5")
	require.Len(t, snapshot, 1)
	assert.Equal(t, "client-x", snapshot[0].UserID)
	assert.Equal(t, models.PresenceActive, snapshot[0].Status)
}

func TestDisconnectExpiresAfterGrace(t *testing.T) {
	session, hub, state := newTestSession(t)

	c := testClient(hub, "client-x")
	session.HandleConnect(c)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	joinRoom(t, session, c, "map-5")

	session.HandleDisconnect(c)

	snapshot := state.Snapshot("map-5")
	require.Len(t, snapshot, 1)
	assert.Equal(t, models.PresenceAway, snapshot[0].Status)

	require.Eventually(t, func() bool { return len(state.Snapshot("map-5")) == 0 },
		time.Second, 5*time.Millisecond)
}

func TestReconnectWithinGraceRestoresRoom(t *testing.T) {
	session, hub, state := newTestSession(t)

	c := testClient(hub, "client-x")
	session.HandleConnect(c)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	joinRoom(t, session, c, "map-5")

	session.HandleDisconnect(c)
	hub.Unregister(c)
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)

	// Reconnect before the grace window elapses: presence is restored
	// active without the client re-sending a join.
	again := testClient(hub, "client-x")
	session.HandleConnect(again)

	snapshot := state.Snapshot("map-5")
	require.Len(t, snapshot, 1)
	assert.Equal(t, models.PresenceActive, snapshot[0].Status)

	time.Sleep(3 * testGrace)
	assert.Len(t, state.Snapshot("map-5"), 1)
}

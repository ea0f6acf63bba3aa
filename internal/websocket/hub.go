// Geoboard - Real-Time Collaborative Map Annotation
// Copyright 2026 Geoboard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/geoboard/geoboard

// Package websocket implements the real-time transport: the room-scoped hub,
// per-connection read/write pumps, and the session layer that dispatches wire
// events into the presence, sync, and annotation subsystems.
package websocket

import (
	"context"
	"sync"

	"github.com/goccy/go-json"

	"github.com/geoboard/geoboard/internal/logging"
	"github.com/geoboard/geoboard/internal/metrics"
	"github.com/geoboard/geoboard/internal/models"
)

// broadcast is an envelope routed through the hub's run loop.
type broadcast struct {
	room    string
	exclude string // client id to skip, empty for none
	data    []byte
}

// directMessage targets a single client id.
type directMessage struct {
	clientID string
	data     []byte
}

// Hub routes messages between connected clients. All index mutation happens
// on the run loop goroutine; Register/Unregister/Broadcast hand work to it
// over channels so callers never touch the maps directly.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	broadcasts chan broadcast
	directs    chan directMessage

	mu         sync.RWMutex
	clients    map[*Client]struct{}
	byClientID map[string]*Client
	byRoom     map[string]map[*Client]struct{}
}

// NewHub creates a hub. Call Serve to start routing.
func NewHub() *Hub {
	return &Hub{
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		broadcasts: make(chan broadcast, 512),
		directs:    make(chan directMessage, 256),
		clients:    make(map[*Client]struct{}),
		byClientID: make(map[string]*Client),
		byRoom:     make(map[string]map[*Client]struct{}),
	}
}

// Serve runs the routing loop until ctx is cancelled. It satisfies
// suture.Service.
func (h *Hub) Serve(ctx context.Context) error {
	logging.Info().Msg("websocket hub started")
	for {
		// Drain registrations ahead of broadcasts so a freshly joined
		// client never misses a message already queued for its room.
		select {
		case c := <-h.register:
			h.addClient(c)
			continue
		case c := <-h.unregister:
			h.removeClient(c)
			continue
		case <-ctx.Done():
			h.closeAll()
			return ctx.Err()
		default:
		}

		select {
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClient(c)
		case b := <-h.broadcasts:
			h.deliver(b)
		case d := <-h.directs:
			h.deliverDirect(d)
		case <-ctx.Done():
			h.closeAll()
			return ctx.Err()
		}
	}
}

// String identifies the hub in supervisor logs.
func (h *Hub) String() string { return "websocket-hub" }

// Register attaches a client to the hub.
func (h *Hub) Register(c *Client) {
	h.register <- c
}

// Unregister detaches a client. Safe to call for a client that was never
// registered or was already removed.
func (h *Hub) Unregister(c *Client) {
	h.unregister <- c
}

// BroadcastToRoom sends an event to every client in the room, optionally
// excluding one client id (usually the originator).
func (h *Hub) BroadcastToRoom(room string, excludeClientID string, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		logging.Error().Err(err).Str("type", msg.Type).Msg("marshal broadcast")
		return
	}
	h.broadcasts <- broadcast{room: room, exclude: excludeClientID, data: data}
}

// SendToClientID sends an event to a single connected client. Messages for
// unknown or disconnected ids are dropped.
func (h *Hub) SendToClientID(clientID string, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		logging.Error().Err(err).Str("type", msg.Type).Msg("marshal direct message")
		return
	}
	h.directs <- directMessage{clientID: clientID, data: data}
}

// MoveToRoom reindexes a client after a room change. An empty room removes
// the client from room routing without disconnecting it.
func (h *Hub) MoveToRoom(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.detachFromRoomLocked(c)
	c.room = room
	if room == "" {
		return
	}
	members, ok := h.byRoom[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.byRoom[room] = members
	}
	members[c] = struct{}{}
}

// ClientCount reports the number of attached clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomSize reports the number of clients indexed in a room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byRoom[room])
}

// Superseded reports whether a newer connection has taken over c's client id.
// The stale connection's teardown must not touch the live user's state.
func (h *Hub) Superseded(c *Client) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cur, ok := h.byClientID[c.clientID]
	return ok && cur != c
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// A reconnect can race the old connection's teardown. The newest
	// connection wins the client id; the stale one is closed.
	if prev, ok := h.byClientID[c.clientID]; ok && prev != c {
		h.dropLocked(prev)
	}

	h.clients[c] = struct{}{}
	h.byClientID[c.clientID] = c
	metrics.ConnectedClients.Set(float64(len(h.clients)))
	logging.Debug().Str("client_id", c.clientID).Msg("client registered")
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	h.dropLocked(c)
	metrics.ConnectedClients.Set(float64(len(h.clients)))
	logging.Debug().Str("client_id", c.clientID).Msg("client unregistered")
}

// dropLocked removes a client from every index and closes its send channel.
func (h *Hub) dropLocked(c *Client) {
	delete(h.clients, c)
	if cur, ok := h.byClientID[c.clientID]; ok && cur == c {
		delete(h.byClientID, c.clientID)
	}
	h.detachFromRoomLocked(c)
	c.closeSend()
}

func (h *Hub) detachFromRoomLocked(c *Client) {
	if c.room == "" {
		return
	}
	if members, ok := h.byRoom[c.room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.byRoom, c.room)
		}
	}
	c.room = ""
}

func (h *Hub) deliver(b broadcast) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.byRoom[b.room] {
		if b.exclude != "" && c.clientID == b.exclude {
			continue
		}
		c.trySend(b.data)
	}
}

func (h *Hub) deliverDirect(d directMessage) {
	h.mu.RLock()
	c, ok := h.byClientID[d.clientID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	c.trySend(d.data)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.closeSend()
	}
	h.clients = make(map[*Client]struct{})
	h.byClientID = make(map[string]*Client)
	h.byRoom = make(map[string]map[*Client]struct{})
	metrics.ConnectedClients.Set(0)
}

// Notifier implementation: the room state layer calls these so presence
// transitions reach connected clients without the room package importing
// this one.

// NotifyJoin broadcasts a user-joined event to the room, excluding the joiner
// (who receives the snapshot instead). User ids double as hub client ids
// because identity is keyed on the client-stable id.
func (h *Hub) NotifyJoin(room string, presence models.Presence) {
	h.BroadcastToRoom(room, presence.UserID, Message{Type: EventUserJoined, Data: presence})
}

// NotifyLeave broadcasts a user-left event to the room.
func (h *Hub) NotifyLeave(room, userID, displayName string) {
	h.BroadcastToRoom(room, userID, Message{Type: EventUserLeft, Data: UserLeftPayload{
		UserID:      userID,
		DisplayName: displayName,
	}})
}

// NotifyStatus broadcasts an active/away transition to the room.
func (h *Hub) NotifyStatus(room, userID string, status models.PresenceStatus) {
	h.BroadcastToRoom(room, "", Message{Type: EventUserStatus, Data: UserStatusPayload{
		UserID: userID,
		Status: status,
	}})
}

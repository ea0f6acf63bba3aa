// Geoboard - Real-Time Collaborative Map Annotation
// Copyright 2026 Geoboard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/geoboard/geoboard

package websocket

import (
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/geoboard/geoboard/internal/logging"
)

const (
	// writeWait is the deadline for a single outbound write.
	writeWait = 10 * time.Second

	// pongWait is how long to wait for a pong before declaring the peer dead.
	pongWait = 60 * time.Second

	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds inbound frames. Feature geometries can be large
	// polylines, so the cap is generous relative to a chat protocol.
	maxMessageSize = 1 << 20

	// sendBufferSize is the per-client outbound queue. A client that cannot
	// drain this many messages is considered too slow and is disconnected.
	sendBufferSize = 256
)

// rawMessage is the inbound envelope before payload decoding.
type rawMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Client is one websocket connection. The session layer owns its lifecycle;
// the hub owns its room indexing.
type Client struct {
	hub     *Hub
	session *Session
	conn    *websocket.Conn

	clientID    string
	displayName string

	// room is the hub's room index key for this client. Guarded by the
	// hub's mutex, not the client.
	room string

	send      chan []byte
	closeOnce sync.Once
}

// newClient wires a connection to the hub and session.
func newClient(hub *Hub, session *Session, conn *websocket.Conn, clientID, displayName string) *Client {
	return &Client{
		hub:         hub,
		session:     session,
		conn:        conn,
		clientID:    clientID,
		displayName: displayName,
		send:        make(chan []byte, sendBufferSize),
	}
}

// ClientID returns the stable client identifier.
func (c *Client) ClientID() string { return c.clientID }

// DisplayName returns the name announced to other room members.
func (c *Client) DisplayName() string { return c.displayName }

// Send marshals and queues a message for this client.
func (c *Client) Send(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		logging.Error().Err(err).Str("type", msg.Type).Msg("marshal client message")
		return
	}
	c.trySend(data)
}

// trySend queues data without blocking. A full queue means the client cannot
// keep up; it is unregistered and the connection torn down.
func (c *Client) trySend(data []byte) {
	defer func() {
		// closeSend can race a concurrent trySend; a send on the closed
		// channel is translated into a no-op.
		_ = recover()
	}()

	select {
	case c.send <- data:
	default:
		logging.Warn().Str("client_id", c.clientID).Msg("send queue full, dropping client")
		go c.hub.Unregister(c)
	}
}

// closeSend closes the outbound queue exactly once, terminating writePump.
func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

// readPump reads frames until the connection errors, dispatching each decoded
// message to the session. It runs on the connection handler's goroutine.
func (c *Client) readPump() {
	defer func() {
		c.session.HandleDisconnect(c)
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Debug().Err(err).Str("client_id", c.clientID).Msg("websocket read error")
			}
			return
		}

		var msg rawMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.Send(Message{Type: EventOperationError, Data: OperationErrorPayload{
				Code:    CodeValidation,
				Message: "malformed message envelope",
			}})
			continue
		}
		c.session.Dispatch(c, msg)
	}
}

// writePump drains the send queue onto the connection and keeps the peer
// alive with periodic pings. Runs on its own goroutine; exits when closeSend
// closes the queue or a write fails.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

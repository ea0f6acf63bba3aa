// Geoboard - Real-Time Collaborative Map Annotation
// Copyright 2026 Geoboard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/geoboard/geoboard

package websocket

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/geoboard/geoboard/internal/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Origin enforcement happens in the CORS middleware ahead of the
	// upgrade; the handshake itself accepts any origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// ServeWS upgrades an HTTP request to a websocket connection and starts its
// pumps. The client identifies itself with a stable clientId query parameter;
// a missing id gets a fresh one, which forfeits reconnect recovery.
func ServeWS(hub *Hub, session *Session, w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("clientId")
	if clientID == "" {
		clientID = uuid.NewString()
	}
	displayName := r.URL.Query().Get("displayName")
	if displayName == "" {
		displayName = "anonymous"
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	client := newClient(hub, session, conn, clientID, displayName)
	session.HandleConnect(client)

	go client.writePump()
	client.readPump()
}

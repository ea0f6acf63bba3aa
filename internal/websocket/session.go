// Geoboard - Real-Time Collaborative Map Annotation
// Copyright 2026 Geoboard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/geoboard/geoboard

package websocket

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/geoboard/geoboard/internal/config"
	"github.com/geoboard/geoboard/internal/cursor"
	"github.com/geoboard/geoboard/internal/delta"
	"github.com/geoboard/geoboard/internal/geo"
	"github.com/geoboard/geoboard/internal/logging"
	"github.com/geoboard/geoboard/internal/models"
	"github.com/geoboard/geoboard/internal/quality"
	"github.com/geoboard/geoboard/internal/registry"
	"github.com/geoboard/geoboard/internal/room"
	"github.com/geoboard/geoboard/internal/store"
	"github.com/geoboard/geoboard/internal/validation"
)

// opTimeout bounds every store operation triggered from the socket.
const opTimeout = 10 * time.Second

// Session dispatches decoded wire events into the presence, throttling,
// quality, sync, and annotation subsystems. One Session serves every
// connection; per-connection state lives on the Client and in the subsystems.
type Session struct {
	cfg       config.PresenceConfig
	hub       *Hub
	rooms     *room.State
	reg       *registry.Registry
	throttler *cursor.Throttler
	quality   *quality.Monitor
	engine    *delta.Engine
	db        *store.DB

	// mu guards roomLimits and awayTimers.
	mu         sync.Mutex
	roomLimits map[string]*rate.Limiter
	awayTimers map[string]*time.Timer
}

// NewSession wires the session's collaborators.
func NewSession(
	cfg config.PresenceConfig,
	hub *Hub,
	rooms *room.State,
	reg *registry.Registry,
	throttler *cursor.Throttler,
	monitor *quality.Monitor,
	engine *delta.Engine,
	db *store.DB,
) *Session {
	return &Session{
		cfg:        cfg,
		hub:        hub,
		rooms:      rooms,
		reg:        reg,
		throttler:  throttler,
		quality:    monitor,
		engine:     engine,
		db:         db,
		roomLimits: make(map[string]*rate.Limiter),
		awayTimers: make(map[string]*time.Timer),
	}
}

// HandleConnect admits a freshly upgraded connection: registers it with the
// registry and hub, starts quality tracking, and replays the prior room
// membership if this is a reconnect inside the grace window.
func (s *Session) HandleConnect(c *Client) {
	s.cancelAwayTimer(c.clientID)

	result := s.reg.Register(c.clientID, c.clientID)
	s.hub.Register(c)
	s.quality.Track(c.clientID)

	if !result.Reconnected || result.RejoinRoom == "" {
		return
	}

	// Auto-rejoin: restore presence, then ship the delta since the stored
	// per-room activity cursor so the client skips the full-state reload.
	s.rooms.MarkActive(c.clientID)
	snapshot := s.rooms.Join(result.RejoinRoom, c.clientID, c.displayName)
	s.hub.MoveToRoom(c, result.RejoinRoom)
	s.reg.TouchRoom(c.clientID, result.RejoinRoom)

	c.Send(Message{Type: EventRoomSnapshot, Data: RoomSnapshotPayload{
		Room:       result.RejoinRoom,
		Users:      snapshot,
		Selections: s.rooms.Selections(result.RejoinRoom),
		Rejoined:   true,
	}})

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	resp, err := s.engine.GetUpdatesSince(ctx, delta.Request{
		MapID: result.RejoinRoom,
		Since: result.SyncSince,
	})
	if err != nil {
		logging.Error().Err(err).
			Str("client_id", c.clientID).
			Str("room", result.RejoinRoom).
			Msg("reconnect delta failed")
		return
	}
	c.Send(Message{Type: EventSyncUpdates, Data: resp})
}

// HandleDisconnect runs when a connection's read pump exits. Presence is held
// as away for the grace window; only after it expires does the user fully
// leave the room.
func (s *Session) HandleDisconnect(c *Client) {
	// A reconnect can race the old connection's teardown. Once a newer
	// connection owns this client id, the stale teardown must leave the
	// live user's presence and throttle state alone.
	if s.hub.Superseded(c) {
		logging.Debug().Str("client_id", c.clientID).Msg("stale connection teardown, presence kept")
		return
	}

	s.throttler.Remove(c.clientID)
	s.rooms.MarkAway(c.clientID)

	grace := s.reg.GraceWindow()
	if grace <= 0 {
		if roomID, left := s.rooms.ExpireAway(c.clientID); left {
			logging.Debug().Str("client_id", c.clientID).Str("room", roomID).Msg("presence expired")
		}
		return
	}

	clientID := c.clientID
	s.mu.Lock()
	if prev, ok := s.awayTimers[clientID]; ok {
		prev.Stop()
	}
	s.awayTimers[clientID] = time.AfterFunc(grace, func() {
		s.mu.Lock()
		delete(s.awayTimers, clientID)
		s.mu.Unlock()
		if roomID, left := s.rooms.ExpireAway(clientID); left {
			logging.Debug().Str("client_id", clientID).Str("room", roomID).Msg("reconnect grace expired")
		}
	})
	s.mu.Unlock()
}

// HandleEviction removes an evicted registry entry's live presence. Wired as
// the registry's EvictHandler.
func (s *Session) HandleEviction(state models.ConnectionState, reason registry.EvictReason) {
	s.cancelAwayTimer(state.ClientID)
	s.throttler.Remove(state.ClientID)
	if roomID, ok := s.rooms.Disconnect(state.ClientID); ok {
		logging.Info().
			Str("client_id", state.ClientID).
			Str("room", roomID).
			Str("reason", string(reason)).
			Msg("evicted client removed from room")
	}
}

func (s *Session) cancelAwayTimer(clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.awayTimers[clientID]; ok {
		t.Stop()
		delete(s.awayTimers, clientID)
	}
}

// roomLimiter returns the per-room mutation limiter, creating it on first use.
func (s *Session) roomLimiter(roomID string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.roomLimits[roomID]; ok {
		return l
	}
	limit := rate.Limit(s.cfg.MutationRate)
	if s.cfg.MutationRate <= 0 {
		limit = rate.Inf
	}
	burst := s.cfg.MutationBurst
	if burst <= 0 {
		burst = 1
	}
	l := rate.NewLimiter(limit, burst)
	s.roomLimits[roomID] = l
	return l
}

// Dispatch routes one decoded envelope to its handler.
func (s *Session) Dispatch(c *Client, msg rawMessage) {
	switch msg.Type {
	case EventJoinRoom:
		s.handleJoinRoom(c, msg.Data)
	case EventLeaveRoom:
		s.handleLeaveRoom(c)
	case EventCursorMove:
		s.handleCursorMove(c, msg.Data)
	case EventSelectionUpdate:
		s.handleSelectionUpdate(c, msg.Data)
	case EventFeatureCreate:
		s.handleFeatureCreate(c, msg.Data)
	case EventFeatureUpdate:
		s.handleFeatureUpdate(c, msg.Data)
	case EventFeatureDelete:
		s.handleFeatureDelete(c, msg.Data)
	case EventCommentCreate:
		s.handleCommentCreate(c, msg.Data)
	case EventCommentUpdate:
		s.handleCommentUpdate(c, msg.Data)
	case EventCommentDelete:
		s.handleCommentDelete(c, msg.Data)
	case EventReplyCreate:
		s.handleReplyCreate(c, msg.Data)
	case EventReplyUpdate:
		s.handleReplyUpdate(c, msg.Data)
	case EventReplyDelete:
		s.handleReplyDelete(c, msg.Data)
	case EventGetUpdatesSince:
		s.handleGetUpdatesSince(c, msg.Data)
	case EventLatencyResponse:
		s.handleLatencyResponse(c, msg.Data)
	default:
		s.sendError(c, msg.Type, CodeValidation, "unknown event type", 0)
	}
}

// decode unmarshals and validates an inbound payload, reporting failures to
// the client. Returns false when the payload is unusable.
func (s *Session) decode(c *Client, op string, data json.RawMessage, v any) bool {
	if err := json.Unmarshal(data, v); err != nil {
		s.sendError(c, op, CodeValidation, "malformed payload", 0)
		return false
	}
	if verr := validation.ValidateStruct(v); verr != nil {
		s.sendError(c, op, CodeValidation, verr.Error(), 0)
		return false
	}
	return true
}

func (s *Session) sendError(c *Client, op, code, message string, currentVersion int64) {
	c.Send(Message{Type: EventOperationError, Data: OperationErrorPayload{
		Op:             op,
		Code:           code,
		Message:        message,
		CurrentVersion: currentVersion,
	}})
}

// sendStoreError maps a store error onto a wire error payload.
func (s *Session) sendStoreError(c *Client, op string, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		s.sendError(c, op, CodeNotFound, "not found", 0)
	case errors.Is(err, models.ErrUnauthorized):
		s.sendError(c, op, CodeUnauthorized, "only the author may modify this", 0)
	default:
		if current, ok := models.IsVersionConflict(err); ok {
			s.sendError(c, op, CodeVersionConflict, err.Error(), current)
			return
		}
		var verr *models.ValidationError
		if errors.As(err, &verr) {
			s.sendError(c, op, CodeValidation, verr.Error(), 0)
			return
		}
		logging.Error().Err(err).Str("op", op).Str("client_id", c.clientID).Msg("operation failed")
		s.sendError(c, op, CodeInternal, "internal error", 0)
	}
}

// currentRoom resolves the client's room, reporting NOT_IN_ROOM on failure.
func (s *Session) currentRoom(c *Client, op string) (string, bool) {
	roomID, ok := s.rooms.RoomOf(c.clientID)
	if !ok {
		s.sendError(c, op, CodeNotInRoom, "join a room first", 0)
		return "", false
	}
	return roomID, true
}

// allowMutation applies the per-room mutation rate limit.
func (s *Session) allowMutation(c *Client, op, roomID string) bool {
	if s.roomLimiter(roomID).Allow() {
		return true
	}
	s.sendError(c, op, CodeRateLimited, "room mutation rate exceeded, retry shortly", 0)
	return false
}

func (s *Session) handleJoinRoom(c *Client, data json.RawMessage) {
	var p JoinRoomPayload
	if !s.decode(c, EventJoinRoom, data, &p) {
		return
	}
	if p.DisplayName != "" {
		c.displayName = p.DisplayName
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := s.db.EnsureMap(ctx, p.RoomID); err != nil {
		s.sendStoreError(c, EventJoinRoom, err)
		return
	}

	snapshot := s.rooms.Join(p.RoomID, c.clientID, c.displayName)
	s.hub.MoveToRoom(c, p.RoomID)
	s.reg.TouchRoom(c.clientID, p.RoomID)

	c.Send(Message{Type: EventRoomSnapshot, Data: RoomSnapshotPayload{
		Room:       p.RoomID,
		Users:      snapshot,
		Selections: s.rooms.Selections(p.RoomID),
	}})
}

func (s *Session) handleLeaveRoom(c *Client) {
	roomID, ok := s.rooms.RoomOf(c.clientID)
	if !ok {
		return
	}
	s.rooms.Leave(roomID, c.clientID)
	s.hub.MoveToRoom(c, "")
	s.reg.ClearRoom(c.clientID)
}

func (s *Session) handleCursorMove(c *Client, data json.RawMessage) {
	var p CursorMovePayload
	if !s.decode(c, EventCursorMove, data, &p) {
		return
	}
	roomID, ok := s.currentRoom(c, EventCursorMove)
	if !ok {
		return
	}

	position := geo.Position{Lng: p.Position.Lng, Lat: p.Position.Lat}
	if !s.rooms.UpdatePosition(roomID, c.clientID, position) {
		return
	}
	s.reg.Touch(c.clientID)

	s.throttler.Submit(c.clientID, roomID, position, func(room, userID string, pos geo.Position, at time.Time) {
		s.hub.BroadcastToRoom(room, userID, Message{Type: EventCursorUpdate, Data: CursorUpdatePayload{
			UserID:    userID,
			Position:  pos,
			Timestamp: at.UnixMilli(),
		}})
	})
}

func (s *Session) handleSelectionUpdate(c *Client, data json.RawMessage) {
	var p SelectionUpdatePayload
	if !s.decode(c, EventSelectionUpdate, data, &p) {
		return
	}
	roomID, ok := s.currentRoom(c, EventSelectionUpdate)
	if !ok {
		return
	}
	if !s.rooms.UpdateSelection(roomID, c.clientID, c.displayName, p.FeatureIDs) {
		return
	}
	s.hub.BroadcastToRoom(roomID, c.clientID, Message{Type: EventSelectionChanged, Data: models.Selection{
		UserID:     c.clientID,
		UserName:   c.displayName,
		FeatureIDs: p.FeatureIDs,
	}})
}

func (s *Session) handleFeatureCreate(c *Client, data json.RawMessage) {
	var p FeatureCreatePayload
	if !s.decode(c, EventFeatureCreate, data, &p) {
		return
	}
	roomID, ok := s.currentRoom(c, EventFeatureCreate)
	if !ok {
		return
	}
	if !s.allowMutation(c, EventFeatureCreate, roomID) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	result, err := s.db.CreateFeature(ctx, &models.Feature{
		MapID:             roomID,
		Type:              models.FeatureType(p.Type),
		Geometry:          p.Geometry,
		Properties:        p.Properties,
		AuthorID:          c.clientID,
		AuthorName:        c.displayName,
		ClientOperationID: p.ClientOperationID,
		OfflineCreated:    p.OfflineCreated,
	})
	if err != nil {
		s.sendStoreError(c, EventFeatureCreate, err)
		return
	}
	s.reg.TouchRoom(c.clientID, roomID)

	// A duplicate replay still answers the requester but is not re-broadcast;
	// the room already saw the original.
	c.Send(Message{Type: EventFeatureCreated, Data: result.Feature})
	if !result.Duplicate {
		s.hub.BroadcastToRoom(roomID, c.clientID, Message{Type: EventFeatureCreated, Data: result.Feature})
	}
}

func (s *Session) handleFeatureUpdate(c *Client, data json.RawMessage) {
	var p FeatureUpdatePayload
	if !s.decode(c, EventFeatureUpdate, data, &p) {
		return
	}
	roomID, ok := s.currentRoom(c, EventFeatureUpdate)
	if !ok {
		return
	}
	if !s.allowMutation(c, EventFeatureUpdate, roomID) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	result, err := s.db.UpdateFeature(ctx, p.FeatureID, store.FeaturePatch{
		Geometry:   p.Geometry,
		Properties: p.Properties,
	}, p.ExpectedVersion, c.clientID, c.displayName, p.ClientOperationID)
	if err != nil {
		s.sendStoreError(c, EventFeatureUpdate, err)
		return
	}
	s.reg.TouchRoom(c.clientID, roomID)

	c.Send(Message{Type: EventFeatureUpdated, Data: result.Feature})
	if !result.Duplicate {
		s.hub.BroadcastToRoom(roomID, c.clientID, Message{Type: EventFeatureUpdated, Data: result.Feature})
	}
}

func (s *Session) handleFeatureDelete(c *Client, data json.RawMessage) {
	var p FeatureDeletePayload
	if !s.decode(c, EventFeatureDelete, data, &p) {
		return
	}
	roomID, ok := s.currentRoom(c, EventFeatureDelete)
	if !ok {
		return
	}
	if !s.allowMutation(c, EventFeatureDelete, roomID) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	result, err := s.db.DeleteFeature(ctx, p.FeatureID, p.ExpectedVersion, c.clientID, c.displayName, p.ClientOperationID)
	if err != nil {
		s.sendStoreError(c, EventFeatureDelete, err)
		return
	}
	s.reg.TouchRoom(c.clientID, roomID)

	payload := map[string]any{"featureId": p.FeatureID}
	c.Send(Message{Type: EventFeatureDeleted, Data: payload})
	if !result.Duplicate {
		s.hub.BroadcastToRoom(roomID, c.clientID, Message{Type: EventFeatureDeleted, Data: payload})
	}
}

func (s *Session) handleCommentCreate(c *Client, data json.RawMessage) {
	var p CommentCreatePayload
	if !s.decode(c, EventCommentCreate, data, &p) {
		return
	}
	roomID, ok := s.currentRoom(c, EventCommentCreate)
	if !ok {
		return
	}
	if !s.allowMutation(c, EventCommentCreate, roomID) {
		return
	}

	comment := &models.Comment{
		MapID:             roomID,
		Position:          geo.Position{Lng: p.Position.Lng, Lat: p.Position.Lat},
		Content:           p.Content,
		AuthorID:          c.clientID,
		AuthorName:        c.displayName,
		ClientOperationID: p.ClientOperationID,
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	result, err := s.db.CreateComment(ctx, comment)
	if err != nil {
		s.sendStoreError(c, EventCommentCreate, err)
		return
	}
	s.reg.TouchRoom(c.clientID, roomID)

	c.Send(Message{Type: EventCommentCreated, Data: result.Comment})
	if !result.Duplicate {
		s.hub.BroadcastToRoom(roomID, c.clientID, Message{Type: EventCommentCreated, Data: result.Comment})
	}
}

func (s *Session) handleCommentUpdate(c *Client, data json.RawMessage) {
	var p CommentUpdatePayload
	if !s.decode(c, EventCommentUpdate, data, &p) {
		return
	}
	roomID, ok := s.currentRoom(c, EventCommentUpdate)
	if !ok {
		return
	}
	if !s.allowMutation(c, EventCommentUpdate, roomID) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	result, err := s.db.UpdateComment(ctx, p.CommentID, p.Content, p.ExpectedVersion, c.clientID, p.ClientOperationID)
	if err != nil {
		s.sendStoreError(c, EventCommentUpdate, err)
		return
	}
	s.reg.TouchRoom(c.clientID, roomID)

	c.Send(Message{Type: EventCommentUpdated, Data: result.Comment})
	if !result.Duplicate {
		s.hub.BroadcastToRoom(roomID, c.clientID, Message{Type: EventCommentUpdated, Data: result.Comment})
	}
}

func (s *Session) handleCommentDelete(c *Client, data json.RawMessage) {
	var p CommentDeletePayload
	if !s.decode(c, EventCommentDelete, data, &p) {
		return
	}
	roomID, ok := s.currentRoom(c, EventCommentDelete)
	if !ok {
		return
	}
	if !s.allowMutation(c, EventCommentDelete, roomID) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	result, err := s.db.DeleteComment(ctx, p.CommentID, p.ExpectedVersion, c.clientID, p.ClientOperationID)
	if err != nil {
		s.sendStoreError(c, EventCommentDelete, err)
		return
	}
	s.reg.TouchRoom(c.clientID, roomID)

	payload := map[string]any{"commentId": p.CommentID}
	c.Send(Message{Type: EventCommentDeleted, Data: payload})
	if !result.Duplicate {
		s.hub.BroadcastToRoom(roomID, c.clientID, Message{Type: EventCommentDeleted, Data: payload})
	}
}

func (s *Session) handleReplyCreate(c *Client, data json.RawMessage) {
	var p ReplyCreatePayload
	if !s.decode(c, EventReplyCreate, data, &p) {
		return
	}
	roomID, ok := s.currentRoom(c, EventReplyCreate)
	if !ok {
		return
	}
	if !s.allowMutation(c, EventReplyCreate, roomID) {
		return
	}

	reply := &models.Reply{
		CommentID:         p.CommentID,
		Content:           p.Content,
		AuthorID:          c.clientID,
		AuthorName:        c.displayName,
		ClientOperationID: p.ClientOperationID,
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	result, err := s.db.CreateReply(ctx, reply)
	if err != nil {
		s.sendStoreError(c, EventReplyCreate, err)
		return
	}
	s.reg.TouchRoom(c.clientID, roomID)

	c.Send(Message{Type: EventReplyCreated, Data: result.Reply})
	if !result.Duplicate {
		s.hub.BroadcastToRoom(roomID, c.clientID, Message{Type: EventReplyCreated, Data: result.Reply})
	}
}

func (s *Session) handleReplyUpdate(c *Client, data json.RawMessage) {
	var p ReplyUpdatePayload
	if !s.decode(c, EventReplyUpdate, data, &p) {
		return
	}
	roomID, ok := s.currentRoom(c, EventReplyUpdate)
	if !ok {
		return
	}
	if !s.allowMutation(c, EventReplyUpdate, roomID) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	result, err := s.db.UpdateReply(ctx, p.ReplyID, p.Content, p.ExpectedVersion, c.clientID, p.ClientOperationID)
	if err != nil {
		s.sendStoreError(c, EventReplyUpdate, err)
		return
	}
	s.reg.TouchRoom(c.clientID, roomID)

	c.Send(Message{Type: EventReplyUpdated, Data: result.Reply})
	if !result.Duplicate {
		s.hub.BroadcastToRoom(roomID, c.clientID, Message{Type: EventReplyUpdated, Data: result.Reply})
	}
}

func (s *Session) handleReplyDelete(c *Client, data json.RawMessage) {
	var p ReplyDeletePayload
	if !s.decode(c, EventReplyDelete, data, &p) {
		return
	}
	roomID, ok := s.currentRoom(c, EventReplyDelete)
	if !ok {
		return
	}
	if !s.allowMutation(c, EventReplyDelete, roomID) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	result, err := s.db.DeleteReply(ctx, p.ReplyID, p.ExpectedVersion, c.clientID, p.ClientOperationID)
	if err != nil {
		s.sendStoreError(c, EventReplyDelete, err)
		return
	}
	s.reg.TouchRoom(c.clientID, roomID)

	payload := map[string]any{"replyId": p.ReplyID}
	c.Send(Message{Type: EventReplyDeleted, Data: payload})
	if !result.Duplicate {
		s.hub.BroadcastToRoom(roomID, c.clientID, Message{Type: EventReplyDeleted, Data: payload})
	}
}

func (s *Session) handleGetUpdatesSince(c *Client, data json.RawMessage) {
	var p GetUpdatesSincePayload
	if !s.decode(c, EventGetUpdatesSince, data, &p) {
		return
	}

	req := delta.Request{
		MapID: p.MapID,
		Page:  p.Page,
		Limit: p.Limit,
	}
	if p.Since > 0 {
		req.Since = time.UnixMilli(p.Since)
	}
	if p.Viewport != nil {
		req.Viewport = &geo.Viewport{
			MinLng: p.Viewport.MinLng,
			MinLat: p.Viewport.MinLat,
			MaxLng: p.Viewport.MaxLng,
			MaxLat: p.Viewport.MaxLat,
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	resp, err := s.engine.GetUpdatesSince(ctx, req)
	if err != nil {
		s.sendStoreError(c, EventGetUpdatesSince, err)
		return
	}
	s.reg.TouchRoom(c.clientID, p.MapID)
	c.Send(Message{Type: EventSyncUpdates, Data: resp})
}

func (s *Session) handleLatencyResponse(c *Client, data json.RawMessage) {
	var p LatencyResponsePayload
	if !s.decode(c, EventLatencyResponse, data, &p) {
		return
	}
	s.quality.HandleResponse(c.clientID, p.ID)
	s.reg.Touch(c.clientID)
}

// QualityNotifier adapts quality transitions into the connection-quality and
// adaptive-settings events delivered to the affected client.
func QualityNotifier(hub *Hub) func(quality.Event) {
	return func(e quality.Event) {
		hub.SendToClientID(e.ClientID, Message{Type: EventQuality, Data: QualityPayload{
			Quality:   string(e.To),
			LatencyMs: e.AvgLatency.Milliseconds(),
		}})
		hub.SendToClientID(e.ClientID, Message{Type: EventAdaptiveSettings, Data: AdaptiveSettingsPayload{
			Quality: string(e.To),
			Hints:   e.Hints,
		}})
	}
}

// ProbeSender adapts the quality monitor's probe delivery onto the hub.
func ProbeSender(hub *Hub) quality.ProbeSender {
	return func(clientID, probeID string) {
		hub.SendToClientID(clientID, Message{Type: EventLatencyCheck, Data: map[string]string{"id": probeID}})
	}
}

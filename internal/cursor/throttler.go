// Geoboard - Real-Time Collaborative Map Annotation
// Copyright 2026 Geoboard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/geoboard/geoboard

// Package cursor rate-limits high-frequency position broadcasts. Each user's
// stream is throttled independently: at most one emit per interval, one
// pending slot holding only the latest position, and a trailing-edge flush so
// the final position before a quiet period is always delivered.
package cursor

import (
	"sync"
	"time"

	"github.com/geoboard/geoboard/internal/geo"
	"github.com/geoboard/geoboard/internal/metrics"
)

// Emit delivers a coalesced cursor update for broadcast.
type Emit func(room, userID string, position geo.Position, at time.Time)

// Throttler coalesces cursor updates per user. Safe for concurrent use.
type Throttler struct {
	interval time.Duration

	mu    sync.Mutex
	users map[string]*userState

	now func() time.Time
}

type userState struct {
	lastEmit time.Time
	pending  *pendingUpdate
	timer    *time.Timer
}

type pendingUpdate struct {
	room     string
	position geo.Position
	emit     Emit
}

// New creates a throttler emitting at most once per interval per user.
func New(interval time.Duration) *Throttler {
	return &Throttler{
		interval: interval,
		users:    make(map[string]*userState),
		now:      time.Now,
	}
}

// Submit records a position update. If the user's throttle window is open the
// update is emitted immediately; otherwise it replaces any pending update and
// a trailing flush is scheduled for the end of the window. emit runs without
// the throttler lock held.
func (t *Throttler) Submit(userID, room string, position geo.Position, emit Emit) {
	metrics.CursorUpdatesReceived.Inc()
	now := t.now()

	t.mu.Lock()
	state, ok := t.users[userID]
	if !ok {
		state = &userState{}
		t.users[userID] = state
	}

	if state.timer == nil && now.Sub(state.lastEmit) >= t.interval {
		state.lastEmit = now
		t.mu.Unlock()

		metrics.CursorUpdatesEmitted.Inc()
		emit(room, userID, position, now)
		return
	}

	// Window closed: keep only the newest update and arm the trailing flush.
	state.pending = &pendingUpdate{room: room, position: position, emit: emit}
	if state.timer == nil {
		delay := t.interval - now.Sub(state.lastEmit)
		if delay < 0 {
			delay = 0
		}
		state.timer = time.AfterFunc(delay, func() { t.flush(userID) })
	}
	t.mu.Unlock()
}

// flush emits the pending update for the user, if still present.
func (t *Throttler) flush(userID string) {
	t.mu.Lock()
	state, ok := t.users[userID]
	if !ok {
		t.mu.Unlock()
		return
	}
	state.timer = nil
	pending := state.pending
	state.pending = nil
	if pending != nil {
		state.lastEmit = t.now()
	}
	t.mu.Unlock()

	if pending != nil {
		metrics.CursorUpdatesEmitted.Inc()
		pending.emit(pending.room, userID, pending.position, t.now())
	}
}

// Remove drops the user's throttle state and cancels any armed timer. Must be
// called on disconnect; a leaked trailing timer would emit for a user who is
// no longer present.
func (t *Throttler) Remove(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if state, ok := t.users[userID]; ok {
		if state.timer != nil {
			state.timer.Stop()
		}
		delete(t.users, userID)
	}
}

// Stop cancels all timers and clears all state.
func (t *Throttler) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, state := range t.users {
		if state.timer != nil {
			state.timer.Stop()
		}
		delete(t.users, id)
	}
}

// PendingCount reports users with an armed trailing flush, for tests and
// diagnostics.
func (t *Throttler) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, state := range t.users {
		if state.timer != nil {
			n++
		}
	}
	return n
}

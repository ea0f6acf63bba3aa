// Geoboard - Real-Time Collaborative Map Annotation
// Copyright 2026 Geoboard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/geoboard/geoboard

package room

import (
	"sort"

	"github.com/geoboard/geoboard/internal/models"
)

// UpdateSelection replaces the user's selected feature set in the room.
// Last writer wins per user. Returns false if the user is not present.
func (s *State) UpdateSelection(room, userID, userName string, featureIDs []string) bool {
	sh := s.shardFor(room)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	entry, ok := sh.rooms[room]
	if !ok {
		return false
	}
	if _, present := entry.presences[userID]; !present {
		return false
	}

	ids := make([]string, len(featureIDs))
	copy(ids, featureIDs)
	entry.selections[userID] = models.Selection{
		UserID:     userID,
		UserName:   userName,
		FeatureIDs: ids,
	}
	return true
}

// ClearSelection drops the user's selection in the room.
func (s *State) ClearSelection(room, userID string) {
	sh := s.shardFor(room)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if entry, ok := sh.rooms[room]; ok {
		delete(entry.selections, userID)
	}
}

// Selections returns the room's selections sorted by user id.
func (s *State) Selections(room string) []models.Selection {
	sh := s.shardFor(room)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	entry, ok := sh.rooms[room]
	if !ok {
		return nil
	}
	out := make([]models.Selection, 0, len(entry.selections))
	for _, sel := range entry.selections {
		copied := sel
		copied.FeatureIDs = append([]string(nil), sel.FeatureIDs...)
		out = append(out, copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Geoboard - Real-Time Collaborative Map Annotation
// Copyright 2026 Geoboard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/geoboard/geoboard

// Package quality classifies per-connection link quality from round-trip
// latency probes and emits adaptive-behavior hints on state transitions.
// Stats survive disconnects for the reconnect grace period and are reaped by
// TTL and a global count cap, mirroring the connection registry's eviction
// policy.
package quality

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/geoboard/geoboard/internal/logging"
	"github.com/geoboard/geoboard/internal/metrics"
)

// Level is a connection quality classification.
type Level string

const (
	LevelUnknown   Level = "unknown"
	LevelExcellent Level = "excellent"
	LevelGood      Level = "good"
	LevelPoor      Level = "poor"
	LevelCritical  Level = "critical"
)

// Hints are advisory adaptive parameters sent to the client on a quality
// transition. The client may ignore them; nothing here is enforced.
type Hints struct {
	BatchIntervalMs     int  `json:"batchIntervalMs"`
	CompressionLevel    int  `json:"compressionLevel"`
	CoordinatePrecision int  `json:"coordinatePrecision"`
	ViewportOnly        bool `json:"viewportOnly"`
}

// HintsFor returns the adaptive parameters for a quality level.
func HintsFor(level Level) Hints {
	switch level {
	case LevelExcellent:
		return Hints{BatchIntervalMs: 50, CompressionLevel: 0, CoordinatePrecision: 7}
	case LevelGood:
		return Hints{BatchIntervalMs: 100, CompressionLevel: 1, CoordinatePrecision: 6}
	case LevelPoor:
		return Hints{BatchIntervalMs: 250, CompressionLevel: 6, CoordinatePrecision: 5, ViewportOnly: true}
	default:
		return Hints{BatchIntervalMs: 1000, CompressionLevel: 9, CoordinatePrecision: 4, ViewportOnly: true}
	}
}

// Event reports a quality state transition for one connection.
type Event struct {
	ClientID   string
	From       Level
	To         Level
	AvgLatency time.Duration
	Hints      Hints
}

// Config holds monitor tuning parameters.
type Config struct {
	ProbeInterval time.Duration
	SampleWindow  int
	MinSamples    int

	ExcellentBelow time.Duration
	GoodBelow      time.Duration
	PoorBelow      time.Duration

	StatsTTL   time.Duration
	MaxTracked int
}

// ProbeSender delivers a latency probe to one connection.
type ProbeSender func(clientID, probeID string)

// Monitor tracks latency samples per connection. Safe for concurrent use.
type Monitor struct {
	cfg      Config
	onChange func(Event)

	mu    sync.Mutex
	conns map[string]*connStats

	now func() time.Time
}

type connStats struct {
	samples []time.Duration // bounded ring, oldest dropped beyond SampleWindow
	next    int
	count   int
	level   Level

	// pending maps in-flight probe ids to send times.
	pending map[string]time.Time

	lastActivity time.Time
}

// NewMonitor creates a monitor. onChange is invoked outside the lock on every
// state transition; it may be nil.
func NewMonitor(cfg Config, onChange func(Event)) *Monitor {
	if cfg.SampleWindow <= 0 {
		cfg.SampleWindow = 10
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 3
	}
	return &Monitor{
		cfg:      cfg,
		onChange: onChange,
		conns:    make(map[string]*connStats),
		now:      time.Now,
	}
}

// Track registers a connection for probing. At the global cap the oldest
// entries by activity are evicted first.
func (m *Monitor) Track(clientID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conns[clientID]; ok {
		m.conns[clientID].lastActivity = m.now()
		return
	}
	m.evictForCapacityLocked()
	m.conns[clientID] = &connStats{
		samples:      make([]time.Duration, m.cfg.SampleWindow),
		level:        LevelUnknown,
		pending:      make(map[string]time.Time),
		lastActivity: m.now(),
	}
}

// maxPendingProbes bounds unanswered probes per connection. A client that
// never responds would otherwise accumulate one entry per interval until the
// TTL sweep.
const maxPendingProbes = 8

// Probe issues a latency probe id for the connection and records its send
// time. Returns false if the connection is not tracked.
func (m *Monitor) Probe(clientID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats, ok := m.conns[clientID]
	if !ok {
		return "", false
	}
	for len(stats.pending) >= maxPendingProbes {
		dropOldestPending(stats)
	}
	probeID := uuid.NewString()
	stats.pending[probeID] = m.now()
	return probeID, true
}

// dropOldestPending removes the pending probe with the earliest send time.
func dropOldestPending(stats *connStats) {
	var oldestID string
	var oldestAt time.Time
	for id, sentAt := range stats.pending {
		if oldestID == "" || sentAt.Before(oldestAt) {
			oldestID = id
			oldestAt = sentAt
		}
	}
	delete(stats.pending, oldestID)
}

// HandleResponse matches a probe response to its send time, records the
// round-trip sample, and re-classifies. Unknown probe ids are ignored.
func (m *Monitor) HandleResponse(clientID, probeID string) {
	now := m.now()

	m.mu.Lock()
	stats, ok := m.conns[clientID]
	if !ok {
		m.mu.Unlock()
		return
	}
	sentAt, ok := stats.pending[probeID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(stats.pending, probeID)
	event, changed := m.recordLocked(clientID, stats, now.Sub(sentAt))
	m.mu.Unlock()

	if changed {
		m.emit(event)
	}
}

// RecordSample pushes an externally measured round-trip sample. Used by tests
// and by transports that measure latency themselves.
func (m *Monitor) RecordSample(clientID string, rtt time.Duration) {
	m.mu.Lock()
	stats, ok := m.conns[clientID]
	if !ok {
		m.mu.Unlock()
		return
	}
	event, changed := m.recordLocked(clientID, stats, rtt)
	m.mu.Unlock()

	if changed {
		m.emit(event)
	}
}

// Level returns the current classification for the connection.
func (m *Monitor) Level(clientID string) Level {
	m.mu.Lock()
	defer m.mu.Unlock()
	if stats, ok := m.conns[clientID]; ok {
		return stats.level
	}
	return LevelUnknown
}

// Tracked returns the tracked connection ids, sorted.
func (m *Monitor) Tracked() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Sweep drops stats idle past StatsTTL. Returns the number removed.
func (m *Monitor) Sweep() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, stats := range m.conns {
		if now.Sub(stats.lastActivity) > m.cfg.StatsTTL {
			delete(m.conns, id)
			removed++
		}
	}
	return removed
}

// RunProbes runs the probe and GC loop until the context is canceled. send is
// called outside the lock for every tracked connection each interval.
func (m *Monitor) RunProbes(ctx context.Context, send ProbeSender) error {
	ticker := time.NewTicker(m.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, clientID := range m.Tracked() {
				if probeID, ok := m.Probe(clientID); ok {
					send(clientID, probeID)
				}
			}
			m.Sweep()
		}
	}
}

// recordLocked pushes a sample and re-classifies. Caller holds the lock.
func (m *Monitor) recordLocked(clientID string, stats *connStats, rtt time.Duration) (Event, bool) {
	stats.lastActivity = m.now()
	stats.samples[stats.next] = rtt
	stats.next = (stats.next + 1) % m.cfg.SampleWindow
	if stats.count < m.cfg.SampleWindow {
		stats.count++
	}

	// Below the sample floor any classification would be noise.
	if stats.count < m.cfg.MinSamples {
		return Event{}, false
	}

	avg := averageOf(stats.samples, stats.count)
	next := m.classify(avg)
	if next == stats.level {
		return Event{}, false
	}

	prev := stats.level
	stats.level = next
	return Event{
		ClientID:   clientID,
		From:       prev,
		To:         next,
		AvgLatency: avg,
		Hints:      HintsFor(next),
	}, true
}

func (m *Monitor) classify(avg time.Duration) Level {
	switch {
	case avg < m.cfg.ExcellentBelow:
		return LevelExcellent
	case avg < m.cfg.GoodBelow:
		return LevelGood
	case avg < m.cfg.PoorBelow:
		return LevelPoor
	default:
		return LevelCritical
	}
}

func (m *Monitor) emit(event Event) {
	metrics.QualityTransitions.WithLabelValues(string(event.From), string(event.To)).Inc()
	logging.Debug().
		Str("client_id", event.ClientID).
		Str("from", string(event.From)).
		Str("to", string(event.To)).
		Dur("avg_latency", event.AvgLatency).
		Msg("connection quality changed")
	if m.onChange != nil {
		m.onChange(event)
	}
}

// evictForCapacityLocked removes the oldest stats by activity when tracking
// is at capacity. Caller holds the lock.
func (m *Monitor) evictForCapacityLocked() {
	if m.cfg.MaxTracked <= 0 || len(m.conns) < m.cfg.MaxTracked {
		return
	}

	type aged struct {
		id           string
		lastActivity time.Time
	}
	ordered := make([]aged, 0, len(m.conns))
	for id, stats := range m.conns {
		ordered = append(ordered, aged{id: id, lastActivity: stats.lastActivity})
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].lastActivity.Before(ordered[j].lastActivity)
	})

	// Evict enough to admit one new entry.
	excess := len(m.conns) - m.cfg.MaxTracked + 1
	for _, a := range ordered[:excess] {
		delete(m.conns, a.id)
	}
}

func averageOf(samples []time.Duration, count int) time.Duration {
	var total time.Duration
	for i := 0; i < count; i++ {
		total += samples[i]
	}
	return total / time.Duration(count)
}

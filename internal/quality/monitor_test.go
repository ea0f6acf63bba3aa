// Geoboard - Real-Time Collaborative Map Annotation
// Copyright 2026 Geoboard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/geoboard/geoboard

package quality

import (
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geoboard/geoboard/internal/logging"
)

func init() {
	logging.Init(logging.Config{Level: "disabled", Output: io.Discard})
}

func testMonitorConfig() Config {
	return Config{
		ProbeInterval:  5 * time.Second,
		SampleWindow:   10,
		MinSamples:     3,
		ExcellentBelow: 100 * time.Millisecond,
		GoodBelow:      300 * time.Millisecond,
		PoorBelow:      time.Second,
		StatsTTL:       30 * time.Minute,
		MaxTracked:     1000,
	}
}

func TestNoClassificationBelowSampleFloor(t *testing.T) {
	var events []Event
	m := NewMonitor(testMonitorConfig(), func(e Event) { events = append(events, e) })

	m.Track("client-a")
	m.RecordSample("client-a", 50*time.Millisecond)
	m.RecordSample("client-a", 50*time.Millisecond)

	assert.Equal(t, LevelUnknown, m.Level("client-a"))
	assert.Empty(t, events)

	// The third sample crosses the floor and classifies.
	m.RecordSample("client-a", 50*time.Millisecond)
	assert.Equal(t, LevelExcellent, m.Level("client-a"))
	require.Len(t, events, 1)
	assert.Equal(t, LevelUnknown, events[0].From)
	assert.Equal(t, LevelExcellent, events[0].To)
}

func TestClassificationThresholds(t *testing.T) {
	tests := []struct {
		name string
		rtt  time.Duration
		want Level
	}{
		{"excellent", 50 * time.Millisecond, LevelExcellent},
		{"good", 200 * time.Millisecond, LevelGood},
		{"poor", 500 * time.Millisecond, LevelPoor},
		{"critical", 2 * time.Second, LevelCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMonitor(testMonitorConfig(), nil)
			m.Track("client-a")
			for i := 0; i < 3; i++ {
				m.RecordSample("client-a", tt.rtt)
			}
			assert.Equal(t, tt.want, m.Level("client-a"))
		})
	}
}

func TestEmitsOnlyOnTransition(t *testing.T) {
	var events []Event
	m := NewMonitor(testMonitorConfig(), func(e Event) { events = append(events, e) })

	m.Track("client-a")
	for i := 0; i < 6; i++ {
		m.RecordSample("client-a", 50*time.Millisecond)
	}
	require.Len(t, events, 1)

	// Enough slow samples to drag the rolling average past the thresholds.
	for i := 0; i < 10; i++ {
		m.RecordSample("client-a", 2*time.Second)
	}
	last := events[len(events)-1]
	assert.Equal(t, LevelCritical, last.To)
	assert.Equal(t, HintsFor(LevelCritical), last.Hints)

	// Steady state emits nothing further.
	n := len(events)
	m.RecordSample("client-a", 2*time.Second)
	assert.Len(t, events, n)
}

func TestRollingWindowDropsOldSamples(t *testing.T) {
	m := NewMonitor(testMonitorConfig(), nil)
	m.Track("client-a")

	for i := 0; i < 10; i++ {
		m.RecordSample("client-a", 2*time.Second)
	}
	require.Equal(t, LevelCritical, m.Level("client-a"))

	// A full window of fast samples displaces every slow one.
	for i := 0; i < 10; i++ {
		m.RecordSample("client-a", 20*time.Millisecond)
	}
	assert.Equal(t, LevelExcellent, m.Level("client-a"))
}

func TestProbeRoundTrip(t *testing.T) {
	base := time.Now()
	m := NewMonitor(testMonitorConfig(), nil)
	m.now = func() time.Time { return base }

	m.Track("client-a")
	var probeIDs []string
	for i := 0; i < 3; i++ {
		probeID, ok := m.Probe("client-a")
		require.True(t, ok)
		probeIDs = append(probeIDs, probeID)
	}

	m.now = func() time.Time { return base.Add(150 * time.Millisecond) }
	for _, id := range probeIDs {
		m.HandleResponse("client-a", id)
	}

	assert.Equal(t, LevelGood, m.Level("client-a"))

	// Replaying a consumed probe id is ignored.
	m.HandleResponse("client-a", probeIDs[0])
}

func TestUnansweredProbesStayBounded(t *testing.T) {
	base := time.Now()
	m := NewMonitor(testMonitorConfig(), nil)

	m.Track("client-a")
	var firstID string
	for i := 0; i < maxPendingProbes*3; i++ {
		m.now = func() time.Time { return base.Add(time.Duration(i) * 5 * time.Second) }
		probeID, ok := m.Probe("client-a")
		require.True(t, ok)
		if i == 0 {
			firstID = probeID
		}
	}

	m.mu.Lock()
	pending := len(m.conns["client-a"].pending)
	m.mu.Unlock()
	assert.Equal(t, maxPendingProbes, pending)

	// Evicted probes no longer match; a late response is a no-op, not a
	// sample with a bogus round trip.
	m.HandleResponse("client-a", firstID)
	assert.Equal(t, LevelUnknown, m.Level("client-a"))
}

func TestProbeUntrackedClient(t *testing.T) {
	m := NewMonitor(testMonitorConfig(), nil)
	_, ok := m.Probe("ghost")
	assert.False(t, ok)
}

func TestSweepDropsIdleStats(t *testing.T) {
	base := time.Now()
	m := NewMonitor(testMonitorConfig(), nil)
	m.now = func() time.Time { return base }

	m.Track("idle")
	m.now = func() time.Time { return base.Add(20 * time.Minute) }
	m.Track("busy")

	m.now = func() time.Time { return base.Add(45 * time.Minute) }
	assert.Equal(t, 1, m.Sweep())
	assert.Equal(t, []string{"busy"}, m.Tracked())
}

func TestCapacityEvictsOldestByActivity(t *testing.T) {
	base := time.Now()
	cfg := testMonitorConfig()
	cfg.MaxTracked = 5
	m := NewMonitor(cfg, nil)

	for i := 0; i < 5; i++ {
		m.now = func() time.Time { return base.Add(time.Duration(i) * time.Second) }
		m.Track(fmt.Sprintf("client-%d", i))
	}

	m.now = func() time.Time { return base.Add(time.Minute) }
	m.Track("client-new")

	tracked := m.Tracked()
	assert.Len(t, tracked, 5)
	assert.NotContains(t, tracked, "client-0")
	assert.Contains(t, tracked, "client-new")
}

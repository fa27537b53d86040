package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VuStudio-Labs/VuOs-WATCH-DOG/internal/protocol"
)

func recordWithDisk(pct float64) protocol.TelemetryRecord {
	return protocol.TelemetryRecord{
		System: protocol.SystemMetrics{DiskPercent: pct},
		App:    protocol.AppMetrics{AppRunning: true, ServerRunning: true},
	}
}

func TestEngine_DebounceInvariant(t *testing.T) {
	// I1: active implies rawActive and an elapsed duration at least debounceMs
	// while continuously triggered. INTERNET_OFFLINE debounces 30s.
	start := time.Unix(0, 0)
	e := NewEngine(start)

	record := protocol.TelemetryRecord{
		App:     protocol.AppMetrics{AppRunning: true, ServerRunning: true},
		Network: protocol.NetworkMetrics{InternetReachable: false},
	}

	states := e.Evaluate(record, start)
	state := findState(states, "INTERNET_OFFLINE")
	require.True(t, state.RawActive)
	require.False(t, state.Active, "must not activate before debounce elapses")

	states = e.Evaluate(record, start.Add(29*time.Second))
	require.False(t, findState(states, "INTERNET_OFFLINE").Active)

	states = e.Evaluate(record, start.Add(31*time.Second))
	require.True(t, findState(states, "INTERNET_OFFLINE").Active)
}

func TestEngine_ResetOnDeactivate(t *testing.T) {
	start := time.Unix(0, 0)
	e := NewEngine(start)

	offline := protocol.TelemetryRecord{
		App:     protocol.AppMetrics{AppRunning: true, ServerRunning: true},
		Network: protocol.NetworkMetrics{InternetReachable: false},
	}
	e.Evaluate(offline, start)
	e.Evaluate(offline, start.Add(31*time.Second))
	require.True(t, findState(e.States(), "INTERNET_OFFLINE").Active)

	online := protocol.TelemetryRecord{
		App:     protocol.AppMetrics{AppRunning: true, ServerRunning: true},
		Network: protocol.NetworkMetrics{InternetReachable: true},
	}
	states := e.Evaluate(online, start.Add(32*time.Second))
	state := findState(states, "INTERNET_OFFLINE")
	assert.False(t, state.Active)
	assert.False(t, state.RawActive)
	assert.True(t, state.ActiveSince.IsZero())
}

func TestEngine_DiskBoundary(t *testing.T) {
	e := NewEngine(time.Unix(0, 0))
	now := time.Unix(0, 0)

	states := e.Evaluate(recordWithDisk(97.0), now)
	assert.True(t, findState(states, "DISK_FULL").Active)
	assert.False(t, findState(states, "DISK_HIGH").Active)

	e2 := NewEngine(time.Unix(0, 0))
	states = e2.Evaluate(recordWithDisk(96.9), now)
	assert.False(t, findState(states, "DISK_FULL").Active)
	assert.True(t, findState(states, "DISK_HIGH").Active)
}

func TestEngine_LatencyNullTreatedAsZero(t *testing.T) {
	e := NewEngine(time.Unix(0, 0))
	record := protocol.TelemetryRecord{
		App:     protocol.AppMetrics{AppRunning: true, ServerRunning: true},
		Network: protocol.NetworkMetrics{InternetReachable: true, LatencyMs: nil},
	}
	states := e.Evaluate(record, time.Unix(0, 0))
	assert.False(t, findState(states, "LATENCY_HIGH").Active)
}

func TestDeriveMode_WarmUpWindow(t *testing.T) {
	var states []ConditionState
	assert.Equal(t, protocol.ModeStarting, DeriveMode(false, 4999*time.Millisecond, states))
	assert.Equal(t, protocol.ModeReady, DeriveMode(false, 5001*time.Millisecond, states))
}

func TestDeriveMode_PureFunction(t *testing.T) {
	// I2/L2: identical inputs yield identical outputs across repeated calls.
	states := []ConditionState{{ID: "DISK_HIGH", Level: protocol.LevelDegraded, Active: true}}
	first := DeriveMode(false, time.Minute, states)
	second := DeriveMode(false, time.Minute, states)
	assert.Equal(t, first, second)
	assert.Equal(t, protocol.ModeDegraded, first)
}

func TestDeriveMode_ShuttingDownWins(t *testing.T) {
	states := []ConditionState{{ID: "DISK_FULL", Level: protocol.LevelCritical, Active: true}}
	assert.Equal(t, protocol.ModeShuttingDown, DeriveMode(true, time.Hour, states))
}

func TestActiveConditionIDs_SortedAndEmptyNotNil(t *testing.T) {
	states := []ConditionState{
		{ID: "ZEBRA", Active: true},
		{ID: "ALPHA", Active: true},
		{ID: "SKIPPED", Active: false},
	}
	ids := ActiveConditionIDs(states)
	assert.Equal(t, []string{"ALPHA", "ZEBRA"}, ids)

	empty := ActiveConditionIDs(nil)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func findState(states []ConditionState, id string) ConditionState {
	for _, s := range states {
		if s.ID == id {
			return s
		}
	}
	return ConditionState{}
}

// Package health maps a TelemetryRecord to a list of condition states and an
// operational mode. It performs no I/O: every function here is a pure
// evaluation over its inputs.
package health

import (
	"github.com/VuStudio-Labs/VuOs-WATCH-DOG/internal/protocol"
)

// ConditionDefinition is static: the fixed set is built once at startup by
// DefaultConditions.
type ConditionDefinition struct {
	ID         string
	Level      protocol.ConditionLevel
	DebounceMs int64
	Predicate  func(protocol.TelemetryRecord) bool
}

const (
	diskFullPercent    = 97.0
	diskHighPercent    = 90.0
	latencyHighMs      = 250
	lockStaleAgeMs     = 15000
	errorsHighCount    = 5
)

// DefaultConditions returns the fixed condition set of the health engine.
func DefaultConditions() []ConditionDefinition {
	return []ConditionDefinition{
		{
			ID:         "VUOS_DOWN",
			Level:      protocol.LevelCritical,
			DebounceMs: 10000,
			Predicate:  func(r protocol.TelemetryRecord) bool { return !r.App.AppRunning },
		},
		{
			ID:         "SERVER_DOWN",
			Level:      protocol.LevelCritical,
			DebounceMs: 10000,
			Predicate:  func(r protocol.TelemetryRecord) bool { return !r.App.ServerRunning },
		},
		{
			ID:         "DISK_FULL",
			Level:      protocol.LevelCritical,
			DebounceMs: 0,
			Predicate:  func(r protocol.TelemetryRecord) bool { return r.System.DiskPercent >= diskFullPercent },
		},
		{
			ID:         "THERMAL_THROTTLING",
			Level:      protocol.LevelCritical,
			DebounceMs: 0,
			Predicate:  func(r protocol.TelemetryRecord) bool { return r.System.ThermalThrottling },
		},
		{
			ID:         "LOCK_STALE",
			Level:      protocol.LevelCritical,
			DebounceMs: 0,
			Predicate: func(r protocol.TelemetryRecord) bool {
				return !r.App.Lock.Healthy && r.App.Lock.HeartbeatAgeMs > lockStaleAgeMs
			},
		},
		{
			ID:         "INTERNET_OFFLINE",
			Level:      protocol.LevelDegraded,
			DebounceMs: 30000,
			Predicate:  func(r protocol.TelemetryRecord) bool { return !r.Network.InternetReachable },
		},
		{
			ID:         "LATENCY_HIGH",
			Level:      protocol.LevelDegraded,
			DebounceMs: 60000,
			Predicate: func(r protocol.TelemetryRecord) bool {
				if r.Network.LatencyMs == nil {
					return false // null is treated as 0 (spec boundary behavior)
				}
				return *r.Network.LatencyMs > latencyHighMs
			},
		},
		{
			ID:         "DISK_HIGH",
			Level:      protocol.LevelDegraded,
			DebounceMs: 0,
			Predicate: func(r protocol.TelemetryRecord) bool {
				return r.System.DiskPercent >= diskHighPercent && r.System.DiskPercent < diskFullPercent
			},
		},
		{
			ID:         "GPU_PROBE_FAILED",
			Level:      protocol.LevelDegraded,
			DebounceMs: 60000,
			Predicate:  func(r protocol.TelemetryRecord) bool { return r.System.GPU == nil },
		},
		{
			ID:         "ERRORS_HIGH",
			Level:      protocol.LevelDegraded,
			DebounceMs: 0,
			Predicate: func(r protocol.TelemetryRecord) bool {
				return r.System.EventLog.RecentCount >= errorsHighCount
			},
		},
	}
}

// SeverityOf returns the static event severity mapped from a condition id
// (spec 4.4). Unknown ids default to WARN.
func SeverityOf(conditionID string) protocol.Severity {
	switch conditionID {
	case "VUOS_DOWN", "SERVER_DOWN", "DISK_FULL", "THERMAL_THROTTLING", "LOCK_STALE":
		return protocol.SeverityCritical
	case "INTERNET_OFFLINE", "LATENCY_HIGH", "DISK_HIGH", "GPU_PROBE_FAILED", "ERRORS_HIGH":
		return protocol.SeverityWarn
	default:
		return protocol.SeverityWarn
	}
}

// Package telemetry assembles TelemetryRecord snapshots from collector
// caches on a fixed tick. The assembly path does no network I/O; it does
// read the application's heartbeat lock file from disk on every call (see
// collectors.AppCollector.ReadLock).
package telemetry

import (
	"time"

	"github.com/VuStudio-Labs/VuOs-WATCH-DOG/internal/collectors"
	"github.com/VuStudio-Labs/VuOs-WATCH-DOG/internal/protocol"
)

// Assembler composes a TelemetryRecord from the current cached collector
// values. It performs no probing of its own.
type Assembler struct {
	wallID     string
	version    string
	collectors *collectors.Collectors
}

// NewAssembler builds an Assembler bound to a wall id, the running agent's
// build version, and a collector set. The version has no collector of its
// own (there is no supervised-server version endpoint to probe) and is
// stamped straight into every record.
func NewAssembler(wallID, version string, c *collectors.Collectors) *Assembler {
	return &Assembler{wallID: wallID, version: version, collectors: c}
}

// Assemble reads every collector's current cache, plus the lock file read
// synchronously by the app collector, and returns a fresh TelemetryRecord.
// Safe to call concurrently; each collector guards its own cache.
func (a *Assembler) Assemble() protocol.TelemetryRecord {
	record := protocol.TelemetryRecord{
		Timestamp: time.Now().UnixMilli(),
		WallID:    a.wallID,
	}

	a.collectors.System.ApplyTo(&record.System)
	a.collectors.GPU.ApplyTo(&record.System)
	a.collectors.Disk.ApplyTo(&record.System)
	a.collectors.DiskIO.ApplyTo(&record.System)
	a.collectors.Thermal.ApplyTo(&record.System)
	a.collectors.Updates.ApplyTo(&record.System)
	a.collectors.EventLog.ApplyTo(&record.System)

	a.collectors.Network.ApplyTo(&record.Network)

	a.collectors.App.ApplyTo(&record.App)
	record.App.ServerVersion = a.version

	return record
}

// BuildHealthPayload projects a TelemetryRecord and mode/condition result
// into the bounded, retained health summary.
func BuildHealthPayload(wallID string, record protocol.TelemetryRecord, mode protocol.OperationalMode, activeConditions []string) protocol.HealthPayload {
	return protocol.HealthPayload{
		Schema:           protocol.SchemaHealth,
		Timestamp:        record.Timestamp,
		WallID:           wallID,
		Mode:             mode,
		ActiveConditions: activeConditions,
		System: protocol.SystemSummary{
			CPUPercent:  record.System.CPUPercent,
			RAMPercent:  record.System.RAMPercent,
			DiskPercent: record.System.DiskPercent,
		},
		Network: record.Network,
		App: protocol.AppSummary{
			AppRunning:      record.App.AppRunning,
			ServerRunning:   record.App.ServerRunning,
			CrashCountToday: record.App.CrashCountToday,
		},
	}
}

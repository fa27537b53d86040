// Package collectors holds the independent background samplers for system,
// network, and application metrics. Each collector owns its own cadence and
// exposes a thread-safe snapshot; a failed probe leaves the previously
// cached value intact and never blocks a reader.
package collectors

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/rs/zerolog"

	"github.com/VuStudio-Labs/VuOs-WATCH-DOG/internal/protocol"
)

const cpuInterval = 2 * time.Second

// SystemCollector samples CPU and RAM usage, and host uptime, on a 2s cadence.
type SystemCollector struct {
	log zerolog.Logger

	mu     sync.RWMutex
	cached systemSnapshot
}

type systemSnapshot struct {
	cpuPercent float64
	cpuModel   string
	cpuCores   int
	ramTotalMB float64
	ramUsedMB  float64
	ramPercent float64
	uptimeSec  int64
}

// NewSystemCollector constructs a SystemCollector with zero-value cache until
// the first successful tick.
func NewSystemCollector(log zerolog.Logger) *SystemCollector {
	return &SystemCollector{log: log.With().Str("collector", "system").Logger()}
}

// Run samples on a 2s ticker until ctx is cancelled.
func (c *SystemCollector) Run(ctx context.Context) error {
	c.sample(ctx)
	ticker := time.NewTicker(cpuInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.sample(ctx)
		}
	}
}

func (c *SystemCollector) sample(ctx context.Context) {
	next := c.cached

	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		next.cpuPercent = pct[0]
	} else if err != nil {
		c.log.Debug().Err(err).Msg("cpu percent probe failed, keeping cached value")
	}

	if info, err := cpu.InfoWithContext(ctx); err == nil && len(info) > 0 {
		next.cpuModel = info[0].ModelName
		cores := 0
		for _, i := range info {
			cores += int(i.Cores)
		}
		if cores > 0 {
			next.cpuCores = cores
		} else {
			next.cpuCores = len(info)
		}
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		next.ramTotalMB = bytesToMB(vm.Total)
		next.ramUsedMB = bytesToMB(vm.Used)
		next.ramPercent = vm.UsedPercent
	} else {
		c.log.Debug().Err(err).Msg("memory probe failed, keeping cached value")
	}

	if info, err := host.InfoWithContext(ctx); err == nil {
		next.uptimeSec = int64(info.Uptime)
	}

	c.mu.Lock()
	c.cached = next
	c.mu.Unlock()
}

func bytesToMB(b uint64) float64 { return float64(b) / (1024 * 1024) }

// ApplyTo writes the cached sample into the given telemetry system metrics.
func (c *SystemCollector) ApplyTo(sys *protocol.SystemMetrics) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sys.CPUPercent = c.cached.cpuPercent
	sys.CPUModel = c.cached.cpuModel
	sys.CPUCores = c.cached.cpuCores
	sys.RAMTotalMB = c.cached.ramTotalMB
	sys.RAMUsedMB = c.cached.ramUsedMB
	sys.RAMPercent = c.cached.ramPercent
	sys.UptimeSeconds = c.cached.uptimeSec
}

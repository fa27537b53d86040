package collectors

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/VuStudio-Labs/VuOs-WATCH-DOG/internal/protocol"
)

const (
	diskUsageInterval = 60 * time.Second
	diskIOInterval    = 5 * time.Second
)

// DiskUsageCollector aggregates usage across all fixed drives on a 60s cadence.
type DiskUsageCollector struct {
	log zerolog.Logger

	mu     sync.RWMutex
	total  float64
	used   float64
	pct    float64
}

// NewDiskUsageCollector constructs a DiskUsageCollector.
func NewDiskUsageCollector(log zerolog.Logger) *DiskUsageCollector {
	return &DiskUsageCollector{log: log.With().Str("collector", "disk_usage").Logger()}
}

// Run samples on a 60s ticker until ctx is cancelled.
func (c *DiskUsageCollector) Run(ctx context.Context) error {
	c.sample(ctx)
	ticker := time.NewTicker(diskUsageInterval)
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

func (c *DiskUsageCollector) sample(ctx context.Context) {
	partitions, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		c.log.Debug().Err(err).Msg("disk partitions probe failed, keeping cached value")
		return
	}

	var totalGB, usedGB float64
	seen := map[string]bool{}
	for _, p := range partitions {
		if seen[p.Device] {
			continue
		}
		seen[p.Device] = true
		usage, err := disk.UsageWithContext(ctx, p.Mountpoint)
		if err != nil {
			continue
		}
		totalGB += bytesToGB(usage.Total)
		usedGB += bytesToGB(usage.Used)
	}

	if totalGB == 0 {
		return
	}

	c.mu.Lock()
	c.total = totalGB
	c.used = usedGB
	c.pct = usedGB / totalGB * 100
	c.mu.Unlock()
}

func bytesToGB(b uint64) float64 { return float64(b) / (1024 * 1024 * 1024) }

// ApplyTo writes the cached aggregate disk usage into the given system metrics.
func (c *DiskUsageCollector) ApplyTo(sys *protocol.SystemMetrics) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sys.DiskTotalGB = c.total
	sys.DiskUsedGB = c.used
	sys.DiskPercent = c.pct
}

// DiskIOCollector samples read/write throughput via OS performance counters
// on a 5s cadence, expressed as MB/s since the previous sample.
type DiskIOCollector struct {
	log zerolog.Logger

	mu        sync.RWMutex
	readMBs   float64
	writeMBs  float64
	lastRead  uint64
	lastWrite uint64
	lastAt    time.Time
}

// NewDiskIOCollector constructs a DiskIOCollector.
func NewDiskIOCollector(log zerolog.Logger) *DiskIOCollector {
	return &DiskIOCollector{log: log.With().Str("collector", "disk_io").Logger()}
}

// Run samples on a 5s ticker until ctx is cancelled.
func (c *DiskIOCollector) Run(ctx context.Context) error {
	c.sample(ctx)
	ticker := time.NewTicker(diskIOInterval)
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

func (c *DiskIOCollector) sample(ctx context.Context) {
	counters, err := disk.IOCountersWithContext(ctx)
	if err != nil {
		c.log.Debug().Err(err).Msg("disk IO probe failed, keeping cached value")
		return
	}

	var readBytes, writeBytes uint64
	for _, stat := range counters {
		readBytes += stat.ReadBytes
		writeBytes += stat.WriteBytes
	}

	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.lastAt.IsZero() {
		elapsed := now.Sub(c.lastAt).Seconds()
		if elapsed > 0 {
			c.readMBs = bytesToMB(safeDelta(readBytes, c.lastRead)) / elapsed
			c.writeMBs = bytesToMB(safeDelta(writeBytes, c.lastWrite)) / elapsed
		}
	}
	c.lastRead = readBytes
	c.lastWrite = writeBytes
	c.lastAt = now
}

func safeDelta(cur, prev uint64) uint64 {
	if cur < prev {
		return 0
	}
	return cur - prev
}

// ApplyTo writes the cached throughput sample into the given system metrics.
func (c *DiskIOCollector) ApplyTo(sys *protocol.SystemMetrics) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sys.DiskIO = protocol.DiskIO{ReadMBs: c.readMBs, WriteMBs: c.writeMBs}
}

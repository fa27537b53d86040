package collectors

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/VuStudio-Labs/VuOs-WATCH-DOG/internal/protocol"
)

const gpuInterval = 5 * time.Second

// gpuStrategy is the probe method GPUCollector has settled on after its
// first success. Once a strategy succeeds, subsequent polls use it
// exclusively (spec 4.2 "first-success-wins").
type gpuStrategy int

const (
	gpuStrategyUnknown gpuStrategy = iota
	gpuStrategyNvidiaSMI
	gpuStrategyNone
)

// GPUCollector probes for GPU usage every 5s using a vendor tool first, with
// no OS-level metric to fall back to once no vendor tool is present; it
// leaves the cached GPU nil, and the health engine's GPU_PROBE_FAILED
// condition covers the sustained-absence case.
type GPUCollector struct {
	log zerolog.Logger

	mu       sync.RWMutex
	cached   *protocol.GPUMetrics
	strategy gpuStrategy
}

// NewGPUCollector constructs a GPUCollector.
func NewGPUCollector(log zerolog.Logger) *GPUCollector {
	return &GPUCollector{log: log.With().Str("collector", "gpu").Logger()}
}

// Run samples on a 5s ticker until ctx is cancelled.
func (c *GPUCollector) Run(ctx context.Context) error {
	c.sample(ctx)
	ticker := time.NewTicker(gpuInterval)
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

func (c *GPUCollector) sample(ctx context.Context) {
	c.mu.RLock()
	strategy := c.strategy
	c.mu.RUnlock()

	switch strategy {
	case gpuStrategyNone:
		return // never had a vendor tool; nothing left to try
	case gpuStrategyNvidiaSMI:
		if gpu, err := probeNvidiaSMI(ctx); err == nil {
			c.mu.Lock()
			c.cached = gpu
			c.mu.Unlock()
			return
		}
		c.log.Debug().Msg("nvidia-smi probe failed, keeping cached value")
		return
	default:
		if gpu, err := probeNvidiaSMI(ctx); err == nil {
			c.mu.Lock()
			c.cached = gpu
			c.strategy = gpuStrategyNvidiaSMI
			c.mu.Unlock()
			return
		}
		c.mu.Lock()
		c.strategy = gpuStrategyNone
		c.mu.Unlock()
	}
}

func probeNvidiaSMI(ctx context.Context) (*protocol.GPUMetrics, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "nvidia-smi",
		"--query-gpu=name,utilization.gpu,memory.used,memory.total,temperature.gpu",
		"--format=csv,noheader,nounits")
	out, err := cmd.Output()
	if err != nil {
		return nil, err
	}

	line := strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0])
	fields := strings.Split(line, ",")
	if len(fields) < 5 {
		return nil, exec.ErrNotFound
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	usage, _ := strconv.ParseFloat(fields[1], 64)
	vramUsed, _ := strconv.ParseFloat(fields[2], 64)
	vramTotal, _ := strconv.ParseFloat(fields[3], 64)
	temp, _ := strconv.ParseFloat(fields[4], 64)

	return &protocol.GPUMetrics{
		Name:        fields[0],
		UsagePct:    usage,
		VRAMUsedMB:  vramUsed,
		VRAMTotalMB: vramTotal,
		TempC:       temp,
	}, nil
}

// ApplyTo writes the cached GPU sample, if any, into the given telemetry
// system metrics.
func (c *GPUCollector) ApplyTo(sys *protocol.SystemMetrics) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sys.GPU = c.cached
}

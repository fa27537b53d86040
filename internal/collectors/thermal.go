package collectors

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/VuStudio-Labs/VuOs-WATCH-DOG/internal/protocol"
)

const thermalInterval = 10 * time.Second

// thermalThrottleThresholdMilliC is conservative: most platforms start
// throttling near this junction temperature.
const thermalThrottleThresholdMilliC = 90000

// ThermalCollector polls platform thermal-zone files for a throttle signal
// every 10s. Absence of any thermal zone is not an error: throttling is
// simply reported false.
type ThermalCollector struct {
	log zerolog.Logger

	mu          sync.RWMutex
	throttling  bool
}

// NewThermalCollector constructs a ThermalCollector.
func NewThermalCollector(log zerolog.Logger) *ThermalCollector {
	return &ThermalCollector{log: log.With().Str("collector", "thermal").Logger()}
}

// Run samples on a 10s ticker until ctx is cancelled.
func (c *ThermalCollector) Run(ctx context.Context) error {
	c.sample()
	ticker := time.NewTicker(thermalInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.sample()
		}
	}
}

func (c *ThermalCollector) sample() {
	zones, err := filepath.Glob("/sys/class/thermal/thermal_zone*/temp")
	if err != nil || len(zones) == 0 {
		return
	}

	throttling := false
	for _, zone := range zones {
		data, err := os.ReadFile(zone)
		if err != nil {
			continue
		}
		milliC, err := strconv.Atoi(strings.TrimSpace(string(data)))
		if err != nil {
			continue
		}
		if milliC >= thermalThrottleThresholdMilliC {
			throttling = true
			break
		}
	}

	c.mu.Lock()
	c.throttling = throttling
	c.mu.Unlock()
}

// ApplyTo writes the cached throttle flag into the given system metrics.
func (c *ThermalCollector) ApplyTo(sys *protocol.SystemMetrics) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sys.ThermalThrottling = c.throttling
}

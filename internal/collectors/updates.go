package collectors

import (
	"bufio"
	"bytes"
	"context"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/VuStudio-Labs/VuOs-WATCH-DOG/internal/protocol"
)

const updatesInterval = 5 * time.Minute

// UpdatesCollector counts pending OS package updates every 5 minutes by
// shelling out to the platform's package manager, the same idiom the
// teacher uses for nix/git status probes.
type UpdatesCollector struct {
	log zerolog.Logger

	mu    sync.RWMutex
	count int
}

// NewUpdatesCollector constructs an UpdatesCollector.
func NewUpdatesCollector(log zerolog.Logger) *UpdatesCollector {
	return &UpdatesCollector{log: log.With().Str("collector", "updates").Logger()}
}

// Run samples on a 5-minute ticker until ctx is cancelled.
func (c *UpdatesCollector) Run(ctx context.Context) error {
	c.sample(ctx)
	ticker := time.NewTicker(updatesInterval)
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

func (c *UpdatesCollector) sample(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	count, err := probePendingUpdates(ctx)
	if err != nil {
		c.log.Debug().Err(err).Msg("pending updates probe failed, keeping cached value")
		return
	}

	c.mu.Lock()
	c.count = count
	c.mu.Unlock()
}

func probePendingUpdates(ctx context.Context) (int, error) {
	if runtime.GOOS == "linux" {
		if _, err := exec.LookPath("apt"); err == nil {
			return countLines(exec.CommandContext(ctx, "apt", "list", "--upgradable").Output())
		}
		if _, err := exec.LookPath("dnf"); err == nil {
			return countLines(exec.CommandContext(ctx, "dnf", "check-update", "-q").Output())
		}
	}
	return 0, nil
}

func countLines(out []byte, err error) (int, error) {
	if err != nil {
		// apt/dnf exit non-zero purely to signal "updates available"; still
		// count whatever output they produced.
		if out == nil {
			return 0, err
		}
	}
	scanner := bufio.NewScanner(bytes.NewReader(out))
	n := 0
	for scanner.Scan() {
		n++
	}
	if n > 0 {
		n-- // drop the header/"Listing..." line
	}
	if n < 0 {
		n = 0
	}
	return n, nil
}

// ApplyTo writes the cached pending-update count into the given system metrics.
func (c *UpdatesCollector) ApplyTo(sys *protocol.SystemMetrics) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sys.PendingUpdateCount = c.count
}

package collectors

import (
	"bufio"
	"bytes"
	"context"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/VuStudio-Labs/VuOs-WATCH-DOG/internal/protocol"
)

const eventLogInterval = 60 * time.Second

// EventLogCollector tails the platform system event log for a recent-error
// summary every 60s.
type EventLogCollector struct {
	log zerolog.Logger

	mu      sync.RWMutex
	summary protocol.EventLogSummary
}

// NewEventLogCollector constructs an EventLogCollector.
func NewEventLogCollector(log zerolog.Logger) *EventLogCollector {
	return &EventLogCollector{log: log.With().Str("collector", "event_log").Logger()}
}

// Run samples on a 60s ticker until ctx is cancelled.
func (c *EventLogCollector) Run(ctx context.Context) error {
	c.sample(ctx)
	ticker := time.NewTicker(eventLogInterval)
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

func (c *EventLogCollector) sample(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, err := exec.LookPath("journalctl"); err != nil {
		return
	}

	out, err := exec.CommandContext(ctx, "journalctl", "-p", "err", "--since", "-1h", "--no-pager", "-q").Output()
	if err != nil {
		c.log.Debug().Err(err).Msg("journalctl probe failed, keeping cached value")
		return
	}

	lines := splitNonEmpty(out)
	summary := protocol.EventLogSummary{RecentCount: len(lines)}
	if len(lines) > 0 {
		summary.LastMessage = lines[len(lines)-1]
		summary.LastTimeMs = time.Now().UnixMilli()
	}

	c.mu.Lock()
	c.summary = summary
	c.mu.Unlock()
}

func splitNonEmpty(out []byte) []string {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	var lines []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// ApplyTo writes the cached event-log summary into the given system metrics.
func (c *EventLogCollector) ApplyTo(sys *protocol.SystemMetrics) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sys.EventLog = c.summary
}

package collectors

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/VuStudio-Labs/VuOs-WATCH-DOG/internal/protocol"
)

const (
	internetProbeInterval = 10 * time.Second
	localProbeInterval    = 3 * time.Second
	internetProbeTimeout  = 5 * time.Second
	localProbeTimeout     = 2 * time.Second
)

// NetworkCollector probes internet reachability (10s, with round-trip
// latency) and local-server reachability plus connected-peer count (3s).
type NetworkCollector struct {
	log              zerolog.Logger
	internetProbeURL string
	localProbeURL    string
	httpClient       *http.Client

	mu                   sync.RWMutex
	internetReachable    bool
	latencyMs            *int64
	localServerReachable bool
	peerCount            int
}

// NewNetworkCollector constructs a NetworkCollector targeting the given probe URLs.
func NewNetworkCollector(log zerolog.Logger, internetProbeURL, localProbeURL string) *NetworkCollector {
	return &NetworkCollector{
		log:              log.With().Str("collector", "network").Logger(),
		internetProbeURL: internetProbeURL,
		localProbeURL:    localProbeURL,
		httpClient:       &http.Client{},
	}
}

// RunInternetProbe samples internet reachability on a 10s ticker.
func (c *NetworkCollector) RunInternetProbe(ctx context.Context) error {
	c.sampleInternet(ctx)
	ticker := time.NewTicker(internetProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.sampleInternet(ctx)
		}
	}
}

func (c *NetworkCollector) sampleInternet(ctx context.Context) {
	if c.internetProbeURL == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, internetProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.internetProbeURL, nil)
	if err != nil {
		return
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	latency := time.Since(start).Milliseconds()
	if resp != nil {
		defer resp.Body.Close()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil || resp.StatusCode >= 500 {
		c.internetReachable = false
		c.latencyMs = nil
		return
	}
	c.internetReachable = true
	c.latencyMs = &latency
}

// RunLocalProbe samples local-server reachability and peer count on a 3s ticker.
func (c *NetworkCollector) RunLocalProbe(ctx context.Context) error {
	c.sampleLocal(ctx)
	ticker := time.NewTicker(localProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.sampleLocal(ctx)
		}
	}
}

func (c *NetworkCollector) sampleLocal(ctx context.Context) {
	if c.localProbeURL == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, localProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.localProbeURL, nil)
	if err != nil {
		return
	}

	resp, err := c.httpClient.Do(req)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.localServerReachable = false
		c.peerCount = 0
		return
	}
	defer resp.Body.Close()

	var peers []json.RawMessage
	_ = json.NewDecoder(resp.Body).Decode(&peers)

	c.localServerReachable = resp.StatusCode < 400
	c.peerCount = len(peers)
}

// ApplyTo writes the cached network sample into the given telemetry network metrics.
func (c *NetworkCollector) ApplyTo(net *protocol.NetworkMetrics) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	net.InternetReachable = c.internetReachable
	net.LatencyMs = c.latencyMs
	net.LocalServerReachable = c.localServerReachable
	net.ConnectedPeerCount = c.peerCount
}

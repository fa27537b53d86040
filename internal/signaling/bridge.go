package signaling

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/VuStudio-Labs/VuOs-WATCH-DOG/internal/broker"
	"github.com/VuStudio-Labs/VuOs-WATCH-DOG/internal/config"
	"github.com/VuStudio-Labs/VuOs-WATCH-DOG/internal/protocol"
)

// ViewerState is a node in the per-viewer signaling state machine (spec 4.7).
type ViewerState int

const (
	StateAwaitingOffer ViewerState = iota
	StateSentOffer
	StateIcePolling
	StateAnswerApplied
	StateTerminated
)

const (
	joinDebounce         = 2 * time.Second
	offerAttempts        = 3
	offerAttemptWait     = 500 * time.Millisecond
	offerAttemptDeadline = 2 * time.Second
	icePollInterval      = 150 * time.Millisecond
	icePollCap           = 30 * time.Second
)

// ViewerConnection is one viewer's signaling session, grounded on the
// mutex-guarded per-session map shape of the corpus's remote-desktop
// SessionManager/Session pair.
type ViewerConnection struct {
	ID       string
	joinedAt time.Time

	mu                sync.Mutex
	state             ViewerState
	answered          bool
	iceCandidatesSent map[string]bool

	cleanupOnce sync.Once
	stopPolling chan struct{}
}

// Publisher is the subset of the broker client the bridge needs to emit
// signaling messages.
type Publisher interface {
	Publish(topic string, payload any, qos byte, retain bool)
	PublishRaw(topic string, data []byte, qos byte, retain bool)
}

// engineAPI is the media engine's control surface the bridge drives. It is
// satisfied by *EngineClient; tests substitute a fake.
type engineAPI interface {
	CreateOffer(ctx context.Context, viewerID string) (protocol.SDPDescription, error)
	SetAnswer(ctx context.Context, viewerID string, answer protocol.SDPDescription) error
	GetICECandidates(ctx context.Context, viewerID string) ([]protocol.ICECandidate, error)
	AddICECandidate(ctx context.Context, viewerID string, candidate protocol.ICECandidate) error
	Hangup(ctx context.Context, viewerID string) error
}

// Bridge converts a single local WebRTC source into N independent viewer
// sessions, shuttling signaling over the message bus (spec 4.7).
type Bridge struct {
	cfg     *config.Config
	log     zerolog.Logger
	engine  *EngineSupervisor
	publish Publisher
	topics  broker.Topics

	mu           sync.Mutex
	publisherID  string
	connected    bool
	engineClient engineAPI
	viewers      map[string]*ViewerConnection
	lastJoin     map[string]time.Time
}

// NewBridge builds a Bridge bound to the engine supervisor and broker publisher.
func NewBridge(cfg *config.Config, log zerolog.Logger, engine *EngineSupervisor, publish Publisher, topics broker.Topics) *Bridge {
	return &Bridge{
		cfg:      cfg,
		log:      log.With().Str("component", "signaling.bridge").Logger(),
		engine:   engine,
		publish:  publish,
		topics:   topics,
		viewers:  make(map[string]*ViewerConnection),
		lastJoin: make(map[string]time.Time),
	}
}

// PublisherID returns this bridge instance's identity, the value it stamps
// into the From field of every signaling message it publishes. Callers use
// it to recognize and drop their own messages echoed back by the broker.
func (b *Bridge) PublisherID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.publisherID
}

// SetTopics rebinds the broker topic helper, used once the orchestrator
// knows the wall id (the bridge is constructed before the broker connects).
func (b *Bridge) SetTopics(topics broker.Topics) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topics = topics
}

// Start implements the command.StreamController Start hook: it launches the
// media engine, then opens the bridge for viewers.
func (b *Bridge) Start(ctx context.Context, monitor int, quality protocol.StreamQuality) error {
	if err := b.engine.Start(ctx, monitor, quality); err != nil {
		return err
	}
	return b.open(ctx)
}

// open requires the engine to already be running, records a publisher id,
// and publishes the retained ready announcement (spec 4.7 "Bridge lifecycle").
func (b *Bridge) open(ctx context.Context) error {
	state := b.engine.State()

	b.mu.Lock()
	b.publisherID = uuid.NewString()
	b.engineClient = NewEngineClient(state.Port, fmt.Sprintf("screen://%d", state.Monitor))
	b.connected = true
	b.mu.Unlock()

	iceServers := DiscoverICEServers(ctx, b.cfg, b.log)
	b.publish.Publish(b.topics.WebRTCReady(), protocol.ReadyPayload{
		Type:       "ready",
		From:       b.publisherID,
		WallID:     b.cfg.WallID,
		ICEServers: iceServers,
	}, broker.QoSAtLeastOnce, true)
	return nil
}

// Stop tears down every viewer, clears the retained ready announcement, and
// stops the media engine.
func (b *Bridge) Stop(ctx context.Context) error {
	b.mu.Lock()
	viewers := make([]*ViewerConnection, 0, len(b.viewers))
	for _, v := range b.viewers {
		viewers = append(viewers, v)
	}
	b.viewers = make(map[string]*ViewerConnection)
	b.connected = false
	client := b.engineClient
	b.mu.Unlock()

	for _, v := range viewers {
		b.teardown(ctx, v, client)
	}

	b.publish.PublishRaw(b.topics.WebRTCReady(), nil, broker.QoSAtLeastOnce, true)
	return b.engine.Stop(ctx)
}

// SetQuality implements command.StreamController: spec's documented
// destructive approach, restarting the engine at the new quality.
func (b *Bridge) SetQuality(ctx context.Context, quality protocol.StreamQuality) error {
	state := b.engine.State()
	if err := b.Stop(ctx); err != nil {
		return err
	}
	return b.Start(ctx, state.Monitor, quality)
}

// HandleJoin implements the Join transition: debounce, clean up any prior
// connection for the viewer, fetch an offer, and start ICE polling.
func (b *Bridge) HandleJoin(ctx context.Context, viewerID string) {
	b.mu.Lock()
	if last, ok := b.lastJoin[viewerID]; ok && time.Since(last) < joinDebounce {
		b.mu.Unlock()
		return
	}
	b.lastJoin[viewerID] = time.Now()
	prior := b.viewers[viewerID]
	client := b.engineClient
	connected := b.connected
	b.mu.Unlock()

	if !connected || client == nil {
		return
	}
	if prior != nil {
		b.teardown(ctx, prior, client)
	}

	offer, err := b.fetchOfferWithRetry(ctx, client, viewerID)
	if err != nil {
		b.log.Warn().Err(err).Str("viewer", viewerID).Msg("failed to obtain offer")
		return
	}

	viewer := &ViewerConnection{
		ID:                viewerID,
		joinedAt:          time.Now(),
		state:             StateSentOffer,
		iceCandidatesSent: make(map[string]bool),
		stopPolling:       make(chan struct{}),
	}

	b.mu.Lock()
	b.viewers[viewerID] = viewer
	b.mu.Unlock()

	iceServers := DiscoverICEServers(ctx, b.cfg, b.log)
	b.publish.Publish(b.topics.WebRTCOffer(), protocol.OfferPayload{
		Type:        "offer",
		Description: offer,
		ICEServers:  iceServers,
		To:          viewerID,
		From:        b.publisherID,
	}, broker.QoSAtLeastOnce, false)

	go b.pollICE(ctx, viewer, client)
}

func (b *Bridge) fetchOfferWithRetry(ctx context.Context, client engineAPI, viewerID string) (protocol.SDPDescription, error) {
	var lastErr error
	for attempt := 0; attempt < offerAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, offerAttemptDeadline)
		offer, err := client.CreateOffer(attemptCtx, viewerID)
		cancel()
		if err == nil {
			return offer, nil
		}
		lastErr = err
		time.Sleep(offerAttemptWait)
	}
	return protocol.SDPDescription{}, lastErr
}

// HandleAnswer forwards the first answer for a viewer to the media engine;
// later answers for the same viewer are discarded.
func (b *Bridge) HandleAnswer(ctx context.Context, viewerID string, answer protocol.SDPDescription) {
	b.mu.Lock()
	viewer := b.viewers[viewerID]
	client := b.engineClient
	b.mu.Unlock()
	if viewer == nil || client == nil {
		return
	}

	viewer.mu.Lock()
	if viewer.answered {
		viewer.mu.Unlock()
		return
	}
	viewer.answered = true
	viewer.state = StateAnswerApplied
	viewer.mu.Unlock()

	if err := client.SetAnswer(ctx, viewerID, answer); err != nil {
		b.log.Warn().Err(err).Str("viewer", viewerID).Msg("failed to apply answer")
	}
}

// HandleICE forwards an inbound candidate from a viewer to the media engine.
func (b *Bridge) HandleICE(ctx context.Context, viewerID string, candidate protocol.ICECandidate) {
	b.mu.Lock()
	client := b.engineClient
	b.mu.Unlock()
	if client == nil {
		return
	}
	if err := client.AddICECandidate(ctx, viewerID, candidate); err != nil {
		b.log.Warn().Err(err).Str("viewer", viewerID).Msg("failed to forward remote ICE candidate")
	}
}

// HandleLeave tears down a viewer's connection.
func (b *Bridge) HandleLeave(ctx context.Context, viewerID string) {
	b.mu.Lock()
	viewer := b.viewers[viewerID]
	client := b.engineClient
	delete(b.viewers, viewerID)
	b.mu.Unlock()
	if viewer != nil {
		b.teardown(ctx, viewer, client)
	}
}

func (b *Bridge) pollICE(ctx context.Context, viewer *ViewerConnection, client engineAPI) {
	viewer.mu.Lock()
	viewer.state = StateIcePolling
	viewer.mu.Unlock()

	ticker := time.NewTicker(icePollInterval)
	defer ticker.Stop()
	cutoff := time.After(icePollCap)

	for {
		select {
		case <-viewer.stopPolling:
			return
		case <-cutoff:
			b.log.Debug().Str("viewer", viewer.ID).Msg("ICE polling cutoff reached")
			return
		case <-ticker.C:
			candidates, err := client.GetICECandidates(ctx, viewer.ID)
			if err != nil {
				continue
			}
			for _, c := range candidates {
				key := c.Candidate
				viewer.mu.Lock()
				sent := viewer.iceCandidatesSent[key]
				if !sent {
					viewer.iceCandidatesSent[key] = true
				}
				viewer.mu.Unlock()
				if sent {
					continue
				}
				b.publish.Publish(b.topics.WebRTCIce(), protocol.CandidatePayload{
					Candidate: c,
					To:        viewer.ID,
					From:      b.publisherID,
				}, broker.QoSAtLeastOnce, false)
			}
		}
	}
}

func (b *Bridge) teardown(ctx context.Context, viewer *ViewerConnection, client engineAPI) {
	viewer.cleanupOnce.Do(func() {
		close(viewer.stopPolling)
		viewer.mu.Lock()
		viewer.state = StateTerminated
		viewer.mu.Unlock()
		if client != nil {
			if err := client.Hangup(ctx, viewer.ID); err != nil {
				b.log.Warn().Err(err).Str("viewer", viewer.ID).Msg("hangup call failed")
			}
		}
	})
}

// viewerCount returns the number of active viewer sessions. Connected-peer
// count in telemetry comes from the local-server probe's JSON body
// (internal/collectors/network.go), not from this bridge; this accessor is
// for tests and internal introspection only.
func (b *Bridge) viewerCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.viewers)
}

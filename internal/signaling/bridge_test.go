package signaling

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VuStudio-Labs/VuOs-WATCH-DOG/internal/broker"
	"github.com/VuStudio-Labs/VuOs-WATCH-DOG/internal/config"
	"github.com/VuStudio-Labs/VuOs-WATCH-DOG/internal/protocol"
)

type fakePublisher struct {
	mu        sync.Mutex
	published []struct {
		topic string
		qos   byte
	}
}

func (f *fakePublisher) Publish(topic string, _ any, qos byte, _ bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, struct {
		topic string
		qos   byte
	}{topic, qos})
}

func (f *fakePublisher) PublishRaw(topic string, _ []byte, qos byte, _ bool) {
	f.Publish(topic, nil, qos, false)
}

func (f *fakePublisher) topics() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.published))
	for i, p := range f.published {
		out[i] = p.topic
	}
	return out
}

type fakeEngine struct {
	mu         sync.Mutex
	offers     map[string]int
	answers    map[string]protocol.SDPDescription
	candidates map[string][]protocol.ICECandidate
	hungup     map[string]bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		offers:     make(map[string]int),
		answers:    make(map[string]protocol.SDPDescription),
		candidates: make(map[string][]protocol.ICECandidate),
		hungup:     make(map[string]bool),
	}
}

func (e *fakeEngine) CreateOffer(_ context.Context, viewerID string) (protocol.SDPDescription, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.offers[viewerID]++
	return protocol.SDPDescription{Type: "offer", SDP: "v=0 " + viewerID}, nil
}

func (e *fakeEngine) SetAnswer(_ context.Context, viewerID string, answer protocol.SDPDescription) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.answers[viewerID] = answer
	return nil
}

func (e *fakeEngine) GetICECandidates(_ context.Context, viewerID string) ([]protocol.ICECandidate, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.candidates[viewerID], nil
}

func (e *fakeEngine) AddICECandidate(_ context.Context, viewerID string, candidate protocol.ICECandidate) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.candidates[viewerID] = append(e.candidates[viewerID], candidate)
	return nil
}

func (e *fakeEngine) Hangup(_ context.Context, viewerID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hungup[viewerID] = true
	return nil
}

func newOpenBridge(t *testing.T, engine *fakeEngine, pub *fakePublisher) *Bridge {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.WallID = "wall-1"
	b := NewBridge(cfg, zeroLogger(), NewEngineSupervisor(cfg, zeroLogger()), pub, broker.NewTopics(cfg.WallID))
	b.mu.Lock()
	b.publisherID = "pub-1"
	b.connected = true
	b.engineClient = engine
	b.mu.Unlock()
	return b
}

func TestBridge_HandleJoinSendsOfferAndPolls(t *testing.T) {
	engine := newFakeEngine()
	pub := &fakePublisher{}
	b := newOpenBridge(t, engine, pub)

	b.HandleJoin(context.Background(), "viewer-1")

	engine.mu.Lock()
	calls := engine.offers["viewer-1"]
	engine.mu.Unlock()
	assert.Equal(t, 1, calls)
	assert.Contains(t, pub.topics(), b.topics.WebRTCOffer())

	b.mu.Lock()
	viewer := b.viewers["viewer-1"]
	b.mu.Unlock()
	require.NotNil(t, viewer)
	viewer.cleanupOnce.Do(func() { close(viewer.stopPolling) })
}

func TestBridge_HandleJoinDebouncesRapidRejoin(t *testing.T) {
	engine := newFakeEngine()
	pub := &fakePublisher{}
	b := newOpenBridge(t, engine, pub)

	b.HandleJoin(context.Background(), "viewer-1")
	b.HandleJoin(context.Background(), "viewer-1")

	engine.mu.Lock()
	calls := engine.offers["viewer-1"]
	engine.mu.Unlock()
	assert.Equal(t, 1, calls, "second join within the debounce window must not refetch an offer")

	b.mu.Lock()
	viewer := b.viewers["viewer-1"]
	b.mu.Unlock()
	viewer.cleanupOnce.Do(func() { close(viewer.stopPolling) })
}

func TestBridge_HandleAnswerAppliesOnceThenDiscardsDuplicates(t *testing.T) {
	engine := newFakeEngine()
	pub := &fakePublisher{}
	b := newOpenBridge(t, engine, pub)

	b.mu.Lock()
	b.viewers["viewer-2"] = &ViewerConnection{
		ID: "viewer-2", state: StateSentOffer,
		iceCandidatesSent: make(map[string]bool), stopPolling: make(chan struct{}),
	}
	b.mu.Unlock()

	b.HandleAnswer(context.Background(), "viewer-2", protocol.SDPDescription{Type: "answer", SDP: "first"})
	b.HandleAnswer(context.Background(), "viewer-2", protocol.SDPDescription{Type: "answer", SDP: "second"})

	engine.mu.Lock()
	applied := engine.answers["viewer-2"]
	engine.mu.Unlock()
	assert.Equal(t, "first", applied.SDP, "only the first answer for a viewer is forwarded")
}

func TestBridge_HandleICEForwardsToEngine(t *testing.T) {
	engine := newFakeEngine()
	pub := &fakePublisher{}
	b := newOpenBridge(t, engine, pub)

	b.HandleICE(context.Background(), "viewer-3", protocol.ICECandidate{Candidate: "candidate:xyz"})

	engine.mu.Lock()
	defer engine.mu.Unlock()
	require.Len(t, engine.candidates["viewer-3"], 1)
	assert.Equal(t, "candidate:xyz", engine.candidates["viewer-3"][0].Candidate)
}

func TestBridge_HandleLeaveTearsDownAndHangsUp(t *testing.T) {
	engine := newFakeEngine()
	pub := &fakePublisher{}
	b := newOpenBridge(t, engine, pub)

	b.mu.Lock()
	b.viewers["viewer-4"] = &ViewerConnection{
		ID: "viewer-4", state: StateAnswerApplied,
		iceCandidatesSent: make(map[string]bool), stopPolling: make(chan struct{}),
	}
	b.mu.Unlock()

	b.HandleLeave(context.Background(), "viewer-4")

	engine.mu.Lock()
	defer engine.mu.Unlock()
	assert.True(t, engine.hungup["viewer-4"])
	assert.Equal(t, 0, b.viewerCount())
}

func TestBridge_SetTopicsRebinds(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.WallID = "wall-a"
	b := NewBridge(cfg, zeroLogger(), NewEngineSupervisor(cfg, zeroLogger()), &fakePublisher{}, broker.NewTopics("wall-a"))

	b.SetTopics(broker.NewTopics("wall-b"))

	b.mu.Lock()
	defer b.mu.Unlock()
	assert.Equal(t, broker.NewTopics("wall-b").Telemetry(), b.topics.Telemetry())
}

func zeroLogger() zerolog.Logger { return zerolog.New(io.Discard) }

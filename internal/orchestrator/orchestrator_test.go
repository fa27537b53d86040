package orchestrator

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VuStudio-Labs/VuOs-WATCH-DOG/internal/broker"
	"github.com/VuStudio-Labs/VuOs-WATCH-DOG/internal/config"
	"github.com/VuStudio-Labs/VuOs-WATCH-DOG/internal/lease"
	"github.com/VuStudio-Labs/VuOs-WATCH-DOG/internal/protocol"
)

type fakeObserver struct {
	mu        sync.Mutex
	acks      []protocol.AckEnvelope
	events    []protocol.EventRecord
	telemetry []protocol.TelemetryRecord
	health    []protocol.HealthPayload
}

func (f *fakeObserver) BroadcastAck(_ string, ack protocol.AckEnvelope) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks = append(f.acks, ack)
}

func (f *fakeObserver) BroadcastEvent(event protocol.EventRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeObserver) BroadcastTelemetry(record protocol.TelemetryRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.telemetry = append(f.telemetry, record)
}

func (f *fakeObserver) BroadcastHealth(payload protocol.HealthPayload) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.health = append(f.health, payload)
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.WallID = "wall-1"
	cfg.Brokers = []config.BrokerConfig{{ID: "primary", Label: "Primary", ServerURL: "tcp://127.0.0.1:1883"}}
	cfg.ActiveBroker = "primary"
	cfg.MediaEngineBin = "/bin/true"
	return cfg
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

// New must fully wire the standard command set without touching the
// network or spawning the media engine subprocess.
func TestNew_RegistersStandardCommandsAndDispatchesLocally(t *testing.T) {
	observer := &fakeObserver{}
	o := New(testConfig(), testLogger(), observer)

	o.processor.Handle(context.Background(), protocol.CommandEnvelope{
		Schema:    protocol.SchemaCommand,
		Ts:        time.Now().UnixMilli(),
		TTLMs:     5000,
		CommandID: "c1",
		Type:      protocol.CommandRequestTelemetry,
	}, "client-1", false)

	observer.mu.Lock()
	defer observer.mu.Unlock()
	require.Len(t, observer.acks, 2)
	assert.Equal(t, protocol.AckReceived, observer.acks[0].Status)
	assert.Equal(t, protocol.AckApplied, observer.acks[1].Status)
	assert.Len(t, observer.telemetry, 1, "REQUEST_TELEMETRY must trigger an out-of-cadence publish")
}

// A lease-required command with no active lease is rejected, and never
// reaches the underlying process controller.
func TestNew_LeaseRequiredCommandRejectedWithoutLease(t *testing.T) {
	observer := &fakeObserver{}
	o := New(testConfig(), testLogger(), observer)

	o.processor.Handle(context.Background(), protocol.CommandEnvelope{
		Schema:    protocol.SchemaCommand,
		Ts:        time.Now().UnixMilli(),
		TTLMs:     5000,
		CommandID: "r1",
		Type:      protocol.CommandRestartVuos,
	}, "ops-42", false)

	observer.mu.Lock()
	defer observer.mu.Unlock()
	require.Len(t, observer.acks, 1)
	assert.Equal(t, protocol.AckRejected, observer.acks[0].Status)
}

// QUIT_WATCHDOG, allowed via local bypass, must flip the shutting-down
// flag that mode derivation reads.
func TestNew_QuitWatchdogLocalBypassShutsDown(t *testing.T) {
	observer := &fakeObserver{}
	o := New(testConfig(), testLogger(), observer)

	o.processor.Originate(context.Background(), protocol.CommandQuitWatchdog, nil)

	assert.True(t, o.shuttingDown.Load())
}

// publishTick must run end to end against an unconnected broker client: the
// broker's own Publish is a silent no-op while disconnected, so no panic or
// network access should occur, and the observer still receives snapshots.
func TestPublishTick_SafeWithoutBrokerConnection(t *testing.T) {
	observer := &fakeObserver{}
	o := New(testConfig(), testLogger(), observer)

	mode := o.publishTick(time.Now())

	assert.Equal(t, protocol.ModeStarting, mode)
	observer.mu.Lock()
	defer observer.mu.Unlock()
	require.Len(t, observer.telemetry, 1)
	require.Len(t, observer.health, 1)
	assert.Equal(t, protocol.ModeStarting, observer.health[0].Mode)
}

// dispatch must route a command-topic message to the processor using the
// client id extracted from the topic, and a lease message to the lease
// manager, without panicking when the broker has never connected.
func TestDispatch_RoutesCommandAndLeaseTopics(t *testing.T) {
	observer := &fakeObserver{}
	o := New(testConfig(), testLogger(), observer)
	topics := o.broker.Topics()

	env := protocol.CommandEnvelope{
		Schema: protocol.SchemaCommand, Ts: time.Now().UnixMilli(), TTLMs: 5000,
		CommandID: "c1", Type: protocol.CommandRequestConfig,
	}
	payload, err := json.Marshal(env)
	require.NoError(t, err)

	o.dispatch(context.Background(), broker.InboundMessage{Topic: topics.Command("client-9"), Payload: payload})

	observer.mu.Lock()
	acks := append([]protocol.AckEnvelope(nil), observer.acks...)
	observer.mu.Unlock()
	require.Len(t, acks, 2)
	assert.Equal(t, protocol.AckApplied, acks[1].Status)

	leasePayload, err := json.Marshal(protocol.LeasePayload{
		Schema: protocol.SchemaLease, Owner: "ops-1", ExpiresTs: time.Now().Add(time.Minute).UnixMilli(),
	})
	require.NoError(t, err)
	o.dispatch(context.Background(), broker.InboundMessage{Topic: topics.Lease(), Payload: leasePayload})

	decision := o.leases.Authorize("ops-1", false, lease.CommandPolicy{RequiresLease: true}, time.Now())
	assert.True(t, decision.Allowed)
}

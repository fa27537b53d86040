package command

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VuStudio-Labs/VuOs-WATCH-DOG/internal/lease"
	"github.com/VuStudio-Labs/VuOs-WATCH-DOG/internal/protocol"
)

type fakeSinks struct {
	mu     sync.Mutex
	acks   []protocol.AckEnvelope
	events []string
}

func (f *fakeSinks) ack(_ string, ack protocol.AckEnvelope) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks = append(f.acks, ack)
}

func (f *fakeSinks) event(eventType string, _ protocol.Severity, _ map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, eventType)
}

func (f *fakeSinks) statuses() []protocol.AckStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]protocol.AckStatus, len(f.acks))
	for i, a := range f.acks {
		out[i] = a.Status
	}
	return out
}

func newTestProcessor() (*Processor, *Registry, *lease.Manager, *fakeSinks) {
	reg := NewRegistry()
	leases := lease.NewManager()
	sinks := &fakeSinks{}
	p := New(testLogger(), reg, leases, sinks.ack, sinks.event)
	return p, reg, leases, sinks
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func TestProcessor_NoLeaseRequiredAlwaysApplies(t *testing.T) {
	p, reg, _, sinks := newTestProcessor()
	calls := 0
	reg.Add(Definition{Type: protocol.CommandRequestTelemetry, Handler: func(ctx context.Context, args map[string]any) (Result, error) {
		calls++
		return Result{Message: "ok"}, nil
	}})

	p.Handle(context.Background(), protocol.CommandEnvelope{
		CommandID: "c1", Ts: time.Now().UnixMilli(), TTLMs: 5000, Type: protocol.CommandRequestTelemetry,
	}, "client-1", false)

	assert.Equal(t, 1, calls)
	assert.Equal(t, []protocol.AckStatus{protocol.AckReceived, protocol.AckApplied}, sinks.statuses())
}

func TestProcessor_UnknownTypeRejected(t *testing.T) {
	p, _, _, sinks := newTestProcessor()
	p.Handle(context.Background(), protocol.CommandEnvelope{
		CommandID: "c1", Ts: time.Now().UnixMilli(), TTLMs: 5000, Type: "NOT_A_COMMAND",
	}, "client-1", false)

	require.Len(t, sinks.statuses(), 1)
	assert.Equal(t, protocol.AckRejected, sinks.acks[0].Status)
}

func TestProcessor_ExpiredTTL(t *testing.T) {
	p, reg, _, sinks := newTestProcessor()
	reg.Add(Definition{Type: protocol.CommandRequestTelemetry, Handler: func(ctx context.Context, args map[string]any) (Result, error) {
		return Result{}, nil
	}})

	p.Handle(context.Background(), protocol.CommandEnvelope{
		CommandID: "c1", Ts: time.Now().Add(-time.Minute).UnixMilli(), TTLMs: 0, Type: protocol.CommandRequestTelemetry,
	}, "client-1", false)

	require.Len(t, sinks.statuses(), 1)
	assert.Equal(t, protocol.AckExpired, sinks.acks[0].Status)
}

func TestProcessor_LeaseDenialThenLocalOverride(t *testing.T) {
	p, reg, _, sinks := newTestProcessor()
	calls := 0
	reg.Add(Definition{Type: protocol.CommandRestartVuos, RequiresLease: true, LocalBypass: true,
		Handler: func(ctx context.Context, args map[string]any) (Result, error) {
			calls++
			return Result{Message: "restarted"}, nil
		}})

	p.Handle(context.Background(), protocol.CommandEnvelope{
		CommandID: "r1", Ts: time.Now().UnixMilli(), TTLMs: 5000, Type: protocol.CommandRestartVuos,
	}, "ops-42", false)
	assert.Equal(t, []protocol.AckStatus{protocol.AckRejected}, sinks.statuses())
	assert.Equal(t, "No active lease", sinks.acks[0].Message)
	assert.Equal(t, 0, calls)

	sinks.acks = nil
	p.Originate(context.Background(), protocol.CommandRestartVuos, nil)

	assert.Equal(t, 1, calls)
	assert.Contains(t, sinks.events, "LOCAL_OVERRIDE_USED")
	assert.Equal(t, []protocol.AckStatus{protocol.AckReceived, protocol.AckApplied}, sinks.statuses())
}

func TestProcessor_IdempotentReplayDoesNotInvokeHandlerAgain(t *testing.T) {
	p, reg, _, sinks := newTestProcessor()
	calls := 0
	reg.Add(Definition{Type: protocol.CommandRequestTelemetry, Handler: func(ctx context.Context, args map[string]any) (Result, error) {
		calls++
		return Result{Message: "ok"}, nil
	}})

	env := protocol.CommandEnvelope{CommandID: "abc", Ts: time.Now().UnixMilli(), TTLMs: 15000, Type: protocol.CommandRequestTelemetry}
	p.Handle(context.Background(), env, "client-1", false)
	p.Handle(context.Background(), env, "client-1", false)

	assert.Equal(t, 1, calls, "handler must run exactly once across the duplicate pair")
	statuses := sinks.statuses()
	applied := 0
	for _, s := range statuses {
		if s == protocol.AckApplied {
			applied++
		}
	}
	assert.Equal(t, 2, applied, "both deliveries get an APPLIED ack")
}

func TestProcessor_HandlerFailureNotCached(t *testing.T) {
	p, reg, _, sinks := newTestProcessor()
	calls := 0
	reg.Add(Definition{Type: protocol.CommandRequestTelemetry, Handler: func(ctx context.Context, args map[string]any) (Result, error) {
		calls++
		return Result{}, assertError{}
	}})

	env := protocol.CommandEnvelope{CommandID: "fail-1", Ts: time.Now().UnixMilli(), TTLMs: 15000, Type: protocol.CommandRequestTelemetry}
	p.Handle(context.Background(), env, "client-1", false)
	p.Handle(context.Background(), env, "client-1", false)

	assert.Equal(t, 2, calls, "a failed command is not cached, so the retry re-invokes the handler")
}

type assertError struct{}

func (assertError) Error() string { return "handler failed" }

func TestIdempotencyStore_Sweep(t *testing.T) {
	s := newIdempotencyStore()
	now := time.Unix(0, 0)
	s.store("a", protocol.AckEnvelope{CommandID: "a"}, now)

	assert.Equal(t, 0, s.sweep(now.Add(30*time.Second-time.Millisecond)))
	assert.Equal(t, 1, s.sweep(now.Add(60*time.Second)))

	_, ok := s.lookup("a")
	assert.False(t, ok)
}

func TestLegacyShim_UnknownActionDropped(t *testing.T) {
	p, reg, _, sinks := newTestProcessor()
	calls := 0
	reg.Add(Definition{Type: protocol.CommandRestartVuos, Handler: func(ctx context.Context, args map[string]any) (Result, error) {
		calls++
		return Result{}, nil
	}})

	p.HandleLegacy(context.Background(), protocol.LegacyEnvelope{Action: "not-a-thing"})
	assert.Equal(t, 0, calls)
	assert.Empty(t, sinks.statuses())
}

func TestLegacyShim_TranslatesKnownAction(t *testing.T) {
	p, reg, leases, sinks := newTestProcessor()
	calls := 0
	reg.Add(Definition{Type: protocol.CommandRestartVuos, RequiresLease: true, LocalBypass: true,
		Handler: func(ctx context.Context, args map[string]any) (Result, error) {
			calls++
			return Result{}, nil
		}})
	leases.Update("legacy", time.Now().Add(time.Minute).UnixMilli(), time.Now())

	p.HandleLegacy(context.Background(), protocol.LegacyEnvelope{Action: "restart"})
	assert.Equal(t, 1, calls)
	assert.Equal(t, []protocol.AckStatus{protocol.AckReceived, protocol.AckApplied}, sinks.statuses())
}

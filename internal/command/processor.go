// Package command implements the inbound command pipeline: idempotency,
// TTL expiry, registry lookup, lease authorization, dispatch, and the
// RECEIVED/APPLIED/FAILED/REJECTED/EXPIRED ack lifecycle.
package command

import (
	"context"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/VuStudio-Labs/VuOs-WATCH-DOG/internal/lease"
	"github.com/VuStudio-Labs/VuOs-WATCH-DOG/internal/protocol"
)

const (
	localCommandTTLMs = 15_000
	localClientID     = "local-api"
	sweepInterval     = 30 * time.Second
)

// AckSink delivers an ack to its clientId-scoped topic and to any
// out-of-band observer (the local hub broadcast).
type AckSink func(clientID string, ack protocol.AckEnvelope)

// EventSink records a lifecycle event, shared with the event emitter.
type EventSink func(eventType string, severity protocol.Severity, details map[string]any)

// Processor is the single owned pipeline described in spec 4.6.
type Processor struct {
	log      zerolog.Logger
	registry *Registry
	leases   *lease.Manager
	idem     *idempotencyStore
	acks     AckSink
	events   EventSink

	localSeq int64
}

// New builds a Processor. registry must already hold every standard
// command definition before the first call to Handle.
func New(log zerolog.Logger, registry *Registry, leases *lease.Manager, acks AckSink, events EventSink) *Processor {
	return &Processor{
		log:      log.With().Str("component", "command").Logger(),
		registry: registry,
		leases:   leases,
		idem:     newIdempotencyStore(),
		acks:     acks,
		events:   events,
	}
}

// RunSweeper evicts idempotency entries every 30s until ctx is done.
func (p *Processor) RunSweeper(ctx context.Context) error {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n := p.idem.sweep(time.Now()); n > 0 {
				p.log.Debug().Int("evicted", n).Msg("swept expired idempotency entries")
			}
		}
	}
}

// Handle is the single entry point for every inbound command, regardless
// of origin (broker topic, legacy shim, or local API).
func (p *Processor) Handle(ctx context.Context, env protocol.CommandEnvelope, clientID string, isLocal bool) {
	now := time.Now()

	p.events(envelopeReceivedEvent, protocol.SeverityInfo, map[string]any{
		"type":      string(env.Type),
		"commandId": env.CommandID,
		"clientId":  clientID,
		"isLocal":   isLocal,
	})

	if cached, ok := p.idem.lookup(env.CommandID); ok {
		p.acks(clientID, cached)
		return
	}

	if env.Ts+env.TTLMs < now.UnixMilli() {
		p.acks(clientID, p.ack(env.CommandID, protocol.AckExpired, "", nil))
		return
	}

	def, ok := p.registry.Lookup(env.Type)
	if !ok {
		p.acks(clientID, p.ack(env.CommandID, protocol.AckRejected, "Unknown command", nil))
		return
	}

	decision := p.leases.Authorize(clientID, isLocal, lease.CommandPolicy{
		RequiresLease: def.RequiresLease,
		LocalBypass:   def.LocalBypass,
	}, now)
	if !decision.Allowed {
		reason := decision.Reason
		if reason != "" {
			reason = strings.ToUpper(reason[:1]) + reason[1:]
		}
		p.acks(clientID, p.ack(env.CommandID, protocol.AckRejected, reason, nil))
		return
	}
	if decision.LocalOverride {
		p.events("LOCAL_OVERRIDE_USED", protocol.SeverityWarn, map[string]any{
			"type":      string(env.Type),
			"commandId": env.CommandID,
		})
	}

	p.acks(clientID, p.ack(env.CommandID, protocol.AckReceived, "", nil))

	result, err := def.Handler(ctx, env.Args)
	if err != nil {
		p.acks(clientID, p.ack(env.CommandID, protocol.AckFailed, err.Error(), nil))
		return
	}

	applied := p.ack(env.CommandID, protocol.AckApplied, result.Message, result.Details)
	p.idem.store(env.CommandID, applied, now)
	p.acks(clientID, applied)
}

const envelopeReceivedEvent = "COMMAND_RECEIVED"

func (p *Processor) ack(commandID string, status protocol.AckStatus, message string, details map[string]any) protocol.AckEnvelope {
	return protocol.AckEnvelope{
		Schema:    protocol.SchemaAck,
		Ts:        time.Now().UnixMilli(),
		CommandID: commandID,
		Status:    status,
		Message:   message,
		Details:   details,
	}
}

// Originate constructs and dispatches a locally-sourced command per spec
// 4.6 "Local origination": synthetic commandId, 15s TTL, clientId
// "local-api", isLocal true.
func (p *Processor) Originate(ctx context.Context, cmdType protocol.CommandType, args map[string]any) {
	seq := atomic.AddInt64(&p.localSeq, 1)
	env := protocol.CommandEnvelope{
		Schema:    protocol.SchemaCommand,
		Ts:        time.Now().UnixMilli(),
		CommandID: "local-" + strconv.FormatInt(seq, 10) + "-" + uuid.NewString()[:8],
		TTLMs:     localCommandTTLMs,
		Type:      cmdType,
		Args:      args,
	}
	p.Handle(ctx, env, localClientID, true)
}

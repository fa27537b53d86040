// Package orchestrator wires every subsystem together: the 2s publish loop
// (telemetry, health, events, mode), inbound bus dispatch to the lease
// manager / command processor / legacy shim / signaling bridge, and the
// retained config republish. It is the single process-wide owner of the
// wiring between the mutable singletons described in spec 9 (idempotency
// store, lease record, signaling bridge state, streaming state) — each
// singleton still lives inside the subsystem that owns it.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/VuStudio-Labs/VuOs-WATCH-DOG/internal/broker"
	"github.com/VuStudio-Labs/VuOs-WATCH-DOG/internal/collectors"
	"github.com/VuStudio-Labs/VuOs-WATCH-DOG/internal/command"
	"github.com/VuStudio-Labs/VuOs-WATCH-DOG/internal/config"
	"github.com/VuStudio-Labs/VuOs-WATCH-DOG/internal/events"
	"github.com/VuStudio-Labs/VuOs-WATCH-DOG/internal/health"
	"github.com/VuStudio-Labs/VuOs-WATCH-DOG/internal/lease"
	"github.com/VuStudio-Labs/VuOs-WATCH-DOG/internal/protocol"
	"github.com/VuStudio-Labs/VuOs-WATCH-DOG/internal/signaling"
	"github.com/VuStudio-Labs/VuOs-WATCH-DOG/internal/telemetry"
)

const tickInterval = 2 * time.Second
const configPublishEvery = 30 // ticks, i.e. 60s at a 2s cadence

// LocalObserver is the out-of-band broadcast hook spec 4.6 calls "the
// dashboard-broadcast hook" — the HTTP/WebSocket dashboard itself is an
// external collaborator out of this system's scope (spec 1), so by default
// this is a no-op; a host process may supply one to fan events out locally.
type LocalObserver interface {
	BroadcastAck(clientID string, ack protocol.AckEnvelope)
	BroadcastEvent(event protocol.EventRecord)
	BroadcastTelemetry(record protocol.TelemetryRecord)
	BroadcastHealth(payload protocol.HealthPayload)
}

type noopObserver struct{}

func (noopObserver) BroadcastAck(string, protocol.AckEnvelope)   {}
func (noopObserver) BroadcastEvent(protocol.EventRecord)         {}
func (noopObserver) BroadcastTelemetry(protocol.TelemetryRecord) {}
func (noopObserver) BroadcastHealth(protocol.HealthPayload)      {}

// hubServer is implemented by internal/localhub.Hub. An observer that also
// serves HTTP rides the single-instance guard's listener instead of opening
// a second port: the bind in acquireSingleInstance is the actual guard, and
// Serve just answers on it.
type hubServer interface {
	Run(ctx context.Context)
	Serve(ln net.Listener) error
}

// Orchestrator wires collectors, the health engine, the event emitter, the
// lease manager, the command processor, the broker client, and the
// signaling bridge, and runs the 2s publish loop (spec 4.8).
type Orchestrator struct {
	cfg      *config.Config
	log      zerolog.Logger
	observer LocalObserver

	broker     *broker.Client
	collectors *collectors.Collectors
	assembler  *telemetry.Assembler
	healthEng  *health.Engine
	emitter    *events.Emitter
	leases     *lease.Manager
	registry   *command.Registry
	processor  *command.Processor
	engine     *signaling.EngineSupervisor
	bridge     *signaling.Bridge

	guard net.Listener

	shuttingDown atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New builds a fully-wired Orchestrator. Call Run to start it.
func New(cfg *config.Config, log zerolog.Logger, observer LocalObserver) *Orchestrator {
	if observer == nil {
		observer = noopObserver{}
	}

	o := &Orchestrator{
		cfg:        cfg,
		log:        log.With().Str("component", "orchestrator").Logger(),
		observer:   observer,
		collectors: collectors.New(cfg, log),
		healthEng:  health.NewEngine(time.Now()),
		leases:     lease.NewManager(),
		registry:   command.NewRegistry(),
		engine:     signaling.NewEngineSupervisor(cfg, log),
	}
	o.assembler = telemetry.NewAssembler(cfg.WallID, cfg.AgentVersion, o.collectors)
	o.emitter = events.NewEmitter(cfg.WallID, o.publishEvent)
	o.broker = broker.NewClient(cfg, log, o)
	o.bridge = signaling.NewBridge(cfg, log, o.engine, o.broker, broker.NewTopics(cfg.WallID))

	o.processor = command.New(log, o.registry, o.leases, o.publishAck, o.emitter.EmitLifecycle)
	command.RegisterStandard(o.registry, command.Dependencies{
		Process:   command.SystemdProcessController{Unit: cfg.AppProcessName},
		Brokers:   o.broker,
		Watchdog:  o,
		Telemetry: o,
		Stream:    o.bridge,
	})

	return o
}

// supervised wraps a subsystem goroutine with the same recover-and-log
// idiom internal/localhub's loops use: a panic in one subsystem is logged
// and treated as that subsystem exiting cleanly (a nil error), rather than
// taking the whole process down with it. Because the error is nil, the
// errgroup's shared context is not cancelled and the other subsystems keep
// running.
func (o *Orchestrator) supervised(name string, fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				o.log.Error().
					Interface("panic", r).
					Str("stack", string(debug.Stack())).
					Str("subsystem", name).
					Msg("subsystem panicked, stopping it")
			}
		}()
		return fn()
	}
}

// acquireSingleInstance binds the local hub address; a bind failure means
// another instance already holds it (spec 4.8 "Startup").
func (o *Orchestrator) acquireSingleInstance() error {
	ln, err := net.Listen("tcp", o.cfg.LocalHubAddr)
	if err != nil {
		return fmt.Errorf("orchestrator: another instance appears to be running on %s: %w", o.cfg.LocalHubAddr, err)
	}
	o.guard = ln
	return nil
}

// Run performs startup (single-instance guard, collector warm-up, broker
// connect, initial publish) and then blocks in the main loop until ctx is
// cancelled or Shutdown is called.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.acquireSingleInstance(); err != nil {
		return err
	}
	defer o.guard.Close()

	ctx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.cancel = cancel
	o.mu.Unlock()
	defer cancel()

	o.emitter.EmitLifecycle("WATCHDOG_STARTED", protocol.SeverityInfo, map[string]any{"wallId": o.cfg.WallID})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(o.supervised("collectors", func() error {
		if err := o.collectors.Run(gctx); err != nil && gctx.Err() == nil {
			o.log.Error().Err(err).Msg("collector supervisor exited")
		}
		return nil
	}))

	if hub, ok := o.observer.(hubServer); ok {
		g.Go(o.supervised("localhub", func() error {
			hub.Run(gctx)
			return nil
		}))
		g.Go(func() error {
			<-gctx.Done()
			return o.guard.Close()
		})
		g.Go(func() error {
			if err := hub.Serve(o.guard); err != nil && gctx.Err() == nil {
				return fmt.Errorf("localhub serve: %w", err)
			}
			return nil
		})
	}

	select {
	case <-time.After(config.ProcessStartGrace):
	case <-gctx.Done():
		return g.Wait()
	}

	if err := o.broker.Connect(ctx, o.cfg.WallID); err != nil {
		cancel()
		_ = g.Wait()
		return fmt.Errorf("orchestrator: broker connect: %w", err)
	}
	o.bridge.SetTopics(o.broker.Topics())

	g.Go(o.supervised("dispatch", func() error {
		o.dispatchLoop(gctx)
		return nil
	}))

	g.Go(o.supervised("sweeper", func() error {
		if err := o.processor.RunSweeper(gctx); err != nil && gctx.Err() == nil {
			o.log.Error().Err(err).Msg("idempotency sweeper exited")
		}
		return nil
	}))

	o.PublishTelemetryNow()
	o.PublishConfigNow()

	o.publishLoop(gctx)
	return g.Wait()
}

// Shutdown flips the shutting-down flag (reflected in the next mode
// derivation) and cancels the run context.
func (o *Orchestrator) Shutdown() {
	o.shuttingDown.Store(true)
	o.emitter.EmitLifecycle("WATCHDOG_SHUTTING_DOWN", protocol.SeverityInfo, nil)
	o.mu.Lock()
	cancel := o.cancel
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (o *Orchestrator) publishLoop(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	var tick int64
	var previousMode protocol.OperationalMode
	haveMode := false

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			tick++
			mode := o.publishTick(now)

			if tick%configPublishEvery == 0 {
				o.PublishConfigNow()
			}
			if !haveMode || mode != previousMode {
				if haveMode {
					o.log.Info().Str("from", string(previousMode)).Str("to", string(mode)).Msg("mode transition")
				}
				previousMode = mode
				haveMode = true
			}
		}
	}
}

// publishTick builds and publishes one tick's telemetry/health/stream-status,
// feeds the health engine and event emitter, and returns the derived mode
// (spec 4.8 "Main loop").
func (o *Orchestrator) publishTick(now time.Time) protocol.OperationalMode {
	record := o.assembler.Assemble()

	if o.collectors.App.ConsumeCrash() {
		o.emitter.EmitLifecycle("VUOS_CRASHED", protocol.SeverityWarn, map[string]any{
			"crashCountToday": record.App.CrashCountToday,
		})
	}

	states := o.healthEng.Evaluate(record, now)
	mode := health.DeriveMode(o.shuttingDown.Load(), o.healthEng.Uptime(now), states)

	o.emitter.EvaluateConditions(states, now)
	o.emitter.EvaluateMode(mode, now)

	payload := telemetry.BuildHealthPayload(o.cfg.WallID, record, mode, health.ActiveConditionIDs(states))

	topics := o.broker.Topics()
	o.broker.Publish(topics.Telemetry(), record, broker.QoSAtMostOnce, false)
	o.broker.Publish(topics.Health(), payload, broker.QoSAtLeastOnce, true)
	o.broker.Publish(topics.StreamStatus(), o.streamStatusPayload(), broker.QoSAtLeastOnce, true)

	o.observer.BroadcastTelemetry(record)
	o.observer.BroadcastHealth(payload)

	return mode
}

func (o *Orchestrator) streamStatusPayload() protocol.StreamingStatusPayload {
	state := o.engine.State()
	return protocol.StreamingStatusPayload{
		Status:    state.Status,
		PID:       state.PID,
		Port:      state.Port,
		StartedAt: state.StartedAt,
		Monitor:   state.Monitor,
		Quality:   state.Quality,
		Available: o.cfg.MediaEngineBin != "",
	}
}

// PublishTelemetryNow implements command.TelemetryRequester: an
// out-of-cadence telemetry publish for REQUEST_TELEMETRY.
func (o *Orchestrator) PublishTelemetryNow() {
	record := o.assembler.Assemble()
	o.broker.Publish(o.broker.Topics().Telemetry(), record, broker.QoSAtMostOnce, false)
	o.observer.BroadcastTelemetry(record)
}

// PublishConfigNow implements command.TelemetryRequester: republishes the
// retained config payload for REQUEST_CONFIG and the 60s cadence.
func (o *Orchestrator) PublishConfigNow() {
	o.broker.Publish(o.broker.Topics().Config(), o.configPayload(), broker.QoSAtMostOnce, true)
}

func (o *Orchestrator) configPayload() map[string]any {
	brokerIDs := make([]string, 0, len(o.cfg.Brokers))
	for _, b := range o.cfg.Brokers {
		brokerIDs = append(brokerIDs, b.ID)
	}
	return map[string]any{
		"wallId":       o.cfg.WallID,
		"activeBroker": o.broker.ActiveBrokerID(),
		"brokers":      brokerIDs,
	}
}

func (o *Orchestrator) publishAck(clientID string, ack protocol.AckEnvelope) {
	o.broker.Publish(o.broker.Topics().Ack(clientID), ack, broker.QoSAtLeastOnce, false)
	o.observer.BroadcastAck(clientID, ack)
}

func (o *Orchestrator) publishEvent(event protocol.EventRecord) {
	o.broker.Publish(o.broker.Topics().Event(), event, broker.QoSAtLeastOnce, false)
	o.observer.BroadcastEvent(event)
}

// dispatchLoop routes every inbound bus message by topic to the lease
// manager, the command processor, the legacy shim, or the signaling bridge
// (spec 4.8 "Inbound dispatch").
func (o *Orchestrator) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-o.broker.Messages():
			if !ok {
				return
			}
			o.dispatch(ctx, msg)
		}
	}
}

func (o *Orchestrator) dispatch(ctx context.Context, msg broker.InboundMessage) {
	topics := o.broker.Topics()

	if clientID, ok := topics.ClientIDFromCommandTopic(msg.Topic); ok {
		var env protocol.CommandEnvelope
		if err := json.Unmarshal(msg.Payload, &env); err != nil {
			o.log.Warn().Err(err).Str("clientId", clientID).Msg("malformed command envelope, dropping")
			return
		}
		o.processor.Handle(ctx, env, clientID, false)
		return
	}

	switch {
	case msg.Topic == topics.Lease():
		var payload protocol.LeasePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			o.log.Warn().Err(err).Msg("malformed lease payload, dropping")
			return
		}
		o.leases.Update(payload.Owner, payload.ExpiresTs, time.Now())

	case msg.Topic == topics.Control():
		var env protocol.LegacyEnvelope
		if err := json.Unmarshal(msg.Payload, &env); err != nil {
			o.log.Warn().Err(err).Msg("malformed legacy envelope, dropping")
			return
		}
		o.processor.HandleLegacy(ctx, env)

	case msg.Topic == topics.WebRTCJoin():
		var payload protocol.JoinPayload
		if err := json.Unmarshal(msg.Payload, &payload); err == nil && payload.From != "" {
			o.bridge.HandleJoin(ctx, payload.From)
		}

	case msg.Topic == topics.WebRTCAnswer():
		var payload protocol.AnswerPayload
		if err := json.Unmarshal(msg.Payload, &payload); err == nil && payload.From != "" {
			o.bridge.HandleAnswer(ctx, payload.From, payload.Description)
		}

	case msg.Topic == topics.WebRTCIce():
		var payload protocol.CandidatePayload
		if err := json.Unmarshal(msg.Payload, &payload); err == nil && payload.From != "" {
			publisherID := o.bridge.PublisherID()
			if payload.From == publisherID || payload.To != publisherID {
				// Our own candidate echoed back by the broker, or one not
				// addressed to this bridge instance.
				return
			}
			o.bridge.HandleICE(ctx, payload.From, payload.Candidate)
		}

	case msg.Topic == topics.WebRTCLeave():
		var payload protocol.LeavePayload
		if err := json.Unmarshal(msg.Payload, &payload); err == nil && payload.From != "" {
			o.bridge.HandleLeave(ctx, payload.From)
		}
	}
}

// OnConnected implements broker.ConnectionHandler.
func (o *Orchestrator) OnConnected() {
	o.emitter.EmitLifecycle("BROKER_CONNECTED", protocol.SeverityInfo, map[string]any{
		"brokerId": o.broker.ActiveBrokerID(),
	})
}

// OnDisconnected implements broker.ConnectionHandler: logged only, per
// spec 7 ("LWT handles the abrupt case").
func (o *Orchestrator) OnDisconnected(err error) {
	o.log.Warn().Err(err).Msg("broker disconnected")
}

// OnSwitched implements broker.ConnectionHandler.
func (o *Orchestrator) OnSwitched(from, to, reason string) {
	o.emitter.EmitLifecycle("BROKER_SWITCHED", protocol.SeverityWarn, map[string]any{
		"from": from, "to": to, "reason": reason,
	})
}

// Package events edge-triggers events from condition transitions and mode
// changes, and exposes an imperative one-shot lifecycle marker.
package events

import (
	"sync"
	"time"

	"github.com/VuStudio-Labs/VuOs-WATCH-DOG/internal/health"
	"github.com/VuStudio-Labs/VuOs-WATCH-DOG/internal/protocol"
)

const reminderInterval = 10 * time.Minute

// Sink is how the emitter hands off a built EventRecord, typically a broker
// publish on the event topic plus the local observer hub.
type Sink func(protocol.EventRecord)

// Emitter holds the previousActive/lastReminder maps described in spec 4.4.
// It is a single owned structure, process-wide for this agent's lifetime.
type Emitter struct {
	wallID string
	sink   Sink

	mu            sync.Mutex
	previousActive map[string]bool
	lastReminder   map[string]time.Time
	previousMode   protocol.OperationalMode
	haveMode       bool
}

// NewEmitter builds an Emitter bound to a wall id and delivery sink.
func NewEmitter(wallID string, sink Sink) *Emitter {
	return &Emitter{
		wallID:         wallID,
		sink:           sink,
		previousActive: make(map[string]bool),
		lastReminder:   make(map[string]time.Time),
	}
}

// EvaluateConditions emits edge-triggered events for a fresh batch of
// condition states, per the algorithm in spec 4.4.
func (e *Emitter) EvaluateConditions(states []health.ConditionState, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, s := range states {
		prev := e.previousActive[s.ID]

		switch {
		case !prev && s.Active:
			e.emitLocked(s.ID+"_ON", health.SeverityOf(s.ID), nil, now)
			e.lastReminder[s.ID] = now
		case prev && !s.Active:
			e.emitLocked(s.ID+"_OFF", protocol.SeverityInfo, nil, now)
			delete(e.lastReminder, s.ID)
		case prev && s.Active:
			if now.Sub(e.lastReminder[s.ID]) >= reminderInterval {
				e.emitLocked(s.ID+"_REMINDER", health.SeverityOf(s.ID), nil, now)
				e.lastReminder[s.ID] = now
			}
		}

		e.previousActive[s.ID] = s.Active
	}
}

// EvaluateMode emits a MODE_CHANGED event when the mode differs from the
// previous call, at the severity mapped in spec 4.4.
func (e *Emitter) EvaluateMode(mode protocol.OperationalMode, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.haveMode && e.previousMode == mode {
		return
	}
	from := e.previousMode
	first := !e.haveMode
	e.previousMode = mode
	e.haveMode = true

	if first {
		return // no transition to report on the very first evaluation
	}

	e.emitLocked("MODE_CHANGED", modeChangeSeverity(mode), map[string]any{
		"from": string(from),
		"to":   string(mode),
	}, now)
}

func modeChangeSeverity(mode protocol.OperationalMode) protocol.Severity {
	switch mode {
	case protocol.ModeDegraded:
		return protocol.SeverityWarn
	case protocol.ModeCritical:
		return protocol.SeverityCritical
	default: // READY, STARTING, SHUTTING_DOWN
		return protocol.SeverityInfo
	}
}

// EmitLifecycle is the imperative one-shot marker for startup, broker
// events, shutdown, command receipt, crash detections, and explicit restarts.
func (e *Emitter) EmitLifecycle(eventType string, severity protocol.Severity, details map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.emitLocked(eventType, severity, details, time.Now())
}

func (e *Emitter) emitLocked(eventType string, severity protocol.Severity, details map[string]any, now time.Time) {
	e.sink(protocol.EventRecord{
		Schema:   protocol.SchemaEvent,
		Ts:       now.UnixMilli(),
		WallID:   e.wallID,
		Type:     eventType,
		Severity: severity,
		Details:  details,
	})
}

package health

import (
	"sort"
	"time"

	"github.com/VuStudio-Labs/VuOs-WATCH-DOG/internal/protocol"
)

// ConditionState is mutable per definition.
//
// Invariant: active ⇒ rawActive ∧ (now−activeSince ≥ debounceMs ∨ debounceMs = 0).
// Invariant: ¬rawActive ⇒ ¬active ∧ activeSince = nil.
type ConditionState struct {
	ID          string
	Level       protocol.ConditionLevel
	RawActive   bool
	Active      bool
	ActiveSince time.Time // zero value means "nil"
}

// Engine evaluates the fixed condition set over successive telemetry records
// and derives the operational mode. Created once at startup; its condition
// states are mutated only by Evaluate and never destroyed.
type Engine struct {
	definitions []ConditionDefinition
	states      map[string]*ConditionState
	startedAt   time.Time
}

// NewEngine builds an Engine with the default condition set, started now.
func NewEngine(startedAt time.Time) *Engine {
	defs := DefaultConditions()
	states := make(map[string]*ConditionState, len(defs))
	for _, d := range defs {
		states[d.ID] = &ConditionState{ID: d.ID, Level: d.Level}
	}
	return &Engine{definitions: defs, states: states, startedAt: startedAt}
}

// Evaluate runs every condition predicate against record at time now,
// mutating each ConditionState per the debounce rule (spec 4.3), and returns
// a snapshot copy of the resulting states in definition order.
func (e *Engine) Evaluate(record protocol.TelemetryRecord, now time.Time) []ConditionState {
	out := make([]ConditionState, 0, len(e.definitions))
	for _, def := range e.definitions {
		state := e.states[def.ID]
		triggered := def.Predicate(record)

		switch {
		case triggered && !state.RawActive:
			state.RawActive = true
			state.ActiveSince = now
		case !triggered:
			state.RawActive = false
			state.Active = false
			state.ActiveSince = time.Time{}
		}

		if triggered {
			elapsed := now.Sub(state.ActiveSince)
			if def.DebounceMs == 0 || elapsed >= time.Duration(def.DebounceMs)*time.Millisecond {
				state.Active = true
			}
		}

		out = append(out, *state)
	}
	return out
}

// States returns a copy of the current states, sorted by id.
func (e *Engine) States() []ConditionState {
	out := make([]ConditionState, 0, len(e.definitions))
	for _, def := range e.definitions {
		out = append(out, *e.states[def.ID])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ActiveConditionIDs returns the sorted ids of currently active conditions,
// for stable HealthPayload output (spec 4.3 "Tie-break").
func ActiveConditionIDs(states []ConditionState) []string {
	ids := make([]string, 0, len(states))
	for _, s := range states {
		if s.Active {
			ids = append(ids, s.ID)
		}
	}
	sort.Strings(ids)
	if ids == nil {
		return []string{}
	}
	return ids
}

const startingWindow = 5 * time.Second

// DeriveMode is a pure function of (shuttingDown, uptime, conditionStates):
// identical inputs yield identical outputs (spec I2).
func DeriveMode(shuttingDown bool, uptime time.Duration, states []ConditionState) protocol.OperationalMode {
	if shuttingDown {
		return protocol.ModeShuttingDown
	}
	if uptime < startingWindow {
		return protocol.ModeStarting
	}

	hasCritical := false
	hasDegraded := false
	for _, s := range states {
		if !s.Active {
			continue
		}
		switch s.Level {
		case protocol.LevelCritical:
			hasCritical = true
		case protocol.LevelDegraded:
			hasDegraded = true
		}
	}

	switch {
	case hasCritical:
		return protocol.ModeCritical
	case hasDegraded:
		return protocol.ModeDegraded
	default:
		return protocol.ModeReady
	}
}

// Uptime returns the duration since the engine was started.
func (e *Engine) Uptime(now time.Time) time.Duration {
	return now.Sub(e.startedAt)
}

package command

import (
	"context"

	"github.com/VuStudio-Labs/VuOs-WATCH-DOG/internal/protocol"
)

// Result is what a handler returns on success.
type Result struct {
	Message string
	Details map[string]any
}

// Handler executes one command's effect. args is the raw CommandEnvelope.Args map.
type Handler func(ctx context.Context, args map[string]any) (Result, error)

// Definition is one registry entry, matching spec 4.6's
// {type, requiresLease, localBypass, handler}.
type Definition struct {
	Type          protocol.CommandType
	RequiresLease bool
	LocalBypass   bool
	Handler       Handler
}

// Registry is the fixed, startup-populated command table.
type Registry struct {
	entries map[protocol.CommandType]Definition
}

// NewRegistry builds an empty Registry. Register entries with Add.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[protocol.CommandType]Definition)}
}

// Add registers a command definition. Intended to be called only during
// startup wiring, never concurrently with Lookup.
func (r *Registry) Add(def Definition) {
	r.entries[def.Type] = def
}

// Lookup returns the definition for a command type, or false if unknown.
func (r *Registry) Lookup(t protocol.CommandType) (Definition, bool) {
	def, ok := r.entries[t]
	return def, ok
}

// Package lease tracks the single retained record of (owner, expiry) that
// arbitrates exclusive operator control.
package lease

import (
	"sync"
	"time"
)

// Record is the current lease: {owner, expiresTs}.
type Record struct {
	Owner     string
	ExpiresTs int64 // ms since epoch
}

// Manager owns the single process-wide lease instance, updated only by bus
// messages on the lease topic.
type Manager struct {
	mu      sync.RWMutex
	current Record
}

// NewManager builds an empty Manager (no active lease).
func NewManager() *Manager {
	return &Manager{}
}

// Update applies an incoming lease payload per spec 4.5's rule: accept if
// there is no currently-active lease, or the existing owner matches the new
// owner; otherwise reject silently. Returns whether the update was accepted.
func (m *Manager) Update(owner string, expiresTs int64, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	nowMs := now.UnixMilli()
	active := m.current.Owner != "" && m.current.ExpiresTs > nowMs

	if !active || m.current.Owner == owner {
		m.current = Record{Owner: owner, ExpiresTs: expiresTs}
		return true
	}
	return false
}

// Current returns a copy of the current lease record.
func (m *Manager) Current() Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// IsActive reports owner ≠ "" ∧ expiresTs > now (spec I5).
func (m *Manager) IsActive(now time.Time) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.Owner != "" && m.current.ExpiresTs > now.UnixMilli()
}

// Decision is the result of an authorization query.
type Decision struct {
	Allowed       bool
	Reason        string
	LocalOverride bool // true when allowed via the local-bypass path
}

// CommandPolicy carries the authorization-relevant flags of a registered command.
type CommandPolicy struct {
	RequiresLease bool
	LocalBypass   bool
}

// Authorize implements spec 4.5's validate(clientId, isLocal, commandDef) rule.
func (m *Manager) Authorize(clientID string, isLocal bool, policy CommandPolicy, now time.Time) Decision {
	if !policy.RequiresLease {
		return Decision{Allowed: true}
	}
	if isLocal && policy.LocalBypass {
		return Decision{Allowed: true, LocalOverride: true}
	}

	m.mu.RLock()
	current := m.current
	m.mu.RUnlock()

	active := current.Owner != "" && current.ExpiresTs > now.UnixMilli()
	if !active {
		return Decision{Allowed: false, Reason: "no active lease"}
	}
	if current.Owner != clientID {
		return Decision{Allowed: false, Reason: "owned by " + current.Owner}
	}
	return Decision{Allowed: true}
}

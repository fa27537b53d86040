package command

import (
	"sync"
	"time"

	"github.com/VuStudio-Labs/VuOs-WATCH-DOG/internal/protocol"
)

const idempotencyTTL = 60_000 * time.Millisecond

type idempotencyEntry struct {
	ack       protocol.AckEnvelope
	expiresAt time.Time
}

// idempotencyStore maps commandId to its stored terminal ack, per spec 4.6.
type idempotencyStore struct {
	mu      sync.Mutex
	entries map[string]idempotencyEntry
}

func newIdempotencyStore() *idempotencyStore {
	return &idempotencyStore{entries: make(map[string]idempotencyEntry)}
}

func (s *idempotencyStore) lookup(commandID string) (protocol.AckEnvelope, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[commandID]
	if !ok {
		return protocol.AckEnvelope{}, false
	}
	return entry.ack, true
}

func (s *idempotencyStore) store(commandID string, ack protocol.AckEnvelope, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[commandID] = idempotencyEntry{ack: ack, expiresAt: now.Add(idempotencyTTL)}
}

// sweep evicts entries whose TTL has elapsed. Returns the number evicted.
func (s *idempotencyStore) sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for id, entry := range s.entries {
		if !entry.expiresAt.After(now) {
			delete(s.entries, id)
			evicted++
		}
	}
	return evicted
}

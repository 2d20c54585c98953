package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps idempotency entries in process memory. Used by tests and
// local development; production uses the Firestore store.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

// Claim reserves the key or reports the state left by an earlier request.
func (s *MemoryStore) Claim(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := entryID(key)
	existing, ok := s.entries[id]
	if ok && existing.ExpiresAt.After(now) {
		if existing.Fingerprint != fingerprint {
			return Claim{}, ErrKeyReused
		}
		if existing.Done {
			return Claim{Replay: true, Entry: existing}, nil
		}
		return Claim{InFlight: true, Entry: existing}, nil
	}

	s.entries[id] = Entry{
		Key:         key,
		Fingerprint: fingerprint,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	return Claim{}, nil
}

// Fulfil stores the completed response for replay.
func (s *MemoryStore) Fulfil(_ context.Context, key string, resp CapturedResponse, now time.Time, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := entryID(key)
	entry := s.entries[id]
	entry.Key = key
	entry.Done = true
	entry.StatusCode = resp.StatusCode
	entry.Header = storableHeader(resp.Header)
	entry.Body = append([]byte(nil), resp.Body...)
	entry.ExpiresAt = now.Add(ttl)
	s.entries[id] = entry
	return nil
}

// Forget drops the claim.
func (s *MemoryStore) Forget(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, entryID(key))
	return nil
}

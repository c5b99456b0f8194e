package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/tokyo-tower/domain-sub000/internal/clock"
)

type entry struct {
	holder    string
	expiresAt time.Time
}

// MemoryStore is an in-process Store. Production deployments use the
// Postgres-backed store; this one serves tests and single-node setups.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]entry
	clock   clock.Clock
}

func NewMemoryStore(clk clock.Clock) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]entry),
		clock:   clk,
	}
}

func (s *MemoryStore) SetIfFree(_ context.Context, key, holder string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if e, ok := s.entries[key]; ok && e.expiresAt.After(now) && e.holder != holder {
		return false, nil
	}
	s.entries[key] = entry{holder: holder, expiresAt: now.Add(ttl)}
	return true, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || !e.expiresAt.After(s.clock.Now()) {
		return "", nil
	}
	return e.holder, nil
}

func (s *MemoryStore) DeleteIfHeldBy(_ context.Context, key, holder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || e.holder != holder || !e.expiresAt.After(s.clock.Now()) {
		return nil
	}
	delete(s.entries, key)
	return nil
}

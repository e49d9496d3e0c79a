package store

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	val       int64
	expiresAt time.Time
}

// MemoryStore is a process-local CounterStore/QuotaStore for tests and
// redis-less development. Not suitable for multi-instance deployments.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*entry

	// Now is overridable for window-expiry tests.
	Now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*entry),
		Now:     time.Now,
	}
}

var (
	_ CounterStore = (*MemoryStore)(nil)
	_ QuotaStore   = (*MemoryStore)(nil)
)

func (s *MemoryStore) get(key string) *entry {
	e, ok := s.entries[key]
	if !ok || s.Now().After(e.expiresAt) {
		e = &entry{}
		s.entries[key] = e
	}
	return e
}

func (s *MemoryStore) IncrWindow(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.get(key)
	e.val++
	e.expiresAt = s.Now().Add(ttl)
	return e.val, nil
}

func (s *MemoryStore) GetUsage(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || s.Now().After(e.expiresAt) {
		return 0, nil
	}
	return e.val, nil
}

func (s *MemoryStore) AddUsage(ctx context.Context, key string, qty int64, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.get(key)
	e.val += qty
	e.expiresAt = s.Now().Add(ttl)
	return e.val, nil
}

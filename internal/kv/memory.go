package kv

import (
	"context"
	"sync"
	"time"

	"beacon/pkg/requestcontext"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryStore keeps entries in a map. It backs local development and is the
// fallback used by Resilient when the primary backend is down.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
}

func NewMemoryStore(opts ...Option) *MemoryStore {
	o := buildOptions(opts)
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     o.ttl,
	}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[key]
	if !ok {
		return "", ErrNotFound
	}
	if !entry.expiresAt.IsZero() && !requestcontext.Now(ctx).Before(entry.expiresAt) {
		return "", ErrNotFound
	}
	return entry.value, nil
}

func (s *MemoryStore) Set(ctx context.Context, key, value string) error {
	entry := memoryEntry{value: value}
	if s.ttl > 0 {
		entry.expiresAt = requestcontext.Now(ctx).Add(s.ttl)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = entry
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Len returns the number of entries, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Sweep drops expired entries and returns how many were removed.
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k, e := range s.entries {
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

// Update runs fn under the store lock.
func (s *MemoryStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	now := requestcontext.Now(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, found := s.entries[key]
	if found && !entry.expiresAt.IsZero() && !now.Before(entry.expiresAt) {
		found = false
	}
	current := ""
	if found {
		current = entry.value
	}
	next, err := fn(current, found)
	if err != nil {
		return err
	}
	updated := memoryEntry{value: next}
	if s.ttl > 0 {
		updated.expiresAt = now.Add(s.ttl)
	}
	s.entries[key] = updated
	return nil
}

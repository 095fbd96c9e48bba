package dedup

import (
	"context"
	"sync"
	"time"
)

const (
	DefaultMaxEntries = 100_000
	cleanupEvery      = time.Minute
)

// MemoryStore is a process-local Store. When full, the entry closest to
// expiry is evicted.
type MemoryStore struct {
	mu          sync.Mutex
	entries     map[string]time.Time
	maxEntries  int
	lastCleanup time.Time
	now         func() time.Time
}

func NewMemoryStore(maxEntries int) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &MemoryStore{
		entries:    make(map[string]time.Time),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// WithClock replaces the time source.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) ShouldSuppress(_ context.Context, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.maybeCleanupLocked(now)
	exp, ok := s.entries[key]
	return ok && now.Before(exp)
}

func (s *MemoryStore) Record(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if exp, ok := s.entries[key]; ok && now.Before(exp) {
		return false, nil
	}
	if _, ok := s.entries[key]; !ok && len(s.entries) >= s.maxEntries {
		s.cleanupLocked(now)
		if len(s.entries) >= s.maxEntries {
			s.evictOldestLocked()
		}
	}
	s.entries[key] = now.Add(ttl)
	return true, nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *MemoryStore) CleanupExpired(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleanupLocked(s.now()), nil
}

// Len returns the number of stored entries, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) maybeCleanupLocked(now time.Time) {
	if now.Sub(s.lastCleanup) >= cleanupEvery {
		s.cleanupLocked(now)
	}
}

func (s *MemoryStore) cleanupLocked(now time.Time) int {
	s.lastCleanup = now
	removed := 0
	for k, exp := range s.entries {
		if !now.Before(exp) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

func (s *MemoryStore) evictOldestLocked() {
	var (
		victim string
		first  time.Time
	)
	for k, exp := range s.entries {
		if victim == "" || exp.Before(first) {
			victim, first = k, exp
		}
	}
	delete(s.entries, victim)
}

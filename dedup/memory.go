package dedup

import (
	"context"
	"sync"
	"time"
)

// sweepInterval is how often the background sweeper purges expired
// entries that were never re-checked.
const sweepInterval = time.Minute

// MemoryStore is a process-local dedup store. Suppression only covers
// deliveries handled by this process; multi-replica deployments need
// the database store instead.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]time.Time

	now  func() time.Time
	stop chan struct{}
	done chan struct{}
}

// NewMemoryStore creates a memory store and starts its sweeper.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		entries: map[string]time.Time{},
		now:     time.Now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go s.sweep()
	return s
}

// Check claims key until now+ttl. An expired entry is treated as
// absent and re-claimed in place.
func (s *MemoryStore) Check(_ context.Context, key string, ttl time.Duration) (Result, error) {
	ttl = clampTTL(ttl)
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if expiry, ok := s.entries[key]; ok && now.Before(expiry) {
		return Duplicate, nil
	}
	s.entries[key] = now.Add(ttl)
	return Unique, nil
}

// Close stops the sweeper and waits for it to exit.
func (s *MemoryStore) Close() error {
	close(s.stop)
	<-s.done
	return nil
}

func (s *MemoryStore) sweep() {
	defer close(s.done)
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.purgeExpired()
		case <-s.stop:
			return
		}
	}
}

func (s *MemoryStore) purgeExpired() {
	now := s.now()
	s.mu.Lock()
	for key, expiry := range s.entries {
		if !now.Before(expiry) {
			delete(s.entries, key)
		}
	}
	s.mu.Unlock()
}

package cache

import (
	"sync"
	"time"
)

// entry is a stored value with its expiry. A zero expiresAt means the entry
// never expires (cached templates and manifests).
type entry struct {
	value     []byte
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && e.expiresAt.Before(now)
}

// Store is a process-wide expiring key/value store. Correlation records ride
// in it between an asynchronous wallet callback and the browser's poll.
//
// Storage is best-effort and in-memory: a restart loses all entries, and no
// operation returns an error. "Not found" is a normal outcome, not a failure.
//
// In-memory stores keep the initial implementation lightweight and testable.
// They intentionally favor clarity over performance.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry

	sweepInterval time.Duration
	stop          chan struct{}
	stopOnce      sync.Once
}

// Option configures the store.
type Option func(*Store)

// WithSweepInterval overrides the background sweep interval.
func WithSweepInterval(interval time.Duration) Option {
	return func(s *Store) {
		s.sweepInterval = interval
	}
}

// New creates an empty store and starts its cleanup sweeper.
// Call Close on shutdown to stop the sweeper goroutine.
func New(opts ...Option) *Store {
	s := &Store{
		entries:       make(map[string]entry),
		sweepInterval: time.Minute,
		stop:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.sweepLoop()
	return s
}

// Set inserts or overwrites a value, scheduling expiry at now+ttl.
// Last writer wins on overwrite.
func (s *Store) Set(key string, value []byte, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = entry{value: value, expiresAt: time.Now().Add(ttl)}
}

// SetNoExpiry inserts or overwrites a value with unbounded lifetime.
func (s *Store) SetNoExpiry(key string, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = entry{value: value}
}

// TryGet looks up a key. Expired entries are treated as absent; expiry is
// rechecked on read so a stale value is never returned, even before the
// sweeper gets to it.
func (s *Store) TryGet(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok || e.expired(time.Now()) {
		return nil, false
	}
	return e.value, true
}

// Remove deletes a key if present. Removing an absent key is a no-op.
func (s *Store) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// Len reports the number of stored entries, including not-yet-swept expired ones.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close stops the background sweeper. Safe to call more than once.
func (s *Store) Close() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
}

// sweepLoop periodically removes expired entries. One coarse ticker and one
// lock hold per sweep; expired entries that linger between sweeps are hidden
// by the TryGet recheck.
func (s *Store) sweepLoop() {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stop:
			return
		}
	}
}

func (s *Store) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for key, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, key)
		}
	}
}

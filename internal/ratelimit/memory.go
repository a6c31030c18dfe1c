package ratelimit

import (
	"context"
	"sync"
	"time"
)

const defaultSweepInterval = 5 * time.Minute

type record struct {
	count   int
	resetAt time.Time
	last    time.Time
}

// MemoryStore is the in-process Store: a counter map guarded by a mutex with
// a janitor goroutine bounding memory growth. Safe for concurrent use within
// one process only; counts across multiple instances will undercount.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*record

	now           func() time.Time
	sweepInterval time.Duration

	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSweepInterval overrides the janitor period.
func WithSweepInterval(d time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		if d > 0 {
			s.sweepInterval = d
		}
	}
}

// NewMemoryStore constructs the store and starts its janitor.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entries:       make(map[string]*record),
		now:           time.Now,
		sweepInterval: defaultSweepInterval,
		done:          make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.janitor()
	return s
}

// Stop terminates the janitor and waits for it to exit. Safe to call twice.
func (s *MemoryStore) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
	<-s.stopped
}

func (s *MemoryStore) Increment(_ context.Context, key string, window time.Duration) (Counter, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.entries[key]
	if !ok || !rec.resetAt.After(now) {
		rec = &record{count: 1, resetAt: now.Add(window), last: now}
		s.entries[key] = rec
		return Counter{Count: 1, ResetAt: rec.resetAt}, nil
	}

	prev := rec.last
	rec.count++
	rec.last = now
	return Counter{Count: rec.count, ResetAt: rec.resetAt, Last: prev}, nil
}

func (s *MemoryStore) Sweep(_ context.Context) int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, rec := range s.entries {
		if !rec.resetAt.After(now) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of tracked keys. Used by tests and diagnostics.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) janitor() {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()
	defer close(s.stopped)

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.Sweep(context.Background())
		}
	}
}

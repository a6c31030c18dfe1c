package ratelimit

import (
	"context"
	"testing"
	"time"
)

func newClockedStore(t *testing.T) (*MemoryStore, *time.Time) {
	t.Helper()
	current := time.Now()
	store := NewMemoryStore(
		WithClock(func() time.Time { return current }),
		WithSweepInterval(time.Hour),
	)
	t.Cleanup(store.Stop)
	return store, &current
}

func TestMemoryStoreIncrement(t *testing.T) {
	store, _ := newClockedStore(t)
	ctx := context.Background()

	c, err := store.Increment(ctx, "k", time.Minute)
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	if c.Count != 1 || !c.Last.IsZero() {
		t.Fatalf("first counter = %+v", c)
	}

	c, err = store.Increment(ctx, "k", time.Minute)
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	if c.Count != 2 {
		t.Fatalf("count = %d, want 2", c.Count)
	}
	if c.Last.IsZero() {
		t.Fatal("second counter should carry previous access time")
	}
}

func TestMemoryStoreWindowRollover(t *testing.T) {
	store, clock := newClockedStore(t)
	ctx := context.Background()

	first, _ := store.Increment(ctx, "k", time.Minute)
	store.Increment(ctx, "k", time.Minute)

	*clock = clock.Add(61 * time.Second)
	c, err := store.Increment(ctx, "k", time.Minute)
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	if c.Count != 1 {
		t.Fatalf("count after rollover = %d, want 1", c.Count)
	}
	if !c.ResetAt.After(first.ResetAt) {
		t.Fatalf("reset did not advance: %v -> %v", first.ResetAt, c.ResetAt)
	}
}

func TestMemoryStoreSweep(t *testing.T) {
	store, clock := newClockedStore(t)
	ctx := context.Background()

	store.Increment(ctx, "a", time.Minute)
	store.Increment(ctx, "b", time.Minute)
	store.Increment(ctx, "c", time.Hour)
	if store.Len() != 3 {
		t.Fatalf("len = %d, want 3", store.Len())
	}

	*clock = clock.Add(2 * time.Minute)
	if removed := store.Sweep(ctx); removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}
	if store.Len() != 1 {
		t.Fatalf("len after sweep = %d, want 1", store.Len())
	}
}

func TestMemoryStoreStopIdempotent(t *testing.T) {
	store := NewMemoryStore(WithSweepInterval(time.Hour))
	store.Stop()
	store.Stop()
}

// Package ratelimit implements fixed-window request limiting with client
// fingerprinting and heuristic risk scoring.
//
// Windows are wall-clock based: a burst straddling a window boundary can admit
// up to twice the configured limit in a short span. That is a documented
// property of the fixed-window algorithm, not a sliding log.
package ratelimit

import (
	"context"
	"time"
)

// Counter is the state of one rate-limit key after an increment.
type Counter struct {
	// Count is the number of requests observed in the current window,
	// including the one just recorded.
	Count int
	// ResetAt is when the current window ends.
	ResetAt time.Time
	// Last is the previous access time for the key; zero on the first
	// request of a window or when the store cannot track it.
	Last time.Time
}

// Store holds per-key counters with expiry. The in-process implementation is
// owned exclusively by the limiter; the Redis implementation makes the same
// algorithm safe across service instances.
type Store interface {
	// Increment records one request against key, starting a fresh window
	// when none is active, and returns the resulting counter state.
	Increment(ctx context.Context, key string, window time.Duration) (Counter, error)

	// Sweep evicts counters whose window has expired and reports how many
	// entries were removed. Stores with native expiry may treat it as a no-op.
	Sweep(ctx context.Context) int
}

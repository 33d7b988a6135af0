package resilience

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// ConcurrencyLimiter bounds how many child processes may be alive at
// once. A nil limiter imposes no bound.
type ConcurrencyLimiter struct {
	sem *semaphore.Weighted
}

// NewConcurrencyLimiter creates a limiter admitting at most max
// concurrent executions. Returns nil when max <= 0, meaning unbounded.
func NewConcurrencyLimiter(max int64) *ConcurrencyLimiter {
	if max <= 0 {
		return nil
	}
	return &ConcurrencyLimiter{sem: semaphore.NewWeighted(max)}
}

// Acquire blocks until a slot is free or the context ends.
func (c *ConcurrencyLimiter) Acquire(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.sem.Acquire(ctx, 1)
}

// TryAcquire takes a slot without blocking.
func (c *ConcurrencyLimiter) TryAcquire() bool {
	if c == nil {
		return true
	}
	return c.sem.TryAcquire(1)
}

// Release frees a slot taken by Acquire or TryAcquire.
func (c *ConcurrencyLimiter) Release() {
	if c == nil {
		return
	}
	c.sem.Release(1)
}

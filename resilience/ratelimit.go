// Package resilience provides execution throttling: per-program rate
// limiting and a bound on concurrent child processes.
package resilience

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter throttles executions per program base name.
type RateLimiter interface {
	// Allow reports whether one execution of program may proceed now.
	Allow(program string) bool

	// Wait blocks until execution is allowed or the context ends.
	Wait(ctx context.Context, program string) error

	// SetLimit updates the rate limit for a program.
	SetLimit(program string, limit rate.Limit, burst int)
}

// ProgramLimit defines the rate limit for a specific program.
type ProgramLimit struct {
	Limit float64
	Burst int
}

// RateLimiterConfig configures the rate limiter.
type RateLimiterConfig struct {
	// DefaultLimit is the sustained executions per second applied to
	// programs without an explicit limit. Zero disables throttling
	// for those programs.
	DefaultLimit float64

	// DefaultBurst is the default burst size.
	DefaultBurst int

	// ProgramLimits contains per-program overrides.
	ProgramLimits map[string]ProgramLimit
}

// DefaultRateLimiterConfig returns a configuration suited to an agent
// loop: generous defaults that only trip on runaway retry storms.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		DefaultLimit:  10,
		DefaultBurst:  20,
		ProgramLimits: make(map[string]ProgramLimit),
	}
}

type rateLimiter struct {
	config   RateLimiterConfig
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
}

// NewRateLimiter creates a rate limiter from configuration.
func NewRateLimiter(config RateLimiterConfig) RateLimiter {
	rl := &rateLimiter{
		config:   config,
		limiters: make(map[string]*rate.Limiter),
	}

	for program, limit := range config.ProgramLimits {
		rl.limiters[program] = rate.NewLimiter(rate.Limit(limit.Limit), limit.Burst)
	}

	return rl
}

// Allow implements RateLimiter.Allow.
func (rl *rateLimiter) Allow(program string) bool {
	limiter := rl.getLimiter(program)
	if limiter == nil {
		return true
	}
	return limiter.Allow()
}

// Wait implements RateLimiter.Wait.
func (rl *rateLimiter) Wait(ctx context.Context, program string) error {
	limiter := rl.getLimiter(program)
	if limiter == nil {
		return ctx.Err()
	}
	return limiter.Wait(ctx)
}

// SetLimit implements RateLimiter.SetLimit.
func (rl *rateLimiter) SetLimit(program string, limit rate.Limit, burst int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if limiter, ok := rl.limiters[program]; ok {
		limiter.SetLimit(limit)
		limiter.SetBurst(burst)
	} else {
		rl.limiters[program] = rate.NewLimiter(limit, burst)
	}
}

func (rl *rateLimiter) getLimiter(program string) *rate.Limiter {
	rl.mu.RLock()
	limiter, ok := rl.limiters[program]
	rl.mu.RUnlock()

	if ok {
		return limiter
	}

	if rl.config.DefaultLimit <= 0 {
		return nil
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if existing, ok := rl.limiters[program]; ok {
		return existing
	}

	limiter = rate.NewLimiter(rate.Limit(rl.config.DefaultLimit), rl.config.DefaultBurst)
	rl.limiters[program] = limiter
	return limiter
}

// Package ratelimit provides per-key token bucket rate limiting for MCP tools.
package ratelimit

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// ErrRateLimited is returned (wrapped) when a call is rejected.
var ErrRateLimited = errors.New("rate limit exceeded")

// Limiter implements a per-key token bucket rate limiter.
// Each key gets its own bucket with the configured rate and burst.
// It is safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64          // tokens per second
	burst   float64          // max burst size (also initial token count)
	nowFunc func() time.Time // injectable clock for testing
}

type bucket struct {
	tokens    float64
	lastCheck time.Time
}

// NewLimiter creates a rate limiter with the given rate (tokens/sec) and burst size.
// The burst size also serves as the initial number of tokens available.
func NewLimiter(rate float64, burst int) *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		rate:    rate,
		burst:   float64(burst),
		nowFunc: time.Now,
	}
}

// Allow reports whether one token is available for key and takes it.
func (l *Limiter) Allow(key string) bool {
	ok, _ := l.AllowN(key, 1)
	return ok
}

// AllowN takes n tokens for key if available. When rejected it also returns
// how long until n tokens would be available; a negative wait means n
// exceeds the burst and can never be granted.
func (l *Limiter) AllowN(key string, n float64) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n > l.burst {
		return false, -1
	}

	b := l.refill(key, l.nowFunc())
	if b.tokens >= n {
		b.tokens -= n
		return true, 0
	}
	if l.rate <= 0 {
		return false, -1
	}
	missing := n - b.tokens
	return false, time.Duration(math.Ceil(missing / l.rate * float64(time.Second)))
}

// Tokens returns the tokens currently available for key.
func (l *Limiter) Tokens(key string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.refill(key, l.nowFunc()).tokens
}

func (l *Limiter) refill(key string, now time.Time) *bucket {
	b, ok := l.buckets[key]
	if !ok {
		// First request for this key: start with full burst
		b = &bucket{tokens: l.burst, lastCheck: now}
		l.buckets[key] = b
		return b
	}

	if elapsed := now.Sub(b.lastCheck).Seconds(); elapsed > 0 {
		b.tokens = math.Min(l.burst, b.tokens+l.rate*elapsed)
		b.lastCheck = now
	}
	return b
}

// ToolLimiters limits MCP tool calls per tool and, separately, the total
// number of simulation steps requested across calls.
type ToolLimiters struct {
	calls map[string]*Limiter
	steps *Limiter
}

// NewToolLimiters creates the default per-tool limiters and a step budget of
// stepsPerMinute with a burst of maxSteps.
func NewToolLimiters(stepsPerMinute float64, maxSteps int) *ToolLimiters {
	return &ToolLimiters{
		calls: map[string]*Limiter{
			"pcosc_run":      NewLimiter(10.0/60.0, 3), // 10/minute, burst 3
			"pcosc_validate": NewLimiter(1.0, 10),      // 60/minute, burst 10
			"pcosc_graph":    NewLimiter(30.0/60.0, 5), // 30/minute, burst 5
			"pcosc_runs":     NewLimiter(1.0, 10),      // 60/minute, burst 10
		},
		steps: NewLimiter(stepsPerMinute/60.0, maxSteps),
	}
}

// CheckLimit checks the rate limit for a given tool name.
// Returns nil if allowed, or an error wrapping ErrRateLimited.
// Tools without a configured limiter are always allowed.
func (tl *ToolLimiters) CheckLimit(toolName string) error {
	limiter, ok := tl.calls[toolName]
	if !ok {
		return nil // No limiter configured = no limit
	}
	if ok, wait := limiter.AllowN(toolName, 1); !ok {
		return limitError(toolName, wait)
	}
	return nil
}

// CheckSteps charges n simulation steps against the step budget.
func (tl *ToolLimiters) CheckSteps(n int) error {
	ok, wait := tl.steps.AllowN("steps", float64(n))
	if ok {
		return nil
	}
	if wait < 0 {
		return fmt.Errorf("%w: %d steps exceeds the per-call maximum of %.0f", ErrRateLimited, n, tl.steps.burst)
	}
	return limitError(fmt.Sprintf("%d simulation steps", n), wait)
}

func limitError(what string, wait time.Duration) error {
	if wait < 0 {
		return fmt.Errorf("%w for %s", ErrRateLimited, what)
	}
	return fmt.Errorf("%w for %s, retry in %s", ErrRateLimited, what, wait.Round(time.Second))
}

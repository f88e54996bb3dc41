// Package ratelimit throttles requests per client key with lazy-refill token
// buckets. It guards the credential endpoints against guessing.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

// Result is the outcome of a rate limit check.
type Result struct {
	Allowed    bool
	Limit      int64
	Remaining  int64
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, at least 1.
func (r Result) RetryAfterSeconds() int64 {
	return max(1, int64(math.Ceil(r.RetryAfter.Seconds())))
}

// bucket is a token bucket with lazy refill (no background goroutine).
type bucket struct {
	tokens   float64
	max      float64
	rate     float64 // tokens per second
	lastFill time.Time
}

func newBucket(perMinute int64, now time.Time) *bucket {
	return &bucket{
		tokens:   float64(perMinute),
		max:      float64(perMinute),
		rate:     float64(perMinute) / 60.0,
		lastFill: now,
	}
}

func (b *bucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastFill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens = min(b.max, b.tokens+elapsed*b.rate)
	b.lastFill = now
}

func (b *bucket) take(now time.Time) (remaining int64, ok bool) {
	b.refill(now)
	if b.tokens >= 1 {
		b.tokens--
		return int64(b.tokens), true
	}
	return 0, false
}

// wait is the time until one token is available.
func (b *bucket) wait() time.Duration {
	if b.tokens >= 1 {
		return 0
	}
	return time.Duration((1 - b.tokens) / b.rate * float64(time.Second))
}

type limiter struct {
	mu       sync.Mutex
	b        *bucket
	lastUsed time.Time
}

// Registry holds one bucket per client key, all with the same per-minute limit.
type Registry struct {
	perMinute int64
	now       func() time.Time

	mu       sync.RWMutex
	limiters map[string]*limiter
}

// NewRegistry creates a registry allowing perMinute requests per key.
// perMinute <= 0 disables limiting.
func NewRegistry(perMinute int64) *Registry {
	return &Registry{
		perMinute: perMinute,
		now:       time.Now,
		limiters:  make(map[string]*limiter),
	}
}

// Allow consumes one token for key.
func (r *Registry) Allow(key string) Result {
	if r.perMinute <= 0 {
		return Result{Allowed: true}
	}
	now := r.now()
	l := r.get(key, now)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastUsed = now
	if remaining, ok := l.b.take(now); ok {
		return Result{Allowed: true, Limit: r.perMinute, Remaining: remaining}
	}
	return Result{Limit: r.perMinute, RetryAfter: l.b.wait()}
}

func (r *Registry) get(key string, now time.Time) *limiter {
	r.mu.RLock()
	l, ok := r.limiters[key]
	r.mu.RUnlock()
	if ok {
		return l
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Double-check after acquiring write lock.
	if l, ok := r.limiters[key]; ok {
		return l
	}
	l = &limiter{b: newBucket(r.perMinute, now), lastUsed: now}
	r.limiters[key] = l
	return l
}

// Len returns the number of tracked keys.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.limiters)
}

// EvictStale removes limiters not used since cutoff.
func (r *Registry) EvictStale(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for k, l := range r.limiters {
		l.mu.Lock()
		stale := l.lastUsed.Before(cutoff)
		l.mu.Unlock()
		if stale {
			delete(r.limiters, k)
			evicted++
		}
	}
	return evicted
}

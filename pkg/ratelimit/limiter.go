// Package ratelimit throttles the login endpoints per client. Every login
// start issues and persists a state, so unbounded starts would grow the
// state store.
package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket implements the token bucket algorithm
type TokenBucket struct {
	capacity   int
	tokens     float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	mu         sync.Mutex
}

func newTokenBucket(capacity int, refillRate float64, now time.Time) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		tokens:     float64(capacity),
		refillRate: refillRate,
		lastRefill: now,
	}
}

// take refills the bucket up to now and removes one token if available
func (tb *TokenBucket) take(now time.Time) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	elapsed := now.Sub(tb.lastRefill).Seconds()
	if elapsed > 0 {
		tb.tokens += elapsed * tb.refillRate
		if tb.tokens > float64(tb.capacity) {
			tb.tokens = float64(tb.capacity)
		}
		tb.lastRefill = now
	}

	if tb.tokens >= 1.0 {
		tb.tokens -= 1.0
		return true
	}
	return false
}

func (tb *TokenBucket) idleSince() time.Time {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.lastRefill
}

// Limiter keeps one bucket per key
type Limiter struct {
	buckets    map[string]*TokenBucket
	capacity   int
	refillRate float64
	ttl        time.Duration
	now        func() time.Time
	mu         sync.Mutex
}

type Option func(*Limiter)

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// NewLimiter allows bursts of capacity requests per key, refilled at perMinute
// requests a minute. Buckets idle for longer than ttl are dropped on the next
// Allow.
func NewLimiter(capacity int, perMinute float64, ttl time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		buckets:    make(map[string]*TokenBucket),
		capacity:   capacity,
		refillRate: perMinute / 60.0,
		ttl:        ttl,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow reports whether a request for key may proceed
func (l *Limiter) Allow(key string) bool {
	now := l.now()

	l.mu.Lock()
	if l.ttl > 0 {
		for k, b := range l.buckets {
			if now.Sub(b.idleSince()) > l.ttl {
				delete(l.buckets, k)
			}
		}
	}
	bucket, ok := l.buckets[key]
	if !ok {
		bucket = newTokenBucket(l.capacity, l.refillRate, now)
		l.buckets[key] = bucket
	}
	l.mu.Unlock()

	return bucket.take(now)
}

// Capacity is the burst size of every bucket
func (l *Limiter) Capacity() int {
	return l.capacity
}

// Len is the number of tracked keys
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Package ratelimit paces outbound provider calls. Every model endpoint
// owns a token bucket sized by its declared requests-per-second and a
// monitor tracking request outcomes; a pool selects among a model's
// endpoints and drives the retry loop.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Bucket implements token bucket rate limiting. Capacity equals the refill
// rate, so a full bucket holds one second of traffic.
type Bucket struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	now        func() time.Time
}

// NewBucket creates a bucket admitting requestsPerSecond requests. The
// capacity floor is one token so fractional rates still admit single
// requests.
func NewBucket(requestsPerSecond float64) *Bucket {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 1
	}
	capacity := requestsPerSecond
	if capacity < 1 {
		capacity = 1
	}
	return &Bucket{
		tokens:     capacity,
		maxTokens:  capacity,
		refillRate: requestsPerSecond,
		lastRefill: time.Now(),
		now:        time.Now,
	}
}

// TryAcquire consumes one token if available.
func (b *Bucket) TryAcquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Acquire blocks until a token is available or the context ends.
func (b *Bucket) Acquire(ctx context.Context) error {
	for {
		if b.TryAcquire() {
			return nil
		}
		wait := b.WaitTime()
		if wait < time.Millisecond {
			wait = time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// refill adds tokens based on time elapsed (must be called with lock held).
func (b *Bucket) refill() {
	now := b.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.lastRefill = now

	b.tokens += elapsed * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
}

// Tokens returns the current number of available tokens.
func (b *Bucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	return b.tokens
}

// WaitTime returns how long until the next request would be allowed.
func (b *Bucket) WaitTime() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()

	if b.tokens >= 1 {
		return 0
	}

	needed := 1 - b.tokens
	seconds := needed / b.refillRate
	return time.Duration(seconds * float64(time.Second))
}

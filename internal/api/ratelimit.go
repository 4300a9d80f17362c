package api

import (
	"sync"
	"time"
)

// Default request rates. Auth endpoints are throttled harder than the rest
// because the attempt limiter in internal/ratelimit only guards credential
// attempts per identifier, not raw request volume per client.
const (
	authRequestsPerSecond = 2
	userRequestsPerSecond = 10
)

// RequestLimiter throttles HTTP request volume using token buckets keyed by
// client IP or authenticated user ID. The huma middlewares in routes.go are
// the consumers.
type RequestLimiter struct {
	mu      sync.Mutex
	buckets map[string]*tokenBucket
}

// tokenBucket implements the token bucket algorithm for rate limiting
type tokenBucket struct {
	tokens   float64
	lastTime time.Time
	rate     float64 // tokens per second
}

// NewRequestLimiter creates a new RequestLimiter instance
func NewRequestLimiter() *RequestLimiter {
	rl := &RequestLimiter{
		buckets: make(map[string]*tokenBucket),
	}

	// Cleanup goroutine removes stale buckets to bound memory
	go rl.cleanup()

	return rl
}

// cleanup periodically removes buckets unused for over an hour.
func (rl *RequestLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		rl.mu.Lock()
		now := time.Now()
		for key, bucket := range rl.buckets {
			if now.Sub(bucket.lastTime) > time.Hour {
				delete(rl.buckets, key)
			}
		}
		rl.mu.Unlock()
	}
}

// allow checks and consumes a token for the given key at the given rate.
func (rl *RequestLimiter) allow(key string, rate float64) bool {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	bucket, exists := rl.buckets[key]
	if !exists {
		// New buckets start full
		bucket = &tokenBucket{
			tokens:   rate,
			lastTime: now,
			rate:     rate,
		}
		rl.buckets[key] = bucket
	}
	bucket.rate = rate

	elapsed := now.Sub(bucket.lastTime).Seconds()
	bucket.tokens += elapsed * bucket.rate

	// Bucket capacity is one second worth of requests
	if bucket.tokens > bucket.rate {
		bucket.tokens = bucket.rate
	}

	bucket.lastTime = now

	if bucket.tokens >= 1.0 {
		bucket.tokens -= 1.0
		return true
	}

	return false
}

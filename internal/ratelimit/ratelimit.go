// Package ratelimit provides a sliding-window counter for authentication
// attempts. It is advisory client-side throttling only: the identity provider
// enforces its own server-side limits, this exists to avoid hammering the
// provider and to give the user faster feedback.
package ratelimit

import (
	"sync"
	"time"
)

const (
	// DefaultMaxAttempts is how many attempts fit in one window before
	// ShouldBlock starts returning true.
	DefaultMaxAttempts = 5
	// DefaultWindow is the sliding window length.
	DefaultWindow = 15 * time.Minute
)

// AttemptLimiter counts authentication attempts within a sliding window.
// Old attempts age out when the window elapses rather than on a fixed
// schedule. State lives in process memory only and is never shared across
// actors, so a single mutex suffices.
type AttemptLimiter struct {
	mu           sync.Mutex
	maxAttempts  int
	window       time.Duration
	attemptCount int
	windowStart  time.Time
	now          func() time.Time
}

// Option configures an AttemptLimiter.
type Option func(*AttemptLimiter)

// WithClock overrides the time source. Tests use this to simulate window
// elapse without sleeping.
func WithClock(now func() time.Time) Option {
	return func(l *AttemptLimiter) { l.now = now }
}

// WithLimits overrides the attempt ceiling and window length.
func WithLimits(maxAttempts int, window time.Duration) Option {
	return func(l *AttemptLimiter) {
		l.maxAttempts = maxAttempts
		l.window = window
	}
}

// New creates an AttemptLimiter with the default 5-attempts-per-15-minutes
// policy.
func New(opts ...Option) *AttemptLimiter {
	l := &AttemptLimiter{
		maxAttempts: DefaultMaxAttempts,
		window:      DefaultWindow,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// RecordAttempt increments the attempt count and stamps the window start on
// the first attempt of a fresh window.
func (l *AttemptLimiter) RecordAttempt() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if l.attemptCount == 0 || now.Sub(l.windowStart) > l.window {
		l.windowStart = now
		l.attemptCount = 0
	}
	l.attemptCount++
}

// ShouldBlock reports whether a new authentication attempt must be rejected
// locally. An elapsed window resets the counter to zero before answering.
func (l *AttemptLimiter) ShouldBlock() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.now().Sub(l.windowStart) > l.window {
		l.attemptCount = 0
		return false
	}
	return l.attemptCount >= l.maxAttempts
}

// Reset clears all attempt state. Called on every successful authentication
// so a success never counts toward a future lockout.
func (l *AttemptLimiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.attemptCount = 0
	l.windowStart = time.Time{}
}

// Attempts returns the current attempt count. Exposed for UI copy such as
// "2 attempts remaining".
func (l *AttemptLimiter) Attempts() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.now().Sub(l.windowStart) > l.window {
		return 0
	}
	return l.attemptCount
}

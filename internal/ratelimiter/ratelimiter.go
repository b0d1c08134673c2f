package ratelimiter

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter provides rate limiting using the token bucket algorithm.
//
// It wraps golang.org/x/time/rate: tokens are added at a constant rate, each
// event consumes one, and the burst size is the bucket capacity.
//
// Thread safety:
// All methods are safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a RateLimiter allowing perSecond sustained events with the
// given burst. perSecond <= 0 disables limiting.
func New(perSecond float64, burst int) *RateLimiter {
	if perSecond <= 0 {
		return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Allow reports whether an event may happen now, consuming a token if so.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// Wait blocks until a token is available or ctx is cancelled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// Tokens returns the current number of available tokens.
func (r *RateLimiter) Tokens() float64 {
	return r.limiter.Tokens()
}

// ============================================================================
// Keyed limiter
// ============================================================================

// DefaultIdleTTL is how long an unused key keeps its bucket.
const DefaultIdleTTL = 10 * time.Minute

type keyedEntry struct {
	limiter  *RateLimiter
	lastSeen time.Time
}

// KeyedLimiter keeps one token bucket per key (a client host for connection
// admission). Buckets idle for longer than the TTL are swept lazily.
type KeyedLimiter struct {
	perSecond float64
	burst     int
	idleTTL   time.Duration
	now       func() time.Time

	mu        sync.Mutex
	entries   map[string]*keyedEntry
	lastSweep time.Time
}

// NewKeyed creates a KeyedLimiter. perSecond <= 0 disables limiting.
func NewKeyed(perSecond float64, burst int, idleTTL time.Duration) *KeyedLimiter {
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	return &KeyedLimiter{
		perSecond: perSecond,
		burst:     burst,
		idleTTL:   idleTTL,
		now:       time.Now,
		entries:   make(map[string]*keyedEntry),
	}
}

// Enabled reports whether the limiter restricts anything.
func (k *KeyedLimiter) Enabled() bool {
	return k != nil && k.perSecond > 0
}

// Allow reports whether key may proceed now.
func (k *KeyedLimiter) Allow(key string) bool {
	if !k.Enabled() {
		return true
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()
	if now.Sub(k.lastSweep) > k.idleTTL {
		k.sweepLocked(now)
	}

	e, ok := k.entries[key]
	if !ok {
		e = &keyedEntry{limiter: New(k.perSecond, k.burst)}
		k.entries[key] = e
	}
	e.lastSeen = now
	return e.limiter.limiter.AllowN(now, 1)
}

func (k *KeyedLimiter) sweepLocked(now time.Time) {
	for key, e := range k.entries {
		if now.Sub(e.lastSeen) > k.idleTTL {
			delete(k.entries, key)
		}
	}
	k.lastSweep = now
}

// Len returns the number of tracked keys.
func (k *KeyedLimiter) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}

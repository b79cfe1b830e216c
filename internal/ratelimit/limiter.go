package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/feral-file/passport-ledger/internal/adapter"
	"github.com/feral-file/passport-ledger/internal/config"
)

// Limiter keeps one token bucket per client key
type Limiter struct {
	policy  config.RateLimitPolicy
	idleTTL time.Duration
	clock   adapter.Clock

	mu        sync.Mutex
	clients   map[string]*client
	lastSweep time.Time
}

// client holds the bucket of a single key
type client struct {
	bucket   *rate.Limiter
	lastSeen time.Time
}

// NewLimiter creates a keyed limiter. Buckets unused for idleTTL are dropped, zero keeps them forever.
func NewLimiter(policy config.RateLimitPolicy, idleTTL time.Duration, clock adapter.Clock) (*Limiter, error) {
	if policy.RequestsPerSecond <= 0 {
		return nil, fmt.Errorf("requests per second must be positive, got %v", policy.RequestsPerSecond)
	}
	if policy.Burst < 1 {
		return nil, fmt.Errorf("burst must be at least 1, got %d", policy.Burst)
	}

	return &Limiter{
		policy:  policy,
		idleTTL: idleTTL,
		clock:   clock,
		clients: make(map[string]*client),
	}, nil
}

// Allow takes a token for the key. When none is left it reports how long until the next one.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.evictIdle(now)

	c, ok := l.clients[key]
	if !ok {
		c = &client{bucket: rate.NewLimiter(rate.Limit(l.policy.RequestsPerSecond), l.policy.Burst)}
		l.clients[key] = c
	}
	c.lastSeen = now

	if c.bucket.AllowN(now, 1) {
		return true, 0
	}

	missing := 1 - c.bucket.TokensAt(now)
	return false, time.Duration(missing / l.policy.RequestsPerSecond * float64(time.Second))
}

// Len returns the number of tracked keys
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

func (l *Limiter) evictIdle(now time.Time) {
	if l.idleTTL <= 0 || now.Sub(l.lastSweep) < l.idleTTL {
		return
	}
	for key, c := range l.clients {
		if now.Sub(c.lastSeen) >= l.idleTTL {
			delete(l.clients, key)
		}
	}
	l.lastSweep = now
}

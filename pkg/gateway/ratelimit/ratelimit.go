// Package ratelimit bounds how fast one caller may open web sessions and
// drive speech turns. State is per process.
package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sync"
	"time"
)

const (
	defaultMaxCallers = 10_000
	defaultIdleTTL    = 30 * time.Minute
)

type Config struct {
	RPS   float64
	Burst int

	// MaxInFlight caps concurrent requests per caller. Zero disables the cap.
	MaxInFlight int

	MaxCallers int
	IdleTTL    time.Duration
}

// Enabled reports whether any limit is configured.
func (c Config) Enabled() bool {
	return c.rated() || c.MaxInFlight > 0
}

func (c Config) rated() bool { return c.RPS > 0 && c.Burst > 0 }

// Limiter tracks one bucket per caller key.
type Limiter struct {
	cfg Config

	mu      sync.Mutex
	callers map[string]*caller
}

type caller struct {
	tokens   float64
	refilled time.Time
	inFlight int
	seen     time.Time
}

func New(cfg Config) *Limiter {
	if cfg.MaxCallers <= 0 {
		cfg.MaxCallers = defaultMaxCallers
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = defaultIdleTTL
	}
	return &Limiter{cfg: cfg, callers: make(map[string]*caller)}
}

// KeyFromAPIKey is the caller key for an authenticated request. The key
// itself never lands in the map.
func KeyFromAPIKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return "k_" + hex.EncodeToString(sum[:16])
}

// KeyFromAddr is the caller key for an anonymous request.
func KeyFromAddr(host string) string {
	return "ip_" + host
}

// Permit holds an in-flight slot. Release is idempotent and nil-safe.
type Permit struct {
	once    sync.Once
	release func()
}

func (p *Permit) Release() {
	if p == nil || p.release == nil {
		return
	}
	p.once.Do(p.release)
}

type Decision struct {
	Allowed    bool
	RetryAfter int // whole seconds, set when denied
	Permit     *Permit
}

// Acquire spends one token from the caller's bucket and takes an in-flight
// slot. An allowed decision carries a permit the caller must release.
func (l *Limiter) Acquire(key string, now time.Time) Decision {
	if key == "" {
		key = "anonymous"
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	c := l.callerLocked(key, now)
	if l.cfg.MaxInFlight > 0 && c.inFlight >= l.cfg.MaxInFlight {
		return Decision{RetryAfter: 1}
	}
	if l.cfg.rated() {
		if wait := c.take(now, l.cfg.RPS, float64(l.cfg.Burst)); wait > 0 {
			return Decision{RetryAfter: wait}
		}
	}

	c.inFlight++
	return Decision{Allowed: true, Permit: &Permit{release: func() {
		l.mu.Lock()
		c.inFlight--
		l.mu.Unlock()
	}}}
}

// Len is the number of tracked callers.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.callers)
}

func (l *Limiter) callerLocked(key string, now time.Time) *caller {
	if c, ok := l.callers[key]; ok {
		c.seen = now
		return c
	}
	if len(l.callers) >= l.cfg.MaxCallers {
		l.evictLocked(now)
	}
	c := &caller{tokens: float64(l.cfg.Burst), refilled: now, seen: now}
	l.callers[key] = c
	return c
}

// evictLocked drops idle callers. When none are idle it drops the least
// recently seen caller with nothing in flight.
func (l *Limiter) evictLocked(now time.Time) {
	var oldestKey string
	var oldest time.Time
	for k, c := range l.callers {
		if c.inFlight > 0 {
			continue
		}
		if now.Sub(c.seen) > l.cfg.IdleTTL {
			delete(l.callers, k)
			continue
		}
		if oldestKey == "" || c.seen.Before(oldest) {
			oldestKey, oldest = k, c.seen
		}
	}
	if len(l.callers) >= l.cfg.MaxCallers && oldestKey != "" {
		delete(l.callers, oldestKey)
	}
}

// take refills the bucket and spends a token. It returns zero on success or
// the seconds until a token is available.
func (c *caller) take(now time.Time, rps, capacity float64) int {
	if elapsed := now.Sub(c.refilled).Seconds(); elapsed > 0 {
		c.tokens = math.Min(capacity, c.tokens+elapsed*rps)
		c.refilled = now
	}
	if c.tokens >= 1 {
		c.tokens--
		return 0
	}
	return max(1, int(math.Ceil((1-c.tokens)/rps)))
}

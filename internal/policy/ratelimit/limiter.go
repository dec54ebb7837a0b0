// Package ratelimit paces probes per host with token buckets.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/link-validator/internal/links"
	"github.com/JakeFAU/link-validator/internal/metrics"
)

const defaultIdleTTL = 10 * time.Minute

// Config sets the bucket every host gets. A non-positive RPS disables pacing.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
	// IdleTTL is how long a host's bucket survives without a Wait. It is
	// raised to the bucket's refill time so an evicted bucket is always full.
	IdleTTL time.Duration
}

type bucket struct {
	lim      *rate.Limiter
	lastUsed time.Time
}

// Limiter hands out one token bucket per probed host. It satisfies
// worker.Pacer.
type Limiter struct {
	every   rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

// New creates a Limiter from cfg.
func New(cfg Config) *Limiter {
	l := &Limiter{
		every:   rate.Limit(cfg.DefaultRPS),
		burst:   max(cfg.DefaultBurst, 1),
		idleTTL: cfg.IdleTTL,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
	if l.idleTTL <= 0 {
		l.idleTTL = defaultIdleTTL
	}
	if cfg.DefaultRPS <= 0 {
		l.every = rate.Inf
	} else {
		refill := time.Duration(float64(l.burst) / cfg.DefaultRPS * float64(time.Second))
		l.idleTTL = max(l.idleTTL, refill)
	}
	return l
}

func (l *Limiter) bucket(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if now.Sub(l.lastSweep) >= l.idleTTL {
		l.sweep(now)
	}
	b, ok := l.buckets[host]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.every, l.burst)}
		l.buckets[host] = b
	}
	b.lastUsed = now
	return b.lim
}

// sweep drops buckets idle for longer than idleTTL. Callers hold mu.
func (l *Limiter) sweep(now time.Time) {
	for host, b := range l.buckets {
		if now.Sub(b.lastUsed) > l.idleTTL {
			delete(l.buckets, host)
		}
	}
	l.lastSweep = now
}

// Wait blocks until rawURL's host may be probed again or ctx ends.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := links.Host(rawURL)
	start := time.Now()
	if err := l.bucket(host).Wait(ctx); err != nil {
		return fmt.Errorf("wait for %s: %w", host, err)
	}
	// Immediate grants are not recorded.
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(waited)
	}
	return nil
}

// Hosts reports how many hosts have a bucket.
func (l *Limiter) Hosts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

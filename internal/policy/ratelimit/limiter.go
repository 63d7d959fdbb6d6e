// Package ratelimit spaces out requests to the same host.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/docfetch/internal/fetch"
	"github.com/JakeFAU/docfetch/internal/metrics"
)

// localHost is the bucket shared by every filesystem path.
const localHost = "local"

// Limiter keeps one token bucket per host.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

// Config holds the per-host rate. A PerHostRPS of zero or less disables limiting.
type Config struct {
	PerHostRPS float64
	Burst      int
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.PerHostRPS)
	if cfg.PerHostRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    burst,
	}
}

// Enabled reports whether Wait can ever block.
func (l *Limiter) Enabled() bool {
	return l != nil && l.rate != rate.Inf
}

// Wait blocks until rawURL's host may be contacted again. Local paths are never delayed.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	if !l.Enabled() {
		return nil
	}
	host := Host(rawURL)
	if host == localHost {
		return nil
	}
	limiter := l.bucket(host)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	// Only a measurable wait counts as a delay.
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}

func (l *Limiter) bucket(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[host] = limiter
	}
	return limiter
}

// Host returns the lower-cased host of rawURL, "local" for filesystem paths,
// and "unknown" when the URL does not parse.
func Host(rawURL string) string {
	if fetch.IsLocal(rawURL) {
		return localHost
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

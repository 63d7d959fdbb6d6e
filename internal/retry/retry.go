// Package retry wraps single download attempts in a bounded retry loop that
// moves to the next proxy after every transport failure.
package retry

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/docfetch/internal/fetch"
	"github.com/JakeFAU/docfetch/internal/metrics"
	"github.com/JakeFAU/docfetch/internal/proxy"
)

// Attempter performs one download attempt, optionally through a proxy.
type Attempter interface {
	Fetch(ctx context.Context, rawURL string, via *proxy.Endpoint, cond fetch.Conditional) (fetch.Outcome, error)
}

// Options configures a Controller.
type Options struct {
	// MaxRetries is the number of extra attempts after the first.
	MaxRetries int
	// Backoff is the base pause before a retry. It doubles per attempt, is capped
	// at MaxBackoff, and is jittered. Zero retries at once.
	Backoff    time.Duration
	MaxBackoff time.Duration
	Pool       *proxy.Pool
	Logger     *zap.Logger
}

// DefaultMaxBackoff caps the retry pause when MaxBackoff is unset.
const DefaultMaxBackoff = 5 * time.Second

// Controller implements fetch.Fetcher.
type Controller struct {
	attempter  Attempter
	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration
	pool       *proxy.Pool
	logger     *zap.Logger
}

// New builds a Controller around attempter.
func New(attempter Attempter, opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	maxBackoff := opts.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = DefaultMaxBackoff
	}
	return &Controller{
		attempter:  attempter,
		maxRetries: maxRetries,
		backoff:    opts.Backoff,
		maxBackoff: maxBackoff,
		pool:       opts.Pool,
		logger:     logger,
	}
}

// Fetch makes up to MaxRetries+1 attempts. Filtered and too-large failures are
// returned from the attempt that produced them. Transport failures rotate the
// proxy pool and try again; once the budget is spent the last one is wrapped in
// a RetriesExhaustedError.
func (c *Controller) Fetch(ctx context.Context, rawURL string, cond fetch.Conditional) (fetch.Outcome, error) {
	attempts := c.maxRetries + 1
	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fetch.Failed(rawURL, err), fmt.Errorf("fetch %s: %w", rawURL, err)
		}
		via := c.currentProxy()
		out, err := c.attempter.Fetch(ctx, rawURL, via, cond)
		out.Attempts = attempt
		if err == nil {
			if via != nil {
				c.pool.RecordSuccess(ctx, *via)
			}
			return out, nil
		}
		if fetch.IsTerminal(err) {
			return out, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return out, fmt.Errorf("fetch %s: %w", rawURL, ctxErr)
		}

		last = err
		remaining := attempts - attempt
		fields := []zap.Field{
			zap.String("url", rawURL),
			zap.Int("attempt", attempt),
			zap.Int("remaining", remaining),
			zap.Error(err),
		}
		if via != nil {
			fields = append(fields, zap.Stringer("proxy", via))
			c.pool.RotateAway(*via)
		}
		c.logger.Warn("download attempt failed", fields...)
		if remaining == 0 {
			break
		}
		metrics.ObserveRetry()
		if err := c.wait(ctx, attempt); err != nil {
			return out, fmt.Errorf("fetch %s: %w", rawURL, err)
		}
	}

	err := &fetch.RetriesExhaustedError{URL: rawURL, Attempts: attempts, Last: last}
	out := fetch.Failed(rawURL, err)
	out.Attempts = attempts
	return out, err
}

func (c *Controller) currentProxy() *proxy.Endpoint {
	ep, ok := c.pool.Current()
	if !ok {
		return nil
	}
	return &ep
}

func (c *Controller) wait(ctx context.Context, attempt int) error {
	d := c.delay(attempt)
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// delay returns a pause in [d/2, d) where d = backoff * 2^(attempt-1), capped.
func (c *Controller) delay(attempt int) time.Duration {
	if c.backoff <= 0 {
		return 0
	}
	d := float64(c.backoff) * math.Pow(2, float64(attempt-1))
	if d > float64(c.maxBackoff) {
		d = float64(c.maxBackoff)
	}
	half := time.Duration(d / 2)
	return half + jitter(half)
}

func jitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

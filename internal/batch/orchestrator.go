// Package batch drains a set of pending URLs through a fixed pool of workers,
// aborting the whole batch once too many of them fail.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/docfetch/internal/accounting"
	"github.com/JakeFAU/docfetch/internal/fetch"
	"github.com/JakeFAU/docfetch/internal/filter"
	"github.com/JakeFAU/docfetch/internal/metrics"
	"github.com/JakeFAU/docfetch/internal/policy/ratelimit"
)

// Defaults for Options.
const (
	DefaultMaxConcurrency = 10
	DefaultMaxFailures    = 10
)

// Batch statuses reported to metrics.
const (
	StatusCompleted = "completed"
	StatusAborted   = "aborted"
	StatusCanceled  = "canceled"
)

// Callback receives every outcome of a run, failures included, as soon as it
// is known. It may be called from several workers at once.
type Callback func(ctx context.Context, outcome fetch.Outcome)

// Options controls one run.
type Options struct {
	BatchID string
	// MaxConcurrency is the number of workers; at most this many URLs are in flight.
	MaxConcurrency int
	// MaxFailures aborts the batch when reached. Zero or less means no ceiling.
	MaxFailures int
	// Collect keeps successful outcomes in the Result even when a callback is set.
	Collect bool
}

// Result summarizes a run. Outcomes holds successful downloads when the run
// had no callback; it is empty for an aborted batch. Abandoned counts URLs
// that never got an outcome, whether still queued or dropped in flight.
type Result struct {
	BatchID   string          `json:"batch_id,omitempty"`
	Outcomes  []fetch.Outcome `json:"-"`
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
	Filtered  int             `json:"filtered"`
	Skipped   int             `json:"skipped"`
	Abandoned int             `json:"abandoned"`
	Aborted   bool            `json:"aborted"`
}

// Config wires an Orchestrator.
type Config struct {
	Filter   *filter.Filter
	Counters *accounting.Counters
	Limiter  *ratelimit.Limiter
	Logger   *zap.Logger
}

// Orchestrator runs batches against a fetch.Fetcher.
type Orchestrator struct {
	fetcher  fetch.Fetcher
	filter   *filter.Filter
	counters *accounting.Counters
	limiter  *ratelimit.Limiter
	logger   *zap.Logger
}

// New builds an Orchestrator.
func New(fetcher fetch.Fetcher, cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	counters := cfg.Counters
	if counters == nil {
		counters = accounting.NewCounters(nil)
	}
	return &Orchestrator{
		fetcher:  fetcher,
		filter:   cfg.Filter,
		counters: counters,
		limiter:  cfg.Limiter,
		logger:   logger,
	}
}

// Run drains pending. Each outcome goes to cb when it is set; successful
// outcomes are collected into the Result when cb is nil or opts.Collect is set.
// Run returns once pending is empty and every worker has exited. Reaching the
// failure ceiling stops the run, discards collected outcomes, clears pending
// and returns a *fetch.BatchAbortedError. Canceling ctx stops the run with
// ctx's error and puts URLs that were handed out but never fetched back into
// pending.
func (o *Orchestrator) Run(ctx context.Context, pending *PendingSet, opts Options, cb Callback) (Result, error) {
	workers := opts.MaxConcurrency
	if workers <= 0 {
		workers = DefaultMaxConcurrency
	}
	logger := o.logger
	if opts.BatchID != "" {
		logger = logger.With(zap.String("batch_id", opts.BatchID))
	}

	runCtx, cancel := context.WithCancel(fetch.WithBatchID(ctx, opts.BatchID))
	defer cancel()
	state := newRunState(opts.MaxFailures, cancel)
	state.collect = cb == nil || opts.Collect

	g, gctx := errgroup.WithContext(runCtx)
	tasks := make(chan string)

	g.Go(func() error {
		defer close(tasks)
		for !state.isAborted() {
			rawURL, ok := pending.Pop()
			if !ok {
				// Workers may still add URLs through callbacks; the run ends only
				// when nothing is pending and nothing is in flight.
				if state.inFlight() == 0 {
					if pending.Len() == 0 {
						return nil
					}
					continue
				}
				select {
				case <-state.wake:
					continue
				case <-gctx.Done():
					return nil
				}
			}
			if !state.markSeen(rawURL) {
				continue
			}
			state.dispatched()
			select {
			case tasks <- rawURL:
			case <-gctx.Done():
				state.abandon(rawURL)
				state.finished()
				return nil
			}
		}
		return nil
	})
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for rawURL := range tasks {
				if !state.isAborted() && gctx.Err() == nil {
					o.process(gctx, logger, rawURL, state, cb)
				} else {
					state.abandon(rawURL)
				}
				state.finished()
			}
			return nil
		})
	}
	_ = g.Wait()

	// An aborted batch is dropped whole. A canceled one hands its unstarted
	// URLs back so a later run can pick them up.
	leftover := pending.Len()
	if state.isAborted() {
		pending.Clear()
	} else if ctx.Err() != nil {
		pending.Add(state.abandonedURLs()...)
	}
	result := state.result(opts.BatchID)
	result.Abandoned += leftover
	switch {
	case result.Aborted:
		metrics.ObserveBatch(StatusAborted)
		logger.Warn("batch aborted",
			zap.Int("failures", result.Failed),
			zap.Int("abandoned", result.Abandoned),
			zap.Int("max_failures", opts.MaxFailures),
		)
		return result, &fetch.BatchAbortedError{Failures: result.Failed, Limit: opts.MaxFailures}
	case ctx.Err() != nil:
		metrics.ObserveBatch(StatusCanceled)
		return result, fmt.Errorf("batch canceled: %w", ctx.Err())
	default:
		metrics.ObserveBatch(StatusCompleted)
		logger.Info("batch complete",
			zap.Int("succeeded", result.Succeeded),
			zap.Int("failed", result.Failed),
			zap.Int("filtered", result.Filtered),
		)
		return result, nil
	}
}

func (o *Orchestrator) process(ctx context.Context, logger *zap.Logger, rawURL string, state *runState, cb Callback) {
	o.counters.WorkerStarted()
	metrics.IncActiveWorkers()
	defer func() {
		o.counters.WorkerFinished()
		metrics.DecActiveWorkers()
	}()

	if !o.filter.Permits(rawURL) {
		err := &fetch.FilteredError{URL: rawURL}
		state.recordFiltered()
		metrics.ObserveFetch(rawURL, metrics.ResultFiltered, 0)
		logger.Debug("url filtered", zap.String("url", rawURL))
		deliver(ctx, cb, fetch.Failed(rawURL, err))
		return
	}
	if err := o.limiter.Wait(ctx, rawURL); err != nil {
		state.abandon(rawURL)
		return
	}

	out, err := o.fetcher.Fetch(ctx, rawURL, fetch.Conditional{})
	if ctx.Err() != nil {
		// Aborted or canceled while in flight; the outcome is discarded.
		state.abandon(rawURL)
		return
	}
	if err != nil {
		out.OK = false
		out.Err = err
		if errors.Is(err, fetch.ErrFiltered) {
			state.recordFiltered()
			deliver(ctx, cb, out)
			return
		}
		o.counters.BatchFailure()
		logger.Warn("url failed", zap.String("url", rawURL), zap.Error(err))
		if state.recordFailure() {
			return
		}
		deliver(ctx, cb, out)
		return
	}
	state.recordSuccess(out)
	deliver(ctx, cb, out)
}

func deliver(ctx context.Context, cb Callback, out fetch.Outcome) {
	if cb != nil {
		cb(ctx, out)
	}
}

// runState is the guarded bookkeeping of one run.
type runState struct {
	mu        sync.Mutex
	limit     int
	collect   bool
	cancel    context.CancelFunc
	seen      map[string]struct{}
	outcomes  []fetch.Outcome
	succeeded int
	failed    int
	filtered  int
	skipped   int
	aborted   bool
	abandoned []string
	inflight  int
	wake      chan struct{}
}

func newRunState(limit int, cancel context.CancelFunc) *runState {
	return &runState{
		limit:  limit,
		cancel: cancel,
		seen:   make(map[string]struct{}),
		wake:   make(chan struct{}, 1),
	}
}

func (s *runState) dispatched() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight++
}

// finished marks one URL done and wakes the feeder if it is waiting.
func (s *runState) finished() {
	s.mu.Lock()
	s.inflight--
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *runState) inFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight
}

// markSeen reports whether rawURL is new to this run.
func (s *runState) markSeen(rawURL string) bool {
	key := fetch.Key(rawURL)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.seen[key]; dup {
		s.skipped++
		return false
	}
	s.seen[key] = struct{}{}
	return true
}

func (s *runState) abandon(rawURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abandoned = append(s.abandoned, rawURL)
}

func (s *runState) abandonedURLs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.abandoned...)
}

func (s *runState) isAborted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aborted
}

func (s *runState) recordSuccess(out fetch.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.aborted {
		return
	}
	s.succeeded++
	if s.collect {
		s.outcomes = append(s.outcomes, out)
	}
}

func (s *runState) recordFiltered() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filtered++
}

// recordFailure counts one failure and reports whether it tripped the ceiling.
func (s *runState) recordFailure() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed++
	if s.aborted || s.limit <= 0 || s.failed < s.limit {
		return s.aborted
	}
	s.aborted = true
	s.outcomes = nil
	s.cancel()
	return true
}

func (s *runState) result(batchID string) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := Result{
		BatchID:   batchID,
		Succeeded: s.succeeded,
		Failed:    s.failed,
		Filtered:  s.filtered,
		Skipped:   s.skipped,
		Abandoned: len(s.abandoned),
		Aborted:   s.aborted,
	}
	if !s.aborted {
		r.Outcomes = s.outcomes
	}
	return r
}

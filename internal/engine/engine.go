// Package engine is the public face of docfetch: it owns the pending set, the
// proxy pool and the counters, and wires the downloader, retry controller,
// orchestrator and dispatcher together.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/docfetch/internal/accounting"
	"github.com/JakeFAU/docfetch/internal/batch"
	"github.com/JakeFAU/docfetch/internal/dispatcher"
	"github.com/JakeFAU/docfetch/internal/downloader"
	"github.com/JakeFAU/docfetch/internal/fetch"
	"github.com/JakeFAU/docfetch/internal/filter"
	"github.com/JakeFAU/docfetch/internal/policy/ratelimit"
	"github.com/JakeFAU/docfetch/internal/proxy"
	"github.com/JakeFAU/docfetch/internal/retry"
)

// Options configures an Engine. The zero value plus fetch.DefaultSettings()
// gives a direct, unfiltered engine with the batch defaults.
type Options struct {
	Settings       fetch.Settings
	Filter         filter.Config
	Proxies        []proxy.Endpoint
	SwitchEvery    int
	Prober         proxy.Prober
	MaxConcurrency int
	MaxFailures    int
	RetryBackoff   time.Duration
	PerHostRPS     float64
	Burst          int
	// Totals is the process-wide byte counter shared by every engine.
	Totals    *accounting.Totals
	Parser    fetch.DocumentParser
	Observers []fetch.Observer
	IDs       fetch.IDGenerator
	Logger    *zap.Logger
	// Transport and WatchdogTick are passed to the downloader.
	Transport    http.RoundTripper
	WatchdogTick time.Duration
}

// Engine fetches documents. Its methods are safe for concurrent use; batches
// run one at a time so MaxConcurrency bounds the engine as a whole.
type Engine struct {
	opts         Options
	filter       *filter.Filter
	pool         *proxy.Pool
	counters     *accounting.Counters
	fetcher      *retry.Controller
	orchestrator *batch.Orchestrator
	dispatcher   *dispatcher.Dispatcher
	pending      *batch.PendingSet
	runSlot      chan struct{}
	parser       fetch.DocumentParser
	ids          fetch.IDGenerator
	logger       *zap.Logger
	tracer       trace.Tracer
}

// New builds an Engine.
func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Settings == (fetch.Settings{}) {
		opts.Settings = fetch.DefaultSettings()
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = batch.DefaultMaxConcurrency
	}

	f := filter.New(opts.Filter)
	counters := accounting.NewCounters(opts.Totals)
	pool := proxy.NewPool(proxy.Config{
		Endpoints:   opts.Proxies,
		SwitchEvery: opts.SwitchEvery,
	}, opts.Prober, logger.Named("proxy"))

	dl := downloader.New(downloader.Options{
		Settings:     opts.Settings,
		Filter:       f,
		Counters:     counters,
		Logger:       logger.Named("downloader"),
		Transport:    opts.Transport,
		WatchdogTick: opts.WatchdogTick,
	})
	controller := retry.New(dl, retry.Options{
		MaxRetries: opts.Settings.MaxRetries,
		Backoff:    opts.RetryBackoff,
		Pool:       pool,
		Logger:     logger.Named("retry"),
	})
	orchestrator := batch.New(controller, batch.Config{
		Filter:   f,
		Counters: counters,
		Limiter:  ratelimit.New(ratelimit.Config{PerHostRPS: opts.PerHostRPS, Burst: opts.Burst}),
		Logger:   logger.Named("batch"),
	})

	return &Engine{
		opts:         opts,
		filter:       f,
		pool:         pool,
		counters:     counters,
		fetcher:      controller,
		orchestrator: orchestrator,
		dispatcher:   dispatcher.New(logger.Named("dispatcher"), opts.Observers...),
		pending:      batch.NewPendingSet(),
		runSlot:      make(chan struct{}, 1),
		parser:       opts.Parser,
		ids:          opts.IDs,
		logger:       logger,
		tracer:       otel.Tracer("github.com/JakeFAU/docfetch/internal/engine"),
	}
}

// Add queues URLs for the next Start, skipping ones already pending. It
// returns how many were new.
func (e *Engine) Add(urls ...string) int {
	return e.pending.Add(urls...)
}

// Pending lists the queued URLs in order.
func (e *Engine) Pending() []string {
	return e.pending.List()
}

// Start drains the pending set under a freshly generated batch id. Every
// outcome goes to the registered observers and to cb when it is set.
// Successful outcomes are returned in the Result when cb is nil. A batch that
// hits the failure ceiling returns an empty Result and a
// *fetch.BatchAbortedError.
func (e *Engine) Start(ctx context.Context, cb batch.Callback) (batch.Result, error) {
	batchID, err := e.NewBatchID()
	if err != nil {
		return batch.Result{}, err
	}
	return e.Run(ctx, batchID, cb)
}

// Run is Start with a caller-chosen batch id.
func (e *Engine) Run(ctx context.Context, batchID string, cb batch.Callback) (batch.Result, error) {
	return e.RunPending(ctx, batchID, e.pending, cb)
}

// RunPending drains a caller-owned pending set instead of the engine's own.
// It waits for any batch already running on the engine.
func (e *Engine) RunPending(ctx context.Context, batchID string, pending *batch.PendingSet, cb batch.Callback) (batch.Result, error) {
	select {
	case e.runSlot <- struct{}{}:
		defer func() { <-e.runSlot }()
	case <-ctx.Done():
		return batch.Result{BatchID: batchID}, fmt.Errorf("batch canceled: %w", ctx.Err())
	}

	opts := batch.Options{
		BatchID:        batchID,
		MaxConcurrency: e.opts.MaxConcurrency,
		MaxFailures:    e.opts.MaxFailures,
		Collect:        cb == nil,
	}
	ctx, span := e.tracer.Start(ctx, "docfetch.batch", trace.WithAttributes(
		attribute.String("batch_id", batchID),
		attribute.Int("pending", pending.Len()),
	))
	defer span.End()

	deliver := func(ctx context.Context, out fetch.Outcome) {
		_ = e.dispatcher.Dispatch(ctx, out)
		if cb != nil {
			cb(ctx, out)
		}
	}
	e.logger.Info("batch starting",
		zap.String("batch_id", batchID),
		zap.Int("pending", pending.Len()),
		zap.Int("workers", opts.MaxConcurrency),
	)
	res, err := e.orchestrator.Run(ctx, pending, opts, deliver)
	span.SetAttributes(
		attribute.Int("succeeded", res.Succeeded),
		attribute.Int("failed", res.Failed),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

// FetchOne downloads a single URL with retries. It returns nil on failure,
// which is logged. With deliver set the outcome also goes to the observers.
func (e *Engine) FetchOne(ctx context.Context, rawURL string, deliver bool) *fetch.Outcome {
	out, err := e.Fetch(ctx, rawURL, fetch.Conditional{}, deliver)
	if err != nil {
		return nil
	}
	return &out
}

// Fetch is FetchOne with conditional validators and the error exposed.
func (e *Engine) Fetch(ctx context.Context, rawURL string, cond fetch.Conditional, deliver bool) (fetch.Outcome, error) {
	ctx, span := e.tracer.Start(ctx, "docfetch.fetch", trace.WithAttributes(attribute.String("url", rawURL)))
	defer span.End()

	out, err := e.fetcher.Fetch(ctx, rawURL, cond)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if out.URL == "" {
			out.URL = rawURL
		}
		out.OK = false
		out.Err = err
		e.logger.Warn("fetch failed", zap.String("url", rawURL), zap.Error(err))
	}
	if deliver {
		_ = e.dispatcher.Dispatch(ctx, out)
	}
	if err != nil {
		return out, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	return out, nil
}

// FetchDocument downloads rawURL and hands the bytes to the configured
// DocumentParser. Without a parser the body is returned as an io.Reader.
func (e *Engine) FetchDocument(ctx context.Context, rawURL string, asXML, deliver bool) (any, bool) {
	out := e.FetchOne(ctx, rawURL, deliver)
	if out == nil {
		return nil, false
	}
	if e.parser == nil {
		return out.Reader(), true
	}
	uri := out.FinalURL
	if uri == "" {
		uri = rawURL
	}
	doc, err := e.parser.Parse(ctx, out.Reader(), uri, asXML)
	if err != nil {
		e.logger.Warn("parse failed", zap.String("url", rawURL), zap.Bool("xml", asXML), zap.Error(err))
		return nil, false
	}
	return doc, true
}

// Download returns the document text after applying strip in order, or "" on
// failure. Local paths are accepted.
func (e *Engine) Download(ctx context.Context, rawURL string, strip ...fetch.Stripper) string {
	out := e.FetchOne(ctx, rawURL, false)
	if out == nil {
		return ""
	}
	text := string(out.Body)
	for _, s := range strip {
		if s != nil {
			text = s(text)
		}
	}
	return text
}

// Stats snapshots the counters.
func (e *Engine) Stats() accounting.Snapshot {
	return e.counters.Snapshot()
}

// RegisterObserver adds an observer for every later outcome.
func (e *Engine) RegisterObserver(obs fetch.Observer) {
	e.dispatcher.Register(obs)
}

// ProxyPool exposes the pool for runtime additions and inspection.
func (e *Engine) ProxyPool() *proxy.Pool {
	return e.pool
}

// Filter returns the download filter.
func (e *Engine) Filter() *filter.Filter {
	return e.filter
}

// NewBatchID returns a batch id from the configured generator, or "" without one.
func (e *Engine) NewBatchID() (string, error) {
	if e.ids == nil {
		return "", nil
	}
	id, err := e.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("new batch id: %w", err)
	}
	return id, nil
}

// IsAborted reports whether err came from a batch hitting its failure ceiling.
func IsAborted(err error) bool {
	return errors.Is(err, fetch.ErrBatchAborted)
}

// Package downloader streams one document into memory under size, time and
// proxy constraints.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/docfetch/internal/accounting"
	"github.com/JakeFAU/docfetch/internal/fetch"
	"github.com/JakeFAU/docfetch/internal/filter"
	"github.com/JakeFAU/docfetch/internal/metrics"
	"github.com/JakeFAU/docfetch/internal/proxy"
	"github.com/JakeFAU/docfetch/internal/watchdog"
)

// ErrDeadline marks an attempt torn down by the watchdog.
var ErrDeadline = errors.New("overall timeout exceeded")

// Options configures a Downloader.
type Options struct {
	Settings fetch.Settings
	Filter   *filter.Filter
	Counters *accounting.Counters
	Logger   *zap.Logger
	// Transport replaces the tuned default transport. Proxy selection and read
	// deadlines are then the caller's business.
	Transport http.RoundTripper
	// WatchdogTick overrides watchdog.DefaultTick.
	WatchdogTick time.Duration
}

// Downloader performs single attempts. Retrying is left to the retry package.
type Downloader struct {
	settings fetch.Settings
	filter   *filter.Filter
	counters *accounting.Counters
	logger   *zap.Logger
	client   *http.Client
	tick     time.Duration
}

// New builds a Downloader.
func New(opts Options) *Downloader {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	counters := opts.Counters
	if counters == nil {
		counters = accounting.NewCounters(nil)
	}
	transport := opts.Transport
	if transport == nil {
		transport = newHTTPTransport(opts.Settings.ConnectTimeout, opts.Settings.ReadTimeout)
	}
	tick := opts.WatchdogTick
	if tick <= 0 {
		tick = watchdog.DefaultTick
	}
	return &Downloader{
		settings: opts.Settings,
		filter:   opts.Filter,
		counters: counters,
		logger:   logger,
		client:   &http.Client{Transport: transport},
		tick:     tick,
	}
}

// Filter returns the filter applied before every attempt.
func (d *Downloader) Filter() *filter.Filter {
	return d.filter
}

// Fetch downloads rawURL once, through via when it is non-nil. Local paths are
// read from disk through the same bounded loop. A returned Outcome is fully
// decoded and within the size limit; on error the Outcome carries no body.
func (d *Downloader) Fetch(ctx context.Context, rawURL string, via *proxy.Endpoint, cond fetch.Conditional) (fetch.Outcome, error) {
	if !d.filter.Permits(rawURL) {
		err := &fetch.FilteredError{URL: rawURL}
		metrics.ObserveFetch(rawURL, metrics.ResultFiltered, 0)
		return fetch.Failed(rawURL, err), err
	}

	start := time.Now()
	var (
		out fetch.Outcome
		err error
	)
	if fetch.IsLocal(rawURL) {
		out, err = d.fetchLocal(ctx, rawURL)
	} else {
		out, err = d.fetchHTTP(ctx, rawURL, via, cond)
	}
	if err != nil {
		failed := fetch.Failed(rawURL, err)
		failed.Duration = time.Since(start)
		if errors.Is(err, fetch.ErrTooLarge) {
			metrics.ObserveFetch(rawURL, metrics.ResultTooLarge, 0)
		} else {
			metrics.ObserveFetch(rawURL, metrics.ResultTransport, 0)
		}
		return failed, err
	}

	out.URL = rawURL
	out.Duration = time.Since(start)
	out.OK = true
	d.counters.Record(out.Size)
	metrics.ObserveFetch(rawURL, metrics.ResultSuccess, out.Size)
	d.logger.Debug("download complete",
		zap.String("url", rawURL),
		zap.Int64("bytes", out.Size),
		zap.Int64("raw_bytes", out.RawSize),
		zap.Duration("duration", out.Duration),
	)
	return out, nil
}

func (d *Downloader) fetchHTTP(ctx context.Context, rawURL string, via *proxy.Endpoint, cond fetch.Conditional) (fetch.Outcome, error) {
	attemptCtx, cancel := context.WithCancel(withProxy(ctx, via))
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fetch.Outcome{}, &fetch.TransportError{URL: rawURL, Err: fmt.Errorf("build request: %w", err)}
	}
	d.applyHeaders(req, cond)

	dog := watchdog.ArmWithTick(d.settings.OverallTimeout, d.tick, func() {
		metrics.ObserveWatchdogFired()
		d.logger.Warn("download exceeded overall timeout; aborting",
			zap.String("url", rawURL),
			zap.Duration("timeout", d.settings.OverallTimeout),
		)
		cancel()
	})
	defer dog.Disarm()

	resp, err := d.client.Do(req)
	if err != nil {
		return fetch.Outcome{}, d.transportError(rawURL, 0, "send request", err, dog)
	}
	defer resp.Body.Close() //nolint:errcheck // read errors are reported instead

	out := fetch.Outcome{
		FinalURL:        resp.Request.URL.String(),
		StatusCode:      resp.StatusCode,
		Header:          resp.Header.Clone(),
		ContentEncoding: resp.Header.Get("Content-Encoding"),
	}
	if resp.StatusCode == http.StatusNotModified {
		out.NotModified = true
		return out, nil
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, ChunkSize))
		return fetch.Outcome{}, &fetch.TransportError{
			URL:        rawURL,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %q", resp.Status),
		}
	}

	raw, rawSize, err := readBounded(resp.Body, d.rawLimit(out.ContentEncoding))
	if errors.Is(err, errLimit) {
		return fetch.Outcome{}, &fetch.TooLargeError{URL: rawURL, Limit: d.filter.MaxBytes(), Read: rawSize}
	}
	if err != nil {
		return fetch.Outcome{}, d.transportError(rawURL, resp.StatusCode, "read body", err, dog)
	}
	dog.Disarm()

	body, err := decode(out.ContentEncoding, raw, d.limit())
	if errors.Is(err, errLimit) {
		return fetch.Outcome{}, &fetch.TooLargeError{URL: rawURL, Limit: d.filter.MaxBytes(), Read: rawSize}
	}
	if err != nil {
		return fetch.Outcome{}, &fetch.TransportError{URL: rawURL, StatusCode: resp.StatusCode, Err: err}
	}
	out.Body = body
	out.Size = int64(len(body))
	out.RawSize = rawSize
	return out, nil
}

func (d *Downloader) fetchLocal(ctx context.Context, rawURL string) (fetch.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return fetch.Outcome{}, &fetch.TransportError{URL: rawURL, Err: err}
	}
	path := fetch.LocalPath(rawURL)
	f, err := os.Open(path) //nolint:gosec // reading caller-named local documents is the point
	if err != nil {
		return fetch.Outcome{}, &fetch.TransportError{URL: rawURL, Err: fmt.Errorf("open %s: %w", path, err)}
	}
	defer f.Close() //nolint:errcheck // read-only file

	body, n, err := readBounded(f, d.limit())
	if errors.Is(err, errLimit) {
		return fetch.Outcome{}, &fetch.TooLargeError{URL: rawURL, Limit: d.filter.MaxBytes(), Read: n}
	}
	if err != nil {
		return fetch.Outcome{}, &fetch.TransportError{URL: rawURL, Err: fmt.Errorf("read %s: %w", path, err)}
	}
	return fetch.Outcome{
		FinalURL: path,
		Body:     body,
		Size:     n,
		RawSize:  n,
	}, nil
}

func (d *Downloader) applyHeaders(req *http.Request, cond fetch.Conditional) {
	if d.settings.UserAgent != "" {
		req.Header.Set("User-Agent", d.settings.UserAgent)
	}
	if d.settings.Referer != "" {
		req.Header.Set("Referer", d.settings.Referer)
	}
	if d.settings.Compression {
		req.Header.Set("Accept-Encoding", "gzip, deflate")
	}
	cond.Apply(req.Header)
}

func (d *Downloader) transportError(rawURL string, status int, op string, err error, dog *watchdog.Watchdog) error {
	if dog.Fired() {
		err = fmt.Errorf("%w after %s: %w", ErrDeadline, d.settings.OverallTimeout, err)
	}
	return &fetch.TransportError{URL: rawURL, StatusCode: status, Err: fmt.Errorf("%s: %w", op, err)}
}

// limit is the exact decoded-size ceiling, or -1.
func (d *Downloader) limit() int64 {
	if !d.filter.Bounded() {
		return -1
	}
	return d.filter.MaxBytes()
}

// rawLimit tightens the ceiling for encoded bodies by the expected compression
// ratio so an oversized document is abandoned before it is fully transferred.
func (d *Downloader) rawLimit(contentEncoding string) int64 {
	limit := d.limit()
	if limit < 0 || !d.settings.Compression || !encoded(contentEncoding) {
		return limit
	}
	ratio := d.settings.CompressionRatio
	if ratio <= 0 {
		ratio = 1
	}
	return int64(float64(limit) / ratio)
}

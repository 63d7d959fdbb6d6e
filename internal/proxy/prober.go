package proxy

import (
	"context"
	"io"
	"net/http"
	"time"
)

// Probe defaults.
const (
	DefaultProbeURL     = "http://www.google.com/"
	DefaultProbeTimeout = 5 * time.Second
)

// HTTPProber issues a lightweight GET through the candidate proxy to a known-good target.
type HTTPProber struct {
	Target    string
	Timeout   time.Duration
	UserAgent string
}

// Probe reports whether the target answered through ep with a non-error status.
func (h HTTPProber) Probe(ctx context.Context, ep Endpoint) bool {
	target := h.Target
	if target == "" {
		target = DefaultProbeURL
	}
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyURL(ep.URL()),
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		DisableKeepAlives:     true,
	}
	defer transport.CloseIdleConnections()
	client := &http.Client{Transport: transport, Timeout: timeout}

	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, target, nil)
	if err != nil {
		return false
	}
	if h.UserAgent != "" {
		req.Header.Set("User-Agent", h.UserAgent)
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close() //nolint:errcheck // probe body is discarded
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode < http.StatusBadRequest
}

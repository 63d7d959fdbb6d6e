package downloader

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/JakeFAU/docfetch/internal/proxy"
)

type proxyKey struct{}

// withProxy routes the request carrying ctx through ep.
func withProxy(ctx context.Context, ep *proxy.Endpoint) context.Context {
	if ep == nil || ep.IsZero() {
		return ctx
	}
	return context.WithValue(ctx, proxyKey{}, *ep)
}

func proxyFromContext(req *http.Request) (*url.URL, error) {
	ep, ok := req.Context().Value(proxyKey{}).(proxy.Endpoint)
	if !ok {
		return nil, nil
	}
	return ep.URL(), nil
}

// idleConn resets its read deadline before every read, so a stalled peer fails
// after readTimeout of silence rather than after the whole attempt budget.
type idleConn struct {
	net.Conn
	readTimeout time.Duration
}

func (c *idleConn) Read(p []byte) (int, error) {
	if c.readTimeout > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(p)
}

func newHTTPTransport(connectTimeout, readTimeout time.Duration) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy: proxyFromContext,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			return &idleConn{Conn: conn, readTimeout: readTimeout}, nil
		},
		TLSHandshakeTimeout:   connectTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		// Bodies are decoded by hand so the raw stream can be capped.
		DisableCompression: true,
	}
}

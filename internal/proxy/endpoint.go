// Package proxy maintains the rotating pool of egress proxies.
package proxy

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Endpoint is one HTTP proxy.
type Endpoint struct {
	Host string
	Port int
}

// Parse reads a HOST:PORT entry.
func Parse(raw string) (Endpoint, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "http://")
	host, portText, err := net.SplitHostPort(raw)
	if err != nil {
		return Endpoint{}, fmt.Errorf("parse proxy %q: %w", raw, err)
	}
	if host == "" {
		return Endpoint{}, fmt.Errorf("parse proxy %q: empty host", raw)
	}
	port, err := strconv.Atoi(portText)
	if err != nil || port <= 0 || port > 65535 {
		return Endpoint{}, fmt.Errorf("parse proxy %q: invalid port", raw)
	}
	return Endpoint{Host: host, Port: port}, nil
}

// ParseAll parses every entry, failing on the first bad one.
func ParseAll(raw []string) ([]Endpoint, error) {
	out := make([]Endpoint, 0, len(raw))
	for _, r := range raw {
		if strings.TrimSpace(r) == "" {
			continue
		}
		ep, err := Parse(r)
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, nil
}

// String returns HOST:PORT.
func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// URL returns the proxy URL used by http.Transport.
func (e Endpoint) URL() *url.URL {
	return &url.URL{Scheme: "http", Host: e.String()}
}

// IsZero reports whether e is unset.
func (e Endpoint) IsZero() bool {
	return e.Host == "" && e.Port == 0
}

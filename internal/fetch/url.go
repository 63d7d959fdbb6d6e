package fetch

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// IsLocal reports whether raw names a filesystem path rather than an HTTP(S) URL.
func IsLocal(raw string) bool {
	lower := strings.ToLower(strings.TrimSpace(raw))
	return !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://")
}

// LocalPath strips an optional file:// scheme from raw.
func LocalPath(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(strings.ToLower(raw), "file://") {
		return raw[len("file://"):]
	}
	return raw
}

// NormalizeURL standardizes a URL to avoid duplicates.
// It lowercases the scheme and host, removes default ports, and sorts query parameters.
// It also removes fragments.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.RawQuery = u.Query().Encode()

	return u.String(), nil
}

// Key returns the identity of a fetch task: the normalized URL, or the cleaned
// path for local files. Unparseable URLs are kept verbatim so they still fail
// (and get reported) downstream instead of vanishing.
func Key(raw string) string {
	raw = strings.TrimSpace(raw)
	if IsLocal(raw) {
		return filepath.Clean(LocalPath(raw))
	}
	normalized, err := NormalizeURL(raw)
	if err != nil {
		return raw
	}
	return normalized
}

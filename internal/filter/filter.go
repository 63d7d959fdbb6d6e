// Package filter implements the download filter consulted before any network I/O.
package filter

import (
	"net/url"
	"path"
	"strings"

	"github.com/JakeFAU/docfetch/internal/fetch"
)

// Unbounded disables the size limit.
const Unbounded int64 = -1

// Config lists the allow/deny rules. Types are file extensions without the dot,
// compared case-insensitively.
type Config struct {
	IncludeTypes []string
	ExcludeTypes []string
	MaxBytes     int64
}

// Filter decides whether a URL may be downloaded. It is immutable and safe for
// concurrent use.
type Filter struct {
	include  map[string]struct{}
	exclude  map[string]struct{}
	maxBytes int64
}

// New builds a Filter. A MaxBytes of zero or less means unbounded.
func New(cfg Config) *Filter {
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = Unbounded
	}
	return &Filter{
		include:  toSet(cfg.IncludeTypes),
		exclude:  toSet(cfg.ExcludeTypes),
		maxBytes: maxBytes,
	}
}

// Permits reports whether rawURL passes the type rules. A nil Filter permits everything.
func (f *Filter) Permits(rawURL string) bool {
	if f == nil {
		return true
	}
	ext := Extension(rawURL)
	if _, denied := f.exclude[ext]; denied && ext != "" {
		return false
	}
	if len(f.include) == 0 {
		return true
	}
	_, ok := f.include[ext]
	return ok
}

// MaxBytes returns the byte ceiling, or Unbounded.
func (f *Filter) MaxBytes() int64 {
	if f == nil {
		return Unbounded
	}
	return f.maxBytes
}

// Bounded reports whether a size ceiling is configured.
func (f *Filter) Bounded() bool {
	return f.MaxBytes() > 0
}

// Extension returns the lower-cased file extension of the last path segment of
// rawURL, without the dot. Query strings and fragments are ignored.
func Extension(rawURL string) string {
	p := rawURL
	if !fetch.IsLocal(rawURL) {
		if u, err := url.Parse(rawURL); err == nil {
			p = u.Path
		}
	} else {
		p = fetch.LocalPath(rawURL)
	}
	base := path.Base(strings.ReplaceAll(p, "\\", "/"))
	idx := strings.LastIndexByte(base, '.')
	if idx < 0 || idx == len(base)-1 {
		return ""
	}
	return strings.ToLower(base[idx+1:])
}

func toSet(types []string) map[string]struct{} {
	out := make(map[string]struct{}, len(types))
	for _, t := range types {
		t = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(t), "."))
		if t == "" {
			continue
		}
		out[t] = struct{}{}
	}
	return out
}

package fetch

import (
	"bytes"
	"io"
	"net/http"
	"time"
)

// Default values applied by DefaultSettings.
const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultReadTimeout    = 16 * time.Second
	DefaultOverallTimeout = 60 * time.Second
	DefaultUserAgent      = "Mozilla/5.0 (compatible; docfetch/1.0)"
	DefaultReferer        = "http://www.google.com"
)

// Settings captures the knobs applied to every download attempt.
type Settings struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	// OverallTimeout bounds a whole attempt, body included; enforced by the watchdog.
	OverallTimeout time.Duration
	MaxRetries     int
	Compression    bool
	// CompressionRatio is the expected inflation factor of compressed bodies. The raw
	// stream is abandoned once it passes MaxBytes/CompressionRatio.
	CompressionRatio float64
	UserAgent        string
	Referer          string
}

// DefaultSettings returns the engine defaults.
func DefaultSettings() Settings {
	return Settings{
		ConnectTimeout:   DefaultConnectTimeout,
		ReadTimeout:      DefaultReadTimeout,
		OverallTimeout:   DefaultOverallTimeout,
		MaxRetries:       0,
		Compression:      true,
		CompressionRatio: 1,
		UserAgent:        DefaultUserAgent,
		Referer:          DefaultReferer,
	}
}

// Conditional carries optional conditional-request validators.
type Conditional struct {
	IfModifiedSince time.Time
	ETag            string
}

// Apply sets the conditional headers on h.
func (c Conditional) Apply(h http.Header) {
	if !c.IfModifiedSince.IsZero() {
		h.Set("If-Modified-Since", c.IfModifiedSince.UTC().Format(http.TimeFormat))
	}
	if c.ETag != "" {
		h.Set("If-None-Match", c.ETag)
	}
}

// Outcome is the result of fetching one URL. A successful Outcome has been
// decoded and checked against the size limit before anyone sees it.
type Outcome struct {
	URL             string
	FinalURL        string
	StatusCode      int
	Header          http.Header
	Body            []byte
	ContentEncoding string
	// Size is the decoded body length; RawSize is what came over the wire.
	Size        int64
	RawSize     int64
	Duration    time.Duration
	Attempts    int
	NotModified bool
	OK          bool
	Err         error
}

// Reader returns a reader over the body.
func (o Outcome) Reader() io.Reader {
	return bytes.NewReader(o.Body)
}

// LastModified returns the Last-Modified validator for a later conditional request.
func (o Outcome) LastModified() time.Time {
	if o.Header == nil {
		return time.Time{}
	}
	t, err := http.ParseTime(o.Header.Get("Last-Modified"))
	if err != nil {
		return time.Time{}
	}
	return t
}

// ETag returns the entity tag sent by the server, if any.
func (o Outcome) ETag() string {
	if o.Header == nil {
		return ""
	}
	return o.Header.Get("ETag")
}

// Validators converts the outcome's validators into a Conditional.
func (o Outcome) Validators() Conditional {
	return Conditional{IfModifiedSince: o.LastModified(), ETag: o.ETag()}
}

// Failed builds a failed Outcome for rawURL.
func Failed(rawURL string, err error) Outcome {
	return Outcome{URL: rawURL, Err: err}
}

// RetrievalRecord is the metadata row persisted for each delivered outcome.
type RetrievalRecord struct {
	ID          string
	BatchID     string
	URL         string
	FinalURL    string
	OK          bool
	StatusCode  int
	Bytes       int64
	Hash        string
	BlobURI     string
	Headers     http.Header
	ContentType string
	ErrorText   string
	RetrievedAt time.Time
}

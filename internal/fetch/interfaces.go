package fetch

import (
	"context"
	"io"
	"time"
)

// Fetcher fetches one URL, retrying as configured.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, cond Conditional) (Outcome, error)
}

// Observer receives every outcome delivered by the dispatcher, failures included.
type Observer interface {
	Observe(ctx context.Context, outcome Outcome) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, outcome Outcome) error

// Observe calls f.
func (f ObserverFunc) Observe(ctx context.Context, outcome Outcome) error {
	return f(ctx, outcome)
}

// DocumentParser turns downloaded bytes into a document. Markup parsing lives
// outside this module; callers plug their HTML/XML parser in here.
type DocumentParser interface {
	Parse(ctx context.Context, body io.Reader, uri string, asXML bool) (any, error)
}

// Stripper post-processes downloaded text (tag stripping, whitespace folding, ...).
type Stripper func(string) string

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// RetrievalStore persists outcome metadata.
type RetrievalStore interface {
	StoreRetrieval(ctx context.Context, record RetrievalRecord) error
}

// Hasher computes digests for content addressing.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces batch and record IDs.
type IDGenerator interface {
	NewID() (string, error)
}

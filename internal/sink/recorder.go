// Package sink holds the observers that persist and announce fetch outcomes.
package sink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/docfetch/internal/fetch"
	"github.com/JakeFAU/docfetch/internal/filter"
)

const defaultContentType = "application/octet-stream"

// Config controls the Recorder.
type Config struct {
	// BlobPrefix is prepended to every object path.
	BlobPrefix string
	// Topic receives one event per outcome; empty disables publishing.
	Topic string
	// RecordFailures also writes metadata rows for failed outcomes.
	RecordFailures bool
}

// Deps are the Recorder's collaborators. Any of BlobStore, Store and Publisher
// may be nil to skip that step.
type Deps struct {
	BlobStore fetch.BlobStore
	Store     fetch.RetrievalStore
	Publisher fetch.Publisher
	Hasher    fetch.Hasher
	Clock     fetch.Clock
	IDs       fetch.IDGenerator
}

// Recorder stores each successful document content-addressed by its hash,
// writes a metadata row and publishes an event.
type Recorder struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// NewRecorder builds a Recorder. Hasher, Clock and IDs are required.
func NewRecorder(deps Deps, cfg Config, logger *zap.Logger) (*Recorder, error) {
	if deps.Hasher == nil || deps.Clock == nil || deps.IDs == nil {
		return nil, errors.New("recorder needs a hasher, a clock and an id generator")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{deps: deps, cfg: cfg, logger: logger}, nil
}

// BlobPath returns the object path for a document with the given hash.
func (r *Recorder) BlobPath(hash, rawURL string) string {
	name := hash
	if ext := filter.Extension(rawURL); ext != "" {
		name += "." + ext
	}
	shard := hash
	if len(shard) > 2 {
		shard = shard[:2]
	}
	return path.Join(strings.Trim(r.cfg.BlobPrefix, "/"), shard, name)
}

// Observe implements fetch.Observer.
func (r *Recorder) Observe(ctx context.Context, out fetch.Outcome) error {
	if !out.OK && !r.cfg.RecordFailures {
		return nil
	}
	record, err := r.record(ctx, out)
	if err != nil {
		return err
	}
	if r.deps.Store != nil {
		if err := r.deps.Store.StoreRetrieval(ctx, record); err != nil {
			return fmt.Errorf("store retrieval: %w", err)
		}
	}
	return r.publish(ctx, record)
}

func (r *Recorder) record(ctx context.Context, out fetch.Outcome) (fetch.RetrievalRecord, error) {
	id, err := r.deps.IDs.NewID()
	if err != nil {
		return fetch.RetrievalRecord{}, fmt.Errorf("new record id: %w", err)
	}
	record := fetch.RetrievalRecord{
		ID:          id,
		BatchID:     fetch.BatchIDFrom(ctx),
		URL:         out.URL,
		FinalURL:    out.FinalURL,
		OK:          out.OK,
		StatusCode:  out.StatusCode,
		Bytes:       out.Size,
		Headers:     out.Header,
		ContentType: contentType(out.Header),
		RetrievedAt: r.deps.Clock.Now(),
	}
	if out.Err != nil {
		record.ErrorText = out.Err.Error()
	}
	if !out.OK || out.NotModified {
		return record, nil
	}

	hash, err := r.deps.Hasher.Hash(out.Body)
	if err != nil {
		return fetch.RetrievalRecord{}, fmt.Errorf("hash body: %w", err)
	}
	record.Hash = hash
	if r.deps.BlobStore != nil {
		uri, err := r.deps.BlobStore.PutObject(ctx, r.BlobPath(hash, out.URL), record.ContentType, bytes.NewReader(out.Body))
		if err != nil {
			return fetch.RetrievalRecord{}, fmt.Errorf("put object: %w", err)
		}
		record.BlobURI = uri
	}
	return record, nil
}

func (r *Recorder) publish(ctx context.Context, record fetch.RetrievalRecord) error {
	if r.cfg.Topic == "" || r.deps.Publisher == nil {
		return nil
	}
	payload := map[string]any{
		"id":        record.ID,
		"batch_id":  record.BatchID,
		"url":       record.URL,
		"ok":        record.OK,
		"status":    record.StatusCode,
		"bytes":     record.Bytes,
		"hash":      record.Hash,
		"blob_uri":  record.BlobURI,
		"timestamp": record.RetrievedAt.Format(time.RFC3339),
	}
	if record.ErrorText != "" {
		payload["error"] = record.ErrorText
	}
	msgID, err := r.deps.Publisher.Publish(ctx, r.cfg.Topic, payload)
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	r.logger.Debug("retrieval published",
		zap.String("url", record.URL),
		zap.String("batch_id", record.BatchID),
		zap.String("message_id", msgID),
	)
	return nil
}

func contentType(h http.Header) string {
	if h == nil {
		return defaultContentType
	}
	if ct := h.Get("Content-Type"); ct != "" {
		return ct
	}
	return defaultContentType
}

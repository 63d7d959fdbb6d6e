package sink

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/docfetch/internal/clock"
	"github.com/JakeFAU/docfetch/internal/fetch"
	"github.com/JakeFAU/docfetch/internal/hash/sha256"
	"github.com/JakeFAU/docfetch/internal/publisher/memory"
	memstore "github.com/JakeFAU/docfetch/internal/storage/memory"
)

const helloDigest = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"

type seqIDs struct{ n int }

func (s *seqIDs) NewID() (string, error) {
	s.n++
	return fmt.Sprintf("rec-%d", s.n), nil
}

type failingStore struct{}

func (failingStore) StoreRetrieval(context.Context, fetch.RetrievalRecord) error {
	return errors.New("db down")
}

func newRecorder(t *testing.T, cfg Config, store fetch.RetrievalStore) (*Recorder, *memstore.BlobStore, *memory.Publisher) {
	t.Helper()
	blobs := memstore.NewBlobStore()
	pub := memory.New()
	r, err := NewRecorder(Deps{
		BlobStore: blobs,
		Store:     store,
		Publisher: pub,
		Hasher:    sha256.New(),
		Clock:     clock.NewManual(time.Unix(1700000000, 0).UTC()),
		IDs:       &seqIDs{},
	}, cfg, zap.NewNop())
	require.NoError(t, err)
	return r, blobs, pub
}

func TestRecorderPersistsSuccess(t *testing.T) {
	t.Parallel()

	store := memstore.NewRetrievalStore()
	r, blobs, pub := newRecorder(t, Config{BlobPrefix: "/docs/", Topic: "retrievals"}, store)

	ctx := fetch.WithBatchID(context.Background(), "batch-9")
	out := fetch.Outcome{
		URL:        "https://example.com/files/report.PDF?v=2",
		FinalURL:   "https://example.com/files/report.PDF?v=2",
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": {"application/pdf"}},
		Body:       []byte("hello world"),
		Size:       11,
		OK:         true,
	}
	require.NoError(t, r.Observe(ctx, out))

	wantPath := "docs/b9/" + helloDigest + ".pdf"
	obj, ok := blobs.Get(wantPath)
	require.True(t, ok)
	require.Equal(t, "hello world", string(obj.Data))
	require.Equal(t, "application/pdf", obj.ContentType)

	records := store.ByBatch("batch-9")
	require.Len(t, records, 1)
	require.Equal(t, helloDigest, records[0].Hash)
	require.Equal(t, "memory://"+wantPath, records[0].BlobURI)
	require.Equal(t, int64(11), records[0].Bytes)
	require.True(t, records[0].OK)

	msgs := pub.Messages("retrievals")
	require.Len(t, msgs, 1)
	payload, ok := msgs[0].Payload.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "batch-9", payload["batch_id"])
	require.Equal(t, helloDigest, payload["hash"])
}

func TestRecorderSkipsFailuresByDefault(t *testing.T) {
	t.Parallel()

	store := memstore.NewRetrievalStore()
	r, blobs, pub := newRecorder(t, Config{Topic: "retrievals"}, store)
	failed := fetch.Failed("https://example.com/x", &fetch.TransportError{URL: "https://example.com/x", Err: errors.New("reset")})
	require.NoError(t, r.Observe(context.Background(), failed))
	require.Empty(t, store.Records())
	require.Empty(t, blobs.Paths())
	require.Empty(t, pub.Messages())
}

func TestRecorderRecordsFailuresWhenAsked(t *testing.T) {
	t.Parallel()

	store := memstore.NewRetrievalStore()
	r, blobs, pub := newRecorder(t, Config{Topic: "retrievals", RecordFailures: true}, store)
	failed := fetch.Failed("https://example.com/x", &fetch.FilteredError{URL: "https://example.com/x"})
	require.NoError(t, r.Observe(context.Background(), failed))

	records := store.Records()
	require.Len(t, records, 1)
	require.False(t, records[0].OK)
	require.Contains(t, records[0].ErrorText, "filtered")
	require.Empty(t, records[0].Hash)
	require.Empty(t, blobs.Paths())
	require.Len(t, pub.Messages(), 1)
}

func TestRecorderNotModifiedStoresNoBlob(t *testing.T) {
	t.Parallel()

	store := memstore.NewRetrievalStore()
	r, blobs, _ := newRecorder(t, Config{}, store)
	require.NoError(t, r.Observe(context.Background(), fetch.Outcome{URL: "https://example.com", OK: true, NotModified: true, StatusCode: http.StatusNotModified}))
	require.Empty(t, blobs.Paths())
	require.Len(t, store.Records(), 1)
}

func TestRecorderSurfacesStoreErrors(t *testing.T) {
	t.Parallel()

	r, _, pub := newRecorder(t, Config{Topic: "retrievals"}, failingStore{})
	err := r.Observe(context.Background(), fetch.Outcome{URL: "https://example.com", OK: true, Body: []byte("x")})
	require.ErrorContains(t, err, "store retrieval")
	require.Empty(t, pub.Messages())
}

func TestNewRecorderRequiresDeps(t *testing.T) {
	t.Parallel()

	_, err := NewRecorder(Deps{}, Config{}, nil)
	require.Error(t, err)
}

func TestLogObserver(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	obs := LogObserver(zap.New(core))
	ctx := fetch.WithBatchID(context.Background(), "b1")

	require.NoError(t, obs.Observe(ctx, fetch.Outcome{URL: "u1", OK: true, Size: 3}))
	require.NoError(t, obs.Observe(ctx, fetch.Failed("u2", errors.New("boom"))))

	require.Equal(t, 1, logs.FilterMessage("fetch succeeded").Len())
	failed := logs.FilterMessage("fetch failed").All()
	require.Len(t, failed, 1)
	require.Equal(t, "b1", failed[0].ContextMap()["batch_id"])
}

package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/docfetch/internal/fetch"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "docs/ab/abcd", "text/html", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://docs/ab/abcd", uri)

	payload[0] = 'C'
	obj, ok := store.Get("docs/ab/abcd")
	require.True(t, ok)
	require.Equal(t, "content", string(obj.Data))
	require.Equal(t, "text/html", obj.ContentType)
	require.Equal(t, []string{"docs/ab/abcd"}, store.Paths())

	_, err = store.PutObject(context.Background(), "", "", bytes.NewReader(nil))
	require.Error(t, err)
}

func TestRetrievalStore(t *testing.T) {
	t.Parallel()

	store := NewRetrievalStore()
	ctx := context.Background()
	require.NoError(t, store.StoreRetrieval(ctx, fetch.RetrievalRecord{ID: "1", BatchID: "a"}))
	require.NoError(t, store.StoreRetrieval(ctx, fetch.RetrievalRecord{ID: "2", BatchID: "b"}))
	require.Error(t, store.StoreRetrieval(ctx, fetch.RetrievalRecord{ID: "1"}))
	require.Error(t, store.StoreRetrieval(ctx, fetch.RetrievalRecord{}))

	require.Len(t, store.Records(), 2)
	byBatch := store.ByBatch("b")
	require.Len(t, byBatch, 1)
	require.Equal(t, "2", byBatch[0].ID)
}

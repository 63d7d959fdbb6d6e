package gcs

import (
	"context"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close() //nolint:errcheck // test client

	_, err = New(client, Config{})
	require.Error(t, err)

	store, err := New(client, Config{Bucket: "docs", Prefix: "/raw/"})
	require.NoError(t, err)
	require.Equal(t, "raw/ab/abcd", store.ObjectName("ab/abcd"))

	_, err = store.PutObject(context.Background(), " ", "", nil)
	require.Error(t, err)
}

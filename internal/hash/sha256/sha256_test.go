package sha256

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const helloDigest = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"

func TestHashDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	got, err := h.Hash([]byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, helloDigest, got)

	again, err := h.Hash([]byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, got, again)
}

func TestHashReaderMatchesHash(t *testing.T) {
	t.Parallel()

	got, n, err := New().HashReader(strings.NewReader("hello world"))
	require.NoError(t, err)
	require.Equal(t, helloDigest, got)
	require.Equal(t, int64(11), n)
}

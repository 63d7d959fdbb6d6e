package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherRecordsMessages(t *testing.T) {
	t.Parallel()

	p := New()
	id, err := p.Publish(context.Background(), "retrievals", map[string]string{"url": "a"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id)
	_, err = p.Publish(context.Background(), "other", "b")
	require.NoError(t, err)

	require.Len(t, p.Messages(), 2)
	only := p.Messages("retrievals")
	require.Len(t, only, 1)
	require.Equal(t, map[string]string{"url": "a"}, only[0].Payload)
}

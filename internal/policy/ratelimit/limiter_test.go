package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterWaitSpacesSameHost(t *testing.T) {
	t.Parallel()

	// 10 RPS with burst 1: the second call waits roughly 100ms.
	l := New(Config{PerHostRPS: 10, Burst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://example.com/a"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://example.com/b"))
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	// Another host has its own bucket.
	start = time.Now()
	require.NoError(t, l.Wait(ctx, "https://other.example.org/"))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterDisabled(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	require.False(t, l.Enabled())
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(context.Background(), "https://example.com/"))
	}

	var nilLimiter *Limiter
	require.NoError(t, nilLimiter.Wait(context.Background(), "https://example.com/"))
}

func TestLimiterWaitHonorsContext(t *testing.T) {
	t.Parallel()

	l := New(Config{PerHostRPS: 0.001, Burst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://example.com/"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://example.com/"))
}

func TestHost(t *testing.T) {
	t.Parallel()

	require.Equal(t, "example.com", Host("https://Example.com:8443/x"))
	require.Equal(t, "local", Host("/var/data/file.txt"))
	require.Equal(t, "unknown", Host("http://[::1"))
}

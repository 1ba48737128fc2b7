package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterWaitSpacesRequests(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 10, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://www.youtube.com/watch?v=a"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://www.youtube.com/watch?v=b"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiterHostsAreIndependent(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.5, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.example.com/"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.example.com/"))
	require.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestLimiterDisabled(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	for range 50 {
		require.NoError(t, l.Wait(context.Background(), "https://www.youtube.com/"))
	}
}

func TestLimiterHonorsContext(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.1, DefaultBurst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://www.youtube.com/"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://www.youtube.com/"))
}

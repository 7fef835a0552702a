package limiters

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newLinkLimiter(t *testing.T, cfg LinkRequestConfig) (*miniredis.Miniredis, *LinkRequestLimiter) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewLinkRequestLimiter(client, cfg)
}

func linkConfig() LinkRequestConfig {
	return LinkRequestConfig{
		EnableEmailThrottle: true,
		EnableIPThrottle:    true,
		MaxRequests:         2,
		Window:              time.Hour,
	}
}

func TestLinkRequestLimiterPerEmail(t *testing.T) {
	mr, l := newLinkLimiter(t, linkConfig())
	ctx := context.Background()

	require.NoError(t, l.Allow(ctx, "recovery", "a@x.com", ""))
	require.NoError(t, l.Allow(ctx, "recovery", "a@x.com", ""))
	require.ErrorIs(t, l.Allow(ctx, "recovery", "a@x.com", ""), ErrLinkRequestLimited)

	// Purposes have separate budgets.
	require.NoError(t, l.Allow(ctx, "verification", "a@x.com", ""))

	mr.FastForward(time.Hour + time.Second)
	require.NoError(t, l.Allow(ctx, "recovery", "a@x.com", ""))
}

func TestLinkRequestLimiterPerIP(t *testing.T) {
	_, l := newLinkLimiter(t, linkConfig())
	ctx := context.Background()

	require.NoError(t, l.Allow(ctx, "recovery", "a@x.com", "203.0.113.7"))
	require.NoError(t, l.Allow(ctx, "recovery", "b@x.com", "203.0.113.7"))
	require.ErrorIs(t, l.Allow(ctx, "recovery", "c@x.com", "203.0.113.7"), ErrLinkRequestLimited)
	require.NoError(t, l.Allow(ctx, "recovery", "c@x.com", "198.51.100.1"))
}

func TestLinkRequestLimiterDisabledAndNil(t *testing.T) {
	cfg := linkConfig()
	cfg.EnableEmailThrottle = false
	cfg.EnableIPThrottle = false
	_, l := newLinkLimiter(t, cfg)

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Allow(context.Background(), "recovery", "a@x.com", "203.0.113.7"))
	}

	var nilLimiter *LinkRequestLimiter
	require.NoError(t, nilLimiter.Allow(context.Background(), "recovery", "a@x.com", ""))
	require.Zero(t, nilLimiter.Window())
}

func TestLinkRequestLimiterRedisDown(t *testing.T) {
	mr, l := newLinkLimiter(t, linkConfig())
	mr.Close()
	require.ErrorIs(t, l.Allow(context.Background(), "recovery", "a@x.com", ""), ErrLinkRedisUnavailable)
}

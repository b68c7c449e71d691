package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"bookchat/pkg/domain"
)

func newCachedStore(t *testing.T) (*CachedInsightStore, *MemoryStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	backing := NewMemoryStore()
	cached, err := NewCachedInsightStore(backing, client, "test:insights", time.Minute)
	require.NoError(t, err)
	return cached, backing, mr
}

func TestCachedInsightStoreReadThrough(t *testing.T) {
	cached, backing, mr := newCachedStore(t)
	ctx := context.Background()

	require.NoError(t, backing.AppendInsight(ctx, domain.Insight{ID: "i-1", UserID: "u", BookID: "b", Title: "t", Content: "c", CreatedAt: time.Now().UTC()}))
	items, err := cached.ListInsights(ctx, "u", "b")
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.True(t, mr.Exists("test:insights:1:u:b"))

	// A write that bypasses the cache stays invisible until the entry expires.
	require.NoError(t, backing.AppendInsight(ctx, domain.Insight{ID: "i-2", UserID: "u", BookID: "b", Title: "t", Content: "c", CreatedAt: time.Now().UTC()}))
	items, err = cached.ListInsights(ctx, "u", "b")
	require.NoError(t, err)
	require.Len(t, items, 1)

	mr.FastForward(2 * time.Minute)
	items, err = cached.ListInsights(ctx, "u", "b")
	require.NoError(t, err)
	require.Len(t, items, 2)
}

func TestCachedInsightStoreAppendInvalidates(t *testing.T) {
	cached, _, mr := newCachedStore(t)
	ctx := context.Background()

	items, err := cached.ListInsights(ctx, "u", "b")
	require.NoError(t, err)
	require.Empty(t, items)
	require.True(t, mr.Exists("test:insights:1:u:b"))

	require.NoError(t, cached.AppendInsight(ctx, domain.Insight{ID: "i-1", UserID: "u", BookID: "b", Title: "t", Content: "c", CreatedAt: time.Now().UTC()}))
	require.False(t, mr.Exists("test:insights:1:u:b"))

	items, err = cached.ListInsights(ctx, "u", "b")
	require.NoError(t, err)
	require.Len(t, items, 1)
}

func TestCachedInsightStoreFallsBackWhenRedisDown(t *testing.T) {
	cached, backing, mr := newCachedStore(t)
	ctx := context.Background()
	require.NoError(t, backing.AppendInsight(ctx, domain.Insight{ID: "i-1", UserID: "u", BookID: "b", Title: "t", Content: "c", CreatedAt: time.Now().UTC()}))

	mr.Close()
	items, err := cached.ListInsights(ctx, "u", "b")
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.NoError(t, cached.AppendInsight(ctx, domain.Insight{ID: "i-2", UserID: "u", BookID: "b", Title: "t", Content: "c", CreatedAt: time.Now().UTC()}))
}

func TestCachedInsightStoreKeysDoNotCollide(t *testing.T) {
	cached, backing, _ := newCachedStore(t)
	ctx := context.Background()

	require.NoError(t, backing.AppendInsight(ctx, domain.Insight{ID: "i-1", UserID: "a:b", BookID: "c", Title: "t", Content: "c", CreatedAt: time.Now().UTC()}))
	items, err := cached.ListInsights(ctx, "a:b", "c")
	require.NoError(t, err)
	require.Len(t, items, 1)

	items, err = cached.ListInsights(ctx, "a", "b:c")
	require.NoError(t, err)
	require.Empty(t, items)
}

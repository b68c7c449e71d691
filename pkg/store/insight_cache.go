package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"bookchat/internal/util"
	"bookchat/pkg/domain"
)

const defaultInsightCacheTTL = 30 * time.Second

// CachedInsightStore wraps a Store with a Redis read-through cache for
// insight lists. Appends drop the cached list for their scope, so other
// callers see new insights no later than the TTL.
type CachedInsightStore struct {
	Store
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewCachedInsightStore wraps next. A zero ttl uses a 30s default.
func NewCachedInsightStore(next Store, client *redis.Client, prefix string, ttl time.Duration) (*CachedInsightStore, error) {
	if next == nil {
		return nil, errors.New("insight cache requires a backing store")
	}
	if client == nil {
		return nil, errors.New("insight cache requires a redis client")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "bookchat:insights"
	}
	if ttl <= 0 {
		ttl = defaultInsightCacheTTL
	}
	return &CachedInsightStore{Store: next, client: client, prefix: prefix, ttl: ttl}, nil
}

// key length-prefixes the user id so ids containing ':' cannot collide.
func (c *CachedInsightStore) key(userID, bookID string) string {
	return fmt.Sprintf("%s:%d:%s:%s", c.prefix, len(userID), userID, bookID)
}

// ListInsights serves from cache when possible. Redis failures fall back
// to the backing store.
func (c *CachedInsightStore) ListInsights(ctx context.Context, userID, bookID string) ([]domain.Insight, error) {
	key := c.key(userID, bookID)
	raw, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var items []domain.Insight
		if jsonErr := json.Unmarshal(raw, &items); jsonErr == nil {
			return items, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		util.LoggerFromContext(ctx).Warn("insight cache read failed", "key", key, "err", err)
	}

	items, err := c.Store.ListInsights(ctx, userID, bookID)
	if err != nil {
		return nil, err
	}
	if payload, jsonErr := json.Marshal(items); jsonErr == nil {
		if setErr := c.client.Set(ctx, key, payload, c.ttl).Err(); setErr != nil {
			util.LoggerFromContext(ctx).Warn("insight cache write failed", "key", key, "err", setErr)
		}
	}
	return items, nil
}

// AppendInsight writes through and invalidates the scope's cached list.
func (c *CachedInsightStore) AppendInsight(ctx context.Context, in domain.Insight) error {
	if err := c.Store.AppendInsight(ctx, in); err != nil {
		return err
	}
	key := c.key(in.UserID, in.BookID)
	if err := c.client.Del(ctx, key).Err(); err != nil {
		util.LoggerFromContext(ctx).Warn("insight cache invalidate failed", "key", key, "err", err)
	}
	return nil
}

package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const stockCacheVersionKey = "stock:cache:version"

// StockCache keeps a versioned Redis snapshot of current stock levels.
// Invalidation bumps the version so stale entries simply expire; correctness
// never depends on the cache being warm or even reachable.
type StockCache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewStockCache constructs StockCache.
func NewStockCache(client *redis.Client, ttl time.Duration) *StockCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &StockCache{client: client, ttl: ttl}
}

// GetOrLoad returns the cached stock level, loading and storing it on a miss.
// Concurrent misses for the same key share one loader call.
func (c *StockCache) GetOrLoad(ctx context.Context, productID, variantID int64, load func() (int64, error)) (int64, error) {
	if c == nil || c.client == nil {
		return load()
	}
	key, err := c.buildKey(ctx, productID, variantID)
	if err != nil {
		return load()
	}

	val, err := c.client.Get(ctx, key).Int64()
	if err == nil {
		return val, nil
	}
	if !errors.Is(err, redis.Nil) {
		return load()
	}

	loaded, err, _ := c.group.Do(key, func() (any, error) {
		stock, err := load()
		if err != nil {
			return int64(0), err
		}
		_ = c.client.Set(ctx, key, stock, c.ttl).Err()
		return stock, nil
	})
	if err != nil {
		return 0, err
	}
	return loaded.(int64), nil
}

// Invalidate bumps the cache version, orphaning every existing entry.
func (c *StockCache) Invalidate(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, stockCacheVersionKey).Err()
}

func (c *StockCache) buildKey(ctx context.Context, productID, variantID int64) (string, error) {
	ver, err := c.client.Get(ctx, stockCacheVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		ver = 1
		if err := c.client.Set(ctx, stockCacheVersionKey, ver, 0).Err(); err != nil {
			return "", err
		}
	} else if err != nil {
		return "", err
	}
	return fmt.Sprintf("stock:%s:%s:%s", strconv.FormatInt(ver, 10), strconv.FormatInt(productID, 10), strconv.FormatInt(variantID, 10)), nil
}

package storage

import (
	"context"
	"time"

	"github.com/algo-portfolio/internal/logging"
	"github.com/algo-portfolio/internal/pricing"
)

const (
	priceCachePrefix     = "price:"
	DefaultPriceCacheTTL = 30 * 24 * time.Hour
)

// RedisPriceCache is a pricing.Cache shared across processes. Redis
// failures degrade to cache misses.
type RedisPriceCache struct {
	redis *RedisCache
	ttl   time.Duration
}

var _ pricing.Cache = (*RedisPriceCache)(nil)

// NewRedisPriceCache creates a price cache whose entries expire after ttl
func NewRedisPriceCache(redis *RedisCache, ttl time.Duration) *RedisPriceCache {
	if ttl <= 0 {
		ttl = DefaultPriceCacheTTL
	}
	return &RedisPriceCache{redis: redis, ttl: ttl}
}

func (c *RedisPriceCache) Get(ctx context.Context, key string) (pricing.CachedPrice, bool) {
	var price pricing.CachedPrice
	found, err := c.redis.GetJSON(ctx, priceCachePrefix+key, &price)
	if err != nil {
		logging.FromContext(ctx).WithError(err).WithField("key", key).Warn("Price cache read failed")
		return pricing.CachedPrice{}, false
	}
	return price, found
}

func (c *RedisPriceCache) Set(ctx context.Context, key string, price pricing.CachedPrice) {
	if err := c.redis.SetJSON(ctx, priceCachePrefix+key, price, c.ttl); err != nil {
		logging.FromContext(ctx).WithError(err).WithField("key", key).Warn("Price cache write failed")
	}
}

func (c *RedisPriceCache) Has(ctx context.Context, key string) bool {
	ok, err := c.redis.Exists(ctx, priceCachePrefix+key)
	return err == nil && ok
}

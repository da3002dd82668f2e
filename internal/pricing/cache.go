package pricing

import (
	"context"
	"sync"
	"time"
)

// CachedPrice is a previously resolved USD price
type CachedPrice struct {
	USD float64   `json:"usd"`
	At  time.Time `json:"at"`
}

// Cache stores resolved prices for the life of the process. Writers for the
// same key are idempotent, so concurrent sets may race harmlessly.
type Cache interface {
	Get(ctx context.Context, key string) (CachedPrice, bool)
	Set(ctx context.Context, key string, price CachedPrice)
	Has(ctx context.Context, key string) bool
}

// MemoryCache is an in-process Cache
type MemoryCache struct {
	mu     sync.RWMutex
	prices map[string]CachedPrice
}

// NewMemoryCache creates an empty in-process cache
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{prices: make(map[string]CachedPrice)}
}

func (c *MemoryCache) Get(_ context.Context, key string) (CachedPrice, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.prices[key]
	return p, ok
}

func (c *MemoryCache) Set(_ context.Context, key string, price CachedPrice) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[key] = price
}

func (c *MemoryCache) Has(ctx context.Context, key string) bool {
	_, ok := c.Get(ctx, key)
	return ok
}

// Len returns the number of cached entries
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.prices)
}

func historicalCacheKey(providerID, day string) string {
	return "hist:" + providerID + ":" + day
}

package storage

import (
	"context"
	"time"

	"github.com/algo-portfolio/internal/logging"
	"github.com/algo-portfolio/internal/models"
)

const (
	snapshotCachePrefix     = "snapshot:latest:"
	DefaultSnapshotCacheTTL = 10 * time.Minute
)

type snapshotStore interface {
	Create(ctx context.Context, snapshot *models.StoredSnapshot) error
	GetLatest(ctx context.Context, userID string) (*models.StoredSnapshot, error)
	DeleteForUser(ctx context.Context, userID string) error
}

// CachedSnapshotStore keeps each user's latest snapshot in Redis in front
// of the Postgres repository. Writes go through to the store first.
type CachedSnapshotStore struct {
	store snapshotStore
	redis *RedisCache
	ttl   time.Duration
}

// NewCachedSnapshotStore wraps store with a Redis read cache
func NewCachedSnapshotStore(store snapshotStore, redis *RedisCache, ttl time.Duration) *CachedSnapshotStore {
	if ttl <= 0 {
		ttl = DefaultSnapshotCacheTTL
	}
	return &CachedSnapshotStore{store: store, redis: redis, ttl: ttl}
}

func snapshotCacheKey(userID string) string {
	return snapshotCachePrefix + userID
}

// Create persists the snapshot and replaces the cached copy
func (c *CachedSnapshotStore) Create(ctx context.Context, snapshot *models.StoredSnapshot) error {
	if err := c.store.Create(ctx, snapshot); err != nil {
		return err
	}
	if err := c.redis.SetJSON(ctx, snapshotCacheKey(snapshot.UserID), snapshot, c.ttl); err != nil {
		logging.FromContext(ctx).WithError(err).Warn("Snapshot cache write failed")
		c.evict(ctx, snapshot.UserID)
	}
	return nil
}

// GetLatest serves from Redis when possible and fills it on a miss
func (c *CachedSnapshotStore) GetLatest(ctx context.Context, userID string) (*models.StoredSnapshot, error) {
	var cached models.StoredSnapshot
	found, err := c.redis.GetJSON(ctx, snapshotCacheKey(userID), &cached)
	if err != nil {
		logging.FromContext(ctx).WithError(err).Warn("Snapshot cache read failed")
	}
	if found {
		return &cached, nil
	}

	snapshot, err := c.store.GetLatest(ctx, userID)
	if err != nil || snapshot == nil {
		return snapshot, err
	}
	if err := c.redis.SetJSON(ctx, snapshotCacheKey(userID), snapshot, c.ttl); err != nil {
		logging.FromContext(ctx).WithError(err).Warn("Snapshot cache fill failed")
	}
	return snapshot, nil
}

// DeleteForUser drops the cached copy before and after deleting from the store
func (c *CachedSnapshotStore) DeleteForUser(ctx context.Context, userID string) error {
	c.evict(ctx, userID)
	if err := c.store.DeleteForUser(ctx, userID); err != nil {
		return err
	}
	c.evict(ctx, userID)
	return nil
}

func (c *CachedSnapshotStore) evict(ctx context.Context, userID string) {
	if err := c.redis.Del(ctx, snapshotCacheKey(userID)); err != nil {
		logging.FromContext(ctx).WithError(err).Warn("Snapshot cache eviction failed")
	}
}

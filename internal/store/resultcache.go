package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JustinTDCT/ListVault/internal/models"
)

const watchlistKeyPrefix = "watchlist:"

// ResultCache stores per-user scrape results under watchlist:{userID}.
type ResultCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewResultCache(rdb *redis.Client, ttl time.Duration) *ResultCache {
	return &ResultCache{rdb: rdb, ttl: ttl}
}

func (c *ResultCache) TTL() time.Duration { return c.ttl }

// Get returns the cached entry and its age regardless of freshness; callers
// decide whether a stale entry is acceptable. A missing entry returns
// (nil, 0, nil).
func (c *ResultCache) Get(ctx context.Context, userID string) (*models.WatchlistCacheEntry, time.Duration, error) {
	data, err := c.rdb.Get(ctx, watchlistKeyPrefix+userID).Bytes()
	if err == redis.Nil {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, models.E(models.ErrCacheBackend, "result cache get", err)
	}

	var entry models.WatchlistCacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, 0, models.E(models.ErrCacheBackend, "result cache decode", err)
	}
	return &entry, time.Since(entry.FetchedAt), nil
}

// Put overwrites the user's entry and resets the TTL.
func (c *ResultCache) Put(ctx context.Context, entry *models.WatchlistCacheEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return models.E(models.ErrCacheBackend, "result cache encode", err)
	}
	if err := c.rdb.Set(ctx, watchlistKeyPrefix+entry.UserID, data, c.ttl).Err(); err != nil {
		return models.E(models.ErrCacheBackend, "result cache set", err)
	}
	return nil
}

func (c *ResultCache) Exists(ctx context.Context, userID string) (bool, error) {
	n, err := c.rdb.Exists(ctx, watchlistKeyPrefix+userID).Result()
	if err != nil {
		return false, models.E(models.ErrCacheBackend, "result cache exists", err)
	}
	return n > 0, nil
}

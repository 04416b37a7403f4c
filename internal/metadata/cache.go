package metadata

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JustinTDCT/ListVault/internal/models"
)

const metadataKeyPrefix = "metadata:"

// Cache stores enrichment results under metadata:{normalizedKey}. Negative
// results (empty entries) are cached on the same TTL as hits so unresolvable
// titles do not re-query the upstream API on every scrape.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewCache(rdb *redis.Client, ttl time.Duration) *Cache {
	return &Cache{rdb: rdb, ttl: ttl}
}

// Get returns (nil, nil) on a cache miss.
func (c *Cache) Get(ctx context.Context, key string) (*models.MetadataCacheEntry, error) {
	data, err := c.rdb.Get(ctx, metadataKeyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, models.E(models.ErrCacheBackend, "metadata cache get", err)
	}
	var entry models.MetadataCacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, models.E(models.ErrCacheBackend, "metadata cache decode", err)
	}
	return &entry, nil
}

func (c *Cache) Put(ctx context.Context, key string, entry *models.MetadataCacheEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return models.E(models.ErrCacheBackend, "metadata cache encode", err)
	}
	if err := c.rdb.Set(ctx, metadataKeyPrefix+key, data, c.ttl).Err(); err != nil {
		return models.E(models.ErrCacheBackend, "metadata cache set", err)
	}
	return nil
}

package catalog

import (
	"context"
	"encoding/json"
	"time"

	"staybook/internal/domain"
	"staybook/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// CachedCatalog keeps listing lookups in redis for a short TTL. Cache
// failures fall through to the wrapped catalog; misses are not cached, so a
// listing created upstream becomes bookable immediately.
type CachedCatalog struct {
	next   domain.Catalog
	redis  *redis.Client
	ttl    time.Duration
	logger *zerolog.Logger
}

func NewCachedCatalog(next domain.Catalog, client *redis.Client, ttl time.Duration, logger *zerolog.Logger) *CachedCatalog {
	return &CachedCatalog{next: next, redis: client, ttl: ttl, logger: logger}
}

func (c *CachedCatalog) GetListing(ctx context.Context, listingID string) (*models.Listing, error) {
	key := "staybook:listing:" + listingID

	var cached models.Listing
	if c.readCache(ctx, key, &cached) {
		return &cached, nil
	}

	l, err := c.next.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	c.writeCache(ctx, key, l)
	return l, nil
}

func (c *CachedCatalog) readCache(ctx context.Context, key string, out any) bool {
	if c.redis == nil || c.ttl <= 0 {
		return false
	}
	val, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Debug().Err(err).Str("key", key).Msg("Listing cache read failed")
		}
		return false
	}
	return json.Unmarshal(val, out) == nil
}

func (c *CachedCatalog) writeCache(ctx context.Context, key string, val any) {
	if c.redis == nil || c.ttl <= 0 {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("Listing cache write failed")
	}
}

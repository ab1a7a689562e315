package market

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"

	domain "github.com/R3E-Network/agentchat/internal/app/domain/market"
)

// CacheKey is where the ordered snapshot is stored.
const CacheKey = "agentchat:market:quotes"

// Cache stores the ordered quote snapshot. ok is false on a miss.
type Cache interface {
	Get(ctx context.Context) (quotes []domain.Quote, ok bool, err error)
	Set(ctx context.Context, quotes []domain.Quote) error
	Invalidate(ctx context.Context) error
}

// RedisCache keeps the snapshot as one JSON value with a TTL.
type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

var _ Cache = (*RedisCache)(nil)

// NewRedisCache wraps client. A zero ttl keeps entries until invalidated.
func NewRedisCache(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context) ([]domain.Quote, bool, error) {
	raw, err := c.client.Get(ctx, CacheKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var quotes []domain.Quote
	if err := json.Unmarshal(raw, &quotes); err != nil {
		return nil, false, err
	}
	return quotes, true, nil
}

func (c *RedisCache) Set(ctx context.Context, quotes []domain.Quote) error {
	raw, err := json.Marshal(quotes)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, CacheKey, raw, c.ttl).Err()
}

func (c *RedisCache) Invalidate(ctx context.Context) error {
	return c.client.Del(ctx, CacheKey).Err()
}

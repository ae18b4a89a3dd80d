// cache.go implements a Redis-backed read cache for persisted passports.
package passport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ai4hf/passport/internal/db/models"
	"github.com/ai4hf/passport/internal/telemetry"
)

const cacheKeyPrefix = "passport:v1:"

// RedisCache stores passports as JSON under passport:v1:<id>.
type RedisCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisCache creates a cache. A zero ttl keeps entries for five minutes.
func NewRedisCache(client redis.Cmdable, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisCache{client: client, ttl: ttl}
}

func cacheKey(id int64) string {
	return cacheKeyPrefix + strconv.FormatInt(id, 10)
}

// Get returns the cached passport, or nil on a miss.
func (c *RedisCache) Get(ctx context.Context, id int64) (*models.Passport, error) {
	data, err := c.client.Get(ctx, cacheKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		telemetry.PassportCacheRequestsTotal.WithLabelValues("miss").Inc()
		return nil, nil
	}
	if err != nil {
		telemetry.PassportCacheRequestsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	p, err := decodeCached(data)
	if err != nil {
		telemetry.PassportCacheRequestsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	telemetry.PassportCacheRequestsTotal.WithLabelValues("hit").Inc()
	return p, nil
}

// Set stores p for the cache ttl.
func (c *RedisCache) Set(ctx context.Context, p *models.Passport) error {
	data, err := encodeCached(p)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, cacheKey(p.ID), data, c.ttl).Err()
}

// Invalidate drops the cached copy of a passport.
func (c *RedisCache) Invalidate(ctx context.Context, id int64) error {
	return c.client.Del(ctx, cacheKey(id)).Err()
}

// encodeCached keeps the detail document byte-identical; HTML escaping
// would alter the digest of signed documents.
func encodeCached(p *models.Passport) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func decodeCached(data []byte) (*models.Passport, error) {
	var p models.Passport
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

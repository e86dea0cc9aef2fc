package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ViewCache is a generic JSON-backed Redis cache for read model projections.
// Each instance owns a named region: keys are stored as "<region>::<key>" and
// expire after the region TTL (0 means no expiry).
type ViewCache[T any] struct {
	client *goredis.Client
	region string
	ttl    time.Duration
	log    *logrus.Entry
}

// NewViewCache creates a ViewCache for region backed by the provided Redis client.
func NewViewCache[T any](client *goredis.Client, region string, ttl time.Duration) *ViewCache[T] {
	return &ViewCache[T]{
		client: client,
		region: region,
		ttl:    ttl,
		log:    logrus.WithField("cache", region),
	}
}

func (c *ViewCache[T]) key(key string) string {
	return c.region + "::" + key
}

// Get retrieves and unmarshals a value from Redis.
// Returns (nil, false) on any miss, cache outage or deserialisation error.
func (c *ViewCache[T]) Get(ctx context.Context, key string) (*T, bool) {
	data, err := c.client.Get(ctx, c.key(key)).Result()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			c.log.WithError(err).WithField("key", key).Warn("cache read failed")
		}
		return nil, false
	}
	var v T
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		c.log.WithError(err).WithField("key", key).Warn("cache entry is corrupt")
		return nil, false
	}
	return &v, true
}

// Set marshals value and stores it in Redis under key.
// Errors are logged rather than returned; a failed cache write is non-fatal.
func (c *ViewCache[T]) Set(ctx context.Context, key string, value *T) {
	data, err := json.Marshal(value)
	if err != nil {
		c.log.WithError(err).WithField("key", key).Warn("cache marshal failed")
		return
	}
	if err := c.client.Set(ctx, c.key(key), data, c.ttl).Err(); err != nil {
		c.log.WithError(err).WithField("key", key).Warn("cache write failed")
	}
}

// SetIfAbsent stores value under key only when no entry exists yet. It
// reports whether the value was written.
func (c *ViewCache[T]) SetIfAbsent(ctx context.Context, key string, value *T) bool {
	data, err := json.Marshal(value)
	if err != nil {
		c.log.WithError(err).WithField("key", key).Warn("cache marshal failed")
		return false
	}
	ok, err := c.client.SetNX(ctx, c.key(key), data, c.ttl).Result()
	if err != nil {
		c.log.WithError(err).WithField("key", key).Warn("cache write failed")
		return false
	}
	return ok
}

// Delete removes a key from Redis.
func (c *ViewCache[T]) Delete(ctx context.Context, key string) {
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		c.log.WithError(err).WithField("key", key).Warn("cache delete failed")
	}
}

// Package cache stores JSON values in redis under a key prefix. The token
// revocation list and the doctor directory each get their own prefix.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned by Get when the key is absent.
var ErrMiss = errors.New("cache miss")

const clearBatch = 100

type Cache struct {
	redis  *redis.Client
	prefix string
}

func NewCache(redis *redis.Client, prefix string) *Cache {
	return &Cache{redis: redis, prefix: prefix}
}

func (c *Cache) key(k string) string {
	return c.prefix + k
}

// Get decodes the value stored at key into dest.
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := c.redis.Get(ctx, c.key(key)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return ErrMiss
	case err != nil:
		return errors.Wrapf(err, "cache read %s", key)
	}
	return errors.Wrapf(json.Unmarshal(data, dest), "cache decode %s", key)
}

// Set stores value as JSON. A zero ttl keeps the key until it is cleared.
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "cache encode %s", key)
	}
	return errors.Wrapf(c.redis.Set(ctx, c.key(key), data, ttl).Err(), "cache write %s", key)
}

func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.redis.Exists(ctx, c.key(key)).Result()
	if err != nil {
		return false, errors.Wrapf(err, "cache lookup %s", key)
	}
	return n > 0, nil
}

// Clear unlinks every key under the prefix, a batch at a time.
func (c *Cache) Clear(ctx context.Context) error {
	iter := c.redis.Scan(ctx, 0, c.prefix+"*", clearBatch).Iterator()
	batch := make([]string, 0, clearBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := c.redis.Unlink(ctx, batch...).Err()
		batch = batch[:0]
		return errors.Wrapf(err, "cache clear %s", c.prefix)
	}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == clearBatch {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return errors.Wrapf(err, "cache scan %s", c.prefix)
	}
	return flush()
}

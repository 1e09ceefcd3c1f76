package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"postservice/internal/middleware"
	"postservice/internal/observability"

	"github.com/redis/go-redis/v9"
)

// FeedKey caches the shared feed listing.
const FeedKey = "posts:feed"

// AuthorKey caches one author's listing.
func AuthorKey(authorID string) string {
	return "posts:author:" + authorID
}

// Cache is a JSON cache-aside over Redis. A nil client turns every call into
// a pass-through.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// New returns a cache storing entries for ttl. A zero ttl disables caching.
func New(rdb *redis.Client, ttl time.Duration) *Cache {
	return &Cache{rdb: rdb, ttl: ttl}
}

func (c *Cache) enabled() bool {
	return c != nil && c.rdb != nil && c.ttl > 0
}

// GetJSON attempts to get the key from Redis and unmarshal into dest.
// Returns (true, nil) if found and unmarshaled, (false, nil) if not found.
func (c *Cache) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	if !c.enabled() {
		return false, nil
	}
	s, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(s, dest); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON marshals v and sets the key with the cache TTL.
func (c *Cache) SetJSON(ctx context.Context, key string, v any) error {
	if !c.enabled() {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, b, c.ttl).Err()
}

// versionTTL outlives any in-flight read; an expired version only makes a
// pending write skip the cache.
const versionTTL = 10 * time.Minute

// errStale aborts a cache fill that raced with an invalidation.
var errStale = errors.New("cache entry invalidated during fetch")

func versionKey(key string) string {
	return key + ":version"
}

// Aside tries Redis first; on a miss it calls fetch (which must populate
// dest) and stores the result. The result is only stored if no Invalidate of
// key ran since the fetch started, so a slow reader cannot put back a listing
// older than the last write. Redis failures degrade to calling fetch.
func (c *Cache) Aside(ctx context.Context, key string, dest any, fetch func() error) error {
	found, err := c.GetJSON(ctx, key, dest)
	if err != nil {
		middleware.Logger.WarnContext(ctx, "cache read failed",
			slog.String("key", key), slog.String("error", err.Error()))
	}
	if found {
		observability.CacheLookups.WithLabelValues("hit").Inc()
		return nil
	}

	var version string
	versionOK := false
	if c.enabled() {
		observability.CacheLookups.WithLabelValues("miss").Inc()
		version, err = c.rdb.Get(ctx, versionKey(key)).Result()
		versionOK = err == nil || errors.Is(err, redis.Nil)
	}

	if err := fetch(); err != nil {
		return err
	}

	if !versionOK {
		return nil
	}
	err = c.setIfCurrent(ctx, key, version, dest)
	switch {
	case errors.Is(err, errStale), errors.Is(err, redis.TxFailedErr):
		observability.CacheLookups.WithLabelValues("stale").Inc()
	case err != nil:
		middleware.Logger.WarnContext(ctx, "cache write failed",
			slog.String("key", key), slog.String("error", err.Error()))
	}
	return nil
}

// setIfCurrent stores v under key while key's version still equals version.
func (c *Cache) setIfCurrent(ctx context.Context, key, version string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	vk := versionKey(key)
	return c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, vk).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != version {
			return errStale
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, b, c.ttl)
			return nil
		})
		return err
	}, vk)
}

// Invalidate deletes keys and bumps their versions so fills already in
// flight are discarded. Failures are logged; stale entries expire with the TTL.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) {
	if !c.enabled() || len(keys) == 0 {
		return
	}
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range keys {
			pipe.Incr(ctx, versionKey(key))
			pipe.Expire(ctx, versionKey(key), versionTTL)
		}
		pipe.Del(ctx, keys...)
		return nil
	})
	if err != nil {
		middleware.Logger.WarnContext(ctx, "cache invalidation failed",
			slog.Any("keys", keys), slog.String("error", err.Error()))
	}
}

package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	logx "bioscout/pkg/logx"
)

// RedisCache keeps results in Redis as JSON with a native key TTL, so entries
// survive restarts and are shared between processes. Redis failures count as
// misses and never fail a lookup.
type RedisCache struct {
	rdb    *redis.Client
	prefix string
	log    logx.Logger
}

func NewRedisCache(rdb *redis.Client, prefix string, log logx.Logger) *RedisCache {
	if prefix == "" {
		prefix = "bioscout:lookup:"
	}
	return &RedisCache{rdb: rdb, prefix: prefix, log: log}
}

func (c *RedisCache) Get(ctx context.Context, key string) (Result, bool) {
	data, err := c.rdb.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			CacheErrors.WithLabelValues("get").Inc()
			c.log.Warn("redis get failed", logx.String("key", key), logx.Err(err))
		}
		CacheMisses.WithLabelValues("redis").Inc()
		return Result{}, false
	}
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		CacheErrors.WithLabelValues("decode").Inc()
		_ = c.rdb.Del(ctx, c.prefix+key).Err()
		return Result{}, false
	}
	CacheHits.WithLabelValues("redis").Inc()
	return r, true
}

func (c *RedisCache) Set(ctx context.Context, key string, r Result, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	data, err := json.Marshal(r)
	if err != nil {
		CacheErrors.WithLabelValues("encode").Inc()
		return
	}
	if err := c.rdb.Set(ctx, c.prefix+key, data, ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		c.log.Warn("redis set failed", logx.String("key", key), logx.Err(err))
	}
}

// Ping checks the connection at startup.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

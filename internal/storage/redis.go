package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisDedup is a DedupStore shared by every bot replica. Entries expire
// on their own through the key TTL.
type RedisDedup struct {
	rdb    *redis.Client
	prefix string
}

func OpenRedisDedup(ctx context.Context, cfg RedisConfig) (*RedisDedup, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "checkinbot:dedup:"
	}
	return &RedisDedup{rdb: rdb, prefix: prefix}, nil
}

func (r *RedisDedup) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	ttl := time.Until(until)
	if ttl <= 0 {
		return r.rdb.Del(ctx, r.prefix+key).Err()
	}
	return r.rdb.Set(ctx, r.prefix+key, until.UnixMilli(), ttl).Err()
}

func (r *RedisDedup) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if key == "" {
		return time.Time{}, false, nil
	}
	ms, err := r.rdb.Get(ctx, r.prefix+key).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (r *RedisDedup) Ping(ctx context.Context) error { return r.rdb.Ping(ctx).Err() }

func (r *RedisDedup) Close() error { return r.rdb.Close() }

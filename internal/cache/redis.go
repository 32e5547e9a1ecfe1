package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Redis is a Store of JSON values under a key prefix, shared between
// server instances.
type Redis[V any] struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	logger *zerolog.Logger
}

// NewRedis creates a store writing keys "<prefix><key>". A zero ttl keeps
// entries until invalidated.
func NewRedis[V any](rdb *redis.Client, prefix string, ttl time.Duration, logger *zerolog.Logger) *Redis[V] {
	return &Redis[V]{rdb: rdb, prefix: prefix, ttl: ttl, logger: logger}
}

func (r *Redis[V]) Get(ctx context.Context, key string) (V, bool) {
	var out V
	val, err := r.rdb.Get(ctx, r.prefix+key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn().Err(err).Str("key", r.prefix+key).Msg("cache read failed")
		}
		return out, false
	}
	if err := json.Unmarshal([]byte(val), &out); err != nil {
		r.logger.Warn().Err(err).Str("key", r.prefix+key).Msg("cache entry corrupted")
		return out, false
	}
	return out, true
}

func (r *Redis[V]) Set(ctx context.Context, key string, value V) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	return r.rdb.Set(ctx, r.prefix+key, data, r.ttl).Err()
}

// InvalidateAll deletes every key under the prefix.
func (r *Redis[V]) InvalidateAll(ctx context.Context) error {
	iter := r.rdb.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan cache keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return r.rdb.Del(ctx, keys...).Err()
}

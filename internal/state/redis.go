package state

import (
	"context"
	"time"
)

// KV is the subset of the Redis client used by RedisStore.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Close() error
}

// RedisStore keeps keys in Redis under an optional prefix, without expiry.
type RedisStore struct {
	kv     KV
	prefix string
}

// NewRedisStore wraps kv. prefix is prepended to every key.
func NewRedisStore(kv KV, prefix string) *RedisStore {
	return &RedisStore{kv: kv, prefix: prefix}
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	return s.kv.Get(ctx, s.prefix+key)
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	return s.kv.Set(ctx, s.prefix+key, value, 0)
}

func (s *RedisStore) Close() error {
	return s.kv.Close()
}

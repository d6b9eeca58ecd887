package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"aistudio/internal/domain"
)

// RedisResultCache stores resolved results in Redis.
type RedisResultCache struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisResultCache wraps client. Keys are namespaced by prefix when set.
func NewRedisResultCache(client redis.UniversalClient, prefix string) *RedisResultCache {
	return &RedisResultCache{client: client, prefix: prefix}
}

// Set stores value under key for ttl.
func (r *RedisResultCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return errors.New("key cannot be empty")
	}
	if err := r.client.Set(ctx, r.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Get returns nil, nil when the key is absent.
func (r *RedisResultCache) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, errors.New("key cannot be empty")
	}
	result, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return result, nil
}

// Health pings the server.
func (r *RedisResultCache) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// RedisConfig holds connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient opens a client for cfg. The connection is lazy.
func NewRedisClient(cfg RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

var _ domain.ResultCache = (*RedisResultCache)(nil)

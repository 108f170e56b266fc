package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultRedisNamespace prefixes every session key stored in Redis.
const DefaultRedisNamespace = "storefront:session"

// RedisStorage implements Storage using Redis
type RedisStorage struct {
	client    *redis.Client
	namespace string
}

// NewRedisStorage connects to redisURL and verifies the connection
func NewRedisStorage(redisURL, namespace string) (*RedisStorage, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisStorageFromClient(client, namespace), nil
}

// NewRedisStorageFromClient wraps an existing client.
func NewRedisStorageFromClient(client *redis.Client, namespace string) *RedisStorage {
	if namespace == "" {
		namespace = DefaultRedisNamespace
	}
	return &RedisStorage{
		client:    client,
		namespace: namespace,
	}
}

// Get retrieves a value by key
func (r *RedisStorage) Get(ctx context.Context, key string) (string, error) {
	value, err := r.client.Get(ctx, r.buildKey(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to get key: %w", err)
	}
	return value, nil
}

// SetMany writes all pairs in one MULTI/EXEC transaction without expiry
func (r *RedisStorage) SetMany(ctx context.Context, values map[string]string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for k, v := range values {
			pipe.Set(ctx, r.buildKey(k), v, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set keys: %w", err)
	}
	return nil
}

// Delete removes keys
func (r *RedisStorage) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	finalKeys := make([]string, len(keys))
	for i, k := range keys {
		finalKeys[i] = r.buildKey(k)
	}

	if err := r.client.Del(ctx, finalKeys...).Err(); err != nil {
		return fmt.Errorf("failed to delete keys: %w", err)
	}
	return nil
}

// buildKey creates a namespaced key
func (r *RedisStorage) buildKey(key string) string {
	return fmt.Sprintf("%s:%s", r.namespace, key)
}

// Close closes the Redis connection
func (r *RedisStorage) Close() error {
	return r.client.Close()
}

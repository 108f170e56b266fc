package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("key not found")

// Storage is a string key/value store. SetMany is atomic with respect to Get
// on the same backend.
type Storage interface {
	Get(ctx context.Context, key string) (string, error)
	SetMany(ctx context.Context, values map[string]string) error
	Delete(ctx context.Context, keys ...string) error
	Close() error
}

// Provider names accepted by the storefront configuration.
const (
	ProviderMemory = "memory"
	ProviderFile   = "file"
	ProviderRedis  = "redis"
)

// Set stores a single key.
func Set(ctx context.Context, s Storage, key, value string) error {
	return s.SetMany(ctx, map[string]string{key: value})
}

// Package cache is the second-level row cache shared by sessions. Rows are
// stored under "<Type>:<Id>" keys in a byte-level backend (memory or redis).
package cache

import (
	"context"
	"errors"
	"strconv"
	"time"
)

// Cache is a byte-level cache backend
type Cache interface {
	// Get retrieves a value; a missing key returns ErrCacheMiss
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value; a zero ttl uses the backend default
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value
	Delete(ctx context.Context, key string) error

	// Clear removes every value under the backend prefix
	Clear(ctx context.Context) error

	Close() error
}

// Config holds common configuration for cache backends
type Config struct {
	// DefaultTTL is the default time-to-live for cached rows
	DefaultTTL time.Duration
	// Prefix is prepended to all cache keys
	Prefix string
}

// DefaultConfig returns a default cache configuration
func DefaultConfig() Config {
	return Config{
		DefaultTTL: 5 * time.Minute,
		Prefix:     "persist:",
	}
}

// ErrCacheMiss is returned when a key is not in the cache
var ErrCacheMiss = errors.New("cache miss")

// IsCacheMiss checks if an error is a cache miss
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}

// Key returns the cache key of one entity row
func Key(entityType string, id int64) string {
	return entityType + ":" + strconv.FormatInt(id, 10)
}

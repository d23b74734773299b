// Package cache provides the cache port used by billops and its Redis and
// in-memory implementations, plus the Coordinator that keeps cached views
// coherent with invoice mutations.
package cache

import (
	"context"
	"time"
)

// Store is a key/value cache with per-entry expiry. Values are opaque bytes.
type Store interface {
	// Get returns the value and true on a hit, or nil and false on a miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// PutWithTTL stores value under key; ttl <= 0 uses the store default.
	PutWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Evict removes key. Evicting a missing key is not an error.
	Evict(ctx context.Context, key string) error
	// EvictPrefix removes every key starting with prefix and reports how many.
	EvictPrefix(ctx context.Context, prefix string) (int64, error)
	Close() error
}

// Package kv defines the key-value store contract shared by the config loader,
// the rate limiter, the edge cache, and the semantic cache payload store.
package kv

import (
	"context"
	"time"
)

// Store is the gateway's view of the key-value backend. A missing key is
// (nil, nil), never an error; callers treat store failures as advisory and
// fail open wherever availability wins over cache correctness.
type Store interface {
	// Get retrieves a value. Returns (nil, nil) when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with a TTL. A non-positive TTL uses the store default.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Increment atomically increments a counter, setting ttl on first write.
	// Returns the new counter value.
	Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// Stats holds store operation statistics.
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Sets    int64   `json:"sets"`
	Errors  int64   `json:"errors"`
	HitRate float64 `json:"hit_rate"`
}

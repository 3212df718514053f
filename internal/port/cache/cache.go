// Package cache defines the port for caching encoded analysis results.
package cache

import (
	"context"
	"time"
)

// Cache is a byte-valued key/value store with per-entry TTL. Misses are not
// errors: Get reports them through its bool result.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

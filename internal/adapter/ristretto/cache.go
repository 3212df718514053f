// Package ristretto implements the cache port with an in-process
// dgraph-io/ristretto cache holding encoded analysis results.
package ristretto

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// expectedEntryBytes is the typical size of an encoded analysis result.
const expectedEntryBytes = 4 << 10

// Stats summarizes cache effectiveness since creation.
type Stats struct {
	Hits     uint64
	Misses   uint64
	HitRatio float64
	Evicted  uint64
}

// Cache bounds results by their encoded size in bytes.
type Cache struct {
	store *ristretto.Cache[string, []byte]
}

// New creates a cache that holds at most maxBytes of encoded results. Budgets
// under one megabyte are raised to one megabyte.
func New(maxBytes int64) (*Cache, error) {
	maxBytes = max(maxBytes, 1<<20)
	store, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters:        10 * (maxBytes / expectedEntryBytes),
		MaxCost:            maxBytes,
		BufferItems:        64,
		Metrics:            true,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create ristretto cache: %w", err)
	}
	return &Cache{store: store}, nil
}

// Get returns the result stored under key.
func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	payload, ok := c.store.Get(key)
	return payload, ok, nil
}

// Set stores value for ttl. It waits for ristretto's write buffer so the
// entry is visible to the next Get; a value the admission policy rejects is
// simply not cached.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.store.SetWithTTL(key, value, int64(len(value)), ttl)
	c.store.Wait()
	return nil
}

// Delete drops key.
func (c *Cache) Delete(_ context.Context, key string) error {
	c.store.Del(key)
	return nil
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.store.Clear()
}

// Stats returns hit and eviction counters.
func (c *Cache) Stats() Stats {
	m := c.store.Metrics
	return Stats{
		Hits:     m.Hits(),
		Misses:   m.Misses(),
		HitRatio: m.Ratio(),
		Evicted:  m.KeysEvicted(),
	}
}

// Close stops ristretto's background goroutines.
func (c *Cache) Close() {
	c.store.Close()
}

package cache

import (
	"time"

	"github.com/maypok86/otter"

	"github.com/srab2001/featuregate/internal/observability"
)

// MemoryCache is an L1 cache backed by otter (S3-FIFO eviction).
// Values are stored as-is; callers storing slices must not mutate them afterwards.
type MemoryCache[V any] struct {
	store otter.Cache[string, V]
}

// NewMemoryCache initializes the in-memory cache with strict limits.
// capacity: Max number of items (Hard Cap to prevent OOM).
// ttl: Time-To-Live for items (Safety net for eventual consistency).
func NewMemoryCache[V any](capacity int, ttl time.Duration) (*MemoryCache[V], error) {
	builder, err := otter.NewBuilder[string, V](capacity)
	if err != nil {
		return nil, err
	}

	c, err := builder.WithTTL(ttl).Build()
	if err != nil {
		return nil, err
	}

	return &MemoryCache[V]{store: c}, nil
}

// Get retrieves a value from memory and records a hit or miss.
func (c *MemoryCache[V]) Get(key string) (V, bool) {
	v, ok := c.store.Get(key)
	if ok {
		observability.StorageL1Hits.Inc()
	} else {
		observability.StorageL1Misses.Inc()
	}
	return v, ok
}

// Set adds or updates a value. The TTL configured in NewMemoryCache is applied automatically.
func (c *MemoryCache[V]) Set(key string, value V) {
	c.store.Set(key, value)
}

// Del removes a key.
func (c *MemoryCache[V]) Del(key string) {
	c.store.Delete(key)
}

// Len reports the number of live entries.
func (c *MemoryCache[V]) Len() int {
	return c.store.Size()
}

// Close gracefully shuts down the cache and its background cleanup goroutines.
func (c *MemoryCache[V]) Close() {
	c.store.Close()
}

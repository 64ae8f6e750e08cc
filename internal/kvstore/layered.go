package kvstore

import (
	"context"
	"slices"

	"github.com/srab2001/featuregate/internal/cache"
)

// Layered puts an otter L1 in front of a remote Store.
// Writes go through to L2 first and only populate L1 on success.
type Layered struct {
	l1 *cache.MemoryCache[[]byte]
	l2 Store
}

// NewLayered wraps l2 with l1. Close releases l1 only.
func NewLayered(l1 *cache.MemoryCache[[]byte], l2 Store) *Layered {
	if l1 == nil || l2 == nil {
		panic("kvstore: layered store requires both layers")
	}
	return &Layered{l1: l1, l2: l2}
}

func (l *Layered) Save(ctx context.Context, key string, value []byte) error {
	if err := l.l2.Save(ctx, key, value); err != nil {
		l.l1.Del(key)
		return err
	}
	l.l1.Set(key, slices.Clone(value))
	return nil
}

func (l *Layered) Load(ctx context.Context, key string) ([]byte, bool, error) {
	if v, ok := l.l1.Get(key); ok {
		return slices.Clone(v), true, nil
	}
	v, found, err := l.l2.Load(ctx, key)
	if err != nil || !found {
		return nil, false, err
	}
	l.l1.Set(key, slices.Clone(v))
	return v, true, nil
}

func (l *Layered) Delete(ctx context.Context, key string) error {
	l.l1.Del(key)
	return l.l2.Delete(ctx, key)
}

// Close shuts down the L1 cache.
func (l *Layered) Close() {
	l.l1.Close()
}

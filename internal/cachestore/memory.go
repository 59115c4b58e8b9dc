package cachestore

import (
	"context"
	"slices"
	"sync"

	"github.com/patrickmn/go-cache"
)

// memoryBackend keeps each store in its own go-cache instance without
// expiry. Eviction only happens by deleting the whole store.
type memoryBackend struct {
	mu     sync.RWMutex
	stores map[string]*cache.Cache
}

// NewMemoryBackend creates an in-process backend.
func NewMemoryBackend() Backend {
	return &memoryBackend{stores: make(map[string]*cache.Cache)}
}

func (b *memoryBackend) Stores(_ context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.stores))
	for name := range b.stores {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

func (b *memoryBackend) CreateStore(_ context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.stores[name]; !ok {
		b.stores[name] = cache.New(cache.NoExpiration, 0)
	}
	return nil
}

func (b *memoryBackend) DeleteStore(_ context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.stores[name]; ok {
		c.Flush()
		delete(b.stores, name)
	}
	return nil
}

func (b *memoryBackend) store(name string) *cache.Cache {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.stores[name]
}

func (b *memoryBackend) Get(_ context.Context, store, key string) (*Snapshot, error) {
	c := b.store(store)
	if c == nil {
		return nil, ErrNotFound
	}
	v, ok := c.Get(key)
	if !ok {
		return nil, ErrNotFound
	}
	snap, ok := v.(*Snapshot)
	if !ok {
		return nil, ErrNotFound
	}
	return snap, nil
}

func (b *memoryBackend) Put(_ context.Context, store, key string, snap *Snapshot) error {
	// The read lock keeps DeleteStore out until the entry is set.
	b.mu.RLock()
	defer b.mu.RUnlock()
	c := b.stores[store]
	if c == nil {
		return ErrStoreDeleted
	}
	c.Set(key, snap, cache.NoExpiration)
	return nil
}

func (b *memoryBackend) Has(_ context.Context, store, key string) (bool, error) {
	c := b.store(store)
	if c == nil {
		return false, nil
	}
	_, ok := c.Get(key)
	return ok, nil
}

func (b *memoryBackend) Count(_ context.Context, store string) (int, error) {
	c := b.store(store)
	if c == nil {
		return 0, nil
	}
	return c.ItemCount(), nil
}

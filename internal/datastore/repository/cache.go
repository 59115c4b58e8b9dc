package repository

import (
	"context"

	"github.com/studyquest/offline-engine/internal/datastore/entities"
	"github.com/studyquest/offline-engine/internal/errors"
)

// ErrCacheEntryNotFound is returned when no entry exists for a key.
var ErrCacheEntryNotFound = errors.NewStd("cache entry not found")

// ErrCacheStoreNotFound is returned when writing into a store that does not exist.
var ErrCacheStoreNotFound = errors.NewStd("cache store not found")

// CacheRepository persists cache stores and their entries.
type CacheRepository interface {
	ListStores(ctx context.Context) ([]string, error)
	CreateStore(ctx context.Context, name string) error
	// DeleteStore removes the store and all of its entries.
	DeleteStore(ctx context.Context, name string) error

	GetEntry(ctx context.Context, store, keyHash string) (*entities.CacheEntry, error)
	// PutEntry inserts or overwrites the entry for (store, key hash). The
	// store must exist; otherwise ErrCacheStoreNotFound is returned.
	PutEntry(ctx context.Context, entry *entities.CacheEntry) error
	CountEntries(ctx context.Context, store string) (int64, error)
}

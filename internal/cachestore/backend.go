package cachestore

import (
	"context"

	"github.com/studyquest/offline-engine/internal/errors"
)

// ErrNotFound is returned when a key has no entry.
var ErrNotFound = errors.NewStd("cache entry not found")

// ErrQuotaExceeded is returned when a write would exceed configured limits.
var ErrQuotaExceeded = errors.NewStd("cache quota exceeded")

// ErrStoreDeleted is returned by Put when the store no longer exists.
var ErrStoreDeleted = errors.NewStd("cache store deleted")

// Backend stores snapshots grouped by store name. Only CreateStore creates
// stores; Put into a missing store fails with ErrStoreDeleted.
type Backend interface {
	Stores(ctx context.Context) ([]string, error)
	CreateStore(ctx context.Context, name string) error
	DeleteStore(ctx context.Context, name string) error

	Get(ctx context.Context, store, key string) (*Snapshot, error)
	Put(ctx context.Context, store, key string, snap *Snapshot) error
	Has(ctx context.Context, store, key string) (bool, error)
	Count(ctx context.Context, store string) (int, error)
}

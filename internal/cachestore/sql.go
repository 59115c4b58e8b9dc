package cachestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/studyquest/offline-engine/internal/datastore/entities"
	"github.com/studyquest/offline-engine/internal/datastore/repository"
	"github.com/studyquest/offline-engine/internal/errors"
)

// sqlBackend persists snapshots through the cache repository so stores
// survive restarts.
type sqlBackend struct {
	repo repository.CacheRepository
}

// NewSQLBackend creates a backend on top of a CacheRepository.
func NewSQLBackend(repo repository.CacheRepository) Backend {
	return &sqlBackend{repo: repo}
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func (b *sqlBackend) Stores(ctx context.Context) ([]string, error) {
	return b.repo.ListStores(ctx)
}

func (b *sqlBackend) CreateStore(ctx context.Context, name string) error {
	return b.repo.CreateStore(ctx, name)
}

func (b *sqlBackend) DeleteStore(ctx context.Context, name string) error {
	return b.repo.DeleteStore(ctx, name)
}

func (b *sqlBackend) Get(ctx context.Context, store, key string) (*Snapshot, error) {
	entry, err := b.repo.GetEntry(ctx, store, hashKey(key))
	if err != nil {
		if errors.Is(err, repository.ErrCacheEntryNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	header := make(http.Header)
	if entry.Header != "" {
		if err := json.Unmarshal([]byte(entry.Header), &header); err != nil {
			return nil, fmt.Errorf("failed to decode cached headers: %w", err)
		}
	}
	return &Snapshot{
		Status:     entry.Status,
		Header:     header,
		Body:       entry.Body,
		CapturedAt: entry.CapturedAt,
	}, nil
}

func (b *sqlBackend) Put(ctx context.Context, store, key string, snap *Snapshot) error {
	header, err := json.Marshal(snap.Header)
	if err != nil {
		return fmt.Errorf("failed to encode headers: %w", err)
	}
	err = b.repo.PutEntry(ctx, &entities.CacheEntry{
		StoreName:  store,
		KeyHash:    hashKey(key),
		Key:        key,
		Status:     snap.Status,
		Header:     string(header),
		Body:       snap.Body,
		CapturedAt: snap.CapturedAt,
	})
	if errors.Is(err, repository.ErrCacheStoreNotFound) {
		return ErrStoreDeleted
	}
	return err
}

func (b *sqlBackend) Has(ctx context.Context, store, key string) (bool, error) {
	_, err := b.repo.GetEntry(ctx, store, hashKey(key))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, repository.ErrCacheEntryNotFound) {
		return false, nil
	}
	return false, err
}

func (b *sqlBackend) Count(ctx context.Context, store string) (int, error) {
	n, err := b.repo.CountEntries(ctx, store)
	return int(n), err
}

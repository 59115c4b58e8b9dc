package repository

import (
	"context"
	"fmt"

	"github.com/studyquest/offline-engine/internal/datastore/entities"
	"github.com/studyquest/offline-engine/internal/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// cacheRepository implements CacheRepository.
type cacheRepository struct {
	db *gorm.DB
}

// NewCacheRepository creates a new CacheRepository.
func NewCacheRepository(db *gorm.DB) CacheRepository {
	return &cacheRepository{db: db}
}

// ListStores returns all store names in name order.
func (r *cacheRepository) ListStores(ctx context.Context) ([]string, error) {
	var names []string
	if err := r.db.WithContext(ctx).Model(&entities.CacheStore{}).
		Order("name ASC").
		Pluck("name", &names).Error; err != nil {
		return nil, fmt.Errorf("failed to list cache stores: %w", err)
	}
	return names, nil
}

// CreateStore creates the store if it does not exist.
func (r *cacheRepository) CreateStore(ctx context.Context, name string) error {
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&entities.CacheStore{Name: name}).Error; err != nil {
		return fmt.Errorf("failed to create cache store %s: %w", name, err)
	}
	return nil
}

// DeleteStore removes a store and its entries in one transaction.
func (r *cacheRepository) DeleteStore(ctx context.Context, name string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("store_name = ?", name).Delete(&entities.CacheEntry{}).Error; err != nil {
			return fmt.Errorf("failed to delete entries of cache store %s: %w", name, err)
		}
		if err := tx.Where("name = ?", name).Delete(&entities.CacheStore{}).Error; err != nil {
			return fmt.Errorf("failed to delete cache store %s: %w", name, err)
		}
		return nil
	})
}

// GetEntry returns the entry for a key hash.
// Returns ErrCacheEntryNotFound if there is none.
func (r *cacheRepository) GetEntry(ctx context.Context, store, keyHash string) (*entities.CacheEntry, error) {
	var entry entities.CacheEntry
	if err := r.db.WithContext(ctx).
		Where("store_name = ? AND key_hash = ?", store, keyHash).
		First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCacheEntryNotFound
		}
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}
	return &entry, nil
}

// PutEntry upserts an entry into an existing store; the last writer wins.
func (r *cacheRepository) PutEntry(ctx context.Context, entry *entities.CacheEntry) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stores int64
		if err := tx.Model(&entities.CacheStore{}).
			Where("name = ?", entry.StoreName).
			Count(&stores).Error; err != nil {
			return fmt.Errorf("failed to look up cache store %s: %w", entry.StoreName, err)
		}
		if stores == 0 {
			return ErrCacheStoreNotFound
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "store_name"}, {Name: "key_hash"}},
			DoUpdates: clause.AssignmentColumns([]string{"key", "status", "header", "body", "captured_at"}),
		}).Create(entry).Error; err != nil {
			return fmt.Errorf("failed to put cache entry: %w", err)
		}
		return nil
	})
}

// CountEntries returns the number of entries in a store.
func (r *cacheRepository) CountEntries(ctx context.Context, store string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&entities.CacheEntry{}).
		Where("store_name = ?", store).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count cache entries: %w", err)
	}
	return count, nil
}

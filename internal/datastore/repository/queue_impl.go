package repository

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/studyquest/offline-engine/internal/datastore/entities"
	"github.com/studyquest/offline-engine/internal/errors"
	"gorm.io/gorm"
)

// maxLastErrorBytes bounds the stored replay error.
const maxLastErrorBytes = 1000

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// queueRepository implements QueueRepository.
type queueRepository struct {
	db *gorm.DB
}

// NewQueueRepository creates a new QueueRepository.
func NewQueueRepository(db *gorm.DB) QueueRepository {
	return &queueRepository{db: db}
}

// Append stores a new item at the tail of its namespace.
func (r *queueRepository) Append(ctx context.Context, item *entities.QueueItem) error {
	if item.ID == "" || item.Namespace == "" {
		return fmt.Errorf("failed to append queue item: missing id or namespace")
	}
	if err := r.db.WithContext(ctx).Create(item).Error; err != nil {
		return fmt.Errorf("failed to append queue item: %w", err)
	}
	return nil
}

// List returns all items in a namespace ordered by insertion.
func (r *queueRepository) List(ctx context.Context, namespace string) ([]entities.QueueItem, error) {
	var items []entities.QueueItem
	if err := r.db.WithContext(ctx).
		Where("namespace = ?", namespace).
		Order("seq ASC").
		Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to list queue items: %w", err)
	}
	return items, nil
}

// Get returns one item by its external ID.
// Returns ErrQueueItemNotFound if the item does not exist.
func (r *queueRepository) Get(ctx context.Context, id string) (*entities.QueueItem, error) {
	var item entities.QueueItem
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&item).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrQueueItemNotFound
		}
		return nil, fmt.Errorf("failed to get queue item %s: %w", id, err)
	}
	return &item, nil
}

// Delete removes one item.
func (r *queueRepository) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&entities.QueueItem{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete queue item %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrQueueItemNotFound
	}
	return nil
}

// DeleteNamespace removes every item in a namespace.
func (r *queueRepository) DeleteNamespace(ctx context.Context, namespace string) (int64, error) {
	result := r.db.WithContext(ctx).Where("namespace = ?", namespace).Delete(&entities.QueueItem{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to purge queue namespace %s: %w", namespace, result.Error)
	}
	return result.RowsAffected, nil
}

// Count returns the number of items in a namespace.
func (r *queueRepository) Count(ctx context.Context, namespace string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&entities.QueueItem{}).
		Where("namespace = ?", namespace).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count queue items: %w", err)
	}
	return count, nil
}

// Namespaces returns every namespace that currently holds items.
func (r *queueRepository) Namespaces(ctx context.Context) ([]string, error) {
	var namespaces []string
	if err := r.db.WithContext(ctx).Model(&entities.QueueItem{}).
		Distinct("namespace").
		Order("namespace ASC").
		Pluck("namespace", &namespaces).Error; err != nil {
		return nil, fmt.Errorf("failed to list queue namespaces: %w", err)
	}
	return namespaces, nil
}

// RecordAttempt notes a failed replay attempt.
func (r *queueRepository) RecordAttempt(ctx context.Context, id, lastErr string, at time.Time) error {
	lastErr = truncateUTF8(lastErr, maxLastErrorBytes)
	result := r.db.WithContext(ctx).Model(&entities.QueueItem{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"attempts":        gorm.Expr("attempts + ?", 1),
			"last_error":      lastErr,
			"last_attempt_at": at,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to record attempt for queue item %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrQueueItemNotFound
	}
	return nil
}

// Flag marks an item with a reason.
func (r *queueRepository) Flag(ctx context.Context, id, reason string) error {
	result := r.db.WithContext(ctx).Model(&entities.QueueItem{}).
		Where("id = ?", id).
		Updates(map[string]any{"flagged": true, "flag_reason": reason})
	if result.Error != nil {
		return fmt.Errorf("failed to flag queue item %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrQueueItemNotFound
	}
	return nil
}

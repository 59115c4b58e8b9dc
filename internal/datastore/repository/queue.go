// Package repository implements persistence for the sync queue and cache stores.
package repository

import (
	"context"
	"time"

	"github.com/studyquest/offline-engine/internal/datastore/entities"
	"github.com/studyquest/offline-engine/internal/errors"
)

// ErrQueueItemNotFound is returned when a queue item does not exist.
var ErrQueueItemNotFound = errors.NewStd("queue item not found")

// QueueRepository persists offline queue items. Items are always returned
// in insertion order.
type QueueRepository interface {
	Append(ctx context.Context, item *entities.QueueItem) error
	List(ctx context.Context, namespace string) ([]entities.QueueItem, error)
	Get(ctx context.Context, id string) (*entities.QueueItem, error)
	Delete(ctx context.Context, id string) error
	DeleteNamespace(ctx context.Context, namespace string) (int64, error)
	Count(ctx context.Context, namespace string) (int64, error)
	Namespaces(ctx context.Context) ([]string, error)

	// RecordAttempt increments the attempt counter and stores the last error.
	RecordAttempt(ctx context.Context, id string, lastErr string, at time.Time) error
	// Flag marks an item as needing attention without removing it.
	Flag(ctx context.Context, id string, reason string) error
}

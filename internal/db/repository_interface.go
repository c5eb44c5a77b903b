package db

import (
	"context"
	"time"

	"github.com/platesync/core/internal/models"
)

// QueueStore covers the pending-mutation queue.
type QueueStore interface {
	Enqueue(ctx context.Context, t models.EntryType, payload any) (string, error)
	Entry(ctx context.Context, id string) (*models.QueueEntry, error)
	ListUnsynced(ctx context.Context) ([]*models.QueueEntry, error)
	MarkSynced(ctx context.Context, id string) error
	IncrementRetryCount(ctx context.Context, id string) (int, error)
	DeleteEntry(ctx context.Context, id string) error
	Stats(ctx context.Context) (*QueueStats, error)
}

// MealCache covers the local meal read cache.
type MealCache interface {
	CacheMeal(ctx context.Context, meal *models.CachedMeal) error
	CachedMeals(ctx context.Context, date string) ([]*models.CachedMeal, error)
}

// FavoriteStore covers the favorite-foods list.
type FavoriteStore interface {
	SaveFavoriteFood(ctx context.Context, food *models.FavoriteFood) error
	FavoriteFoods(ctx context.Context) ([]*models.FavoriteFood, error)
}

// LeaseStore covers the cross-process sync lease.
type LeaseStore interface {
	AcquireLease(ctx context.Context, holder string, ttl time.Duration) (bool, error)
	RenewLease(ctx context.Context, holder string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, holder string) error
	Lease(ctx context.Context) (*models.SyncLease, error)
}

// OfflineStore is the full offline-storage surface. Consumers that only
// need a slice of it should depend on the narrower interfaces above.
type OfflineStore interface {
	QueueStore
	MealCache
	FavoriteStore
	LeaseStore
	Clear(ctx context.Context) error
}

// Ensure Repository implements the interface.
var _ OfflineStore = (*Repository)(nil)

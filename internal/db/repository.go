// Package db provides the typed repository over the local store.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/platesync/core/internal/models"
	"github.com/platesync/core/internal/platerr"
)

// Repository provides the offline-storage operations: the pending-mutation
// queue, the meal read cache, the favorites list and the sync lease.
// Statements for hot read paths are prepared on first use and cached.
type Repository struct {
	db     *sql.DB
	logger *zap.Logger

	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewRepository creates a new Repository instance.
func NewRepository(db *sql.DB, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{db: db, logger: logger.Named("repository")}
}

// PrepareStmt gets or creates a prepared statement from the cache.
func (r *Repository) PrepareStmt(query string) (*sql.Stmt, error) {
	if stmt, ok := r.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := r.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	actual, loaded := r.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		// Another goroutine already prepared this, close our duplicate
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}
	return stmt, nil
}

// Close closes all cached prepared statements.
func (r *Repository) Close() error {
	var firstErr error
	r.stmtCache.Range(func(key, value any) bool {
		if err := value.(*sql.Stmt).Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// =====================================================
// Queue Operations
// =====================================================

// Enqueue builds a queue entry for the payload, persists it in one
// transaction and returns the generated id.
func (r *Repository) Enqueue(ctx context.Context, t models.EntryType, payload any) (string, error) {
	entry, err := models.NewQueueEntry(t, payload, time.Now())
	if err != nil {
		return "", platerr.Wrap(platerr.CodeStoreWriteFailed, "failed to build queue entry", err)
	}

	query := `
	INSERT INTO offline_entries (id, type, data, timestamp, synced, retry_count)
	VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query, entry.ID, entry.Type, string(entry.Payload),
		entry.CreatedAt, entry.Synced, entry.RetryCount)
	if err != nil {
		return "", platerr.Wrap(platerr.CodeStoreWriteFailed, "failed to persist queue entry", err)
	}

	r.logger.Debug("enqueued entry",
		zap.String("id", entry.ID),
		zap.String("type", string(t)))
	return entry.ID, nil
}

// Entry retrieves one queue entry by id.
func (r *Repository) Entry(ctx context.Context, id string) (*models.QueueEntry, error) {
	query := `
	SELECT id, type, data, timestamp, synced, retry_count
	FROM offline_entries WHERE id = ?
	`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, platerr.Wrap(platerr.CodeStoreReadFailed, "failed to prepare entry lookup", err)
	}

	var entry models.QueueEntry
	var data string
	err = stmt.QueryRowContext(ctx, id).Scan(
		&entry.ID, &entry.Type, &data, &entry.CreatedAt, &entry.Synced, &entry.RetryCount,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, platerr.New(platerr.CodeEntryNotFound, fmt.Sprintf("entry not found: %s", id))
	}
	if err != nil {
		return nil, platerr.Wrap(platerr.CodeStoreReadFailed, "failed to load queue entry", err)
	}
	entry.Payload = []byte(data)
	return &entry, nil
}

// ListUnsynced returns every entry with synced=false, oldest first.
// The synced index keeps this a range scan rather than a full-table filter.
func (r *Repository) ListUnsynced(ctx context.Context) ([]*models.QueueEntry, error) {
	query := `
	SELECT id, type, data, timestamp, synced, retry_count
	FROM offline_entries WHERE synced = 0 ORDER BY timestamp
	`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, platerr.Wrap(platerr.CodeStoreReadFailed, "failed to prepare unsynced listing", err)
	}

	rows, err := stmt.QueryContext(ctx)
	if err != nil {
		return nil, platerr.Wrap(platerr.CodeStoreReadFailed, "failed to list unsynced entries", err)
	}
	defer rows.Close()

	var entries []*models.QueueEntry
	for rows.Next() {
		var entry models.QueueEntry
		var data string
		if err := rows.Scan(&entry.ID, &entry.Type, &data, &entry.CreatedAt, &entry.Synced, &entry.RetryCount); err != nil {
			return nil, platerr.Wrap(platerr.CodeStoreReadFailed, "failed to scan queue entry", err)
		}
		entry.Payload = []byte(data)
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, platerr.Wrap(platerr.CodeStoreReadFailed, "failed to iterate unsynced entries", err)
	}
	return entries, nil
}

// MarkSynced flags the entry as delivered. Idempotent: marking an already
// synced entry succeeds. Fails with EntryNotFound when the id is absent.
func (r *Repository) MarkSynced(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `UPDATE offline_entries SET synced = 1 WHERE id = ?`, id)
	if err != nil {
		return platerr.Wrap(platerr.CodeStoreWriteFailed, "failed to mark entry synced", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return platerr.Wrap(platerr.CodeStoreWriteFailed, "failed to read mark-synced result", err)
	}
	if affected == 0 {
		return platerr.New(platerr.CodeEntryNotFound, fmt.Sprintf("entry not found: %s", id))
	}
	return nil
}

// IncrementRetryCount bumps the retry counter and returns the new value.
// The precondition lives in the UPDATE itself, so concurrent callers cannot
// lose updates or push the counter past the ceiling. At the ceiling it fails
// with MaxRetriesExceeded and leaves the entry untouched.
func (r *Repository) IncrementRetryCount(ctx context.Context, id string) (int, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE offline_entries SET retry_count = retry_count + 1 WHERE id = ? AND retry_count < ?`,
		id, models.MaxRetryAttempts)
	if err != nil {
		return 0, platerr.Wrap(platerr.CodeStoreWriteFailed, "failed to bump retry count", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, platerr.Wrap(platerr.CodeStoreWriteFailed, "failed to read retry-bump result", err)
	}

	var count int
	err = r.db.QueryRowContext(ctx, `SELECT retry_count FROM offline_entries WHERE id = ?`, id).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, platerr.New(platerr.CodeEntryNotFound, fmt.Sprintf("entry not found: %s", id))
	}
	if err != nil {
		return 0, platerr.Wrap(platerr.CodeStoreReadFailed, "failed to read retry count", err)
	}

	if affected == 0 {
		return count, platerr.New(platerr.CodeMaxRetriesExceeded,
			fmt.Sprintf("entry %s exhausted its %d attempts", id, models.MaxRetryAttempts))
	}
	return count, nil
}

// DeleteEntry removes the entry. Deleting a non-existent id is not an error.
func (r *Repository) DeleteEntry(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM offline_entries WHERE id = ?`, id); err != nil {
		return platerr.Wrap(platerr.CodeStoreWriteFailed, "failed to delete queue entry", err)
	}
	return nil
}

// QueueStats summarizes the queue for status surfaces.
type QueueStats struct {
	Total    int            `json:"total"`
	Unsynced int            `json:"unsynced"`
	Synced   int            `json:"synced"`
	ByType   map[string]int `json:"by_type"`
}

// Stats counts queue entries overall and per type.
func (r *Repository) Stats(ctx context.Context) (*QueueStats, error) {
	stats := &QueueStats{ByType: make(map[string]int)}

	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(synced = 0), 0), COALESCE(SUM(synced = 1), 0) FROM offline_entries`,
	).Scan(&stats.Total, &stats.Unsynced, &stats.Synced)
	if err != nil {
		return nil, platerr.Wrap(platerr.CodeStoreReadFailed, "failed to count queue entries", err)
	}

	rows, err := r.db.QueryContext(ctx, `SELECT type, COUNT(*) FROM offline_entries GROUP BY type`)
	if err != nil {
		return nil, platerr.Wrap(platerr.CodeStoreReadFailed, "failed to count entries by type", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, platerr.Wrap(platerr.CodeStoreReadFailed, "failed to scan type count", err)
		}
		stats.ByType[t] = n
	}
	return stats, rows.Err()
}

// =====================================================
// Cached Meal Operations
// =====================================================

// CacheMeal upserts a meal into the read cache, wholesale.
func (r *Repository) CacheMeal(ctx context.Context, meal *models.CachedMeal) error {
	if meal.ID == "" {
		meal.ID = uuid.New().String()
	}
	if meal.LoggedAt == 0 {
		meal.LoggedAt = time.Now().Unix()
	}

	query := `
	INSERT OR REPLACE INTO cached_meals
		(id, user_id, date, meal_slot, name, quantity, unit, calories, protein, carbs, fat, logged_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query, meal.ID, meal.UserID, meal.Date, meal.MealSlot,
		meal.Name, meal.Quantity, meal.Unit, meal.Calories, meal.Protein, meal.Carbs, meal.Fat, meal.LoggedAt)
	if err != nil {
		return platerr.Wrap(platerr.CodeStoreWriteFailed, "failed to cache meal", err)
	}
	return nil
}

// CachedMeals reads cached meals back, optionally filtered by date
// (YYYY-MM-DD; empty string returns all).
func (r *Repository) CachedMeals(ctx context.Context, date string) ([]*models.CachedMeal, error) {
	baseQuery := `
	SELECT id, user_id, date, meal_slot, name, quantity, unit, calories, protein, carbs, fat, logged_at
	FROM cached_meals
	`
	var rows *sql.Rows
	var err error
	if date != "" {
		rows, err = r.db.QueryContext(ctx, baseQuery+` WHERE date = ? ORDER BY logged_at DESC`, date)
	} else {
		rows, err = r.db.QueryContext(ctx, baseQuery+` ORDER BY logged_at DESC`)
	}
	if err != nil {
		return nil, platerr.Wrap(platerr.CodeStoreReadFailed, "failed to list cached meals", err)
	}
	defer rows.Close()

	var meals []*models.CachedMeal
	for rows.Next() {
		var m models.CachedMeal
		if err := rows.Scan(&m.ID, &m.UserID, &m.Date, &m.MealSlot, &m.Name, &m.Quantity,
			&m.Unit, &m.Calories, &m.Protein, &m.Carbs, &m.Fat, &m.LoggedAt); err != nil {
			return nil, platerr.Wrap(platerr.CodeStoreReadFailed, "failed to scan cached meal", err)
		}
		meals = append(meals, &m)
	}
	return meals, rows.Err()
}

// =====================================================
// Favorite Food Operations
// =====================================================

// SaveFavoriteFood upserts a favorite, wholesale.
func (r *Repository) SaveFavoriteFood(ctx context.Context, food *models.FavoriteFood) error {
	if food.ID == "" {
		food.ID = uuid.New().String()
	}
	if food.LastUsedAt == 0 {
		food.LastUsedAt = time.Now().Unix()
	}

	query := `
	INSERT OR REPLACE INTO favorite_foods
		(id, user_id, name, calories, protein, carbs, fat, frequency, last_used_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query, food.ID, food.UserID, food.Name, food.Calories,
		food.Protein, food.Carbs, food.Fat, food.Frequency, food.LastUsedAt)
	if err != nil {
		return platerr.Wrap(platerr.CodeStoreWriteFailed, "failed to save favorite food", err)
	}
	return nil
}

// FavoriteFoods returns all favorites, most frequently used first.
func (r *Repository) FavoriteFoods(ctx context.Context) ([]*models.FavoriteFood, error) {
	query := `
	SELECT id, user_id, name, calories, protein, carbs, fat, frequency, last_used_at
	FROM favorite_foods ORDER BY frequency DESC, last_used_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, platerr.Wrap(platerr.CodeStoreReadFailed, "failed to list favorite foods", err)
	}
	defer rows.Close()

	var foods []*models.FavoriteFood
	for rows.Next() {
		var f models.FavoriteFood
		if err := rows.Scan(&f.ID, &f.UserID, &f.Name, &f.Calories, &f.Protein, &f.Carbs,
			&f.Fat, &f.Frequency, &f.LastUsedAt); err != nil {
			return nil, platerr.Wrap(platerr.CodeStoreReadFailed, "failed to scan favorite food", err)
		}
		foods = append(foods, &f)
	}
	return foods, rows.Err()
}

// =====================================================
// Clear
// =====================================================

// Clear wipes the queue and both caches, best effort. Each collection is
// cleared independently; the returned error names every collection that
// failed so callers know what survived.
func (r *Repository) Clear(ctx context.Context) error {
	var errs []error
	for _, table := range []string{
		models.QueueEntry{}.TableName(),
		models.CachedMeal{}.TableName(),
		models.FavoriteFood{}.TableName(),
	} {
		if _, err := r.db.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			errs = append(errs, platerr.Wrap(platerr.CodeStoreWriteFailed,
				fmt.Sprintf("failed to clear %s", table), err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	r.logger.Debug("cleared offline collections")
	return nil
}

// =====================================================
// Sync Lease Operations
// =====================================================

// AcquireLease attempts to take the cross-process sync lease for ttl.
// A single upsert carries the compare-and-set: it wins when no lease row
// exists, the previous lease expired, or the caller already holds it.
func (r *Repository) AcquireLease(ctx context.Context, holder string, ttl time.Duration) (bool, error) {
	now := time.Now()
	query := `
	INSERT INTO sync_lease (id, holder, expires_at) VALUES (?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET holder = excluded.holder, expires_at = excluded.expires_at
	WHERE sync_lease.holder = excluded.holder OR sync_lease.expires_at <= ?
	`
	result, err := r.db.ExecContext(ctx, query,
		models.LeaseKey, holder, now.Add(ttl).UnixMilli(), now.UnixMilli())
	if err != nil {
		return false, platerr.Wrap(platerr.CodeStoreWriteFailed, "failed to acquire sync lease", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, platerr.Wrap(platerr.CodeStoreWriteFailed, "failed to read lease-acquire result", err)
	}
	return affected == 1, nil
}

// RenewLease extends the lease while the holder still owns it.
func (r *Repository) RenewLease(ctx context.Context, holder string, ttl time.Duration) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE sync_lease SET expires_at = ? WHERE id = ? AND holder = ?`,
		time.Now().Add(ttl).UnixMilli(), models.LeaseKey, holder)
	if err != nil {
		return false, platerr.Wrap(platerr.CodeStoreWriteFailed, "failed to renew sync lease", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, platerr.Wrap(platerr.CodeStoreWriteFailed, "failed to read lease-renew result", err)
	}
	return affected == 1, nil
}

// ReleaseLease drops the lease if the holder owns it. Idempotent.
func (r *Repository) ReleaseLease(ctx context.Context, holder string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM sync_lease WHERE id = ? AND holder = ?`, models.LeaseKey, holder)
	if err != nil {
		return platerr.Wrap(platerr.CodeStoreWriteFailed, "failed to release sync lease", err)
	}
	return nil
}

// Lease returns the current lease row, or nil when none is held.
func (r *Repository) Lease(ctx context.Context) (*models.SyncLease, error) {
	var lease models.SyncLease
	err := r.db.QueryRowContext(ctx,
		`SELECT id, holder, expires_at FROM sync_lease WHERE id = ?`, models.LeaseKey,
	).Scan(&lease.ID, &lease.Holder, &lease.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, platerr.Wrap(platerr.CodeStoreReadFailed, "failed to load sync lease", err)
	}
	return &lease, nil
}

package handlers_test

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/platesync/core/cmd/syncd/handlers"
	"github.com/platesync/core/internal/db"
	"github.com/platesync/core/internal/models"
	platesync "github.com/platesync/core/internal/sync"
)

type fakeRemote struct {
	mu          sync.Mutex
	insertErr   error
	insertCalls int
	updateCalls int
	uploadCalls int
}

func (f *fakeRemote) InsertRecord(ctx context.Context, table string, row map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insertCalls++
	return f.insertErr
}

func (f *fakeRemote) UploadBlob(ctx context.Context, bucket, path string, data []byte, contentType string) (platesync.BlobHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploadCalls++
	return platesync.BlobHandle{Bucket: bucket, Path: path}, nil
}

func (f *fakeRemote) CreateSignedURL(ctx context.Context, handle platesync.BlobHandle, ttl time.Duration) (string, error) {
	return "https://cdn.example.com/" + handle.Path, nil
}

func (f *fakeRemote) UpdateRecord(ctx context.Context, table string, filter map[string]string, patch map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++
	return nil
}

func (f *fakeRemote) calls() (inserts, updates, uploads int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.insertCalls, f.updateCalls, f.uploadCalls
}

type testEnv struct {
	handler     *handlers.Handler
	repo        *db.Repository
	remote      *fakeRemote
	coordinator *platesync.Coordinator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	conn, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// One connection, or each pooled conn would see its own :memory: store.
	conn.SetMaxOpenConns(1)
	t.Cleanup(func() { conn.Close() })

	migrator := db.NewMigrator(conn)
	require.NoError(t, migrator.Initialize())
	require.NoError(t, migrator.Up())

	repo := db.NewRepository(conn, zap.NewNop())
	remote := &fakeRemote{}
	coordinator := platesync.NewCoordinator(repo, remote, nil, zap.NewNop(), &platesync.Config{
		AutoSyncInterval: time.Hour,
		EntryTimeout:     2 * time.Second,
		LeaseTTL:         time.Minute,
		PhotoBucket:      "meal-photos",
		Holder:           "handler-test",
	})
	t.Cleanup(coordinator.Close)

	return &testEnv{
		handler:     handlers.New(repo, coordinator, zap.NewNop()),
		repo:        repo,
		remote:      remote,
		coordinator: coordinator,
	}
}

func jsonRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	if body == nil {
		return httptest.NewRequest(method, target, nil)
	}
	raw, err := sonic.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, target, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func mealBody() models.MealLogPayload {
	return models.MealLogPayload{
		UserID:   "user-1",
		Date:     "2025-01-15",
		MealSlot: "lunch",
		Name:     "chicken salad",
		Quantity: 1,
		Unit:     "bowl",
		Calories: 420,
		Protein:  38,
	}
}

func TestQueueMealDeliversWhenOnline(t *testing.T) {
	env := newTestEnv(t)

	rec := httptest.NewRecorder()
	env.handler.QueueMeal(rec, jsonRequest(t, http.MethodPost, "/api/meals", mealBody()))

	require.Equal(t, http.StatusAccepted, rec.Code)
	resp := decodeResponse(t, rec)
	require.Equal(t, false, resp["queued"])

	inserts, _, _ := env.remote.calls()
	require.Equal(t, 1, inserts)

	stats, err := env.repo.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, stats.Total)
}

func TestQueueMealFallsBackToQueue(t *testing.T) {
	env := newTestEnv(t)
	env.remote.insertErr = errors.New("backend down")

	rec := httptest.NewRecorder()
	env.handler.QueueMeal(rec, jsonRequest(t, http.MethodPost, "/api/meals", mealBody()))

	require.Equal(t, http.StatusAccepted, rec.Code)
	resp := decodeResponse(t, rec)
	require.Equal(t, true, resp["queued"])
	require.True(t, strings.HasPrefix(resp["id"].(string), "meal_log_"))

	stats, err := env.repo.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.Unsynced)
}

func TestQueueMealRejectsBadRequests(t *testing.T) {
	env := newTestEnv(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/meals", strings.NewReader("{not json"))
	env.handler.QueueMeal(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	payload := mealBody()
	payload.UserID = ""
	env.handler.QueueMeal(rec, jsonRequest(t, http.MethodPost, "/api/meals", payload))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueuePhotoWhileOffline(t *testing.T) {
	env := newTestEnv(t)
	env.coordinator.SetOnline(false)

	body := models.PhotoUploadPayload{
		UserID:      "user-1",
		FileName:    "lunch.jpg",
		Data:        "aGVsbG8=",
		ContentType: "image/jpeg",
	}

	rec := httptest.NewRecorder()
	env.handler.QueuePhoto(rec, jsonRequest(t, http.MethodPost, "/api/photos", body))

	require.Equal(t, http.StatusAccepted, rec.Code)
	resp := decodeResponse(t, rec)
	require.Equal(t, true, resp["queued"])
	require.Empty(t, resp["signed_url"])

	_, _, uploads := env.remote.calls()
	require.Equal(t, 0, uploads)

	stats, err := env.repo.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.ByType[string(models.EntryPhotoUpload)])
}

func TestQueuePhotoUploadsWhenOnline(t *testing.T) {
	env := newTestEnv(t)

	body := models.PhotoUploadPayload{
		UserID:      "user-1",
		FileName:    "lunch.jpg",
		Data:        "aGVsbG8=",
		ContentType: "image/jpeg",
	}

	rec := httptest.NewRecorder()
	env.handler.QueuePhoto(rec, jsonRequest(t, http.MethodPost, "/api/photos", body))

	require.Equal(t, http.StatusAccepted, rec.Code)
	resp := decodeResponse(t, rec)
	require.Equal(t, false, resp["queued"])
	require.Contains(t, resp["signed_url"], "user-1/")
}

func TestQueueActionUnknownNameIsDropped(t *testing.T) {
	env := newTestEnv(t)

	body := map[string]any{
		"user_id": "user-1",
		"action":  "rename_pet",
		"data":    map[string]any{"name": "Rex"},
	}

	rec := httptest.NewRecorder()
	env.handler.QueueAction(rec, jsonRequest(t, http.MethodPost, "/api/actions", body))

	require.Equal(t, http.StatusAccepted, rec.Code)
	resp := decodeResponse(t, rec)
	require.Equal(t, false, resp["queued"])

	_, updates, _ := env.remote.calls()
	require.Equal(t, 0, updates)
}

func TestTriggerSyncDrainsQueue(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.repo.Enqueue(context.Background(), models.EntryMealLog, mealBody())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	env.handler.TriggerSync(rec, httptest.NewRequest(http.MethodPost, "/api/sync/now", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	require.Equal(t, float64(1), resp["success_count"])
	require.Equal(t, float64(0), resp["failed_count"])

	stats, err := env.repo.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, stats.Unsynced)
	require.Equal(t, 1, stats.Synced)
}

func TestStatusReportsQueueAndCoordinator(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.repo.Enqueue(context.Background(), models.EntryMealLog, mealBody())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	env.handler.Status(rec, httptest.NewRequest(http.MethodGet, "/api/sync/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	require.Equal(t, true, resp["online"])
	require.Equal(t, false, resp["sync_in_progress"])

	queue, ok := resp["queue"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, float64(1), queue["total"])
}

func TestSetOnlineEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := httptest.NewRecorder()
	env.handler.SetOnline(rec, jsonRequest(t, http.MethodPut, "/api/sync/online", map[string]any{"online": false}))

	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, env.coordinator.IsOnline())
}

func TestCachedMealsFiltersByDate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.repo.CacheMeal(ctx, &models.CachedMeal{
		UserID: "user-1", Date: "2025-01-15", MealSlot: "lunch", Name: "salad", Calories: 420,
	}))
	require.NoError(t, env.repo.CacheMeal(ctx, &models.CachedMeal{
		UserID: "user-1", Date: "2025-01-16", MealSlot: "dinner", Name: "pasta", Calories: 640,
	}))

	rec := httptest.NewRecorder()
	env.handler.CachedMeals(rec, httptest.NewRequest(http.MethodGet, "/api/meals?date=2025-01-15", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	meals := resp["meals"].([]any)
	require.Len(t, meals, 1)
	require.Equal(t, "salad", meals[0].(map[string]any)["name"])
}

func TestFavoritesEndpoint(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.repo.SaveFavoriteFood(context.Background(), &models.FavoriteFood{
		UserID: "user-1", Name: "oatmeal", Calories: 150,
	}))

	rec := httptest.NewRecorder()
	env.handler.Favorites(rec, httptest.NewRequest(http.MethodGet, "/api/favorites", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	require.Len(t, resp["favorites"], 1)
}

func TestClearStorageEndpoint(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.repo.Enqueue(ctx, models.EntryMealLog, mealBody())
	require.NoError(t, err)
	require.NoError(t, env.repo.CacheMeal(ctx, &models.CachedMeal{
		UserID: "user-1", Date: "2025-01-15", MealSlot: "lunch", Name: "salad",
	}))

	rec := httptest.NewRecorder()
	env.handler.ClearStorage(rec, httptest.NewRequest(http.MethodDelete, "/api/storage", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	require.Equal(t, true, resp["cleared"])

	stats, err := env.repo.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, stats.Total)

	meals, err := env.repo.CachedMeals(ctx, "")
	require.NoError(t, err)
	require.Empty(t, meals)
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := httptest.NewRecorder()
	env.handler.Health(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	require.Equal(t, "ok", resp["status"])
}

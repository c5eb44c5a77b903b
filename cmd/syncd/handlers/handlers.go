// Package handlers implements the daemon's local REST API.
package handlers

import (
	"io"
	"net/http"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/platesync/core/internal/db"
	"github.com/platesync/core/internal/models"
	"github.com/platesync/core/internal/platerr"
	platesync "github.com/platesync/core/internal/sync"
)

// maxBodyBytes bounds request bodies. Photo payloads arrive base64 encoded,
// so the cap leaves headroom over the raw image size.
const maxBodyBytes = 32 << 20

// Handler serves the daemon's HTTP endpoints.
type Handler struct {
	store       db.OfflineStore
	coordinator *platesync.Coordinator
	logger      *zap.Logger
}

// New creates a Handler with its dependencies.
func New(store db.OfflineStore, coordinator *platesync.Coordinator, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		store:       store,
		coordinator: coordinator,
		logger:      logger.Named("api"),
	}
}

// ===== Write endpoints =====

// QueueMeal handles POST /api/meals. The meal is delivered to the backend
// when it is reachable and queued for later sync otherwise.
func (h *Handler) QueueMeal(w http.ResponseWriter, r *http.Request) {
	var payload models.MealLogPayload
	if err := decodeBody(r, &payload); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if payload.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	entryID, err := h.coordinator.QueueMealLog(r.Context(), payload)
	if err != nil {
		h.writeError(w, "queue meal log", err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"queued": entryID != "",
		"id":     entryID,
	})
}

// QueuePhoto handles POST /api/photos.
func (h *Handler) QueuePhoto(w http.ResponseWriter, r *http.Request) {
	var payload models.PhotoUploadPayload
	if err := decodeBody(r, &payload); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if payload.UserID == "" || payload.FileName == "" {
		http.Error(w, "user_id and file_name are required", http.StatusBadRequest)
		return
	}

	signedURL, entryID, err := h.coordinator.QueuePhotoUpload(r.Context(), payload)
	if err != nil {
		h.writeError(w, "queue photo upload", err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"queued":     entryID != "",
		"id":         entryID,
		"signed_url": signedURL,
	})
}

// QueueAction handles POST /api/actions.
func (h *Handler) QueueAction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string         `json:"user_id"`
		Action string         `json:"action"`
		Data   map[string]any `json:"data"`
	}
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.Action == "" {
		http.Error(w, "user_id and action are required", http.StatusBadRequest)
		return
	}

	entryID, err := h.coordinator.QueueUserAction(r.Context(), req.Action, req.Data, req.UserID)
	if err != nil {
		h.writeError(w, "queue user action", err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"queued": entryID != "",
		"id":     entryID,
	})
}

// ===== Sync control =====

// TriggerSync handles POST /api/sync/now.
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	result, err := h.coordinator.SyncNow(r.Context())
	if err != nil {
		h.writeError(w, "sync now", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success_count": result.SuccessCount,
		"failed_count":  result.FailedCount,
		"errors":        result.Errors,
	})
}

// Status handles GET /api/sync/status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	status := h.coordinator.GetStatus()

	stats, err := h.store.Stats(r.Context())
	if err != nil {
		h.writeError(w, "queue stats", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"online":           status.Online,
		"auto_sync_armed":  status.AutoSyncArmed,
		"sync_in_progress": status.SyncInProgress,
		"last_sync_time":   status.LastSyncTime,
		"last_result":      status.LastResult,
		"queue":            stats,
	})
}

// SetOnline handles PUT /api/sync/online. It lets the UI force the
// connectivity state, for airplane mode toggles and tests.
func (h *Handler) SetOnline(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Online bool `json:"online"`
	}
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	h.coordinator.SetOnline(req.Online)
	writeJSON(w, http.StatusOK, map[string]any{"online": req.Online})
}

// ===== Read endpoints =====

// CachedMeals handles GET /api/meals. An optional date query parameter
// filters to one day.
func (h *Handler) CachedMeals(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")

	meals, err := h.store.CachedMeals(r.Context(), date)
	if err != nil {
		h.writeError(w, "list cached meals", err)
		return
	}
	if meals == nil {
		meals = []*models.CachedMeal{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"meals": meals})
}

// Favorites handles GET /api/favorites.
func (h *Handler) Favorites(w http.ResponseWriter, r *http.Request) {
	foods, err := h.store.FavoriteFoods(r.Context())
	if err != nil {
		h.writeError(w, "list favorite foods", err)
		return
	}
	if foods == nil {
		foods = []*models.FavoriteFood{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"favorites": foods})
}

// ===== Maintenance =====

// ClearStorage handles DELETE /api/storage. It empties the queue and local
// caches, for logout or a full reset.
func (h *Handler) ClearStorage(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Clear(r.Context()); err != nil {
		h.writeError(w, "clear storage", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"cleared": true})
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "platesync-syncd",
	})
}

// ===== Helpers =====

func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	return sonic.Unmarshal(body, v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	sonic.ConfigDefault.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	h.logger.Error(op+" failed", zap.Error(err))

	status := http.StatusInternalServerError
	switch {
	case platerr.Is(err, platerr.CodeEntryNotFound):
		status = http.StatusNotFound
	case platerr.Is(err, platerr.CodeRemoteError):
		status = http.StatusBadGateway
	case platerr.Is(err, platerr.CodeStorageUnavailable):
		status = http.StatusServiceUnavailable
	}
	http.Error(w, err.Error(), status)
}

//go:build cgo

// Package main provides the FFI bridge for mobile platforms.
// Build as shared library: libplatesync.so (Android) / platesync.framework (iOS)
package main

/*
#cgo CFLAGS: -Wall -Wextra
#include <stdlib.h>
*/
import "C"
import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"unsafe"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/platesync/core/internal/db"
	"github.com/platesync/core/internal/logging"
	"github.com/platesync/core/internal/models"
	platesync "github.com/platesync/core/internal/sync"
	"github.com/platesync/core/internal/sync/rest"
)

var (
	once        sync.Once
	database    *db.DB
	repo        *db.Repository
	coordinator *platesync.Coordinator
	logger      *zap.Logger
	lastErr     string
	lastMu      sync.RWMutex
)

//export Init
// Init opens the local store and starts the sync coordinator. The host app
// passes its data directory and backend credentials. Returns 0 on success.
// Safe to call more than once; only the first call does work.
func Init(dataDir, remoteURL, apiKey *C.char) int32 {
	var failed bool
	once.Do(func() {
		dir := C.GoString(dataDir)

		logger = newLogger(dir)

		var err error
		database, err = db.Open(dir)
		if err != nil {
			setLastError(fmt.Sprintf("Failed to open database: %v", err))
			failed = true
			return
		}

		migrator := db.NewMigrator(database.DB)
		if err := migrator.Initialize(); err != nil {
			setLastError(fmt.Sprintf("Failed to initialize migrator: %v", err))
			failed = true
			return
		}
		if err := migrator.Up(); err != nil {
			setLastError(fmt.Sprintf("Failed to apply migrations: %v", err))
			failed = true
			return
		}

		repo = db.NewRepository(database.DB, logger)

		remote := rest.NewClient(&rest.Config{
			BaseURL: C.GoString(remoteURL),
			APIKey:  C.GoString(apiKey),
		}, logger)

		// The host app drives connectivity through SetOnline; there is no
		// probe loop on mobile.
		coordinator = platesync.NewCoordinator(repo, remote, nil, logger, nil)
		coordinator.StartAutoSync(0)
	})
	if failed {
		return 1
	}
	return 0
}

func newLogger(dataDir string) *zap.Logger {
	l, err := logging.New(&logging.Config{
		Level: "info",
		Dir:   filepath.Join(dataDir, "logs"),
	})
	if err != nil {
		return zap.NewNop()
	}
	return l
}

//export Shutdown
// Shutdown stops the coordinator and closes the store.
func Shutdown() {
	if coordinator != nil {
		coordinator.Close()
	}
	if repo != nil {
		repo.Close()
	}
	if database != nil {
		database.Close()
	}
	if logger != nil {
		logger.Sync()
	}
}

//export GetLastError
// GetLastError returns the last error message.
// Returns a C string that must be freed by the caller.
func GetLastError() *C.char {
	lastMu.RLock()
	defer lastMu.RUnlock()

	return C.CString(lastErr)
}

func setLastError(err string) {
	lastMu.Lock()
	defer lastMu.Unlock()
	lastErr = err
}

// =====================================================
// Write Operations
// =====================================================

//export QueueMealLog
// QueueMealLog records a meal, delivering it directly when the backend is
// reachable and queueing it otherwise. payloadJSON is a MealLogPayload.
// Returns JSON string that must be freed by the caller.
func QueueMealLog(payloadJSON *C.char) *C.char {
	if coordinator == nil {
		setLastError("Coordinator not initialized")
		return nil
	}

	var payload models.MealLogPayload
	if err := sonic.UnmarshalString(C.GoString(payloadJSON), &payload); err != nil {
		setLastError(fmt.Sprintf("Invalid meal payload: %v", err))
		return nil
	}

	entryID, err := coordinator.QueueMealLog(context.Background(), payload)
	if err != nil {
		setLastError(fmt.Sprintf("Failed to queue meal log: %v", err))
		return nil
	}

	return jsonResult(map[string]any{
		"queued": entryID != "",
		"id":     entryID,
	})
}

//export QueuePhotoUpload
// QueuePhotoUpload uploads a meal photo or queues it for later. payloadJSON
// is a PhotoUploadPayload with base64 image data.
// Returns JSON string that must be freed by the caller.
func QueuePhotoUpload(payloadJSON *C.char) *C.char {
	if coordinator == nil {
		setLastError("Coordinator not initialized")
		return nil
	}

	var payload models.PhotoUploadPayload
	if err := sonic.UnmarshalString(C.GoString(payloadJSON), &payload); err != nil {
		setLastError(fmt.Sprintf("Invalid photo payload: %v", err))
		return nil
	}

	signedURL, entryID, err := coordinator.QueuePhotoUpload(context.Background(), payload)
	if err != nil {
		setLastError(fmt.Sprintf("Failed to queue photo upload: %v", err))
		return nil
	}

	return jsonResult(map[string]any{
		"queued":     entryID != "",
		"id":         entryID,
		"signed_url": signedURL,
	})
}

//export QueueUserAction
// QueueUserAction applies a named profile or preferences change, queueing it
// when the backend is unreachable. patchJSON is the field patch.
// Returns JSON string that must be freed by the caller.
func QueueUserAction(action, userID, patchJSON *C.char) *C.char {
	if coordinator == nil {
		setLastError("Coordinator not initialized")
		return nil
	}

	var patch map[string]any
	if err := sonic.UnmarshalString(C.GoString(patchJSON), &patch); err != nil {
		setLastError(fmt.Sprintf("Invalid action patch: %v", err))
		return nil
	}

	entryID, err := coordinator.QueueUserAction(context.Background(), C.GoString(action), patch, C.GoString(userID))
	if err != nil {
		setLastError(fmt.Sprintf("Failed to queue user action: %v", err))
		return nil
	}

	return jsonResult(map[string]any{
		"queued": entryID != "",
		"id":     entryID,
	})
}

// =====================================================
// Sync Control
// =====================================================

//export SyncNow
// SyncNow drains the queue once and reports the outcome.
// Returns JSON string that must be freed by the caller.
func SyncNow() *C.char {
	if coordinator == nil {
		setLastError("Coordinator not initialized")
		return nil
	}

	result, err := coordinator.SyncNow(context.Background())
	if err != nil {
		setLastError(fmt.Sprintf("Sync failed: %v", err))
		return nil
	}

	return jsonResult(map[string]any{
		"success_count": result.SuccessCount,
		"failed_count":  result.FailedCount,
		"errors":        result.Errors,
	})
}

//export SetOnline
// SetOnline feeds the host platform's connectivity signal to the
// coordinator. Pass 1 for online, 0 for offline.
func SetOnline(online int32) {
	if coordinator == nil {
		return
	}
	coordinator.SetOnline(online != 0)
}

//export GetSyncStatus
// GetSyncStatus reports coordinator state and queue counts.
// Returns JSON string that must be freed by the caller.
func GetSyncStatus() *C.char {
	if coordinator == nil || repo == nil {
		setLastError("Coordinator not initialized")
		return nil
	}

	status := coordinator.GetStatus()
	stats, err := repo.Stats(context.Background())
	if err != nil {
		setLastError(fmt.Sprintf("Failed to read queue stats: %v", err))
		return nil
	}

	return jsonResult(map[string]any{
		"online":           status.Online,
		"auto_sync_armed":  status.AutoSyncArmed,
		"sync_in_progress": status.SyncInProgress,
		"last_sync_time":   status.LastSyncTime,
		"last_result":      status.LastResult,
		"queue":            stats,
	})
}

// =====================================================
// Read Operations
// =====================================================

//export GetCachedMeals
// GetCachedMeals lists locally cached meals, optionally filtered to one
// YYYY-MM-DD date. Pass an empty string for all meals.
// Returns JSON string that must be freed by the caller.
func GetCachedMeals(date *C.char) *C.char {
	if repo == nil {
		setLastError("Repository not initialized")
		return nil
	}

	meals, err := repo.CachedMeals(context.Background(), C.GoString(date))
	if err != nil {
		setLastError(fmt.Sprintf("Failed to list cached meals: %v", err))
		return nil
	}

	return jsonResult(map[string]any{
		"meals": meals,
		"total": len(meals),
	})
}

//export GetFavoriteFoods
// GetFavoriteFoods lists favorite foods ordered by use.
// Returns JSON string that must be freed by the caller.
func GetFavoriteFoods() *C.char {
	if repo == nil {
		setLastError("Repository not initialized")
		return nil
	}

	foods, err := repo.FavoriteFoods(context.Background())
	if err != nil {
		setLastError(fmt.Sprintf("Failed to list favorite foods: %v", err))
		return nil
	}

	return jsonResult(map[string]any{
		"favorites": foods,
		"total":     len(foods),
	})
}

//export ClearStorage
// ClearStorage empties the queue and local caches, for logout.
// Returns 0 on success, non-zero on error.
func ClearStorage() int32 {
	if repo == nil {
		setLastError("Repository not initialized")
		return 1
	}

	if err := repo.Clear(context.Background()); err != nil {
		setLastError(fmt.Sprintf("Failed to clear storage: %v", err))
		return 1
	}

	return 0
}

// =====================================================
// Memory Management Helpers
// =====================================================

//export FreeString
// FreeString frees a string allocated by Go.
func FreeString(ptr *C.char) {
	if ptr != nil {
		C.free(unsafe.Pointer(ptr))
	}
}

func jsonResult(v any) *C.char {
	data, err := sonic.MarshalString(v)
	if err != nil {
		setLastError(fmt.Sprintf("Failed to serialize: %v", err))
		return nil
	}
	return C.CString(data)
}

func main() {
	// Main entry point for shared library
	// Not used when loaded as library
}

package rest_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platesync/core/internal/platerr"
	platesync "github.com/platesync/core/internal/sync"
	"github.com/platesync/core/internal/sync/rest"
)

func newTestClient(t *testing.T, handler http.Handler) *rest.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return rest.NewClient(&rest.Config{
		BaseURL:    server.URL,
		APIKey:     "test-key",
		Timeout:    5 * time.Second,
		MaxRetries: 3,
	}, nil)
}

func TestInsertRecord(t *testing.T) {
	t.Parallel()

	var gotRow map[string]any
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/rest/v1/meal_logs", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "return=minimal", r.Header.Get("Prefer"))

		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotRow))
		w.WriteHeader(http.StatusCreated)
	}))

	err := client.InsertRecord(t.Context(), "meal_logs", map[string]any{
		"user_id":  "user-1",
		"name":     "Chicken salad",
		"calories": 420.0,
	})
	require.NoError(t, err)
	assert.Equal(t, "user-1", gotRow["user_id"])
	assert.Equal(t, 420.0, gotRow["calories"])
}

func TestInsertRecordRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 2 {
			http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))

	err := client.InsertRecord(t.Context(), "meal_logs", map[string]any{"user_id": "user-1"})
	require.NoError(t, err)
	assert.Equal(t, int32(3), attempts.Load(), "two transient failures then success")
}

func TestInsertRecordClientErrorIsPermanent(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, `{"message":"violates check constraint"}`, http.StatusUnprocessableEntity)
	}))

	err := client.InsertRecord(t.Context(), "meal_logs", map[string]any{"calories": -1})
	require.Error(t, err)
	assert.True(t, platerr.Is(err, platerr.CodeRemoteError))
	assert.Equal(t, int32(1), attempts.Load(), "client errors must not be retried")
}

func TestUpdateRecord(t *testing.T) {
	t.Parallel()

	var gotPatch map[string]any
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/rest/v1/user_preferences", r.URL.Path)
		assert.Equal(t, "eq.user-1", r.URL.Query().Get("user_id"))

		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPatch))
		w.WriteHeader(http.StatusNoContent)
	}))

	err := client.UpdateRecord(t.Context(), "user_preferences",
		map[string]string{"user_id": "user-1"},
		map[string]any{"daily_calorie_goal": 2200})
	require.NoError(t, err)
	assert.Equal(t, 2200.0, gotPatch["daily_calorie_goal"])
}

func TestUploadBlobAndCreateSignedURL(t *testing.T) {
	t.Parallel()

	var uploaded []byte
	var signBody map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("POST /storage/v1/object/meal-photos/user-1/1700000000000_lunch.jpg",
		func(w http.ResponseWriter, r *http.Request) {
			var err error
			uploaded, err = io.ReadAll(r.Body)
			require.NoError(t, err)
			assert.Equal(t, "image/jpeg", r.Header.Get("Content-Type"))
			assert.Equal(t, "true", r.Header.Get("x-upsert"))
			w.WriteHeader(http.StatusOK)
		})
	mux.HandleFunc("POST /storage/v1/object/sign/meal-photos/user-1/1700000000000_lunch.jpg",
		func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&signBody))
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, `{"signedURL":"/object/sign/meal-photos/user-1/1700000000000_lunch.jpg?token=abc"}`)
		})

	client := newTestClient(t, mux)

	handle, err := client.UploadBlob(t.Context(), "meal-photos",
		"user-1/1700000000000_lunch.jpg", []byte("jpeg-bytes"), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, platesync.BlobHandle{Bucket: "meal-photos", Path: "user-1/1700000000000_lunch.jpg"}, handle)
	assert.Equal(t, "jpeg-bytes", string(uploaded))

	url, err := client.CreateSignedURL(t.Context(), handle, platesync.SignedURLTTL)
	require.NoError(t, err)
	assert.Contains(t, url, "/storage/v1/object/sign/meal-photos/user-1/1700000000000_lunch.jpg?token=abc")
	assert.Equal(t, 86400.0, signBody["expiresIn"], "24h ttl in seconds")
}

func TestTestConnection(t *testing.T) {
	t.Parallel()

	var status atomic.Int32
	status.Store(http.StatusOK)
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))

	require.NoError(t, client.TestConnection(t.Context()))

	// An auth error still proves the service answered
	status.Store(http.StatusUnauthorized)
	require.NoError(t, client.TestConnection(t.Context()))

	status.Store(http.StatusBadGateway)
	require.Error(t, client.TestConnection(t.Context()))
}

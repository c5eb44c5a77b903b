// Package sync provides the background coordinator that drains the offline
// queue to the remote backend.
package sync

import (
	"context"
	"time"
)

// SignedURLTTL is how long minted photo links stay valid.
const SignedURLTTL = 24 * time.Hour

// Remote table and action names the dispatcher writes to.
const (
	TableMealLogs    = "meal_logs"
	TableProfiles    = "profiles"
	TablePreferences = "user_preferences"

	ActionUpdateProfile     = "update_profile"
	ActionUpdatePreferences = "update_preferences"
)

// BlobHandle identifies an uploaded object so a signed URL can be minted
// for it later.
type BlobHandle struct {
	Bucket string `json:"bucket"`
	Path   string `json:"path"`
}

// RemoteClient is the backend write surface the coordinator replays queue
// entries through. Implementations wrap whatever hosted service the app
// runs against; the coordinator only sees these four operations.
type RemoteClient interface {
	// InsertRecord writes one row into a remote table.
	InsertRecord(ctx context.Context, table string, row map[string]any) error

	// UploadBlob stores binary data under bucket/path and returns a handle.
	UploadBlob(ctx context.Context, bucket, path string, data []byte, contentType string) (BlobHandle, error)

	// CreateSignedURL mints a time-limited download link for an uploaded blob.
	CreateSignedURL(ctx context.Context, handle BlobHandle, ttl time.Duration) (string, error)

	// UpdateRecord patches rows matching the filter columns.
	UpdateRecord(ctx context.Context, table string, filter map[string]string, patch map[string]any) error
}

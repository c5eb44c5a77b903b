// Package models provides data model definitions for PlateSync Core.
package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
)

// MaxRetryAttempts is the hard ceiling on delivery attempts per queue entry.
// An entry that fails this many times is evicted, never retried forever.
const MaxRetryAttempts = 5

// EntryType identifies the remote-write strategy for a queue entry.
type EntryType string

const (
	EntryMealLog     EntryType = "meal_log"
	EntryPhotoUpload EntryType = "photo_upload"
	EntryUserAction  EntryType = "user_action"
)

// ValidEntryType reports whether t is a member of the closed entry-type set.
func ValidEntryType(t EntryType) bool {
	switch t {
	case EntryMealLog, EntryPhotoUpload, EntryUserAction:
		return true
	}
	return false
}

// QueueEntry represents a pending local mutation awaiting remote delivery.
// Synced is set true exactly once, after a confirmed remote write. RetryCount
// only grows while the entry is unsynced and never exceeds MaxRetryAttempts.
type QueueEntry struct {
	ID         string          `db:"id" json:"id"`
	Type       EntryType       `db:"type" json:"type"`
	Payload    json.RawMessage `db:"data" json:"data"`
	CreatedAt  int64           `db:"timestamp" json:"timestamp"` // milliseconds since epoch
	Synced     bool            `db:"synced" json:"synced"`
	RetryCount int             `db:"retry_count" json:"retry_count"`
}

// TableName returns the table name for QueueEntry.
func (QueueEntry) TableName() string {
	return "offline_entries"
}

// CreatedAtTime returns CreatedAt as time.Time.
func (e *QueueEntry) CreatedAtTime() time.Time {
	return time.UnixMilli(e.CreatedAt)
}

// NewQueueEntry builds an entry for the given payload with a fresh id,
// synced=false and retryCount=0. The payload must be one of the three
// payload structs; anything JSON-encodable is accepted so callers can
// replay raw payloads captured elsewhere.
func NewQueueEntry(t EntryType, payload any, now time.Time) (*QueueEntry, error) {
	if !ValidEntryType(t) {
		return nil, fmt.Errorf("unknown entry type %q", t)
	}
	data, err := sonic.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return &QueueEntry{
		ID:        NewEntryID(t, now),
		Type:      t,
		Payload:   json.RawMessage(data),
		CreatedAt: now.UnixMilli(),
	}, nil
}

// DecodePayload unmarshals the entry payload into dst.
func (e *QueueEntry) DecodePayload(dst any) error {
	if err := sonic.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.Type, err)
	}
	return nil
}

// MealLogPayload is a structured nutrition record pending insertion.
type MealLogPayload struct {
	UserID   string  `json:"user_id"`
	Date     string  `json:"date"` // YYYY-MM-DD, the day the meal belongs to
	MealSlot string  `json:"meal_slot"`
	Name     string  `json:"name"`
	Quantity float64 `json:"quantity"`
	Unit     string  `json:"unit"`
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein"`
	Carbs    float64 `json:"carbs"`
	Fat      float64 `json:"fat"`
}

// PhotoUploadPayload is a binary attachment pending upload. Data carries the
// image bytes base64-encoded so the payload survives JSON storage.
type PhotoUploadPayload struct {
	UserID      string `json:"user_id"`
	FileName    string `json:"file_name"`
	Data        string `json:"data"`
	ContentType string `json:"content_type"`
}

// UserActionPayload is a generic action replay: a named action plus a
// free-form patch applied to the owning user's remote record.
type UserActionPayload struct {
	UserID string         `json:"user_id"`
	Action string         `json:"action"`
	Patch  map[string]any `json:"patch"`
}

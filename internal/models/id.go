package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewEntryID generates a queue entry id of the form
// {type}_{creationTimestampMillis}_{randomSuffix}. Uniqueness holds by
// construction, no coordination across concurrent enqueue calls is needed.
func NewEntryID(t EntryType, now time.Time) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return fmt.Sprintf("%s_%d_%s", t, now.UnixMilli(), suffix)
}

// ParseEntryID splits an entry id into its type and creation timestamp.
func ParseEntryID(id string) (EntryType, time.Time, error) {
	idx := strings.LastIndex(id, "_")
	if idx < 0 {
		return "", time.Time{}, fmt.Errorf("malformed entry id %q", id)
	}
	rest := id[:idx]

	tsIdx := strings.LastIndex(rest, "_")
	if tsIdx < 0 {
		return "", time.Time{}, fmt.Errorf("malformed entry id %q", id)
	}

	millis, err := strconv.ParseInt(rest[tsIdx+1:], 10, 64)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("malformed entry id %q: %w", id, err)
	}

	t := EntryType(rest[:tsIdx])
	if !ValidEntryType(t) {
		return "", time.Time{}, fmt.Errorf("entry id %q has unknown type %q", id, t)
	}
	return t, time.UnixMilli(millis), nil
}

// ValidEntryID reports whether id parses as a well-formed entry id.
func ValidEntryID(id string) bool {
	_, _, err := ParseEntryID(id)
	return err == nil
}

package models

import "time"

// LeaseKey is the primary key of the single sync-lease row. The lease
// serializes sync passes across processes sharing one store file; the table
// never holds more than this one row.
const LeaseKey = "sync"

// SyncLease records which process currently holds the right to run a sync
// pass. A lease whose expiry has passed is stale and may be reclaimed.
type SyncLease struct {
	ID        string `db:"id" json:"id"`
	Holder    string `db:"holder" json:"holder"`
	ExpiresAt int64  `db:"expires_at" json:"expires_at"` // milliseconds since epoch
}

// TableName returns the table name for SyncLease.
func (SyncLease) TableName() string {
	return "sync_lease"
}

// Expired reports whether the lease is stale relative to now.
func (l *SyncLease) Expired(now time.Time) bool {
	return l.ExpiresAt <= now.UnixMilli()
}

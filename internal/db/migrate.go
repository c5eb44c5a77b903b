// Package db provides database schema migration management.
package db

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"
)

// Migration represents one schema version. SQL runs inside a transaction;
// a checksum of the statement text is recorded so drift is detectable.
type Migration struct {
	Version     int
	Description string
	SQL         string
	DownSQL     string
}

// migrations is the embedded, ordered schema history. The store is
// client-embedded, so migrations ship in the binary rather than as files.
var migrations = []Migration{
	{
		Version:     1,
		Description: "offline queue, read caches and sync lease",
		SQL: `
CREATE TABLE IF NOT EXISTS offline_entries (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL CHECK(type IN ('meal_log', 'photo_upload', 'user_action')),
	data TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	synced INTEGER NOT NULL DEFAULT 0,
	retry_count INTEGER NOT NULL DEFAULT 0 CHECK(retry_count >= 0)
);
CREATE INDEX IF NOT EXISTS idx_offline_entries_type ON offline_entries(type);
CREATE INDEX IF NOT EXISTS idx_offline_entries_timestamp ON offline_entries(timestamp);
CREATE INDEX IF NOT EXISTS idx_offline_entries_synced ON offline_entries(synced);

CREATE TABLE IF NOT EXISTS cached_meals (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	date TEXT NOT NULL,
	meal_slot TEXT NOT NULL DEFAULT '',
	name TEXT NOT NULL DEFAULT '',
	quantity REAL NOT NULL DEFAULT 0,
	unit TEXT NOT NULL DEFAULT '',
	calories REAL NOT NULL DEFAULT 0,
	protein REAL NOT NULL DEFAULT 0,
	carbs REAL NOT NULL DEFAULT 0,
	fat REAL NOT NULL DEFAULT 0,
	logged_at INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_cached_meals_date ON cached_meals(date);

CREATE TABLE IF NOT EXISTS favorite_foods (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	name TEXT NOT NULL,
	calories REAL NOT NULL DEFAULT 0,
	protein REAL NOT NULL DEFAULT 0,
	carbs REAL NOT NULL DEFAULT 0,
	fat REAL NOT NULL DEFAULT 0,
	frequency INTEGER NOT NULL DEFAULT 0,
	last_used_at INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_favorite_foods_frequency ON favorite_foods(frequency);

CREATE TABLE IF NOT EXISTS sync_lease (
	id TEXT PRIMARY KEY CHECK(id = 'sync'),
	holder TEXT NOT NULL,
	expires_at INTEGER NOT NULL
);
`,
		DownSQL: `
DROP TABLE IF EXISTS sync_lease;
DROP TABLE IF EXISTS favorite_foods;
DROP TABLE IF EXISTS cached_meals;
DROP TABLE IF EXISTS offline_entries;
`,
	},
}

// AppliedMigration is a row of the schema_migrations bookkeeping table.
type AppliedMigration struct {
	Version     int
	AppliedAt   time.Time
	Description string
	Checksum    string
}

// Migrator applies the embedded schema history to a store.
type Migrator struct {
	db *sql.DB
}

// NewMigrator creates a new Migrator instance.
func NewMigrator(db *sql.DB) *Migrator {
	return &Migrator{db: db}
}

// Initialize creates the schema_migrations table if it doesn't exist.
func (m *Migrator) Initialize() error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY CHECK(version > 0),
		applied_at INTEGER NOT NULL CHECK(applied_at > 0),
		description TEXT NOT NULL CHECK(length(description) > 0),
		checksum TEXT NOT NULL CHECK(length(checksum) = 64)
	);`
	_, err := m.db.Exec(query)
	return err
}

// CurrentVersion returns the highest applied schema version, 0 when fresh.
func (m *Migrator) CurrentVersion() (int, error) {
	var version int
	err := m.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	return version, err
}

// Applied returns all applied migrations in version order.
func (m *Migrator) Applied() ([]AppliedMigration, error) {
	rows, err := m.db.Query("SELECT version, applied_at, description, checksum FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var applied []AppliedMigration
	for rows.Next() {
		var a AppliedMigration
		var appliedAt int64
		if err := rows.Scan(&a.Version, &appliedAt, &a.Description, &a.Checksum); err != nil {
			return nil, err
		}
		a.AppliedAt = time.Unix(appliedAt, 0)
		applied = append(applied, a)
	}
	return applied, rows.Err()
}

// Up applies all pending migrations. Re-running against an up-to-date store
// is a no-op, so every open can call it unconditionally.
func (m *Migrator) Up() error {
	applied, err := m.Applied()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}
	appliedVersions := make(map[int]bool, len(applied))
	for _, a := range applied {
		appliedVersions[a.Version] = true
	}

	for _, mig := range migrations {
		if appliedVersions[mig.Version] {
			continue
		}
		if err := m.apply(mig); err != nil {
			return fmt.Errorf("failed to apply migration V%d: %w", mig.Version, err)
		}
	}
	return nil
}

// apply runs a single migration transactionally and records it.
func (m *Migrator) apply(mig Migration) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(mig.SQL); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	hash := sha256.Sum256([]byte(mig.SQL))
	query := `INSERT INTO schema_migrations (version, applied_at, description, checksum)
			  VALUES (?, ?, ?, ?)`
	if _, err := tx.Exec(query, mig.Version, time.Now().Unix(), mig.Description, hex.EncodeToString(hash[:])); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	return tx.Commit()
}

// Down rolls back the most recent migration.
func (m *Migrator) Down() error {
	current, err := m.CurrentVersion()
	if err != nil {
		return err
	}
	if current == 0 {
		return fmt.Errorf("no migrations to rollback")
	}

	var mig *Migration
	for i := range migrations {
		if migrations[i].Version == current {
			mig = &migrations[i]
			break
		}
	}
	if mig == nil || mig.DownSQL == "" {
		return fmt.Errorf("no rollback defined for version %d", current)
	}

	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(mig.DownSQL); err != nil {
		return fmt.Errorf("failed to execute rollback SQL: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM schema_migrations WHERE version = ?", current); err != nil {
		return fmt.Errorf("failed to remove migration record: %w", err)
	}

	return tx.Commit()
}

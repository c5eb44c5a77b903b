// Package db tests for schema migration management.
package db

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"strings"
	"testing"

	_ "modernc.org/sqlite"
)

// openTestDB creates an in-memory SQLite database for testing.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	// One connection, or each pooled conn would see its own :memory: store.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

// TestNewMigrator verifies Migrator initialization.
func TestNewMigrator(t *testing.T) {
	db := openTestDB(t)

	m := NewMigrator(db)
	if m == nil {
		t.Fatal("NewMigrator() returned nil")
	}
	if m.db != db {
		t.Error("Migrator.db not set correctly")
	}
}

// TestInitialize verifies schema_migrations table creation.
func TestInitialize(t *testing.T) {
	db := openTestDB(t)
	m := NewMigrator(db)

	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}

	// Verify table exists
	var tableName string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='schema_migrations'").Scan(&tableName)
	if err != nil {
		t.Errorf("schema_migrations table not found: %v", err)
	}

	// Verify table structure by inserting a test row
	_, err = db.Exec("INSERT INTO schema_migrations (version, applied_at, description, checksum) VALUES (?, ?, ?, ?)",
		1, 123456, "test_migration", strings.Repeat("a", 64))
	if err != nil {
		t.Errorf("Failed to insert test row: %v", err)
	}

	// Initialize again should be a no-op
	if err := m.Initialize(); err != nil {
		t.Errorf("Second Initialize() failed: %v", err)
	}
}

// TestCurrentVersion verifies version tracking.
func TestCurrentVersion(t *testing.T) {
	db := openTestDB(t)
	m := NewMigrator(db)

	// Before initialization
	if _, err := m.CurrentVersion(); err == nil {
		t.Error("CurrentVersion() should fail before Initialize()")
	}

	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}

	version, err := m.CurrentVersion()
	if err != nil {
		t.Fatalf("CurrentVersion() failed: %v", err)
	}
	if version != 0 {
		t.Errorf("Fresh store version = %d, want 0", version)
	}
}

// TestUp verifies the full schema is applied and re-running is a no-op.
func TestUp(t *testing.T) {
	db := openTestDB(t)
	m := NewMigrator(db)

	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	if err := m.Up(); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}

	// All offline-storage tables must exist
	for _, table := range []string{"offline_entries", "cached_meals", "favorite_foods", "sync_lease"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("Table %s not created: %v", table, err)
		}
	}

	version, err := m.CurrentVersion()
	if err != nil {
		t.Fatalf("CurrentVersion() failed: %v", err)
	}
	if version != len(migrations) {
		t.Errorf("Version after Up() = %d, want %d", version, len(migrations))
	}

	// Second run must not re-apply anything
	if err := m.Up(); err != nil {
		t.Errorf("Re-running Up() failed: %v", err)
	}
	applied, err := m.Applied()
	if err != nil {
		t.Fatalf("Applied() failed: %v", err)
	}
	if len(applied) != len(migrations) {
		t.Errorf("Applied count = %d, want %d", len(applied), len(migrations))
	}
}

// TestUpRecordsChecksum verifies each applied migration carries the
// sha256 of its statement text.
func TestUpRecordsChecksum(t *testing.T) {
	db := openTestDB(t)
	m := NewMigrator(db)

	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	if err := m.Up(); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}

	applied, err := m.Applied()
	if err != nil {
		t.Fatalf("Applied() failed: %v", err)
	}
	for i, a := range applied {
		hash := sha256.Sum256([]byte(migrations[i].SQL))
		if a.Checksum != hex.EncodeToString(hash[:]) {
			t.Errorf("V%d checksum mismatch: %s", a.Version, a.Checksum)
		}
	}
}

// TestDown verifies rollback of the latest migration.
func TestDown(t *testing.T) {
	db := openTestDB(t)
	m := NewMigrator(db)

	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}

	// Nothing to roll back on a fresh store
	if err := m.Down(); err == nil {
		t.Error("Down() should fail with no applied migrations")
	}

	if err := m.Up(); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}
	if err := m.Down(); err != nil {
		t.Fatalf("Down() failed: %v", err)
	}

	version, err := m.CurrentVersion()
	if err != nil {
		t.Fatalf("CurrentVersion() failed: %v", err)
	}
	if version != len(migrations)-1 {
		t.Errorf("Version after Down() = %d, want %d", version, len(migrations)-1)
	}

	var name string
	err = db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='offline_entries'").Scan(&name)
	if err == nil && len(migrations) == 1 {
		t.Error("offline_entries should be dropped after rolling back V1")
	}
}

// Package db provides the local persistent store and its typed repository.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/platesync/core/internal/platerr"
)

// FileName is the SQLite database file created inside the data directory.
const FileName = "platesync.db"

// DB wraps the sql.DB with PlateSync-specific configuration.
type DB struct {
	*sql.DB
}

// Open opens the local store with:
// - WAL mode for concurrent reads alongside the single writer
// - foreign key constraints enabled
// - a single-connection pool (SQLite has one writer)
//
// Failure to provision the store at all surfaces as StorageUnavailable so
// callers can tell "this host has no local store" from a transient error.
func Open(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, platerr.Wrap(platerr.CodeStorageUnavailable,
			fmt.Sprintf("failed to create data directory %s", dataDir), err)
	}

	dbPath := filepath.Join(dataDir, FileName)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, platerr.Wrap(platerr.CodeStorageUnavailable, "failed to open database", err)
	}

	// SQLite doesn't support multiple writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, platerr.Wrap(platerr.CodeStorageUnavailable, "failed to enable WAL mode", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return nil, platerr.Wrap(platerr.CodeStorageUnavailable, "failed to enable foreign keys", err)
	}

	// Verify the connection actually reaches a usable store.
	var one int
	if err := db.QueryRow("SELECT 1").Scan(&one); err != nil {
		db.Close()
		return nil, platerr.Wrap(platerr.CodeStorageUnavailable, "store did not answer probe query", err)
	}

	return &DB{db}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.DB.Close()
}

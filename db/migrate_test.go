package db

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func TestMigrateFromScratch(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	if err := Migrate(db, nil); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	// tracked_jobs must exist and be queryable
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM tracked_jobs").Scan(&count); err != nil {
		t.Fatalf("tracked_jobs missing after migration: %v", err)
	}
	if count != 0 {
		t.Errorf("fresh table should be empty, got %d rows", count)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	if err := Migrate(db, nil); err != nil {
		t.Fatalf("first migrate: %v", err)
	}
	if err := Migrate(db, nil); err != nil {
		t.Fatalf("second migrate should be a no-op: %v", err)
	}

	var applied int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&applied); err != nil {
		t.Fatalf("schema_migrations: %v", err)
	}
	if applied < 2 {
		t.Errorf("expected at least 2 recorded migrations, got %d", applied)
	}
}

func TestOpenCreatesFileDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	db, err := Open(path, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("expected WAL journal mode, got %q", mode)
	}
}

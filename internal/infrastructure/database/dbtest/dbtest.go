// Package dbtest opens throwaway SQLite databases with the full schema
// applied, for use in package tests.
package dbtest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nerrad567/devsync-core/internal/infrastructure/database"
	_ "github.com/nerrad567/devsync-core/migrations" // registers the embedded schema
)

// Open creates a migrated database in t.TempDir and closes it on cleanup.
func Open(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		db.Close() //nolint:errcheck // Test cleanup
	})

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

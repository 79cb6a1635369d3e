package testutil

import (
	"testing"

	"torrentsready/internal/database"
)

// NewTestDatabase creates a migrated in-memory SQLite registry.
// The database is closed when the test completes.
func NewTestDatabase(t *testing.T) *database.SQLDatabase {
	t.Helper()

	db, err := database.NewSQLiteDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

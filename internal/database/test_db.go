package database

import (
	"path/filepath"
	"testing"

	"gorm.io/gorm"
)

// NewTestDB opens a migrated sqlite database in a per-test temp dir.
func NewTestDB(t testing.TB) *gorm.DB {
	t.Helper()

	db, err := Open(Config{URL: sqliteScheme + filepath.Join(t.TempDir(), "license.db")})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}
	t.Cleanup(func() {
		_ = Close(db)
	})
	return db
}

package database

import (
	"context"
	"path/filepath"
	"testing"
)

// OpenTest returns a migrated SQLite database in a temp directory that is
// closed when the test ends.
func OpenTest(t testing.TB) *DB {
	t.Helper()
	db, err := Open(DriverSQLite, filepath.Join(t.TempDir(), "botz.db"))
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}
	return db
}

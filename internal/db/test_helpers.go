package db

import (
	"path/filepath"
	"testing"
)

// newTestDB creates a schema-initialized database in a temp directory.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create test DB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// newMigrationTestDB creates a bare database without running schema
// initialization, so migrations own the schema from version zero.
func newMigrationTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test DB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func i64Ptr(v int64) *int64 {
	return &v
}

// createTestSession inserts a session row and returns it. Most sample and
// calibration tests need one to satisfy the foreign key.
func createTestSession(t *testing.T, db *DB, id string) *Session {
	t.Helper()
	sess := &Session{
		ID:        id,
		Strategy:  "sphere",
		Divisions: 10,
		StartedAt: 1700000000,
	}
	if err := db.CreateSession(sess); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	return sess
}

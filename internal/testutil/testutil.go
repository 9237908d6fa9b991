// Package testutil provides database fixtures shared by package tests.
package testutil

import (
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// MemoryDSN is an in-memory SQLite database with foreign keys enforced.
const MemoryDSN = "file::memory:?_pragma=foreign_keys(1)"

// OpenSQLite returns a fresh in-memory database migrated for the given models.
// The pool is pinned to one connection because every new connection to
// ":memory:" would otherwise see an empty database.
func OpenSQLite(t *testing.T, models ...interface{}) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(MemoryDSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
		t.Fatalf("failed to enable foreign keys: %v", err)
	}
	if len(models) > 0 {
		if err := db.AutoMigrate(models...); err != nil {
			t.Fatalf("failed to migrate schema: %v", err)
		}
	}
	return db
}

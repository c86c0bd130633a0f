// Package storetest opens throwaway in-memory databases for tests.
package storetest

import (
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	glog "gorm.io/gorm/logger"

	"call-insights-go/internal/store"
)

// OpenDB creates a migrated in-memory sqlite database with a silent logger.
func OpenDB(t *testing.T, extra ...any) *gorm.DB {
	t.Helper()

	silentLogger := glog.New(
		log.New(io.Discard, "", log.LstdFlags),
		glog.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  glog.Silent,
			IgnoreRecordNotFoundError: true,
		},
	)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: silentLogger, TranslateError: true})
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := store.Migrate(db, extra...); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	return db
}

// New returns a Store over a fresh database.
func New(t *testing.T, extra ...any) *store.Store {
	t.Helper()
	return store.New(OpenDB(t, extra...))
}

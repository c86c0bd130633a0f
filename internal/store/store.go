// Package store persists call sessions, pipeline results, reviews and jobs.
// Every exported read that takes a restaurant id filters on it; state changes
// go through AdvanceState's conditional update.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	glog "gorm.io/gorm/logger"

	"call-insights-go/internal/types"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Open connects to the configured database. SQL logging goes to logWriter at
// warn level; slow queries above 200ms are reported.
func Open(driver, dsn string, logWriter io.Writer) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(driver) {
	case "sqlite", "":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: glog.New(log.New(logWriter, "\r\n", log.LstdFlags), glog.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  glog.Warn,
			IgnoreRecordNotFoundError: true,
		}),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	if db.Dialector.Name() == "sqlite" {
		// single writer; worker goroutines queue on the pool instead of SQLITE_BUSY
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// Models lists the tables owned by this package, in migration order.
func Models() []any {
	return []any{
		&types.CallSession{},
		&types.Transcript{},
		&types.Insights{},
		&types.Review{},
		&types.Job{},
		&types.SessionTransition{},
	}
}

// Migrate creates or updates the pipeline tables plus any extra models.
func Migrate(db *gorm.DB, extra ...any) error {
	if db == nil {
		return errors.New("db is nil")
	}
	return db.AutoMigrate(append(Models(), extra...)...)
}

func (s *Store) DB() *gorm.DB { return s.db }

func (s *Store) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

// Transaction runs fn with a Store bound to a single transaction.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

// snapshot runs fn in a read-only transaction so joined reads observe one
// consistent state. sqlite serializes everything already and rejects
// isolation options, so it gets a plain transaction.
func (s *Store) snapshot(ctx context.Context, fn func(tx *Store) error) error {
	var opts []*sql.TxOptions
	if s.db.Dialector.Name() != "sqlite" {
		opts = append(opts, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	}
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	}, opts...)
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

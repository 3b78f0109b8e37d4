package store

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to the SQL store named by url. Postgres URLs
// (postgres:// or postgresql://) and sqlite URLs (sqlite://path,
// sqlite://:memory:) are supported; both the gateway and the reaper
// point at the same database.
func Open(url string) (*Store, error) {
	var dialector gorm.Dialector
	isPostgres := false

	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		dialector = postgres.Open(url)
		isPostgres = true
	case strings.HasPrefix(url, "sqlite://"):
		path := strings.TrimPrefix(url, "sqlite://")
		if path == "" {
			path = ":memory:"
		}
		dialector = sqlite.Open(path)
	default:
		return nil, fmt.Errorf("unsupported database url %q (expected postgres:// or sqlite://)", url)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get underlying db: %w", err)
	}

	if isPostgres {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(time.Hour)
	} else {
		// An in-memory sqlite database exists per connection, so the
		// pool must be pinned to one.
		sqlDB.SetMaxOpenConns(1)
	}

	return &Store{db: db}, nil
}

// Migrate creates or updates the schema for all models.
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(
		&userModel{},
		&sessionModel{},
		&taskModel{},
		&instanceModel{},
	)
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// NewTestStore opens a migrated in-memory sqlite store for tests.
func NewTestStore() (*Store, error) {
	s, err := Open("sqlite://:memory:")
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(); err != nil {
		return nil, fmt.Errorf("migrate test database: %w", err)
	}
	return s, nil
}

// Package store persists the campaign catalog, selections and form entries
// with gorm on PostgreSQL (or SQLite for development and tests).
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cashback/internal/models"

	"github.com/google/logger"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var (
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a write violates a unique constraint.
	ErrConflict = errors.New("store: unique constraint violated")
	// ErrOutOfStock is returned when an item has no units left to reserve.
	ErrOutOfStock = errors.New("store: item out of stock")
	// ErrInvalidTransition is returned when a row is not in the status an
	// update requires.
	ErrInvalidTransition = errors.New("store: invalid status transition")
	// ErrPendingExists is returned when a phone already holds a pending
	// selection.
	ErrPendingExists = errors.New("store: phone already has a pending selection")
	// ErrAlreadyParticipated is returned when a phone already has a
	// completed, approved or rejected selection.
	ErrAlreadyParticipated = errors.New("store: phone already participated")
)

// maxReserveAttempts bounds the compare-and-swap loop in ReserveItem.
const maxReserveAttempts = 5

// Options selects the database driver and connection string.
type Options struct {
	Driver string // "postgres" or "sqlite"
	DSN    string

	// ConnectAttempts and RetryDelay control the startup retry loop for
	// databases that come up after the server (docker-compose).
	ConnectAttempts int
	RetryDelay      time.Duration

	// LogQueries turns on gorm's SQL logger.
	LogQueries bool
}

// Store handles all database operations for the campaign.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// Open connects to the database, retrying on failure, and runs migrations.
func Open(opts Options) (*Store, error) {
	var dialector gorm.Dialector
	switch opts.Driver {
	case "postgres":
		dialector = postgres.Open(opts.DSN)
	case "sqlite":
		dialector = sqlite.Open(opts.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}
	attempts := opts.ConnectAttempts
	if attempts <= 0 {
		attempts = 1
	}
	gcfg := &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	}
	if opts.LogQueries {
		gcfg.Logger = gormlogger.Default.LogMode(gormlogger.Info)
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			time.Sleep(opts.RetryDelay)
		}
		db, err := gorm.Open(dialector, gcfg)
		if err != nil {
			logger.Warningf("store: connection attempt %d failed: %v", i+1, err)
			lastErr = err
			continue
		}
		if opts.Driver == "sqlite" {
			// One connection serialises writers and keeps ":memory:" databases
			// shared across the pool.
			sqlDB, err := db.DB()
			if err != nil {
				return nil, fmt.Errorf("sqlite handle: %w", err)
			}
			sqlDB.SetMaxOpenConns(1)
		}
		s := &Store{db: db, now: time.Now}
		if err := s.Migrate(); err != nil {
			return nil, fmt.Errorf("migration failed: %w", err)
		}
		logger.Infof("store: connected to %s database", opts.Driver)
		return s, nil
	}
	return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", attempts, lastErr)
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SetClock replaces the time source used for timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Migrate creates missing tables. Order matters due to foreign keys.
func (s *Store) Migrate() error {
	migrator := s.db.Migrator()
	tables := []interface{}{
		&models.Zone{},
		&models.Outlet{},
		&models.Item{},
		&models.Selection{},
		&models.FormEntry{},
	}
	for _, table := range tables {
		if migrator.HasTable(table) {
			continue
		}
		if err := migrator.CreateTable(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// translate maps driver errors onto the package sentinels.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case isUniqueViolation(err):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	default:
		return err
	}
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}

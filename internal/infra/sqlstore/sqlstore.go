// Package sqlstore implements store.Store on gorm, with SQLite for local use
// and PostgreSQL as an alternative.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dvloznov/finance-ingest/internal/logger"
	"github.com/dvloznov/finance-ingest/internal/store"
	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Options configure Open.
type Options struct {
	Driver string
	DSN    string
	Retry  RetryConfig
	// Debug logs every statement at trace level.
	Debug bool
}

// Store is the gorm-backed store.Store.
type Store struct {
	repo
	retry RetryConfig
}

var _ store.Store = (*Store)(nil)

// Open connects to the database and migrates the schema.
func Open(ctx context.Context, opts Options) (*Store, error) {
	var dialector gorm.Dialector
	switch opts.Driver {
	case DriverSQLite, "":
		dialector = sqlite.Open(sqliteDSN(opts.DSN))
	case DriverPostgres:
		dialector = postgres.Open(opts.DSN)
	default:
		return nil, fmt.Errorf("Open: unsupported driver %q", opts.Driver)
	}

	level := gormlogger.Warn
	if opts.Debug {
		level = gormlogger.Info
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         &gormLog{level: level},
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("Open: connecting to %s: %w", opts.Driver, err)
	}

	if opts.Driver != DriverPostgres {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("Open: %w", err)
		}
		// One writer; this also keeps an in-memory database alive across calls.
		sqlDB.SetMaxOpenConns(1)
	}

	retry := opts.Retry
	if retry.MaxAttempts == 0 {
		retry = DefaultRetryConfig
	}
	s := &Store{repo: repo{db: db}, retry: retry}
	if err := s.Migrate(ctx); err != nil {
		return nil, err
	}
	logger.Ctx(ctx).Debug().Str("driver", opts.Driver).Msg("store opened")
	return s, nil
}

// sqliteDSN adds a busy timeout to file databases unless one is set.
func sqliteDSN(dsn string) string {
	if dsn == "" || strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "busy_timeout") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(5000)"
}

// Migrate creates or updates the schema.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(models...); err != nil {
		return fmt.Errorf("Migrate: %w", err)
	}
	return nil
}

// InTx implements store.Store.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, r store.Repository) error) error {
	attempt := 0
	err := withRetry(ctx, s.retry, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			logger.Ctx(ctx).Warn().Int("attempt", attempt).Msg("store busy, retrying transaction")
		}
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return fn(ctx, &repo{db: tx})
		})
	})
	if err != nil && IsBusy(err) {
		return fmt.Errorf("InTx: gave up after %d attempts: %w", attempt, err)
	}
	return err
}

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// repo implements store.Repository over a *gorm.DB, which may be a
// transaction.
type repo struct {
	db *gorm.DB
}

var _ store.Repository = (*repo)(nil)

func translate(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%s: %w", op, store.ErrNotFound)
	case isUniqueViolation(err):
		return fmt.Errorf("%s: %w: %v", op, store.ErrConflict, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

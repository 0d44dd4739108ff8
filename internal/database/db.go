package database

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"license-gate/internal/model"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	// ErrStore marks failures of the backing database: unreachable, timed out or rejected.
	ErrStore = errors.New("license store failure")
	// ErrDuplicateCode is returned when a digest collides with an existing license.
	ErrDuplicateCode = fmt.Errorf("%w: duplicate license code", ErrStore)
)

const sqliteScheme = "sqlite://"

type Config struct {
	URL          string
	MaxOpenConns int
}

// Open connects to Postgres for postgres:// URLs and to SQLite for sqlite:// URLs.
func Open(cfg Config) (*gorm.DB, error) {
	dialector, isSQLite, err := dialectorFor(cfg.URL)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if isSQLite {
		// sqlite has no row locks; one connection serializes writers instead.
		sqlDB.SetMaxOpenConns(1)
	} else {
		maxOpen := cfg.MaxOpenConns
		if maxOpen < 1 {
			maxOpen = 1
		}
		sqlDB.SetMaxOpenConns(maxOpen)
		sqlDB.SetMaxIdleConns(maxOpen)
		sqlDB.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

func dialectorFor(url string) (gorm.Dialector, bool, error) {
	switch {
	case url == "":
		return nil, false, errors.New("empty database url")
	case strings.HasPrefix(url, sqliteScheme):
		path := strings.TrimPrefix(url, sqliteScheme)
		if path == "" {
			return nil, false, errors.New("sqlite url without path")
		}
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, false, fmt.Errorf("create data dir: %w", err)
			}
		}
		return sqlite.Open(path + "?_pragma=busy_timeout(5000)&_txlock=immediate"), true, nil
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return postgres.Open(url), false, nil
	default:
		return nil, false, fmt.Errorf("unsupported database url scheme in %q", redactURL(url))
	}
}

// Migrate creates or updates the license and operation log tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&model.License{}, &model.OperationLog{}); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	return nil
}

func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func redactURL(url string) string {
	if i := strings.Index(url, "://"); i >= 0 {
		return url[:i+3] + "..."
	}
	return "..."
}

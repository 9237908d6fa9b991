// Package database opens the relational store and keeps its schema current.
package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/bookshelf/backend/internal/books"
	"github.com/MarcoPoloResearchLab/bookshelf/backend/internal/config"
	"github.com/MarcoPoloResearchLab/bookshelf/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/bookshelf/backend/internal/users"
	"github.com/MarcoPoloResearchLab/bookshelf/backend/internal/votes"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const sqliteForeignKeysPragma = "_pragma=foreign_keys(1)"

var errUnsupportedDriver = errors.New("unsupported database driver")

// Config selects the dialect and its connection target.
type Config struct {
	Driver string
	Path   string
	DSN    string
}

// Open connects to the configured database and brings the schema up to date.
func Open(cfg Config, logger *zap.Logger) (*gorm.DB, error) {
	db, err := Connect(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db, logger); err != nil {
		closeQuietly(db)
		return nil, err
	}
	if logger != nil {
		logger.Info("database initialized", zap.String("driver", cfg.Driver), zap.String("target", cfg.target()))
	}
	return db, nil
}

// Connect opens a connection pool without touching the schema.
func Connect(cfg Config, logger *zap.Logger) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger:         logging.NewGormLogger(logger),
		TranslateError: true,
	}

	switch cfg.Driver {
	case config.DriverSQLite, "":
		if strings.TrimSpace(cfg.Path) == "" {
			return nil, fmt.Errorf("database path is required")
		}
		db, err := gorm.Open(sqlite.Open(SQLiteDSN(cfg.Path)), gormConfig)
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
		if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
			closeQuietly(db)
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
		return db, nil
	case config.DriverPostgres:
		if strings.TrimSpace(cfg.DSN) == "" {
			return nil, fmt.Errorf("database dsn is required")
		}
		return gorm.Open(postgres.Open(cfg.DSN), gormConfig)
	default:
		return nil, fmt.Errorf("%w: %q", errUnsupportedDriver, cfg.Driver)
	}
}

// SQLiteDSN appends the foreign key pragma to a SQLite path.
func SQLiteDSN(path string) string {
	if strings.Contains(path, sqliteForeignKeysPragma) {
		return path
	}
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return path + separator + sqliteForeignKeysPragma
}

// Migrate creates the tables and applies pending versioned migrations.
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	if err := db.AutoMigrate(&users.User{}, &books.Book{}, &votes.Vote{}, &migrationRecord{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return applyMigrations(db, logger)
}

// Ping checks that the database answers within the context deadline.
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func closeQuietly(db *gorm.DB) {
	_ = Close(db)
}

func (c Config) target() string {
	if c.Driver == config.DriverPostgres {
		return "postgres"
	}
	return c.Path
}

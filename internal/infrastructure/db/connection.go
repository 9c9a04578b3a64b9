package db

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/config"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/infrastructure/logger"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Warn),
		NowFunc: func() time.Time { return time.Now().UTC() },
	}
}

func NewPostgresConnection(cfg config.DatabaseConfig) (*gorm.DB, error) {
	database, err := gorm.Open(postgres.Open(cfg.DSN()), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := configurePool(database, cfg); err != nil {
		return nil, err
	}
	return database, nil
}

// NewSQLiteConnection opens a file database, or an in-memory one when path
// is ":memory:".
func NewSQLiteConnection(cfg config.DatabaseConfig) (*gorm.DB, error) {
	path := cfg.SQLitePath
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	database, err := gorm.Open(sqlite.Open(path), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		return nil, err
	}
	// one writer keeps sqlite from returning SQLITE_BUSY under load
	sqlDB.SetMaxOpenConns(1)
	return database, nil
}

// Open connects using the configured driver.
func Open(cfg config.DatabaseConfig, log *logger.Logger) (*gorm.DB, error) {
	switch cfg.Driver {
	case "postgres", "":
		log.Infow("db_open", "driver", "postgres", "host", cfg.Host, "name", cfg.Name)
		return NewPostgresConnection(cfg)
	case "sqlite":
		log.Infow("db_open", "driver", "sqlite", "path", cfg.SQLitePath)
		return NewSQLiteConnection(cfg)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func configurePool(database *gorm.DB, cfg config.DatabaseConfig) error {
	sqlDB, err := database.DB()
	if err != nil {
		return err
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return nil
}

func Close(database *gorm.DB) error {
	if database == nil {
		return nil
	}
	sqlDB, err := database.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

package database

import (
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/videoseg/masktrace/internal/config"
	"github.com/videoseg/masktrace/internal/logger"
)

var db *gorm.DB

// Initialize sets up the database connection from configuration
func Initialize(cfg *config.DatabaseConfig) error {
	var err error

	switch cfg.Type {
	case "postgres":
		db, err = connectPostgres(cfg)
	case "sqlite":
		db, err = connectSQLite(cfg)
	default:
		return fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	logger.Info("database initialized with %s", cfg.Type)
	return nil
}

// GetDB returns the shared database handle. It is nil until Initialize
// succeeds; callers that can operate without persistence must check.
func GetDB() *gorm.DB {
	return db
}

// SetDB replaces the shared handle (used by tests)
func SetDB(d *gorm.DB) {
	db = d
}

func connectPostgres(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
		cfg.Host, cfg.Username, cfg.Password, cfg.Database, cfg.Port)

	return gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormLogMode(cfg),
	})
}

func connectSQLite(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	dbPath := cfg.DatabasePath
	if dbPath == "" {
		dbPath = "./masktrace-data/masktrace.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}

	return gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: gormLogMode(cfg),
	})
}

func gormLogMode(cfg *config.DatabaseConfig) gormlogger.Interface {
	if cfg.LogQueries {
		return gormlogger.Default.LogMode(gormlogger.Info)
	}
	return gormlogger.Default.LogMode(gormlogger.Warn)
}

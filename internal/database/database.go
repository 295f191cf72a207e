package database

import (
	"errors"
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/neurotune/neurotune-api/internal/logger"
	"github.com/neurotune/neurotune-api/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const sqlitePrefix = "sqlite://"

// Dialector picks the gorm driver for a DATABASE_URL.
// sqlite://path opens a local file, postgres:// and postgresql:// open Postgres.
func Dialector(url string) (gorm.Dialector, error) {
	switch {
	case url == "":
		return nil, errors.New("database URL is empty")
	case strings.HasPrefix(url, sqlitePrefix):
		path := strings.TrimPrefix(url, sqlitePrefix)
		if path == "" {
			return nil, errors.New("sqlite URL has no path")
		}
		return sqlite.Open(path), nil
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return postgres.Open(url), nil
	default:
		return nil, fmt.Errorf("unsupported database URL scheme: %s", redact(url))
	}
}

// Connect opens the database named by url
func Connect(url string) (*gorm.DB, error) {
	dialector, err := Dialector(url)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	logger.Info("✅ Database connected", logger.Fields{"driver": dialector.Name()})
	return db, nil
}

// Migrate creates or updates the schema
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Session{}); err != nil {
		return fmt.Errorf("failed to migrate sessions: %w", err)
	}
	return nil
}

// Ping checks the underlying connection
func Ping(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// redact hides everything before the host so credentials never reach logs
func redact(url string) string {
	if at := strings.LastIndex(url, "@"); at >= 0 {
		if scheme := strings.Index(url, "://"); scheme >= 0 && scheme < at {
			return url[:scheme+3] + "***" + url[at:]
		}
	}
	return url
}

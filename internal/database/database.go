package database

import (
	"fmt"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/umshado/umshado-api/internal/messaging"
	"github.com/umshado/umshado-api/internal/notifications"
	"github.com/umshado/umshado-api/internal/profiles"
	"github.com/umshado/umshado-api/internal/quotes"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	postgresMaxOpenConns    = 10
	postgresMaxIdleConns    = 4
	postgresConnMaxLifetime = 60 * time.Minute
	postgresConnMaxIdleTime = 5 * time.Minute
)

// Open connects to the configured store and brings the schema up to date.
func Open(driver, dsn string, logger *zap.Logger) (*gorm.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("database dsn is required")
	}

	var (
		db  *gorm.DB
		err error
	)
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverSQLite, "":
		db, err = openSQLite(dsn)
	case DriverPostgres:
		db, err = openPostgres(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return nil, err
	}

	if err := Migrate(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("driver", driver))
	}
	return db, nil
}

func openSQLite(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

func openPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.New(postgres.Config{DSN: normalizePostgresDSN(dsn)}), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(postgresMaxOpenConns)
	sqlDB.SetMaxIdleConns(postgresMaxIdleConns)
	sqlDB.SetConnMaxLifetime(postgresConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(postgresConnMaxIdleTime)
	return db, nil
}

// normalizePostgresDSN strips driver suffixes such as "+asyncpg" that hosted
// providers put in connection strings but pgx does not understand.
func normalizePostgresDSN(dsn string) string {
	replacer := strings.NewReplacer(
		"postgresql+asyncpg://", "postgresql://",
		"postgres+asyncpg://", "postgres://",
		"postgresql+pgx://", "postgresql://",
		"postgres+pgx://", "postgres://",
	)
	return replacer.Replace(strings.TrimSpace(dsn))
}

// Migrate creates or updates every table and applies pending named migrations.
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	if err := db.AutoMigrate(
		&profiles.Profile{},
		&profiles.Vendor{},
		&profiles.Couple{},
		&quotes.Quote{},
		&quotes.Conversion{},
		&messaging.Conversation{},
		&messaging.Message{},
		&notifications.Notification{},
		&migrationRecord{},
	); err != nil {
		return err
	}
	return applyMigrations(db, logger)
}

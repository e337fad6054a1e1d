package persistence

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/llm-council/llm-council/gateway/internal/infrastructure/persistence/models"
)

// NewPostgresConnection opens the shared conversation database.
func NewPostgresConnection(dsn string) (*gorm.DB, error) {
	return open(postgres.Open(dsn))
}

// NewSQLiteConnection opens a file-backed database for single-node setups
// and tests.
func NewSQLiteConnection(path string) (*gorm.DB, error) {
	return open(sqlite.Open(path))
}

func open(dialector gorm.Dialector) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access connection pool: %w", err)
	}
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxIdleTime(60 * time.Second)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := autoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

// autoMigrate creates the chat table when it does not exist yet. An existing
// table is left untouched: it may be owned by Open WebUI, whose schema
// versions differ, and AutoMigrate must not fight it over columns.
func autoMigrate(db *gorm.DB) error {
	if db.Migrator().HasTable(&models.ConversationModel{}) {
		return nil
	}
	return db.AutoMigrate(&models.ConversationModel{})
}

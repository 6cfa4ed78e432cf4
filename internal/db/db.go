package db

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"agencycrm/internal/config"
	"agencycrm/internal/models"
	console "agencycrm/internal/utils/logger"
)

var log = console.New("DB")

const maxRetries = 5

// retryDelay is the pause between connection attempts.
var retryDelay = 5 * time.Second

// Connect opens the journal database, retrying while postgres starts up, and
// runs migrations.
func Connect(cfg config.DatabaseConfig) (*gorm.DB, error) {
	return Open(cfg.DSN())
}

// Open connects with a raw DSN.
func Open(dsn string) (*gorm.DB, error) {
	log.Info("Connecting to database...")
	var lastErr error
	for i := 0; i < maxRetries; i++ {
		db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger:                                   logger.Default.LogMode(logger.Warn),
			DisableForeignKeyConstraintWhenMigrating: true,
			PrepareStmt:                              true,
			AllowGlobalUpdate:                        false,
		})
		if err == nil {
			log.Success("Connected to database")

			sqlDB, err := db.DB()
			if err != nil {
				return nil, log.Error("Failed to get underlying *sql.DB instance", err)
			}
			sqlDB.SetMaxOpenConns(20)
			sqlDB.SetMaxIdleConns(5)
			sqlDB.SetConnMaxLifetime(time.Hour)
			sqlDB.SetConnMaxIdleTime(30 * time.Minute)

			if err := Migrate(db); err != nil {
				return nil, log.Error("Failed to run migrations", err)
			}
			log.Success("Migrations completed")
			return db, nil
		}
		lastErr = err
		log.Warn("Failed to connect to database (attempt %d/%d): %v", i+1, maxRetries, err)
		if i < maxRetries-1 {
			time.Sleep(retryDelay)
		}
	}
	return nil, log.Error(fmt.Sprintf("failed to connect to database after %d attempts", maxRetries), lastErr)
}

// Migrate creates or updates the journal tables.
func Migrate(db *gorm.DB) error {
	log.Info("Running migrations...")
	tx := db.Begin()
	if tx.Error != nil {
		return tx.Error
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := tx.AutoMigrate(&models.MutationRecord{}); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit().Error
}

func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

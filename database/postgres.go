package database

import (
	"fmt"

	"realtalk-service/config"
	"realtalk-service/model"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// PostgresConnect opens the primary store and migrates the schema.
func PostgresConnect(settings *config.Settings, logger *zap.Logger) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		settings.PostgresHost,
		settings.PostgresPort,
		settings.PostgresUser,
		settings.PostgresPassword,
		settings.PostgresDB,
	)
	db, err := Open(postgres.Open(dsn))
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connection opened to Postgres")

	if err := Migrate(db); err != nil {
		return nil, err
	}
	logger.Info("Postgres database migrated")
	return db, nil
}

// Open wraps gorm.Open with the settings every store relies on: driver errors
// are translated so unique violations surface as gorm.ErrDuplicatedKey.
func Open(dialector gorm.Dialector) (*gorm.DB, error) {
	return gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(model.Models()...); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

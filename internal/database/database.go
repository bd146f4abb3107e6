package database

import (
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Open-Course-Factory/ocf-coursegen/pkg/models"
)

type DB struct {
	*gorm.DB
	log *zap.Logger
}

// Connect ouvre la base PostgreSQL et vérifie la connexion
func Connect(databaseURL string, logLevel string, log *zap.Logger) (*DB, error) {
	db, err := Open(postgres.Open(databaseURL), logLevel, log)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info("Database connection established")
	return db, nil
}

// Open ouvre une base avec n'importe quel dialecte gorm (sqlite pour les tests)
func Open(dialector gorm.Dialector, logLevel string, log *zap.Logger) (*DB, error) {
	if log == nil {
		log = zap.NewNop()
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(gormLogLevel(logLevel)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &DB{DB: db, log: log}, nil
}

func gormLogLevel(logLevel string) logger.LogLevel {
	switch logLevel {
	case "debug":
		return logger.Info
	case "warn":
		return logger.Warn
	case "error":
		return logger.Error
	default:
		return logger.Silent
	}
}

// Migrate crée ou met à jour les tables du service
func (db *DB) Migrate() error {
	db.log.Info("Running database migrations...")

	for _, model := range []interface{}{
		&models.Course{},
		&models.Slide{},
		&models.UserCourse{},
		&models.Lesson{},
		&models.UserProfile{},
	} {
		if err := db.AutoMigrate(model); err != nil {
			return fmt.Errorf("failed to migrate %T: %w", model, err)
		}
	}

	db.log.Info("Database migrations completed")
	return nil
}

func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

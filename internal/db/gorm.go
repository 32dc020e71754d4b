package db

import (
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Gorm wraps the gorm handle used by the fixture loader. The sync pipelines
// use the pgx Pool directly.
type Gorm struct {
	DB *gorm.DB
}

// OpenGorm connects gorm to the same database as the pool. verbose logs every statement.
func OpenGorm(cfg Config, verbose bool) (*Gorm, error) {
	level := logger.Warn
	if verbose {
		level = logger.Info
	}
	newLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(postgres.Open(cfg.KeywordString()), &gorm.Config{
		Logger: newLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &Gorm{DB: db}, nil
}

func (g *Gorm) Close() error {
	sqlDB, err := g.DB.DB()
	if err != nil {
		return fmt.Errorf("error getting sql.DB: %w", err)
	}
	return sqlDB.Close()
}

package db

import (
	"sync"

	"github.com/opsdesk/opsdesk/internal/models"
	"github.com/opsdesk/opsdesk/pkg/env"
	"github.com/opsdesk/opsdesk/pkg/log"
	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	conn     *gorm.DB
	connOnce sync.Once
)

// Connection returns the process-wide database handle, opening it on first use.
func Connection() *gorm.DB {
	connOnce.Do(func() {
		gdb, err := Open(env.Variables())
		if err != nil {
			log.Fatal("failed to connect to database", "error", err)
		}
		conn = gdb
	})

	return conn
}

// Open connects to the database named by the environment.
func Open(vars env.Environment) (*gorm.DB, error) {
	cfg := &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	}

	var (
		gdb *gorm.DB
		err error
	)

	switch vars.DatabaseType {
	case "postgres":
		gdb, err = gorm.Open(postgres.Open(vars.DatabaseDSN), cfg)
	case "sqlite", "internal":
		gdb, err = gorm.Open(sqlite.Open(vars.DatabasePath+"?_busy_timeout=5000&_journal_mode=WAL"), cfg)
		if err == nil {
			// sqlite allows a single writer; serialize through one connection.
			if sqlDB, dbErr := gdb.DB(); dbErr == nil {
				sqlDB.SetMaxOpenConns(1)
			}
		}
	default:
		return nil, errors.Errorf("unsupported database type: %v", vars.DatabaseType)
	}

	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	return gdb, nil
}

// Migrate applies the schema to the process-wide connection.
func Migrate() error {
	return models.Migrate(Connection())
}

// Ping reports whether the database is reachable.
func Ping() error {
	sqlDB, err := Connection().DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

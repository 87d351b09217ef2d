// Package db opens the record store and applies the schema.
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diewo77/go-esign/internal/config"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var ErrUnknownDriver = errors.New("unknown_db_driver")

const (
	connectAttempts = 10
	connectBackoff  = 2 * time.Second
)

// SQLiteDSN returns a DSN for a file database where concurrent writers
// queue on the busy timeout instead of failing.
func SQLiteDSN(path string) string {
	return fmt.Sprintf("file:%s?_busy_timeout=5000&_txlock=immediate&_foreign_keys=on", path)
}

func gormConfig(debug bool) *gorm.Config {
	level := logger.Silent
	if debug {
		level = logger.Info
	}
	return &gorm.Config{Logger: logger.Default.LogMode(level)}
}

// Open connects using the configured driver. PostgreSQL connections are
// retried to give the server time to start.
func Open(ctx context.Context, cfg config.DatabaseConfig, log *zap.Logger) (*gorm.DB, error) {
	switch cfg.Driver {
	case "sqlite":
		log.Info("opening sqlite database", zap.String("path", cfg.SQLitePath))
		return OpenSQLite(cfg.SQLitePath, cfg.Debug)
	case "postgres", "":
		return openPostgres(ctx, cfg, log)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}

// OpenSQLite opens (creating if needed) a SQLite file database.
func OpenSQLite(path string, debug bool) (*gorm.DB, error) {
	return gorm.Open(sqlite.Open(SQLiteDSN(path)), gormConfig(debug))
}

func openPostgres(ctx context.Context, cfg config.DatabaseConfig, log *zap.Logger) (*gorm.DB, error) {
	dsn := cfg.DSN()
	log.Info("connecting to database", zap.String("dsn", config.MaskDSN(dsn)))

	var conn *gorm.DB
	var err error
	for i := 1; i <= connectAttempts; i++ {
		conn, err = gorm.Open(postgres.Open(dsn), gormConfig(cfg.Debug))
		if err == nil {
			err = conn.WithContext(ctx).Exec("SELECT 1").Error
		}
		if err == nil {
			return conn, nil
		}
		log.Warn("database not ready, retrying", zap.Int("attempt", i), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(connectBackoff):
		}
	}
	return nil, fmt.Errorf("failed to connect database after retries: %w", err)
}

package db

import (
	"errors"
	"fmt"

	"github.com/diewo77/go-esign/internal/models"
	migrate "github.com/golang-migrate/migrate/v4"
	// The following blank imports register the postgres driver and file source for golang-migrate.
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"gorm.io/gorm"
)

// DefaultMigrationsDir is where the SQL migrations live, relative to the working directory.
const DefaultMigrationsDir = "migrations"

var requiredTables = []string{"documents", "signature_fields", "signature_requests", "signers", "access_tokens", "document_events"}

// AutoMigrate creates or updates the schema from the models.
func AutoMigrate(conn *gorm.DB) error {
	for _, m := range models.All() {
		if err := conn.AutoMigrate(m); err != nil {
			return fmt.Errorf("automigrate %T: %w", m, err)
		}
	}
	return CheckSchema(conn)
}

// RunSQLMigrations applies the versioned PostgreSQL migrations in dir.
// databaseURL must be in URL form (postgres://...).
func RunSQLMigrations(databaseURL, dir string) error {
	m, err := migrate.New("file://"+dir, databaseURL)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// CheckSchema fails if a core table is missing after migration.
func CheckSchema(conn *gorm.DB) error {
	for _, table := range requiredTables {
		if !conn.Migrator().HasTable(table) {
			return errors.New("missing table after migration: " + table)
		}
	}
	return nil
}

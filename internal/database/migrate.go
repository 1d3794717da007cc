package database

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/campusloop/campusloop/internal/logging"
)

type Migrator struct {
	m *migrate.Migrate
}

func NewMigrator(dsn, migrationsPath string) (*Migrator, error) {
	m, err := migrate.New(
		fmt.Sprintf("file://%s", migrationsPath),
		dsn,
	)
	if err != nil {
		return nil, fmt.Errorf("creating migrator: %w", err)
	}

	return &Migrator{m: m}, nil
}

func (m *Migrator) Up() error {
	err := m.m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		logging.Info("Database schema already up to date")
		return nil
	}
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	if version, _, verr := m.m.Version(); verr == nil {
		logging.Info("Database schema migrated", map[string]interface{}{
			"version": version,
		})
	}
	return nil
}

func (m *Migrator) Down() error {
	err := m.m.Down()
	if errors.Is(err, migrate.ErrNoChange) {
		logging.Info("No migrations to roll back")
		return nil
	}
	if err != nil {
		return fmt.Errorf("rolling back migrations: %w", err)
	}
	logging.Info("Database schema rolled back")
	return nil
}

func (m *Migrator) Version() (uint, bool, error) {
	return m.m.Version()
}

func (m *Migrator) Close() error {
	srcErr, dbErr := m.m.Close()
	if srcErr != nil {
		return srcErr
	}
	return dbErr
}

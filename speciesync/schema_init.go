// Copyright 2025 The Species Database App Authors
// SPDX-License-Identifier: Apache-2.0

package speciesync

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/ZB1234D/Species-Database-App-123/db/migrations"
)

// MigrateUp applies every pending embedded migration to the database behind pool.
// An already up-to-date schema is not an error.
func MigrateUp(pool *pgxpool.Pool, logger *slog.Logger) error {
	m, closeFn, err := newMigrator(pool)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	if logger != nil {
		if v, dirty, verr := m.Version(); verr == nil {
			logger.Debug("Database schema migrated", "version", v, "dirty", dirty)
		}
	}
	return nil
}

// MigrateDown reverts every applied migration. Used by the CLI and tests.
func MigrateDown(pool *pgxpool.Pool) error {
	m, closeFn, err := newMigrator(pool)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to revert migrations: %w", err)
	}
	return nil
}

// SchemaVersion returns the applied migration version and dirty flag.
// A database with no migrations applied reports version 0.
func SchemaVersion(pool *pgxpool.Pool) (uint, bool, error) {
	m, closeFn, err := newMigrator(pool)
	if err != nil {
		return 0, false, err
	}
	defer closeFn()

	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read schema version: %w", err)
	}
	return v, dirty, nil
}

func newMigrator(pool *pgxpool.Pool) (*migrate.Migrate, func(), error) {
	db := stdlib.OpenDBFromPool(pool)

	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to initialise migrate driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrations.Files, ".")
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to load embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "pgx5", driver)
	if err != nil {
		_ = sourceDriver.Close()
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	closeFn := func() {
		// Closing the migrator closes the driver, which closes db.
		_, _ = m.Close()
	}
	return m, closeFn, nil
}

package database

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// RunMigrations applies pending up-migrations at startup. Safe to call on
// every boot; an up-to-date schema is not an error.
func RunMigrations(dsn, migrationsPath string) error {
	m, err := migrate.New("file://"+migrationsPath, dsn)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}
	defer m.Close()

	err = m.Up()
	switch {
	case err == nil:
		ver, _, _ := m.Version()
		slog.Info("schema migrated", "version", ver)
	case errors.Is(err, migrate.ErrNoChange):
		slog.Debug("schema already up to date")
	default:
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

package sqlite

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrDirtySchema means a previous migration stopped halfway and the accounts
// table must be repaired by hand before the vault can be trusted again.
var ErrDirtySchema = errors.New("account schema is dirty")

// RunMigrations brings the account schema up to date and returns the version
// it ends on. It is safe to call on every start.
func RunMigrations(db *sql.DB) (uint, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return 0, fmt.Errorf("open embedded migrations: %w", err)
	}

	target, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return 0, fmt.Errorf("prepare account schema driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", target)
	if err != nil {
		return 0, fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("migrate account schema: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("%w at version %d", ErrDirtySchema, version)
	}
	return version, nil
}

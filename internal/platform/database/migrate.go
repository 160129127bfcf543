package database

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"credanchor/migrations"
)

// Migrate applies all pending embedded migrations for the given driver
// ("pgx" or "sqlite"). Already-applied migrations are skipped.
func Migrate(db *sql.DB, driver string) error {
	var (
		source   fs.FS
		dir      string
		dbDriver migratedb.Driver
		err      error
	)
	switch driver {
	case DriverPostgres:
		source, dir = migrations.Postgres, "postgres"
		dbDriver, err = migratepgx.WithInstance(db, &migratepgx.Config{})
	case DriverSQLite:
		source, dir = migrations.SQLite, "sqlite"
		dbDriver, err = migratesqlite.WithInstance(db, &migratesqlite.Config{})
	default:
		return fmt.Errorf("unsupported migration driver %q", driver)
	}
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	sourceDriver, err := iofs.New(source, dir)
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, driver, dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

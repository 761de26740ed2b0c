// Package db manages the account store connection and its schema migrations.
// It wraps sqlx for connection pooling and golang-migrate for schema versioning.
// Two engines are supported: an embedded SQLite file (modernc.org/sqlite, no cgo)
// for single-node installs and PostgreSQL (lib/pq) for shared deployments.
// Migrations for both dialects are embedded in the binary, so the directory can
// bring its own schema up on every process start.
package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Supported driver names, as registered with database/sql.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

// Connect opens and pings the account store.
func Connect(driver, dsn string, maxConnections, minIdleConnections int) (*sqlx.DB, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == DriverSQLite {
		// SQLite has a single writer; one pooled connection also keeps
		// in-memory databases alive for the lifetime of the pool.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(maxConnections)
		db.SetMaxIdleConns(minIdleConnections)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// newMigrate builds a migrate instance over db. The returned release func must
// be called when done; it frees the connection and source held by the instance
// but leaves db open.
func newMigrate(db *sql.DB, driver string) (*migrate.Migrate, func(), error) {
	ctx := context.Background()

	var (
		dbDriver database.Driver
		conn     *sql.Conn
		err      error
	)
	switch driver {
	case DriverSQLite:
		dbDriver, err = sqlite.WithInstance(db, &sqlite.Config{})
	case DriverPostgres:
		// postgres.WithInstance pins a pooled connection that only Close
		// releases, and Close would also close db. Hand it a connection we own.
		conn, err = db.Conn(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to acquire migration connection: %w", err)
		}
		dbDriver, err = postgres.WithConnection(ctx, conn, &postgres.Config{})
	default:
		return nil, nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
	if err != nil {
		if conn != nil {
			conn.Close()
		}
		return nil, nil, fmt.Errorf("failed to create migration driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations/"+driver)
	if err != nil {
		if conn != nil {
			conn.Close()
		}
		return nil, nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	release := func() {
		sourceDriver.Close()
		if conn != nil {
			conn.Close()
		}
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, driver, dbDriver)
	if err != nil {
		release()
		return nil, nil, fmt.Errorf("failed to create migration instance: %w", err)
	}
	return m, release, nil
}

// RunMigrations runs database migrations in the given direction ("up" or "down")
func RunMigrations(db *sql.DB, driver, direction string) error {
	m, release, err := newMigrate(db, driver)
	if err != nil {
		return err
	}
	defer release()

	switch direction {
	case "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	case "down":
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("failed to rollback migrations: %w", err)
		}
	default:
		return fmt.Errorf("invalid migration direction: %s (must be 'up' or 'down')", direction)
	}

	return nil
}

// GetMigrationVersion returns the current migration version
func GetMigrationVersion(db *sql.DB, driver string) (version uint, dirty bool, err error) {
	m, release, err := newMigrate(db, driver)
	if err != nil {
		return 0, false, err
	}
	defer release()

	version, dirty, err = m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}

	return version, dirty, nil
}

// Migrator applies pending migrations to an open connection pool.
type Migrator struct {
	db *sqlx.DB
}

// NewMigrator creates a Migrator for db, using the driver db was opened with.
func NewMigrator(db *sqlx.DB) *Migrator {
	return &Migrator{db: db}
}

// Up applies all pending up migrations. It is a no-op when the schema is current.
func (m *Migrator) Up(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return RunMigrations(m.db.DB, m.db.DriverName(), "up")
}

// Package persistence opens the bun database and applies the embedded
// migrations for the configured dialect.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	accounts "github.com/lungvision/go-accounts"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Options selects the database
type Options struct {
	Driver string
	DSN    string
	// MaxOpenConns is forced to 1 for in-memory sqlite.
	MaxOpenConns int
}

// Open returns a bun DB for the driver.
func Open(ctx context.Context, opts Options) (*bun.DB, error) {
	switch normalizeDriver(opts.Driver) {
	case DriverSQLite:
		sqldb, err := sql.Open(sqliteshim.ShimName, opts.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		if strings.Contains(opts.DSN, ":memory:") || opts.MaxOpenConns == 1 {
			sqldb.SetMaxOpenConns(1)
		} else if opts.MaxOpenConns > 0 {
			sqldb.SetMaxOpenConns(opts.MaxOpenConns)
		}
		db := bun.NewDB(sqldb, sqlitedialect.New())
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
		return db, nil

	case DriverPostgres:
		sqldb, err := sql.Open("pgx", opts.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if opts.MaxOpenConns > 0 {
			sqldb.SetMaxOpenConns(opts.MaxOpenConns)
		}
		db := bun.NewDB(sqldb, pgdialect.New())
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		return db, nil
	}

	return nil, fmt.Errorf("unsupported database driver: %q", opts.Driver)
}

// MigrationsFS returns the migration directory for the driver.
func MigrationsFS(driver string) (fs.FS, error) {
	dir := "data/sql/migrations/" + normalizeDriver(driver)
	sub, err := fs.Sub(accounts.GetMigrationsFS(), dir)
	if err != nil {
		return nil, fmt.Errorf("migrations for %s: %w", driver, err)
	}
	return sub, nil
}

// ApplySchema runs every up migration for the driver directly on db. Tests
// use it to prepare in-memory databases without golang-migrate bookkeeping.
func ApplySchema(ctx context.Context, db bun.IDB, driver string) error {
	migrations, err := MigrationsFS(driver)
	if err != nil {
		return err
	}

	files, err := fs.Glob(migrations, "*.up.sql")
	if err != nil {
		return err
	}

	for _, name := range files {
		raw, err := fs.ReadFile(migrations, name)
		if err != nil {
			return err
		}
		for _, stmt := range splitStatements(string(raw)) {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("apply %s: %w", name, err)
			}
		}
	}
	return nil
}

func splitStatements(script string) []string {
	parts := strings.Split(script, ";")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if stmt := strings.TrimSpace(part); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

func normalizeDriver(driver string) string {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite", "sqlite3":
		return DriverSQLite
	case "postgres", "postgresql", "pg", "pgx":
		return DriverPostgres
	}
	return driver
}

// MigrationURL converts a DSN into the URL golang-migrate expects.
func MigrationURL(driver, dsn string) string {
	switch normalizeDriver(driver) {
	case DriverSQLite:
		if strings.HasPrefix(dsn, "sqlite3://") {
			return dsn
		}
		return "sqlite3://" + strings.TrimPrefix(dsn, "file:")
	default:
		return dsn
	}
}

// Logger is what the migrator reports progress to.
type Logger interface {
	Info(msg string, args ...any)
}

// Migrate applies, rolls back or reports migrations. Supported commands:
// "up", "down", "version" and "force N".
func Migrate(logger Logger, driver, dsn, command string, args ...string) error {
	switch command {
	case "up", "down", "version", "force":
	default:
		return fmt.Errorf("unknown migrate command: %s (use: up, down, version, force)", command)
	}
	if command == "force" && len(args) == 0 {
		return fmt.Errorf("force requires a version number argument")
	}

	migrations, err := MigrationsFS(driver)
	if err != nil {
		return err
	}

	sourceDriver, err := iofs.New(migrations, ".")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, MigrationURL(driver, dsn))
	if err != nil {
		return fmt.Errorf("migrate init: %w", err)
	}
	defer m.Close()

	m.Log = &migrateLogger{logger: logger}

	switch command {
	case "up":
		if err := m.Up(); err != nil && err != migrate.ErrNoChange {
			return fmt.Errorf("migrate up: %w", err)
		}
		ver, dirty, _ := m.Version()
		logger.Info("migration complete", "version", ver, "dirty", dirty)

	case "down":
		if err := m.Down(); err != nil && err != migrate.ErrNoChange {
			return fmt.Errorf("migrate down: %w", err)
		}
		logger.Info("all migrations rolled back")

	case "version":
		ver, dirty, err := m.Version()
		if err != nil {
			return fmt.Errorf("migrate version: %w", err)
		}
		logger.Info("current version", "version", ver, "dirty", dirty)

	case "force":
		var version int
		if _, err := fmt.Sscanf(args[0], "%d", &version); err != nil {
			return fmt.Errorf("invalid version: %w", err)
		}
		if err := m.Force(version); err != nil {
			return fmt.Errorf("migrate force: %w", err)
		}
		logger.Info("forced version", "version", version)
	}

	return nil
}

type migrateLogger struct {
	logger Logger
}

func (l *migrateLogger) Printf(format string, v ...any) {
	l.logger.Info(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l *migrateLogger) Verbose() bool {
	return false
}

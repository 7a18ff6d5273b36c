package db

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"signet/internal/db/migrations"
)

const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite"
)

// Connect opens the configured database and verifies connectivity. SQLite
// runs on a single connection (it has a single writer anyway) with WAL and a
// busy timeout; Postgres gets the usual pool limits.
func Connect(driver, source string) (*sql.DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch driver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q (want %q or %q)", driver, DriverSQLite, DriverPostgres)
	}

	conn, err := sql.Open(driver, source)
	if err != nil {
		return nil, err
	}

	if driver == DriverSQLite {
		conn.SetMaxOpenConns(1)
		pragmas := []string{
			"PRAGMA journal_mode = WAL",
			"PRAGMA busy_timeout = 5000",
			"PRAGMA foreign_keys = ON",
		}
		for _, pragma := range pragmas {
			if _, err := conn.ExecContext(ctx, pragma); err != nil {
				conn.Close()
				return nil, fmt.Errorf("apply %q: %w", pragma, err)
			}
		}
	} else {
		conn.SetMaxOpenConns(10)
		conn.SetMaxIdleConns(2)
		conn.SetConnMaxIdleTime(5 * time.Minute)
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	log.Println("[DB] ✅ Database connected successfully")
	return conn, nil
}

// Migrate brings the schema up to date from the embedded migration files.
// Safe to run on every boot; applied versions are skipped.
func Migrate(conn *sql.DB, driver string) error {
	goose.SetBaseFS(migrations.Migrations)

	if err := goose.SetDialect(driver); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(conn, "."); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/ridoystarlord/auditconverge/config"
)

// Querier is satisfied by *sql.DB, *sql.Tx and *DB.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB is a single-connection handle bound to the dialect it was opened with.
type DB struct {
	*sql.DB
	Dialect Dialect
	// Location is the file path or the password-redacted URL, for display only.
	Location string
}

// Open returns a database holding exactly one connection. Callers close it
// with defer as soon as Open succeeds.
func Open(ctx context.Context, cfg config.Config) (*DB, error) {
	dialect, err := DialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}

	var dsn, location string
	switch dialect.Name() {
	case Postgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL not set for postgres driver")
		}
		dsn = cfg.DatabaseURL
		location = redactURL(cfg.DatabaseURL)
	default:
		if cfg.DatabasePath == "" {
			return nil, fmt.Errorf("database path is empty")
		}
		dsn = sqliteDSN(cfg.DatabasePath)
		location = cfg.DatabasePath
	}

	sqlDB, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to open %s database: %w", dialect.Name(), err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("unable to ping database %s: %w", location, err)
	}

	return &DB{DB: sqlDB, Dialect: dialect, Location: location}, nil
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_pragma=busy_timeout(5000)"
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "postgres"
	}
	return u.Redacted()
}

package database

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/ridoystarlord/auditconverge/schema"
)

// Dialect hides the catalog queries, type names and error codes that differ
// between the supported engines.
type Dialect interface {
	Name() string
	DriverName() string
	Placeholder(n int) string
	QuoteIdent(name string) string
	ColumnType(t schema.ColumnType) string
	AutoIncrementPrimaryKey() string

	TablesQuery() string
	ViewsQuery() string
	TableExistsQuery() string
	ViewDefinitionQuery() string
	ColumnsQuery() string

	IsAlreadyExists(err error) bool
	IsDuplicateColumn(err error) bool
	IsMissingObject(err error) bool
}

const (
	SQLite   = "sqlite"
	Postgres = "postgres"
)

func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case SQLite, "sqlite3", "":
		return sqliteDialect{}, nil
	case Postgres, "postgresql", "pgx":
		return postgresDialect{}, nil
	}
	return nil, fmt.Errorf("unsupported database driver %q", driver)
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string           { return SQLite }
func (sqliteDialect) DriverName() string     { return "sqlite" }
func (sqliteDialect) Placeholder(int) string { return "?" }
func (sqliteDialect) QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (sqliteDialect) ColumnType(t schema.ColumnType) string {
	switch t {
	case schema.Integer:
		return "INTEGER"
	case schema.Real:
		return "REAL"
	case schema.Timestamp:
		return "TIMESTAMP"
	default:
		return "TEXT"
	}
}

func (sqliteDialect) AutoIncrementPrimaryKey() string { return "INTEGER PRIMARY KEY AUTOINCREMENT" }

func (sqliteDialect) TablesQuery() string {
	return `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`
}

func (sqliteDialect) ViewsQuery() string {
	return `SELECT name, COALESCE(sql, '') FROM sqlite_master WHERE type = 'view' ORDER BY name`
}

func (sqliteDialect) TableExistsQuery() string {
	return `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`
}

func (sqliteDialect) ViewDefinitionQuery() string {
	return `SELECT COALESCE(sql, '') FROM sqlite_master WHERE type = 'view' AND name = ?`
}

// ColumnsQuery yields name, type, notnull, default, pk.
func (sqliteDialect) ColumnsQuery() string {
	return `SELECT name, type, "notnull", dflt_value, pk FROM pragma_table_info(?) ORDER BY cid`
}

func (sqliteDialect) IsAlreadyExists(err error) bool {
	return errContains(err, "already exists")
}

func (sqliteDialect) IsDuplicateColumn(err error) bool {
	return errContains(err, "duplicate column name")
}

func (sqliteDialect) IsMissingObject(err error) bool {
	return errContains(err, "no such table") || errContains(err, "no such column")
}

type postgresDialect struct{}

func (postgresDialect) Name() string               { return Postgres }
func (postgresDialect) DriverName() string         { return "pgx" }
func (postgresDialect) Placeholder(n int) string   { return fmt.Sprintf("$%d", n) }
func (postgresDialect) QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (postgresDialect) ColumnType(t schema.ColumnType) string {
	switch t {
	case schema.Integer:
		return "BIGINT"
	case schema.Real:
		return "DOUBLE PRECISION"
	case schema.Timestamp:
		return "TIMESTAMP"
	default:
		return "TEXT"
	}
}

func (postgresDialect) AutoIncrementPrimaryKey() string {
	return "BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY"
}

func (postgresDialect) TablesQuery() string {
	return `SELECT table_name FROM information_schema.tables
	WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'
	ORDER BY table_name`
}

func (postgresDialect) ViewsQuery() string {
	return `SELECT table_name, COALESCE(view_definition, '') FROM information_schema.views
	WHERE table_schema = current_schema()
	ORDER BY table_name`
}

func (postgresDialect) TableExistsQuery() string {
	return `SELECT COUNT(*) FROM information_schema.tables
	WHERE table_schema = current_schema() AND table_type = 'BASE TABLE' AND table_name = $1`
}

func (postgresDialect) ViewDefinitionQuery() string {
	return `SELECT COALESCE(view_definition, '') FROM information_schema.views
	WHERE table_schema = current_schema() AND table_name = $1`
}

func (postgresDialect) ColumnsQuery() string {
	return `SELECT
		c.column_name,
		c.data_type,
		CASE WHEN c.is_nullable = 'NO' THEN 1 ELSE 0 END,
		c.column_default,
		CASE WHEN EXISTS (
			SELECT 1 FROM information_schema.table_constraints tc
			JOIN information_schema.key_column_usage kcu
				ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
			WHERE tc.constraint_type = 'PRIMARY KEY'
				AND tc.table_schema = c.table_schema
				AND tc.table_name = c.table_name
				AND kcu.column_name = c.column_name
		) THEN 1 ELSE 0 END
	FROM information_schema.columns c
	WHERE c.table_schema = current_schema() AND c.table_name = $1
	ORDER BY c.ordinal_position`
}

func (postgresDialect) IsAlreadyExists(err error) bool {
	return pgCode(err) == "42P07" || pgCode(err) == "42710"
}

func (postgresDialect) IsDuplicateColumn(err error) bool {
	return pgCode(err) == "42701"
}

func (postgresDialect) IsMissingObject(err error) bool {
	code := pgCode(err)
	return code == "42P01" || code == "42703"
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func errContains(err error, fragment string) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), fragment)
}

package introspect

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/ridoystarlord/auditconverge/database"
)

type ExistingTable struct {
	TableName string
	Columns   []ExistingColumn
}

type ExistingColumn struct {
	ColumnName    string
	DataType      string
	IsNullable    bool
	ColumnDefault *string
	IsPrimaryKey  bool
}

// Snapshot is the catalog state at one point in time.
type Snapshot struct {
	Tables map[string]ExistingTable
	Views  map[string]string // name -> stored definition
}

func (s *Snapshot) HasTable(name string) bool {
	_, ok := s.Tables[name]
	return ok
}

func (s *Snapshot) HasColumn(table, column string) bool {
	t, ok := s.Tables[table]
	if !ok {
		return false
	}
	for _, c := range t.Columns {
		if c.ColumnName == column {
			return true
		}
	}
	return false
}

func (s *Snapshot) HasView(name string) bool {
	_, ok := s.Views[name]
	return ok
}

// IntrospectDatabase reads every table, its columns, and every view.
func IntrospectDatabase(ctx context.Context, q database.Querier, d database.Dialect) (*Snapshot, error) {
	rows, err := q.QueryContext(ctx, d.TablesQuery())
	if err != nil {
		return nil, fmt.Errorf("querying tables: %w", err)
	}
	var tableNames []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning table name: %w", err)
		}
		tableNames = append(tableNames, name)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterating table rows: %w", err)
	}
	rows.Close()

	snap := &Snapshot{
		Tables: make(map[string]ExistingTable, len(tableNames)),
		Views:  map[string]string{},
	}
	for _, name := range tableNames {
		cols, err := Columns(ctx, q, d, name)
		if err != nil {
			return nil, fmt.Errorf("getting columns for table %s: %w", name, err)
		}
		snap.Tables[name] = ExistingTable{TableName: name, Columns: cols}
	}

	views, err := q.QueryContext(ctx, d.ViewsQuery())
	if err != nil {
		return nil, fmt.Errorf("querying views: %w", err)
	}
	defer views.Close()
	for views.Next() {
		var name, def string
		if err := views.Scan(&name, &def); err != nil {
			return nil, fmt.Errorf("scanning view: %w", err)
		}
		snap.Views[name] = def
	}
	if err := views.Err(); err != nil {
		return nil, fmt.Errorf("iterating view rows: %w", err)
	}

	return snap, nil
}

func TableExists(ctx context.Context, q database.Querier, d database.Dialect, table string) (bool, error) {
	var n int
	if err := q.QueryRowContext(ctx, d.TableExistsQuery(), table).Scan(&n); err != nil {
		return false, fmt.Errorf("checking table %s: %w", table, err)
	}
	return n > 0, nil
}

// ViewDefinition returns the stored definition and whether the view exists.
func ViewDefinition(ctx context.Context, q database.Querier, d database.Dialect, view string) (string, bool, error) {
	var def string
	err := q.QueryRowContext(ctx, d.ViewDefinitionQuery(), view).Scan(&def)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading view %s: %w", view, err)
	}
	return def, true, nil
}

// Columns lists a table's columns in declaration order. A missing table
// yields an empty list, not an error.
func Columns(ctx context.Context, q database.Querier, d database.Dialect, table string) ([]ExistingColumn, error) {
	rows, err := q.QueryContext(ctx, d.ColumnsQuery(), table)
	if err != nil {
		return nil, fmt.Errorf("querying columns: %w", err)
	}
	defer rows.Close()

	var columns []ExistingColumn
	for rows.Next() {
		var (
			col     ExistingColumn
			notNull int
			def     sql.NullString
			pk      int
		)
		if err := rows.Scan(&col.ColumnName, &col.DataType, &notNull, &def, &pk); err != nil {
			return nil, fmt.Errorf("scanning column: %w", err)
		}
		col.IsNullable = notNull == 0
		col.IsPrimaryKey = pk > 0
		if def.Valid {
			v := def.String
			col.ColumnDefault = &v
		}
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating column rows: %w", err)
	}
	return columns, nil
}

// ColumnSet returns the table's column names for membership checks.
func ColumnSet(ctx context.Context, q database.Querier, d database.Dialect, table string) (map[string]bool, error) {
	cols, err := Columns(ctx, q, d, table)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(cols))
	for _, c := range cols {
		set[c.ColumnName] = true
	}
	return set, nil
}

// ViewMatches reports whether a stored view definition already embeds query.
func ViewMatches(stored, query string) bool {
	if stored == "" {
		return false
	}
	return strings.Contains(normalizeSQL(stored), normalizeSQL(query))
}

func normalizeSQL(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

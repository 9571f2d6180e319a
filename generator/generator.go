package generator

import (
	"fmt"
	"strings"

	"github.com/ridoystarlord/auditconverge/database"
	"github.com/ridoystarlord/auditconverge/diff"
	"github.com/ridoystarlord/auditconverge/schema"
)

// GenerateSQL renders the statements the runner would execute for ops.
// Satisfied operations are skipped. Seed rows are inlined as literals.
func GenerateSQL(d database.Dialect, ops []diff.Operation) ([]string, error) {
	var sqlStatements []string

	for _, op := range ops {
		if op.Satisfied {
			continue
		}
		switch op.Type {
		case diff.CreateTable:
			sqlStatements = append(sqlStatements, CreateTable(d, *op.Table)+";")

		case diff.AddColumn:
			sqlStatements = append(sqlStatements, AddColumn(d, op.TableName, *op.Column)+";")

		case diff.RecreateView:
			sqlStatements = append(sqlStatements,
				DropView(d, op.View.Name)+";",
				CreateView(d, *op.View)+";",
			)

		case diff.Backfill:
			sqlStatements = append(sqlStatements, Backfill(d, *op.Backfill)+";")

		case diff.Seed:
			for _, row := range op.Seed.Rows {
				stmt, err := SeedLiteral(d, *op.Seed, row)
				if err != nil {
					return nil, fmt.Errorf("generate seed %s: %w", op.Seed.Name, err)
				}
				sqlStatements = append(sqlStatements, stmt+";")
			}

		default:
			return nil, fmt.Errorf("unsupported operation: %s", op.Type)
		}
	}

	return sqlStatements, nil
}

// CreateTable renders a CREATE TABLE statement. It deliberately omits IF NOT
// EXISTS so a concurrent create surfaces as an "already exists" error.
func CreateTable(d database.Dialect, t schema.TableSpec) string {
	var defs []string
	inlinePK := len(t.PrimaryKey) == 1
	for _, col := range t.Columns {
		defs = append(defs, columnDefinition(d, col, inlinePK && t.IsPrimaryKey(col.Name)))
	}
	if len(t.PrimaryKey) > 1 {
		quoted := make([]string, len(t.PrimaryKey))
		for i, pk := range t.PrimaryKey {
			quoted[i] = d.QuoteIdent(pk)
		}
		defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(quoted, ", ")))
	}
	return fmt.Sprintf("CREATE TABLE %s (\n    %s\n)", d.QuoteIdent(t.Name), strings.Join(defs, ",\n    "))
}

func columnDefinition(d database.Dialect, col schema.ColumnSpec, primary bool) string {
	if primary && col.AutoIncrement {
		return d.QuoteIdent(col.Name) + " " + d.AutoIncrementPrimaryKey()
	}

	stmt := d.QuoteIdent(col.Name) + " " + d.ColumnType(col.Type)
	if primary {
		stmt += " PRIMARY KEY"
	}
	if col.Unique {
		stmt += " UNIQUE"
	}
	if col.NotNull {
		stmt += " NOT NULL"
	}
	if col.Default != nil {
		stmt += " DEFAULT " + *col.Default
	}
	stmt += references(d, col.ForeignKey)
	return stmt
}

// AddColumn renders an additive ALTER. Constraints an ALTER cannot add to a
// populated table (PRIMARY KEY, UNIQUE, non-constant defaults) are left out.
func AddColumn(d database.Dialect, table string, col schema.ColumnSpec) string {
	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s",
		d.QuoteIdent(table),
		d.QuoteIdent(col.Name),
		d.ColumnType(col.Type),
	)
	if col.NotNull {
		stmt += " NOT NULL"
	}
	if col.Default != nil && schema.IsConstantDefault(*col.Default) {
		stmt += " DEFAULT " + *col.Default
	}
	return stmt + references(d, col.ForeignKey)
}

func references(d database.Dialect, fk *schema.ForeignKey) string {
	if fk == nil {
		return ""
	}
	s := fmt.Sprintf(" REFERENCES %s (%s)", d.QuoteIdent(fk.ReferencesTable), d.QuoteIdent(fk.ReferencesColumn))
	if fk.OnDelete != "" {
		s += " ON DELETE " + fk.OnDelete
	}
	return s
}

func DropTable(d database.Dialect, table string) string {
	return "DROP TABLE IF EXISTS " + d.QuoteIdent(table)
}

func CreateView(d database.Dialect, v schema.ViewSpec) string {
	return fmt.Sprintf("CREATE VIEW %s AS\n%s", d.QuoteIdent(v.Name), v.Query)
}

func DropView(d database.Dialect, view string) string {
	return "DROP VIEW IF EXISTS " + d.QuoteIdent(view)
}

// ProbeView selects nothing from a view; it fails when the view's query no
// longer resolves.
func ProbeView(d database.Dialect, view string) string {
	return fmt.Sprintf("SELECT * FROM %s LIMIT 0", d.QuoteIdent(view))
}

func Backfill(d database.Dialect, rule schema.BackfillRule) string {
	return fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s",
		d.QuoteIdent(rule.Table),
		d.QuoteIdent(rule.Column),
		rule.Expression,
		rule.Predicate,
	)
}

// CountPending counts rows a backfill would still touch.
func CountPending(d database.Dialect, rule schema.BackfillRule) string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", d.QuoteIdent(rule.Table), rule.Predicate)
}

// CountRows counts every row of table.
func CountRows(d database.Dialect, table string) string {
	return "SELECT COUNT(*) FROM " + d.QuoteIdent(table)
}

// CountSeeded counts how many of n distinct conflict keys, bound as
// parameters, the seed table already holds.
func CountSeeded(d database.Dialect, rule schema.SeedRule, n int) string {
	params := make([]string, n)
	for i := range params {
		params[i] = d.Placeholder(i + 1)
	}
	return fmt.Sprintf("SELECT COUNT(DISTINCT %s) FROM %s WHERE %s IN (%s)",
		d.QuoteIdent(rule.ConflictColumn),
		d.QuoteIdent(rule.Table),
		d.QuoteIdent(rule.ConflictColumn),
		strings.Join(params, ", "),
	)
}

// Seed renders a parameterised insert for one row of rule. Rows whose
// conflict key already exists are left alone.
func Seed(d database.Dialect, rule schema.SeedRule) string {
	cols := make([]string, len(rule.Columns))
	params := make([]string, len(rule.Columns))
	for i, c := range rule.Columns {
		cols[i] = d.QuoteIdent(c)
		params[i] = d.Placeholder(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO NOTHING",
		d.QuoteIdent(rule.Table),
		strings.Join(cols, ", "),
		strings.Join(params, ", "),
		d.QuoteIdent(rule.ConflictColumn),
	)
}

// SeedLiteral renders one seed row with its values inlined, for display.
func SeedLiteral(d database.Dialect, rule schema.SeedRule, row []any) (string, error) {
	if len(row) != len(rule.Columns) {
		return "", fmt.Errorf("row has %d values for %d columns", len(row), len(rule.Columns))
	}
	cols := make([]string, len(rule.Columns))
	vals := make([]string, len(row))
	for i, c := range rule.Columns {
		cols[i] = d.QuoteIdent(c)
		vals[i] = literal(row[i])
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO NOTHING",
		d.QuoteIdent(rule.Table),
		strings.Join(cols, ", "),
		strings.Join(vals, ", "),
		d.QuoteIdent(rule.ConflictColumn),
	), nil
}

func literal(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return schema.Quote(x)
	case bool:
		if x {
			return "TRUE"
		}
		return "FALSE"
	default:
		return fmt.Sprint(x)
	}
}

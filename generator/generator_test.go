package generator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridoystarlord/auditconverge/database"
	"github.com/ridoystarlord/auditconverge/diff"
	"github.com/ridoystarlord/auditconverge/schema"
)

func dialect(t *testing.T, name string) database.Dialect {
	t.Helper()
	d, err := database.DialectFor(name)
	require.NoError(t, err)
	return d
}

func TestCreateTableSQLite(t *testing.T) {
	d := dialect(t, "sqlite")
	tbl := schema.TableSpec{
		Name: "evidence_urls",
		Columns: []schema.ColumnSpec{
			{Name: "id", Type: schema.Integer, AutoIncrement: true},
			{Name: "response_id", Type: schema.Integer, ForeignKey: &schema.ForeignKey{ReferencesTable: "audit_responses", ReferencesColumn: "id", OnDelete: "CASCADE"}},
			{Name: "url", Type: schema.Text, NotNull: true, Default: schema.Default("''")},
		},
		PrimaryKey: []string{"id"},
	}

	want := "CREATE TABLE \"evidence_urls\" (\n" +
		"    \"id\" INTEGER PRIMARY KEY AUTOINCREMENT,\n" +
		"    \"response_id\" INTEGER REFERENCES \"audit_responses\" (\"id\") ON DELETE CASCADE,\n" +
		"    \"url\" TEXT NOT NULL DEFAULT ''\n" +
		")"
	assert.Equal(t, want, CreateTable(d, tbl))
}

func TestCreateTablePostgresCompositeKey(t *testing.T) {
	d := dialect(t, "postgres")
	tbl := schema.TableSpec{
		Name: "pairs",
		Columns: []schema.ColumnSpec{
			{Name: "a", Type: schema.Integer},
			{Name: "b", Type: schema.Real},
		},
		PrimaryKey: []string{"a", "b"},
	}
	got := CreateTable(d, tbl)
	assert.Contains(t, got, `"a" BIGINT,`)
	assert.Contains(t, got, `"b" DOUBLE PRECISION,`)
	assert.Contains(t, got, `PRIMARY KEY ("a", "b")`)
}

func TestAddColumnDropsUnsupportedConstraints(t *testing.T) {
	d := dialect(t, "sqlite")

	got := AddColumn(d, "audit_sessions", schema.ColumnSpec{
		Name: "created_at", Type: schema.Timestamp, Unique: true, Default: schema.Default("CURRENT_TIMESTAMP"),
	})
	assert.Equal(t, `ALTER TABLE "audit_sessions" ADD COLUMN "created_at" TIMESTAMP`, got)

	got = AddColumn(d, "framework_mapping", schema.ColumnSpec{
		Name: "search_pattern", Type: schema.Text, NotNull: true, Default: schema.Default("'%'"),
	})
	assert.Equal(t, `ALTER TABLE "framework_mapping" ADD COLUMN "search_pattern" TEXT NOT NULL DEFAULT '%'`, got)
}

func TestBackfillAndSeed(t *testing.T) {
	rule := schema.BackfillRule{
		Name: "score", Table: "audit_responses", Column: "response_score",
		Expression: "CASE response WHEN 'Yes' THEN 5 ELSE NULL END",
		Predicate:  "response_score IS NULL AND response IN ('Yes')",
	}
	d := dialect(t, "sqlite")
	assert.Equal(t,
		`UPDATE "audit_responses" SET "response_score" = CASE response WHEN 'Yes' THEN 5 ELSE NULL END WHERE response_score IS NULL AND response IN ('Yes')`,
		Backfill(d, rule))
	assert.Equal(t,
		`SELECT COUNT(*) FROM "audit_responses" WHERE response_score IS NULL AND response IN ('Yes')`,
		CountPending(d, rule))

	seed := schema.SeedRule{
		Name: "fm", Table: "framework_mapping",
		Columns: []string{"framework_name", "search_pattern"}, ConflictColumn: "framework_name",
	}
	assert.Equal(t,
		`INSERT INTO "framework_mapping" ("framework_name", "search_pattern") VALUES ($1, $2) ON CONFLICT ("framework_name") DO NOTHING`,
		Seed(dialect(t, "postgres"), seed))

	stmt, err := SeedLiteral(d, seed, []any{"O'Brien Act", "%OB%"})
	require.NoError(t, err)
	assert.Contains(t, stmt, `VALUES ('O''Brien Act', '%OB%')`)

	_, err = SeedLiteral(d, seed, []any{"only one"})
	assert.Error(t, err)
}

func TestCountQueries(t *testing.T) {
	seed := schema.SeedRule{Table: "framework_mapping", ConflictColumn: "framework_name"}
	assert.Equal(t,
		`SELECT COUNT(DISTINCT "framework_name") FROM "framework_mapping" WHERE "framework_name" IN ($1, $2, $3)`,
		CountSeeded(dialect(t, "postgres"), seed, 3))
	assert.Equal(t, `SELECT COUNT(*) FROM "controls"`, CountRows(dialect(t, "sqlite"), "controls"))
}

func TestGenerateSQLSkipsSatisfied(t *testing.T) {
	d := dialect(t, "sqlite")
	view := schema.ViewSpec{Name: "v", Query: "SELECT 1"}
	col := schema.ColumnSpec{Name: "notes", Type: schema.Text}
	ops := []diff.Operation{
		{Type: diff.AddColumn, TableName: "t", Column: &col, Satisfied: true},
		{Type: diff.RecreateView, TableName: "v", View: &view},
	}

	stmts, err := GenerateSQL(d, ops)
	require.NoError(t, err)
	assert.Equal(t, []string{
		`DROP VIEW IF EXISTS "v";`,
		"CREATE VIEW \"v\" AS\nSELECT 1;",
	}, stmts)

	_, err = GenerateSQL(d, []diff.Operation{{Type: "BOGUS"}})
	assert.Error(t, err)
}

package runner

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridoystarlord/auditconverge/config"
	"github.com/ridoystarlord/auditconverge/database"
	"github.com/ridoystarlord/auditconverge/introspect"
	"github.com/ridoystarlord/auditconverge/schema"
)

func newTestRunner(t *testing.T) (*Runner, *database.DB, *bytes.Buffer) {
	t.Helper()
	db, err := database.Open(context.Background(), config.Config{
		Driver:       "sqlite",
		DatabasePath: filepath.Join(t.TempDir(), "audit_controls.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	var out bytes.Buffer
	return New(db, &out), db, &out
}

func mustExec(t *testing.T, db *database.DB, query string, args ...any) {
	t.Helper()
	_, err := db.ExecContext(context.Background(), query, args...)
	require.NoError(t, err)
}

func countRows(t *testing.T, db *database.DB, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRowContext(context.Background(), query, args...).Scan(&n))
	return n
}

func TestRunEmptyDatabase(t *testing.T) {
	r, db, out := newTestRunner(t)
	target := schema.AuditTarget()

	report := r.Run(context.Background(), target)
	require.True(t, report.OK(), out.String())

	for _, tbl := range target.Tables {
		assert.Equal(t, Applied, report.Step(TableStep, tbl.Name).State, tbl.Name)
		assert.Zero(t, countRows(t, db, `SELECT COUNT(*) FROM "`+tbl.Name+`"`), tbl.Name)
	}
	assert.Equal(t, Applied, report.Step(ViewStep, "framework_filtered_controls").State)
	assert.Equal(t, 0, report.Count(Failed))
	assert.False(t, report.RolledBack)
	assert.Contains(t, out.String(), "Database converged")
}

func TestRunIsIdempotent(t *testing.T) {
	r, db, out := newTestRunner(t)
	ctx := context.Background()
	target := schema.AuditTarget()
	target.Seeds = append(target.Seeds, schema.FrameworkMappingSeed())

	require.True(t, r.Run(ctx, target).OK())
	mustExec(t, db, `INSERT INTO controls (control_name, framework) VALUES ('Risk management', 'EU AI Law: Article 9'), ('Access review', 'Internal Policy')`)
	mustExec(t, db, `INSERT INTO audit_responses (session_id, control_id, response) VALUES ('s1', 1, 'Yes'), ('s1', 2, 'Unknown')`)

	second := r.Run(ctx, target)
	require.True(t, second.OK(), out.String())
	assert.Equal(t, Applied, second.Step(BackfillStep, "response_score").State)
	assert.Equal(t, Applied, second.Step(BackfillStep, "framework_tag").State)

	before, err := introspect.IntrospectDatabase(ctx, db, db.Dialect)
	require.NoError(t, err)

	third := r.Run(ctx, target)
	require.True(t, third.OK(), out.String())
	assert.Equal(t, 0, third.Count(Applied))
	assert.Equal(t, len(third.Steps), third.Count(AlreadySatisfied))

	after, err := introspect.IntrospectDatabase(ctx, db, db.Dialect)
	require.NoError(t, err)
	assert.Equal(t, before.Tables, after.Tables)
	assert.Equal(t, 11, countRows(t, db, `SELECT COUNT(*) FROM framework_mapping`))
	assert.Equal(t, 1, countRows(t, db, `SELECT COUNT(*) FROM audit_responses WHERE response_score = 5`))
	assert.Equal(t, 1, countRows(t, db, `SELECT COUNT(*) FROM audit_responses WHERE response_score IS NULL`))
}

func TestBackfillResponseScore(t *testing.T) {
	r, db, _ := newTestRunner(t)
	ctx := context.Background()
	target := schema.AuditTarget()
	require.True(t, r.Run(ctx, target).OK())

	for _, resp := range []string{"Yes", "Partial", "No", "Unknown"} {
		mustExec(t, db, `INSERT INTO audit_responses (session_id, response) VALUES ('s1', ?)`, resp)
	}

	rule := target.Backfills[0]
	require.Equal(t, "response_score", rule.Name)
	res := r.Backfill(ctx, rule)
	require.Equal(t, Applied, res.State, res.Message)
	assert.EqualValues(t, 3, res.RowsAffected)

	want := map[string]sql.NullInt64{
		"Yes":     {Int64: 5, Valid: true},
		"Partial": {Int64: 3, Valid: true},
		"No":      {Int64: 1, Valid: true},
		"Unknown": {},
	}
	for resp, score := range want {
		var got sql.NullInt64
		require.NoError(t, db.QueryRowContext(ctx, `SELECT response_score FROM audit_responses WHERE response = ?`, resp).Scan(&got))
		assert.Equal(t, score, got, resp)
	}

	assert.Zero(t, countRows(t, db, `SELECT COUNT(*) FROM audit_responses WHERE `+rule.Predicate))

	again := r.Backfill(ctx, rule)
	assert.Equal(t, AlreadySatisfied, again.State)
	assert.Zero(t, again.RowsAffected)
}

func TestViewSimpleFramework(t *testing.T) {
	r, db, _ := newTestRunner(t)
	ctx := context.Background()
	require.True(t, r.Run(ctx, schema.AuditTarget()).OK())

	mustExec(t, db, `INSERT INTO controls (control_name, framework) VALUES ('a', 'EU AI Law: Article 9'), ('b', 'Internal Policy')`)

	cases := map[string]string{"a": "EU AI Act", "b": "Other"}
	for name, want := range cases {
		var got string
		require.NoError(t, db.QueryRowContext(ctx,
			`SELECT simple_framework FROM framework_filtered_controls WHERE control_name = ?`, name).Scan(&got))
		assert.Equal(t, want, got, name)
	}
}

func TestPartialStateAddsOnlyMissingColumn(t *testing.T) {
	r, db, out := newTestRunner(t)
	ctx := context.Background()

	mustExec(t, db, `CREATE TABLE audit_responses (id INTEGER PRIMARY KEY AUTOINCREMENT, session_id TEXT, control_id INTEGER, response TEXT, evidence_date TEXT)`)
	mustExec(t, db, `INSERT INTO audit_responses (session_id, control_id, response, evidence_date) VALUES ('s1', 7, 'Yes', '2024-01-31')`)

	report := r.Run(ctx, schema.AuditTarget())
	require.True(t, report.OK(), out.String())

	assert.Equal(t, AlreadySatisfied, report.Step(TableStep, "audit_responses").State)
	assert.Equal(t, AlreadySatisfied, report.Step(ColumnStep, "audit_responses.evidence_date").State)
	assert.Equal(t, Applied, report.Step(ColumnStep, "audit_responses.evidence_notes").State)
	assert.Equal(t, Applied, report.Step(ColumnStep, "audit_responses.response_score").State)

	var (
		sessionID, response, evidenceDate string
		controlID                         int
		notes                             sql.NullString
		score                             sql.NullInt64
	)
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT session_id, control_id, response, evidence_date, evidence_notes, response_score FROM audit_responses`).
		Scan(&sessionID, &controlID, &response, &evidenceDate, &notes, &score))
	assert.Equal(t, "s1", sessionID)
	assert.Equal(t, 7, controlID)
	assert.Equal(t, "Yes", response)
	assert.Equal(t, "2024-01-31", evidenceDate)
	assert.False(t, notes.Valid)
	assert.Equal(t, sql.NullInt64{Int64: 5, Valid: true}, score)
}

func TestEnsureColumn(t *testing.T) {
	r, db, _ := newTestRunner(t)
	ctx := context.Background()

	res := r.EnsureColumn(ctx, "audit_responses", schema.ColumnSpec{Name: "evidence_notes", Type: schema.Text})
	assert.Equal(t, Failed, res.State)
	assert.True(t, IsKind(res.Err, StructuralConflict))
	assert.True(t, errors.Is(res.Err, ErrMissingDependency))

	mustExec(t, db, `CREATE TABLE evidence_files (id INTEGER PRIMARY KEY)`)
	res = r.EnsureColumn(ctx, "evidence_files", schema.ColumnSpec{Name: "filename", Type: schema.Text, NotNull: true})
	assert.Equal(t, Failed, res.State)
	assert.Contains(t, res.Message, "constant default")

	res = r.EnsureColumn(ctx, "evidence_files", schema.ColumnSpec{Name: "filename", Type: schema.Text, NotNull: true, Default: schema.Default("''")})
	assert.Equal(t, Applied, res.State)
	res = r.EnsureColumn(ctx, "evidence_files", schema.ColumnSpec{Name: "filename", Type: schema.Text})
	assert.Equal(t, AlreadySatisfied, res.State)
}

func TestEnsureViewMissingDependency(t *testing.T) {
	r, db, _ := newTestRunner(t)
	ctx := context.Background()
	view := schema.AuditTarget().Views[0]

	res := r.EnsureView(ctx, view)
	assert.Equal(t, Failed, res.State)
	assert.True(t, errors.Is(res.Err, ErrMissingDependency))

	_, found, err := introspect.ViewDefinition(ctx, db, db.Dialect, view.Name)
	require.NoError(t, err)
	assert.False(t, found, "failed view must be left absent")
}

func TestEnsureViewBadQueryLeavesViewAbsent(t *testing.T) {
	r, db, _ := newTestRunner(t)
	ctx := context.Background()
	mustExec(t, db, `CREATE TABLE controls (id INTEGER PRIMARY KEY)`)

	res := r.EnsureView(ctx, schema.ViewSpec{
		Name:      "broken",
		Query:     "SELECT no_such_column FROM controls",
		DependsOn: []string{"controls"},
	})
	assert.Equal(t, Failed, res.State)

	_, found, err := introspect.ViewDefinition(ctx, db, db.Dialect, "broken")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRunContinuesPastFailedStep(t *testing.T) {
	r, _, out := newTestRunner(t)
	target := schema.Target{
		Name: "partial",
		Tables: []schema.TableSpec{
			{Name: "controls", Columns: []schema.ColumnSpec{{Name: "id", Type: schema.Integer, AutoIncrement: true}}, PrimaryKey: []string{"id"}},
		},
		Views: []schema.ViewSpec{
			{Name: "ghost_view", Query: "SELECT * FROM ghost", DependsOn: []string{"ghost"}},
			{Name: "all_controls", Query: "SELECT * FROM controls", DependsOn: []string{"controls"}},
		},
	}

	report := r.Run(context.Background(), target)
	assert.False(t, report.OK())
	require.Len(t, report.Failed(), 1)
	assert.Equal(t, "ghost_view", report.Failed()[0].Name)
	assert.Equal(t, Applied, report.Step(ViewStep, "all_controls").State)
	assert.Contains(t, out.String(), "ghost_view")
	assert.Contains(t, out.String(), "manual remediation")
}

func rollbackTarget() schema.Target {
	return schema.Target{
		Name: "rollback",
		Tables: []schema.TableSpec{
			{
				Name: "items",
				Columns: []schema.ColumnSpec{
					{Name: "id", Type: schema.Integer, AutoIncrement: true},
					{Name: "answer", Type: schema.Text},
					{Name: "score", Type: schema.Integer},
				},
				PrimaryKey: []string{"id"},
			},
			{
				Name: "lookup",
				Columns: []schema.ColumnSpec{
					{Name: "code", Type: schema.Text},
					{Name: "label", Type: schema.Text, NotNull: true, Default: schema.Default("''")},
				},
				PrimaryKey: []string{"code"},
			},
		},
		Backfills: []schema.BackfillRule{
			schema.MappedBackfill("score", "items", "score", "answer", []schema.Case{{When: "Yes", Then: "5"}}),
		},
	}
}

func TestDataPhaseRollsBackOnMutationFailure(t *testing.T) {
	r, db, out := newTestRunner(t)
	ctx := context.Background()
	target := rollbackTarget()
	require.True(t, r.Run(ctx, target).OK())
	mustExec(t, db, `INSERT INTO items (answer) VALUES ('Yes')`)

	target.Seeds = []schema.SeedRule{{
		Name: "lookup", Table: "lookup",
		Columns: []string{"code", "label"}, ConflictColumn: "code",
		Rows: [][]any{{"ok", "fine"}, {"bad", nil}},
	}}
	report := r.Run(ctx, target)

	assert.True(t, report.RolledBack)
	backfill := report.Step(BackfillStep, "score")
	assert.Equal(t, Failed, backfill.State)
	assert.True(t, errors.Is(backfill.Err, ErrRolledBack))
	seed := report.Step(SeedStep, "lookup")
	assert.Equal(t, Failed, seed.State)
	assert.True(t, IsKind(seed.Err, DataMutation))

	assert.Zero(t, countRows(t, db, `SELECT COUNT(*) FROM items WHERE score IS NOT NULL`))
	assert.Zero(t, countRows(t, db, `SELECT COUNT(*) FROM lookup`))
	assert.Contains(t, out.String(), "rolled back")
}

func TestStructuralDataFailureKeepsOtherData(t *testing.T) {
	r, db, _ := newTestRunner(t)
	ctx := context.Background()
	target := rollbackTarget()
	require.True(t, r.Run(ctx, target).OK())
	mustExec(t, db, `INSERT INTO items (answer) VALUES ('Yes')`)

	target.Backfills = append(target.Backfills, schema.BackfillRule{
		Name: "orphan", Table: "items", Column: "missing_col", Expression: "1", Predicate: "missing_col IS NULL",
	})
	report := r.Run(ctx, target)

	assert.False(t, report.RolledBack)
	assert.Equal(t, Applied, report.Step(BackfillStep, "score").State)
	orphan := report.Step(BackfillStep, "orphan")
	assert.Equal(t, Failed, orphan.State)
	assert.True(t, IsKind(orphan.Err, StructuralConflict))
	assert.Equal(t, 1, countRows(t, db, `SELECT COUNT(*) FROM items WHERE score = 5`))
}

func TestMissingColumnInExpressionKeepsOtherData(t *testing.T) {
	r, db, _ := newTestRunner(t)
	ctx := context.Background()
	target := schema.AuditTarget()
	require.True(t, r.Run(ctx, target).OK())
	mustExec(t, db, `INSERT INTO audit_responses (session_id, response) VALUES ('s1', 'Yes')`)

	target.Backfills = append(target.Backfills, schema.BackfillRule{
		Name: "notes_from_nowhere", Table: "audit_responses", Column: "evidence_notes",
		Expression: "nonexistent_col", Predicate: "evidence_notes IS NULL",
	})
	report := r.Run(ctx, target)

	assert.False(t, report.RolledBack)
	bad := report.Step(BackfillStep, "notes_from_nowhere")
	assert.Equal(t, Failed, bad.State)
	assert.True(t, IsKind(bad.Err, StructuralConflict))
	assert.True(t, errors.Is(bad.Err, ErrMissingDependency))
	assert.Equal(t, Applied, report.Step(BackfillStep, "response_score").State)
	assert.Equal(t, 1, countRows(t, db, `SELECT COUNT(*) FROM audit_responses WHERE response_score = 5`))
}

func TestSavepointErrorsAreReported(t *testing.T) {
	r, db, out := newTestRunner(t)
	ctx := context.Background()

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()

	r.endSavepoint(ctx, tx, "never_created", false)
	assert.Contains(t, out.String(), "release savepoint never_created")

	out.Reset()
	r.endSavepoint(ctx, tx, "never_created", true)
	assert.Contains(t, out.String(), "rollback to savepoint never_created")
}

func TestEnsureTableNameTakenByView(t *testing.T) {
	r, db, _ := newTestRunner(t)
	ctx := context.Background()
	mustExec(t, db, `CREATE VIEW controls AS SELECT 1 AS id`)

	controls, _ := schema.AuditTarget().Table("controls")
	res := r.EnsureTable(ctx, controls)
	assert.Equal(t, Failed, res.State)
	assert.True(t, IsKind(res.Err, StructuralConflict))
	assert.Contains(t, res.Message, "taken by a view")

	_, isView, err := introspect.ViewDefinition(ctx, db, db.Dialect, "controls")
	require.NoError(t, err)
	assert.True(t, isView)
}

func TestLegacySessionIDBackfill(t *testing.T) {
	r, db, out := newTestRunner(t)
	ctx := context.Background()
	mustExec(t, db, `CREATE TABLE audit_sessions (id TEXT PRIMARY KEY, session_name TEXT)`)
	mustExec(t, db, `INSERT INTO audit_sessions (id, session_name) VALUES ('legacy-1', 'Old session')`)

	report := r.Run(ctx, schema.AuditTarget())
	require.True(t, report.OK(), out.String())
	assert.Equal(t, Applied, report.Step(ColumnStep, "audit_sessions.session_id").State)
	assert.Equal(t, Applied, report.Step(BackfillStep, "legacy_session_id").State)

	var sessionID string
	require.NoError(t, db.QueryRowContext(ctx, `SELECT session_id FROM audit_sessions WHERE id = 'legacy-1'`).Scan(&sessionID))
	assert.Equal(t, "legacy-1", sessionID)

	responses := report.Step(TableStep, "audit_responses")
	assert.Equal(t, Applied, responses.State)
	assert.Contains(t, responses.Message, "without references to audit_sessions.session_id")
	assert.Zero(t, countRows(t, db, `SELECT COUNT(*) FROM pragma_foreign_key_list('audit_responses') WHERE "table" = 'audit_sessions'`))
	assert.Equal(t, 1, countRows(t, db, `SELECT COUNT(*) FROM pragma_foreign_key_list('audit_responses') WHERE "table" = 'controls'`))
}

func TestResetTable(t *testing.T) {
	r, db, _ := newTestRunner(t)
	ctx := context.Background()
	target := schema.AuditTarget()
	target.Seeds = append(target.Seeds, schema.FrameworkMappingSeed())
	require.True(t, r.Run(ctx, target).OK())
	mustExec(t, db, `INSERT INTO controls (control_name) VALUES ('keep me')`)

	controls, _ := target.Table("controls")
	res := r.ResetTable(ctx, controls)
	assert.Equal(t, Failed, res.State)
	assert.True(t, errors.Is(res.Err, ErrNotDisposable))
	assert.Equal(t, 1, countRows(t, db, `SELECT COUNT(*) FROM controls`))

	mapping, _ := target.Table("framework_mapping")
	require.Equal(t, 11, countRows(t, db, `SELECT COUNT(*) FROM framework_mapping`))
	res = r.ResetTable(ctx, mapping)
	assert.Equal(t, Applied, res.State)
	assert.Zero(t, countRows(t, db, `SELECT COUNT(*) FROM framework_mapping`))
}

func TestRecordHistory(t *testing.T) {
	r, _, _ := newTestRunner(t)
	ctx := context.Background()

	runs, err := r.GetRunHistory(ctx, 10, "")
	require.NoError(t, err)
	assert.Empty(t, runs)

	r.RecordHistory = true
	report := r.Run(ctx, schema.AuditTarget())
	require.True(t, report.OK())

	runs, err = r.GetRunHistory(ctx, 10, "")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, report.RunID, runs[0].ID)
	assert.Equal(t, "success", runs[0].Status)
	assert.Equal(t, report.Count(Applied), runs[0].Applied)
	assert.Equal(t, r.TargetChecksum(schema.AuditTarget()), runs[0].Checksum)
	assert.False(t, runs[0].StartedAt.IsZero())

	steps, err := r.GetRunSteps(ctx, report.RunID)
	require.NoError(t, err)
	require.Len(t, steps, len(report.Steps))
	assert.Equal(t, "controls", steps[0].Name)
	assert.Equal(t, string(Applied), steps[0].State)

	failed, err := r.GetRunHistory(ctx, 10, "failed")
	require.NoError(t, err)
	assert.Empty(t, failed)

	last, err := r.LastRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, report.RunID, last.ID)
}

func TestPreviewChangesNothing(t *testing.T) {
	r, db, out := newTestRunner(t)
	ctx := context.Background()

	require.NoError(t, r.Preview(ctx, schema.AuditTarget()))
	assert.Contains(t, out.String(), "DRY RUN")
	assert.Contains(t, out.String(), `CREATE TABLE "controls"`)

	snap, err := introspect.IntrospectDatabase(ctx, db, db.Dialect)
	require.NoError(t, err)
	assert.Empty(t, snap.Tables)

	out.Reset()
	require.True(t, r.Run(ctx, schema.AuditTarget()).OK())
	out.Reset()
	require.NoError(t, r.Preview(ctx, schema.AuditTarget()))
	assert.Contains(t, out.String(), "Nothing to converge")
}

func TestPreviewAfterRunHasNothingPending(t *testing.T) {
	r, db, out := newTestRunner(t)
	ctx := context.Background()
	target := schema.AuditTarget()
	target.Seeds = append(target.Seeds, schema.FrameworkMappingSeed())

	require.True(t, r.Run(ctx, target).OK())
	mustExec(t, db, `INSERT INTO controls (control_name, framework) VALUES ('Risk management', 'EU AI Law: Article 9')`)
	mustExec(t, db, `INSERT INTO audit_responses (session_id, control_id, response) VALUES ('s1', 1, 'Yes'), ('s1', 1, 'Unknown')`)

	out.Reset()
	require.NoError(t, r.Preview(ctx, target))
	assert.Contains(t, out.String(), "DRY RUN")
	assert.Contains(t, out.String(), "response_score")

	require.True(t, r.Run(ctx, target).OK(), out.String())

	ops, _, err := r.Plan(ctx, target)
	require.NoError(t, err)
	for _, op := range ops {
		assert.True(t, op.Satisfied, op.Name())
	}
	out.Reset()
	require.NoError(t, r.Preview(ctx, target))
	assert.Contains(t, out.String(), "Nothing to converge")
	assert.NotContains(t, out.String(), "DRY RUN")
}

func TestStepTransitionsMoveForwardOnly(t *testing.T) {
	s := newStep(TableStep, "controls")
	assert.False(t, s.transition(Unknown))
	assert.True(t, s.transition(Checked))
	assert.False(t, s.transition(Unknown))
	assert.True(t, s.transition(AlreadySatisfied))
	assert.False(t, s.transition(Applied))
	assert.False(t, s.transition(Failed))

	a := newStep(BackfillStep, "score")
	a.transition(Checked)
	a.transition(Applied)
	assert.True(t, a.transition(Failed))
}

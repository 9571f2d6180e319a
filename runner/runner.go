package runner

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ridoystarlord/auditconverge/database"
	"github.com/ridoystarlord/auditconverge/diff"
	"github.com/ridoystarlord/auditconverge/generator"
	"github.com/ridoystarlord/auditconverge/introspect"
	"github.com/ridoystarlord/auditconverge/schema"
)

// Runner converges one database towards a schema.Target.
type Runner struct {
	db      *database.DB
	dialect database.Dialect
	out     *Reporter

	// RecordHistory stores each Run in convergence_runs/convergence_steps.
	RecordHistory bool
}

func New(db *database.DB, out io.Writer) *Runner {
	return &Runner{db: db, dialect: db.Dialect, out: NewReporter(out)}
}

// EnsureTable creates the table when the catalog does not have it. An
// existing table is never altered here.
func (r *Runner) EnsureTable(ctx context.Context, spec schema.TableSpec) *StepResult {
	res := r.ensureTable(ctx, spec)
	r.out.Step(res)
	return res
}

func (r *Runner) ensureTable(ctx context.Context, spec schema.TableSpec) *StepResult {
	res := newStep(TableStep, spec.Name)

	exists, err := introspect.TableExists(ctx, r.db, r.dialect, spec.Name)
	if err != nil {
		return res.fail(CatalogRead, err)
	}
	res.transition(Checked)
	if exists {
		return res.satisfied("already exists")
	}
	if _, isView, err := introspect.ViewDefinition(ctx, r.db, r.dialect, spec.Name); err != nil {
		return res.fail(CatalogRead, err)
	} else if isView {
		return res.fail(StructuralConflict, fmt.Errorf("name %s is taken by a view", spec.Name))
	}

	spec, unkeyed, err := r.withoutUnkeyedReferences(ctx, spec)
	if err != nil {
		return res.fail(CatalogRead, err)
	}

	if _, err := r.db.ExecContext(ctx, generator.CreateTable(r.dialect, spec)); err != nil {
		switch {
		case r.dialect.IsAlreadyExists(err):
			return res.satisfied("already exists (created concurrently)")
		case r.dialect.IsMissingObject(err):
			return res.fail(StructuralConflict, missing("%v", err))
		}
		return res.fail(StructuralConflict, fmt.Errorf("create table: %w", err))
	}
	if len(unkeyed) > 0 {
		return res.applied("created without references to " + strings.Join(unkeyed, ", ") + " (not a key)")
	}
	return res.applied("created")
}

// withoutUnkeyedReferences drops foreign keys into an existing table whose
// referenced column is missing or not its primary key, as on a legacy
// audit_sessions keyed by id. Postgres refuses such references outright.
func (r *Runner) withoutUnkeyedReferences(ctx context.Context, spec schema.TableSpec) (schema.TableSpec, []string, error) {
	var dropped []string
	cols := make([]schema.ColumnSpec, len(spec.Columns))
	copy(cols, spec.Columns)

	for i, col := range cols {
		fk := col.ForeignKey
		if fk == nil {
			continue
		}
		existing, err := introspect.Columns(ctx, r.db, r.dialect, fk.ReferencesTable)
		if err != nil {
			return spec, nil, err
		}
		if len(existing) == 0 {
			// Created by this run with its declared key.
			continue
		}
		keyed := false
		for _, ec := range existing {
			if ec.ColumnName == fk.ReferencesColumn {
				keyed = ec.IsPrimaryKey
			}
		}
		if !keyed {
			cols[i].ForeignKey = nil
			dropped = append(dropped, fk.ReferencesTable+"."+fk.ReferencesColumn)
		}
	}
	spec.Columns = cols
	return spec, dropped, nil
}

// EnsureColumn adds the column when the table lacks it. Existing columns are
// never dropped or retyped.
func (r *Runner) EnsureColumn(ctx context.Context, table string, col schema.ColumnSpec) *StepResult {
	res := r.ensureColumn(ctx, table, col)
	r.out.Step(res)
	return res
}

func (r *Runner) ensureColumn(ctx context.Context, table string, col schema.ColumnSpec) *StepResult {
	res := newStep(ColumnStep, table+"."+col.Name)

	cols, err := introspect.ColumnSet(ctx, r.db, r.dialect, table)
	if err != nil {
		return res.fail(CatalogRead, err)
	}
	res.transition(Checked)
	if len(cols) == 0 {
		return res.fail(StructuralConflict, missing("table %s does not exist", table))
	}
	if cols[col.Name] {
		return res.satisfied("already exists")
	}
	if col.NotNull && (col.Default == nil || !schema.IsConstantDefault(*col.Default)) {
		return res.fail(StructuralConflict, fmt.Errorf("NOT NULL column %s needs a constant default to be added to existing rows", col.Name))
	}

	if _, err := r.db.ExecContext(ctx, generator.AddColumn(r.dialect, table, col)); err != nil {
		switch {
		case r.dialect.IsDuplicateColumn(err):
			return res.satisfied("already exists (added concurrently)")
		case r.dialect.IsMissingObject(err):
			return res.fail(StructuralConflict, missing("%v", err))
		}
		return res.fail(StructuralConflict, fmt.Errorf("add column: %w", err))
	}
	return res.applied("added")
}

// EnsureView drops and recreates the view. When it cannot be created it is
// left absent. A view whose stored definition already matched is reported as
// satisfied.
func (r *Runner) EnsureView(ctx context.Context, view schema.ViewSpec) *StepResult {
	res := r.ensureView(ctx, view)
	r.out.Step(res)
	return res
}

func (r *Runner) ensureView(ctx context.Context, view schema.ViewSpec) *StepResult {
	res := newStep(ViewStep, view.Name)

	for _, dep := range view.DependsOn {
		ok, err := introspect.TableExists(ctx, r.db, r.dialect, dep)
		if err != nil {
			return res.fail(CatalogRead, err)
		}
		if !ok {
			r.dropView(ctx, view.Name)
			return res.fail(StructuralConflict, missing("table %s does not exist", dep))
		}
	}

	stored, found, err := introspect.ViewDefinition(ctx, r.db, r.dialect, view.Name)
	if err != nil {
		return res.fail(CatalogRead, err)
	}
	res.transition(Checked)
	unchanged := found && introspect.ViewMatches(stored, view.Query)

	if _, err := r.db.ExecContext(ctx, generator.DropView(r.dialect, view.Name)); err != nil {
		return res.fail(StructuralConflict, fmt.Errorf("drop view: %w", err))
	}
	if _, err := r.db.ExecContext(ctx, generator.CreateView(r.dialect, view)); err != nil {
		r.dropView(ctx, view.Name)
		if r.dialect.IsMissingObject(err) {
			return res.fail(StructuralConflict, missing("%v", err))
		}
		return res.fail(StructuralConflict, fmt.Errorf("create view: %w", err))
	}

	// Engines that resolve view bodies lazily only fail on first use.
	rows, err := r.db.QueryContext(ctx, generator.ProbeView(r.dialect, view.Name))
	if err == nil {
		err = rows.Close()
	}
	if err != nil {
		r.dropView(ctx, view.Name)
		return res.fail(StructuralConflict, missing("view does not resolve: %v", err))
	}

	if unchanged {
		return res.satisfied("recreated, definition unchanged")
	}
	return res.applied("recreated")
}

func (r *Runner) dropView(ctx context.Context, name string) {
	if _, err := r.db.ExecContext(ctx, generator.DropView(r.dialect, name)); err != nil {
		r.out.Warn("could not drop view %s: %v", name, err)
	}
}

// Backfill runs one rule in its own transaction.
func (r *Runner) Backfill(ctx context.Context, rule schema.BackfillRule) *StepResult {
	res := r.inTx(ctx, newStep(BackfillStep, rule.Name), func(tx *sql.Tx) *StepResult {
		return r.backfill(ctx, tx, rule)
	})
	r.out.Step(res)
	return res
}

func (r *Runner) backfill(ctx context.Context, q database.Querier, rule schema.BackfillRule) *StepResult {
	res := newStep(BackfillStep, rule.Name)

	cols, err := introspect.ColumnSet(ctx, q, r.dialect, rule.Table)
	if err != nil {
		return res.fail(CatalogRead, err)
	}
	res.transition(Checked)
	if len(cols) == 0 {
		return res.fail(StructuralConflict, missing("table %s does not exist", rule.Table))
	}
	if !cols[rule.Column] {
		return res.fail(StructuralConflict, missing("column %s.%s does not exist", rule.Table, rule.Column))
	}
	for _, src := range rule.RequiresColumns {
		if !cols[src] {
			return res.satisfied(fmt.Sprintf("not applicable, %s.%s absent", rule.Table, src))
		}
	}

	result, err := q.ExecContext(ctx, generator.Backfill(r.dialect, rule))
	if err != nil {
		if r.dialect.IsMissingObject(err) {
			return res.fail(StructuralConflict, missing("update %s: %v", rule.Table, err))
		}
		return res.fail(DataMutation, fmt.Errorf("update %s: %w", rule.Table, err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return res.fail(DataMutation, fmt.Errorf("rows affected: %w", err))
	}
	res.RowsAffected = n
	if n == 0 {
		return res.satisfied("0 rows pending")
	}
	return res.applied(fmt.Sprintf("%d row(s) updated", n))
}

// Seed runs one seed rule in its own transaction.
func (r *Runner) Seed(ctx context.Context, rule schema.SeedRule) *StepResult {
	res := r.inTx(ctx, newStep(SeedStep, rule.Name), func(tx *sql.Tx) *StepResult {
		return r.seed(ctx, tx, rule)
	})
	r.out.Step(res)
	return res
}

func (r *Runner) seed(ctx context.Context, q database.Querier, rule schema.SeedRule) *StepResult {
	res := newStep(SeedStep, rule.Name)

	cols, err := introspect.ColumnSet(ctx, q, r.dialect, rule.Table)
	if err != nil {
		return res.fail(CatalogRead, err)
	}
	res.transition(Checked)
	if len(cols) == 0 {
		return res.fail(StructuralConflict, missing("table %s does not exist", rule.Table))
	}
	for _, c := range rule.Columns {
		if !cols[c] {
			return res.fail(StructuralConflict, missing("column %s.%s does not exist", rule.Table, c))
		}
	}

	stmt := generator.Seed(r.dialect, rule)
	var inserted int64
	for i, row := range rule.Rows {
		result, err := q.ExecContext(ctx, stmt, row...)
		if err != nil {
			if r.dialect.IsMissingObject(err) {
				return res.fail(StructuralConflict, missing("insert row %d: %v", i+1, err))
			}
			return res.fail(DataMutation, fmt.Errorf("insert row %d: %w", i+1, err))
		}
		n, err := result.RowsAffected()
		if err != nil {
			return res.fail(DataMutation, fmt.Errorf("rows affected: %w", err))
		}
		inserted += n
	}
	res.RowsAffected = inserted
	if inserted == 0 {
		return res.satisfied(fmt.Sprintf("all %d row(s) present", len(rule.Rows)))
	}
	return res.applied(fmt.Sprintf("%d of %d row(s) inserted", inserted, len(rule.Rows)))
}

// inTx wraps a single data step. Failed steps leave nothing behind.
func (r *Runner) inTx(ctx context.Context, res *StepResult, fn func(tx *sql.Tx) *StepResult) *StepResult {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return res.fail(DataMutation, fmt.Errorf("begin transaction: %w", err))
	}
	out := fn(tx)
	if out.State == Failed {
		if err := tx.Rollback(); err != nil {
			r.out.Warn("rollback %s: %v", out.ID(), err)
		}
		return out
	}
	if err := tx.Commit(); err != nil {
		return out.fail(DataMutation, fmt.Errorf("commit: %w", err))
	}
	return out
}

// ResetTable drops and recreates a disposable table, discarding its rows.
func (r *Runner) ResetTable(ctx context.Context, spec schema.TableSpec) *StepResult {
	res := r.resetTable(ctx, spec)
	r.out.Step(res)
	return res
}

func (r *Runner) resetTable(ctx context.Context, spec schema.TableSpec) *StepResult {
	res := newStep(ResetStep, spec.Name)
	if !spec.Disposable {
		return res.fail(StructuralConflict, fmt.Errorf("%w: %s holds operator data", ErrNotDisposable, spec.Name))
	}
	res.transition(Checked)

	if _, err := r.db.ExecContext(ctx, generator.DropTable(r.dialect, spec.Name)); err != nil {
		return res.fail(StructuralConflict, fmt.Errorf("drop table: %w", err))
	}
	if _, err := r.db.ExecContext(ctx, generator.CreateTable(r.dialect, spec)); err != nil {
		return res.fail(StructuralConflict, fmt.Errorf("create table: %w", err))
	}
	return res.applied("dropped and recreated")
}

// Run converges the database in the fixed order tables, columns, views, then
// data. A failed step never stops independent steps. Backfills and seeds
// share one transaction, committed only if none of them failed to write;
// DDL is not transactional on every engine and is never rolled back.
func (r *Runner) Run(ctx context.Context, target schema.Target) *Report {
	report := &Report{
		RunID:     uuid.NewString(),
		Target:    target.Name,
		StartedAt: time.Now().UTC(),
	}
	r.out.Printf("🔧 Converging %s on %s (%s)\n", target.Name, r.db.Location, r.dialect.Name())

	r.out.Phase("Tables")
	for _, tbl := range target.Tables {
		r.out.Step(report.add(r.ensureTable(ctx, tbl)))
	}

	r.out.Phase("Columns")
	for _, tbl := range target.Tables {
		if s := report.Step(TableStep, tbl.Name); s != nil && s.State == Failed {
			continue
		}
		for _, col := range tbl.Columns {
			r.out.Step(report.add(r.ensureColumn(ctx, tbl.Name, col)))
		}
	}

	if len(target.Views) > 0 {
		r.out.Phase("Views")
		for _, view := range target.Views {
			r.out.Step(report.add(r.ensureView(ctx, view)))
		}
	}

	if len(target.Backfills)+len(target.Seeds) > 0 {
		r.out.Phase("Data")
		r.runDataPhase(ctx, target, report)
	}

	report.Duration = time.Since(report.StartedAt)

	if r.RecordHistory {
		if err := r.RecordRun(ctx, target, report); err != nil {
			r.out.Warn("run history not recorded: %v", err)
		}
	}

	r.out.Summary(report)
	return report
}

type dataStep struct {
	kind StepKind
	name string
	run  func(q database.Querier) *StepResult
}

func (r *Runner) runDataPhase(ctx context.Context, target schema.Target, report *Report) {
	var steps []dataStep
	for _, rule := range target.Backfills {
		steps = append(steps, dataStep{BackfillStep, rule.Name, func(q database.Querier) *StepResult { return r.backfill(ctx, q, rule) }})
	}
	for _, rule := range target.Seeds {
		steps = append(steps, dataStep{SeedStep, rule.Name, func(q database.Querier) *StepResult { return r.seed(ctx, q, rule) }})
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		for _, step := range steps {
			r.out.Step(report.add(newStep(step.kind, step.name).fail(DataMutation, fmt.Errorf("begin transaction: %w", err))))
		}
		return
	}

	var results []*StepResult
	mutationFailed := false
	for i, step := range steps {
		// A savepoint keeps the transaction usable after a failed statement.
		sp := fmt.Sprintf("converge_step_%d", i)
		var res *StepResult
		if _, err := tx.ExecContext(ctx, "SAVEPOINT "+sp); err != nil {
			res = newStep(step.kind, step.name).fail(DataMutation, fmt.Errorf("savepoint: %w", err))
		} else {
			res = step.run(tx)
			r.endSavepoint(ctx, tx, sp, res.State == Failed)
		}
		if IsKind(res.Err, DataMutation) {
			mutationFailed = true
		}
		results = append(results, res)
		r.out.Step(report.add(res))
	}

	if mutationFailed {
		if err := tx.Rollback(); err != nil {
			r.out.Warn("rollback: %v", err)
		}
		report.RolledBack = true
		for _, res := range results {
			if res.State == Applied {
				res.fail(DataMutation, fmt.Errorf("%w: %d row(s) discarded after another data step failed", ErrRolledBack, res.RowsAffected))
				r.out.Step(res)
			}
		}
		return
	}

	if err := tx.Commit(); err != nil {
		report.RolledBack = true
		for _, res := range results {
			if res.State == Applied {
				res.fail(DataMutation, fmt.Errorf("commit: %w", err))
				r.out.Step(res)
			}
		}
	}
}

// endSavepoint rolls back to sp when the step failed and releases it
// otherwise. Errors are only reported; the data phase outcome decides the
// transaction.
func (r *Runner) endSavepoint(ctx context.Context, tx *sql.Tx, sp string, failed bool) {
	if failed {
		if _, err := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+sp); err != nil {
			r.out.Warn("rollback to savepoint %s: %v", sp, err)
		}
		return
	}
	if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+sp); err != nil {
		r.out.Warn("release savepoint %s: %v", sp, err)
	}
}

type previewItem struct {
	op  diff.Operation
	sql []string
}

type preview struct {
	pending   []previewItem
	satisfied int
}

func diffPlan(d database.Dialect, ops []diff.Operation) (preview, error) {
	var p preview
	for _, op := range ops {
		if op.Satisfied {
			p.satisfied++
			continue
		}
		stmts, err := generator.GenerateSQL(d, []diff.Operation{op})
		if err != nil {
			return preview{}, err
		}
		p.pending = append(p.pending, previewItem{op: op, sql: stmts})
	}
	return p, nil
}

// Plan is diff.Plan with backfills and seeds checked against the rows they
// would touch, so an item Run would report as already satisfied is marked
// satisfied here too.
func (r *Runner) Plan(ctx context.Context, target schema.Target) ([]diff.Operation, *introspect.Snapshot, error) {
	snap, err := introspect.IntrospectDatabase(ctx, r.db, r.dialect)
	if err != nil {
		return nil, nil, fmt.Errorf("introspect database: %w", err)
	}
	ops := diff.Plan(target, snap)
	for i := range ops {
		op := &ops[i]
		if op.Satisfied || op.Reason != "" {
			continue
		}
		switch {
		case op.Backfill != nil:
			op.Satisfied = r.backfillDone(ctx, snap, *op.Backfill)
		case op.Seed != nil:
			op.Satisfied = r.seedDone(ctx, snap, *op.Seed)
		}
	}
	return ops, snap, nil
}

// backfillDone reports whether no row matches the rule. Tables that do not
// exist yet are created empty. A count that cannot be taken leaves the rule
// pending.
func (r *Runner) backfillDone(ctx context.Context, snap *introspect.Snapshot, rule schema.BackfillRule) bool {
	if !snap.HasTable(rule.Table) {
		return true
	}
	query := generator.CountPending(r.dialect, rule)
	ready := snap.HasColumn(rule.Table, rule.Column)
	for _, src := range rule.RequiresColumns {
		ready = ready && snap.HasColumn(rule.Table, src)
	}
	if !ready {
		query = generator.CountRows(r.dialect, rule.Table)
	}
	var n int64
	if err := r.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return false
	}
	return n == 0
}

// seedDone reports whether every conflict key of the rule is already stored.
func (r *Runner) seedDone(ctx context.Context, snap *introspect.Snapshot, rule schema.SeedRule) bool {
	if len(rule.Rows) == 0 {
		return true
	}
	if !snap.HasColumn(rule.Table, rule.ConflictColumn) {
		return false
	}
	idx := -1
	for i, c := range rule.Columns {
		if c == rule.ConflictColumn {
			idx = i
		}
	}
	if idx < 0 {
		return false
	}

	seen := map[string]bool{}
	var keys []any
	for _, row := range rule.Rows {
		if idx >= len(row) || row[idx] == nil {
			return false
		}
		k := fmt.Sprintf("%T:%v", row[idx], row[idx])
		if !seen[k] {
			seen[k] = true
			keys = append(keys, row[idx])
		}
	}

	var n int
	if err := r.db.QueryRowContext(ctx, generator.CountSeeded(r.dialect, rule, len(keys)), keys...).Scan(&n); err != nil {
		return false
	}
	return n == len(keys)
}

// Preview prints what Run would do without changing anything.
func (r *Runner) Preview(ctx context.Context, target schema.Target) error {
	ops, snap, err := r.Plan(ctx, target)
	if err != nil {
		return err
	}
	plan, err := diffPlan(r.dialect, ops)
	if err != nil {
		return fmt.Errorf("generate preview: %w", err)
	}

	if len(plan.pending) == 0 {
		r.out.Printf("✅ Nothing to converge, %d item(s) already satisfied.\n", plan.satisfied)
		return nil
	}

	r.out.Printf("\n================ DRY RUN: Convergence Preview ================\n")
	for _, item := range plan.pending {
		r.out.Printf("\n-- %s %s --\n", strings.ToLower(string(item.op.Type)), item.op.Name())
		if item.op.Reason != "" {
			r.out.Warn("%s", item.op.Reason)
		}
		for _, stmt := range item.sql {
			r.out.Printf("%s\n", stmt)
		}
		if item.op.Backfill != nil {
			r.out.Printf("%s\n", r.pendingRows(ctx, snap, *item.op.Backfill))
		}
	}
	r.out.Printf("==============================================================\n")
	r.out.Printf("(Dry run only. %d item(s) pending, %d already satisfied. Nothing was changed.)\n", len(plan.pending), plan.satisfied)
	return nil
}

func (r *Runner) pendingRows(ctx context.Context, snap *introspect.Snapshot, rule schema.BackfillRule) string {
	if !snap.HasColumn(rule.Table, rule.Column) {
		return "-- row count available once the column exists"
	}
	for _, src := range rule.RequiresColumns {
		if !snap.HasColumn(rule.Table, src) {
			return fmt.Sprintf("-- not applicable, %s.%s absent", rule.Table, src)
		}
	}
	var n int64
	if err := r.db.QueryRowContext(ctx, generator.CountPending(r.dialect, rule)).Scan(&n); err != nil {
		return fmt.Sprintf("-- could not count pending rows: %v", err)
	}
	return fmt.Sprintf("-- %d row(s) pending", n)
}

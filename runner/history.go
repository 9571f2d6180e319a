package runner

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os/user"
	"strings"
	"time"

	"github.com/ridoystarlord/auditconverge/generator"
	"github.com/ridoystarlord/auditconverge/introspect"
	"github.com/ridoystarlord/auditconverge/schema"
)

// Fixed-width UTC timestamps sort lexically in started_at.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// RunRecord is one row of convergence_runs.
type RunRecord struct {
	ID         string
	Target     string
	StartedAt  time.Time
	Duration   time.Duration
	ExecutedBy string
	Status     string
	Applied    int
	Satisfied  int
	Failed     int
	Checksum   string
	Driver     string
}

// StepRecord is one row of convergence_steps.
type StepRecord struct {
	RunID        string
	Position     int
	Kind         string
	Name         string
	State        string
	RowsAffected int64
	Message      string
}

var historyTables = []schema.TableSpec{
	{
		Name: "convergence_runs",
		Columns: []schema.ColumnSpec{
			{Name: "id", Type: schema.Text},
			{Name: "target", Type: schema.Text, NotNull: true, Default: schema.Default("''")},
			{Name: "started_at", Type: schema.Text, NotNull: true, Default: schema.Default("''")},
			{Name: "duration_ms", Type: schema.Integer},
			{Name: "executed_by", Type: schema.Text},
			{Name: "status", Type: schema.Text, NotNull: true, Default: schema.Default("'success'")},
			{Name: "applied", Type: schema.Integer, NotNull: true, Default: schema.Default("0")},
			{Name: "satisfied", Type: schema.Integer, NotNull: true, Default: schema.Default("0")},
			{Name: "failed", Type: schema.Integer, NotNull: true, Default: schema.Default("0")},
			{Name: "checksum", Type: schema.Text},
			{Name: "database_driver", Type: schema.Text},
		},
		PrimaryKey: []string{"id"},
	},
	{
		Name: "convergence_steps",
		Columns: []schema.ColumnSpec{
			{Name: "id", Type: schema.Integer, AutoIncrement: true},
			{Name: "run_id", Type: schema.Text, NotNull: true, Default: schema.Default("''"), ForeignKey: &schema.ForeignKey{ReferencesTable: "convergence_runs", ReferencesColumn: "id", OnDelete: "CASCADE"}},
			{Name: "seq", Type: schema.Integer, NotNull: true, Default: schema.Default("0")},
			{Name: "kind", Type: schema.Text, NotNull: true, Default: schema.Default("''")},
			{Name: "name", Type: schema.Text, NotNull: true, Default: schema.Default("''")},
			{Name: "state", Type: schema.Text, NotNull: true, Default: schema.Default("''")},
			{Name: "rows_affected", Type: schema.Integer, NotNull: true, Default: schema.Default("0")},
			{Name: "message", Type: schema.Text},
		},
		PrimaryKey: []string{"id"},
	},
}

func (r *Runner) ensureHistoryTables(ctx context.Context) error {
	for _, tbl := range historyTables {
		if res := r.ensureTable(ctx, tbl); res.State == Failed {
			return res.Err
		}
	}
	return nil
}

func getCurrentUser() string {
	currentUser, err := user.Current()
	if err != nil {
		return "unknown"
	}
	return currentUser.Username
}

func calculateChecksum(content string) string {
	hash := sha256.Sum256([]byte(content))
	return fmt.Sprintf("%x", hash)
}

// TargetChecksum fingerprints the DDL a target renders to on this dialect.
func (r *Runner) TargetChecksum(target schema.Target) string {
	var b strings.Builder
	for _, tbl := range target.Tables {
		b.WriteString(generator.CreateTable(r.dialect, tbl))
		b.WriteString(";\n")
	}
	for _, view := range target.Views {
		b.WriteString(generator.CreateView(r.dialect, view))
		b.WriteString(";\n")
	}
	for _, rule := range target.Backfills {
		b.WriteString(generator.Backfill(r.dialect, rule))
		b.WriteString(";\n")
	}
	return calculateChecksum(b.String())
}

func (r *Runner) placeholders(from, n int) string {
	ps := make([]string, n)
	for i := range ps {
		ps[i] = r.dialect.Placeholder(from + i)
	}
	return strings.Join(ps, ", ")
}

// RecordRun stores a finished report. It runs in its own transaction, after
// the data phase has been committed or rolled back.
func (r *Runner) RecordRun(ctx context.Context, target schema.Target, report *Report) error {
	if err := r.ensureHistoryTables(ctx); err != nil {
		return fmt.Errorf("ensure history tables: %w", err)
	}

	status := "success"
	if !report.OK() {
		status = "failed"
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO convergence_runs (id, target, started_at, duration_ms, executed_by, status, applied, satisfied, failed, checksum, database_driver)
		VALUES (`+r.placeholders(1, 11)+`)`,
		report.RunID,
		report.Target,
		report.StartedAt.UTC().Format(timeLayout),
		report.Duration.Milliseconds(),
		getCurrentUser(),
		status,
		report.Count(Applied),
		report.Count(AlreadySatisfied),
		report.Count(Failed),
		r.TargetChecksum(target),
		r.dialect.Name(),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	stmt := `INSERT INTO convergence_steps (run_id, seq, kind, name, state, rows_affected, message)
		VALUES (` + r.placeholders(1, 7) + `)`
	for i, s := range report.Steps {
		if _, err := tx.ExecContext(ctx, stmt, report.RunID, i+1, string(s.Kind), s.Name, string(s.State), s.RowsAffected, s.Message); err != nil {
			return fmt.Errorf("insert step %s: %w", s.ID(), err)
		}
	}

	return tx.Commit()
}

// GetRunHistory returns the most recent runs first. A database that has never
// recorded a run yields no records.
func (r *Runner) GetRunHistory(ctx context.Context, limit int, statusFilter string) ([]RunRecord, error) {
	exists, err := introspect.TableExists(ctx, r.db, r.dialect, "convergence_runs")
	if err != nil || !exists {
		return nil, err
	}

	query := `
		SELECT id, target, started_at, COALESCE(duration_ms, 0), COALESCE(executed_by, ''),
		       status, applied, satisfied, failed, COALESCE(checksum, ''), COALESCE(database_driver, '')
		FROM convergence_runs
	`

	var args []any
	if statusFilter != "" {
		args = append(args, statusFilter)
		query += " WHERE status = " + r.dialect.Placeholder(len(args))
	}

	query += " ORDER BY started_at DESC"

	if limit > 0 {
		args = append(args, limit)
		query += " LIMIT " + r.dialect.Placeholder(len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query run history: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var (
			rec        RunRecord
			startedAt  string
			durationMS int64
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.Target,
			&startedAt,
			&durationMS,
			&rec.ExecutedBy,
			&rec.Status,
			&rec.Applied,
			&rec.Satisfied,
			&rec.Failed,
			&rec.Checksum,
			&rec.Driver,
		); err != nil {
			return nil, fmt.Errorf("scan run record: %w", err)
		}
		rec.StartedAt, _ = time.Parse(timeLayout, startedAt)
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetRunSteps returns the steps of one run in execution order.
func (r *Runner) GetRunSteps(ctx context.Context, runID string) ([]StepRecord, error) {
	exists, err := introspect.TableExists(ctx, r.db, r.dialect, "convergence_steps")
	if err != nil || !exists {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT run_id, seq, kind, name, state, rows_affected, COALESCE(message, '')
		FROM convergence_steps
		WHERE run_id = `+r.dialect.Placeholder(1)+`
		ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("query run steps: %w", err)
	}
	defer rows.Close()

	var steps []StepRecord
	for rows.Next() {
		var s StepRecord
		if err := rows.Scan(&s.RunID, &s.Position, &s.Kind, &s.Name, &s.State, &s.RowsAffected, &s.Message); err != nil {
			return nil, fmt.Errorf("scan step record: %w", err)
		}
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

// LastRun returns the most recent run, or nil.
func (r *Runner) LastRun(ctx context.Context) (*RunRecord, error) {
	runs, err := r.GetRunHistory(ctx, 1, "")
	if err != nil || len(runs) == 0 {
		return nil, err
	}
	return &runs[0], nil
}

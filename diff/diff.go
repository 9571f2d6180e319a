package diff

import (
	"fmt"

	"github.com/ridoystarlord/auditconverge/introspect"
	"github.com/ridoystarlord/auditconverge/schema"
)

type OperationType string

const (
	CreateTable  OperationType = "CREATE_TABLE"
	AddColumn    OperationType = "ADD_COLUMN"
	RecreateView OperationType = "RECREATE_VIEW"
	Backfill     OperationType = "BACKFILL"
	Seed         OperationType = "SEED"
)

type Operation struct {
	Type      OperationType
	TableName string
	Table     *schema.TableSpec    // for CREATE_TABLE
	Column    *schema.ColumnSpec   // for ADD_COLUMN
	View      *schema.ViewSpec     // for RECREATE_VIEW
	Backfill  *schema.BackfillRule // for BACKFILL
	Seed      *schema.SeedRule     // for SEED

	// Satisfied is set when the catalog already matches; such operations are
	// reported but never executed.
	Satisfied bool
	// Reason explains why an operation is expected to fail, e.g. a missing dependency.
	Reason string
}

// Name identifies the item an operation converges.
func (op Operation) Name() string {
	switch op.Type {
	case AddColumn:
		return op.TableName + "." + op.Column.Name
	case RecreateView:
		return op.View.Name
	case Backfill:
		return op.Backfill.Name
	case Seed:
		return op.Seed.Name
	}
	return op.TableName
}

// Plan compares target with the snapshot and lists one operation per target
// item in execution order: tables, columns, views, backfills, seeds. Columns of
// tables that Plan creates are covered by the CREATE_TABLE operation.
func Plan(target schema.Target, snap *introspect.Snapshot) []Operation {
	var ops []Operation

	// Tables that exist after the structural phase.
	willExist := map[string]bool{}
	for name := range snap.Tables {
		willExist[name] = true
	}

	for i := range target.Tables {
		tbl := &target.Tables[i]
		ops = append(ops, Operation{
			Type:      CreateTable,
			TableName: tbl.Name,
			Table:     tbl,
			Satisfied: snap.HasTable(tbl.Name),
		})
		willExist[tbl.Name] = true
	}

	for i := range target.Tables {
		tbl := &target.Tables[i]
		if !snap.HasTable(tbl.Name) {
			continue
		}
		for j := range tbl.Columns {
			col := &tbl.Columns[j]
			op := Operation{
				Type:      AddColumn,
				TableName: tbl.Name,
				Column:    col,
				Satisfied: snap.HasColumn(tbl.Name, col.Name),
			}
			if !op.Satisfied && col.NotNull && (col.Default == nil || !schema.IsConstantDefault(*col.Default)) {
				op.Reason = "NOT NULL column needs a constant default"
			}
			ops = append(ops, op)
		}
	}

	for i := range target.Views {
		view := &target.Views[i]
		op := Operation{
			Type:      RecreateView,
			TableName: view.Name,
			View:      view,
			Satisfied: introspect.ViewMatches(snap.Views[view.Name], view.Query),
		}
		for _, dep := range view.DependsOn {
			if !willExist[dep] {
				op.Reason = fmt.Sprintf("depends on missing table %s", dep)
				op.Satisfied = false
				break
			}
		}
		ops = append(ops, op)
	}

	// Columns present after the column phase.
	willHave := func(table, column string) bool {
		if snap.HasColumn(table, column) {
			return true
		}
		tbl, ok := target.Table(table)
		if !ok {
			return false
		}
		_, ok = tbl.Column(column)
		return ok
	}

	for i := range target.Backfills {
		rule := &target.Backfills[i]
		op := Operation{Type: Backfill, TableName: rule.Table, Backfill: rule}
		switch {
		case !willExist[rule.Table]:
			op.Reason = fmt.Sprintf("table %s does not exist", rule.Table)
		case !willHave(rule.Table, rule.Column):
			op.Reason = fmt.Sprintf("column %s.%s does not exist", rule.Table, rule.Column)
		default:
			for _, src := range rule.RequiresColumns {
				if !willHave(rule.Table, src) {
					// Not applicable; Run reports it as already satisfied.
					op.Satisfied = true
					break
				}
			}
		}
		ops = append(ops, op)
	}

	for i := range target.Seeds {
		seed := &target.Seeds[i]
		op := Operation{Type: Seed, TableName: seed.Table, Seed: seed}
		if !willExist[seed.Table] {
			op.Reason = fmt.Sprintf("table %s does not exist", seed.Table)
		}
		ops = append(ops, op)
	}

	return ops
}

// Pending drops operations the catalog already satisfies.
func Pending(ops []Operation) []Operation {
	var out []Operation
	for _, op := range ops {
		if !op.Satisfied {
			out = append(out, op)
		}
	}
	return out
}

package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ridoystarlord/auditconverge/diff"
	"github.com/ridoystarlord/auditconverge/generator"
	"github.com/ridoystarlord/auditconverge/runner"
	"github.com/ridoystarlord/auditconverge/schema"
)

var (
	planSQL  bool
	planSeed bool
)

var planCmd = &cobra.Command{
	Use:     "plan",
	Aliases: []string{"diff"},
	Short:   "Show differences between the expected schema and the database",
	Long: `Compare the expected schema with the database catalog and list every
item together with what converge would do to it.

Examples:
  auditconverge plan           # Show differences grouped by phase
  auditconverge plan --sql     # Print the SQL converge would run
  auditconverge plan --seed    # Include the framework_mapping seed
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		target, err := loadTarget()
		if err != nil {
			return err
		}
		if planSeed {
			target.Seeds = append(target.Seeds, schema.FrameworkMappingSeed())
		}

		db, err := openDatabase(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		ops, _, err := runner.New(db, io.Discard).Plan(ctx, target)
		if err != nil {
			return fmt.Errorf("error introspecting database: %w", err)
		}
		pending := diff.Pending(ops)

		if planSQL {
			stmts, err := generator.GenerateSQL(db.Dialect, pending)
			if err != nil {
				return fmt.Errorf("error generating SQL: %w", err)
			}
			for _, stmt := range stmts {
				fmt.Println(stmt + ";")
				fmt.Println()
			}
			return nil
		}

		if len(pending) == 0 {
			fmt.Println("✅ No differences found between schema and database")
			return nil
		}
		showPlan(ops)
		return nil
	},
}

func init() {
	planCmd.Flags().BoolVar(&planSQL, "sql", false, "Print the SQL statements instead of a summary")
	planCmd.Flags().BoolVar(&planSeed, "seed", false, "Include the framework_mapping seed")
}

func showPlan(ops []diff.Operation) {
	green := color.New(color.FgGreen, color.Bold)
	yellow := color.New(color.FgYellow, color.Bold)
	red := color.New(color.FgRed, color.Bold)
	faint := color.New(color.Faint)

	fmt.Println("🌳 Schema Changes")
	fmt.Println(strings.Repeat("=", 50))

	sections := []struct {
		title string
		types []diff.OperationType
	}{
		{"📋 Tables", []diff.OperationType{diff.CreateTable}},
		{"📝 Columns", []diff.OperationType{diff.AddColumn}},
		{"👁️  Views", []diff.OperationType{diff.RecreateView}},
		{"📦 Data", []diff.OperationType{diff.Backfill, diff.Seed}},
	}

	blocked := 0
	for _, section := range sections {
		var inSection []diff.Operation
		for _, op := range ops {
			for _, t := range section.types {
				if op.Type == t {
					inSection = append(inSection, op)
				}
			}
		}
		if len(inSection) == 0 {
			continue
		}

		fmt.Printf("\n%s:\n", section.title)
		for _, op := range inSection {
			switch {
			case op.Satisfied:
				faint.Printf("  ✓ %s\n", op.Name())
			case op.Reason != "":
				blocked++
				red.Printf("  ✗ %s %s", verb(op.Type), op.Name())
				fmt.Printf(" (%s)\n", op.Reason)
			case op.Type == diff.CreateTable || op.Type == diff.AddColumn:
				green.Printf("  ➕ %s %s\n", verb(op.Type), op.Name())
			default:
				yellow.Printf("  🔄 %s %s\n", verb(op.Type), op.Name())
			}
		}
	}

	pending := diff.Pending(ops)
	fmt.Println()
	fmt.Printf("📊 Summary: %d pending, %d satisfied", len(pending), len(ops)-len(pending))
	if blocked > 0 {
		fmt.Printf(", %d expected to fail", blocked)
	}
	fmt.Println()
}

func verb(t diff.OperationType) string {
	switch t {
	case diff.CreateTable:
		return "CREATE"
	case diff.AddColumn:
		return "ADD"
	case diff.RecreateView:
		return "RECREATE"
	case diff.Backfill:
		return "BACKFILL"
	case diff.Seed:
		return "SEED"
	}
	return string(t)
}

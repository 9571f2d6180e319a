package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ridoystarlord/auditconverge/runner"
	"github.com/ridoystarlord/auditconverge/schema"
)

var (
	dryRun    bool
	noHistory bool
	withSeed  bool
)

var convergeCmd = &cobra.Command{
	Use:     "converge",
	Aliases: []string{"migrate"},
	Short:   "Bring the database up to the expected schema",
	Long: `Create missing tables and columns, recreate views and backfill derived
columns. Every item reports whether it was applied, already satisfied or
failed; a failed item never stops the items that do not depend on it.

Backfills and seeds run in one transaction. If any of them fails to write,
all data changes of the run are rolled back.

Examples:
  auditconverge converge               # Converge the database
  auditconverge converge --dry-run     # Show what would change
  auditconverge converge --seed        # Also seed framework_mapping
  auditconverge converge --no-history  # Do not record the run
`,
	RunE: runConverge,
}

func init() {
	registerConvergeFlags(convergeCmd)
}

func registerConvergeFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Preview pending changes without applying them")
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "Do not record the run in convergence_runs")
	cmd.Flags().BoolVar(&withSeed, "seed", false, "Seed the framework_mapping reference rows")
}

func runConverge(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	target, err := loadTarget()
	if err != nil {
		return err
	}
	if withSeed {
		target.Seeds = append(target.Seeds, schema.FrameworkMappingSeed())
	}

	db, err := openDatabase(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	r := runner.New(db, os.Stdout)

	if dryRun {
		if err := r.Preview(ctx, target); err != nil {
			return fmt.Errorf("preview failed: %w", err)
		}
		return nil
	}

	r.RecordHistory = cfg.RecordHistory && !noHistory
	report := r.Run(ctx, target)
	if !report.OK() {
		return fmt.Errorf("%d item(s) failed", report.Count(runner.Failed))
	}
	return nil
}

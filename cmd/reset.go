package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ridoystarlord/auditconverge/runner"
)

var resetConfirmed bool

var resetCmd = &cobra.Command{
	Use:   "reset <table>",
	Short: "Drop and recreate a disposable table",
	Long: `Drop a disposable table and recreate it empty from the expected schema.
Only tables marked disposable (reference data such as framework_mapping)
can be reset; tables that hold operator data are refused.

Examples:
  auditconverge reset framework_mapping --yes
`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		target, err := loadTarget()
		if err != nil {
			return err
		}
		spec, ok := target.Table(args[0])
		if !ok {
			return fmt.Errorf("table %s is not part of schema %s", args[0], target.Name)
		}
		if !spec.Disposable {
			return fmt.Errorf("table %s holds operator data and cannot be reset", spec.Name)
		}
		if !resetConfirmed {
			return fmt.Errorf("this drops every row in %s, re-run with --yes to continue", spec.Name)
		}

		db, err := openDatabase(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		res := runner.New(db, os.Stdout).ResetTable(ctx, spec)
		if res.State == runner.Failed {
			return fmt.Errorf("reset %s failed", spec.Name)
		}
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVarP(&resetConfirmed, "yes", "y", false, "Confirm dropping the table's rows")
}

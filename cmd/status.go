package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ridoystarlord/auditconverge/introspect"
	"github.com/ridoystarlord/auditconverge/runner"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which tables, columns and views are present or missing",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		target, err := loadTarget()
		if err != nil {
			return err
		}

		db, err := openDatabase(ctx)
		if err != nil {
			return fmt.Errorf("status error: %w", err)
		}
		defer db.Close()

		snap, err := introspect.IntrospectDatabase(ctx, db, db.Dialect)
		if err != nil {
			return fmt.Errorf("status error: %w", err)
		}

		fmt.Printf("📍 %s (%s)\n\n", db.Location, db.Dialect.Name())

		fmt.Println("✅ Tables:")
		var missing []string
		for _, tbl := range target.Tables {
			if !snap.HasTable(tbl.Name) {
				missing = append(missing, tbl.Name)
				continue
			}
			var absent []string
			for _, col := range tbl.Columns {
				if !snap.HasColumn(tbl.Name, col.Name) {
					absent = append(absent, col.Name)
				}
			}
			if len(absent) == 0 {
				fmt.Println("   -", tbl.Name)
			} else {
				fmt.Printf("   - %s (missing columns: %v)\n", tbl.Name, absent)
			}
		}

		if len(missing) > 0 {
			fmt.Println("\n🕒 Missing tables:")
			for _, name := range missing {
				fmt.Println("   -", name)
			}
		}

		if len(target.Views) > 0 {
			fmt.Println("\n👁️  Views:")
			for _, v := range target.Views {
				switch {
				case introspect.ViewMatches(snap.Views[v.Name], v.Query):
					fmt.Printf("   - %s\n", v.Name)
				case snap.HasView(v.Name):
					fmt.Printf("   - %s (definition differs)\n", v.Name)
				default:
					fmt.Printf("   - %s (missing)\n", v.Name)
				}
			}
		}

		r := runner.New(db, io.Discard)
		last, err := r.LastRun(ctx)
		if err != nil {
			fmt.Println("\n⚠️  Could not read run history:", err)
			return nil
		}
		if last == nil {
			fmt.Println("\n📋 No convergence runs recorded")
			return nil
		}
		fmt.Printf("\n📋 Last run: %s by %s, %s (%d applied, %d satisfied, %d failed)\n",
			last.StartedAt.Local().Format("2006-01-02 15:04:05"), last.ExecutedBy, last.Status,
			last.Applied, last.Satisfied, last.Failed)
		if last.Target == target.Name && last.Checksum != r.TargetChecksum(target) {
			fmt.Println("   ⚠️  The schema has changed since that run")
		}
		return nil
	},
}

package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ridoystarlord/auditconverge/fixtures"
)

var fixtureCmd = &cobra.Command{
	Use:   "fixture",
	Short: "Write test fixtures used by the audit application",
}

var fixtureSessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Create or refresh the direct test session",
	Long: `Create the audit session with key direct-test-session, or refresh its
filters if it already exists. The session preselects the EU AI Act
framework for high-risk financial services in the EU.

Examples:
  auditconverge fixture session
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		db, err := openDatabase(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		session := fixtures.DirectTestSession(time.Now())
		created, err := fixtures.UpsertSession(ctx, db, db.Dialect, session)
		if err != nil {
			return fmt.Errorf("error writing test session: %w", err)
		}

		if created {
			fmt.Printf("✅ Created test session: %s\n", session.SessionID)
		} else {
			fmt.Printf("✅ Updated test session: %s\n", session.SessionID)
		}
		fmt.Printf("   📁 Framework: %s\n", session.FrameworkFilter)
		fmt.Printf("   🏷️  Category: %s\n", session.CategoryFilter)
		fmt.Printf("   ⚠️  Risk level: %s\n", session.RiskLevelFilter)
		fmt.Printf("   🏦 Sector: %s\n", session.SectorFilter)
		fmt.Printf("   🌍 Region: %s\n", session.RegionFilter)
		return nil
	},
}

func init() {
	fixtureCmd.AddCommand(fixtureSessionCmd)
}

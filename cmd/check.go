package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ridoystarlord/auditconverge/introspect"
)

var checkTimeout time.Duration

var checkCmd = &cobra.Command{
	Use:     "check",
	Aliases: []string{"health"},
	Short:   "Check database connectivity and application settings",
	Long: `Check that the database is reachable and report the settings the audit
application reads from the environment.

This command will:
- Verify database connectivity
- Check if the convergence history table exists
- Report demo mode and whether an insight API key is configured

Examples:
  auditconverge check                    # Check current state
  auditconverge check --timeout 10s      # Set custom timeout
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkDatabase(cmd.Context()); err != nil {
			return fmt.Errorf("database health check failed: %w", err)
		}
		fmt.Println("✅ Database is healthy and accessible")
		return nil
	},
}

func init() {
	checkCmd.Flags().DurationVarP(&checkTimeout, "timeout", "t", 5*time.Second, "Timeout for the check")
}

func checkDatabase(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	fmt.Printf("🔌 Driver: %s\n", cfg.Driver)

	db, err := openDatabase(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	fmt.Printf("📍 Location: %s\n", db.Location)

	if cfg.DemoMode {
		fmt.Println("🧪 Demo mode: on")
	} else {
		fmt.Println("🧪 Demo mode: off")
	}
	if cfg.HasInsightCredential() {
		fmt.Println("🔑 Insight API key: configured")
	} else {
		fmt.Println("⚠️  Insight API key: not set (AI insights are disabled)")
	}

	exists, err := introspect.TableExists(ctx, db, db.Dialect, "convergence_runs")
	if err != nil {
		return fmt.Errorf("failed to check convergence_runs table: %w", err)
	}
	if !exists {
		fmt.Println("⚠️  Database is accessible but no convergence has been recorded")
		fmt.Println("   Run 'auditconverge converge' to bring the schema up to date")
		return nil
	}

	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM convergence_runs").Scan(&count); err != nil {
		return fmt.Errorf("failed to count runs: %w", err)
	}
	fmt.Printf("📊 Found %d recorded convergence runs\n", count)
	return nil
}

package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ridoystarlord/auditconverge/runner"
)

var (
	historyLimit    int
	historyStatus   string
	historyDetailed bool
	historyRun      string
)

var historyCmd = &cobra.Command{
	Use:     "history",
	Aliases: []string{"log"},
	Short:   "Show convergence run history",
	Long: `Show recorded convergence runs with their outcome, duration and user.

Examples:
  auditconverge history                    # Show all runs
  auditconverge history --limit 10         # Show last 10 runs
  auditconverge history --status failed    # Only runs that left failures
  auditconverge history --detailed         # Show detailed information
  auditconverge history --run <id>         # Show every step of one run
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		db, err := openDatabase(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		r := runner.New(db, io.Discard)

		if historyRun != "" {
			steps, err := r.GetRunSteps(ctx, historyRun)
			if err != nil {
				return fmt.Errorf("error getting run steps: %w", err)
			}
			if len(steps) == 0 {
				fmt.Printf("📋 No steps recorded for run %s\n", historyRun)
				return nil
			}
			showRunSteps(historyRun, steps)
			return nil
		}

		history, err := r.GetRunHistory(ctx, historyLimit, historyStatus)
		if err != nil {
			return fmt.Errorf("error getting run history: %w", err)
		}
		if len(history) == 0 {
			fmt.Println("📋 No convergence runs found")
			return nil
		}

		fmt.Println("📋 Convergence History")
		fmt.Println(strings.Repeat("=", 60))
		if historyDetailed {
			showDetailedHistory(history)
		} else {
			showSummaryHistory(history)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 0, "Limit number of records to show (0 = all)")
	historyCmd.Flags().StringVar(&historyStatus, "status", "", "Filter by status (success, failed)")
	historyCmd.Flags().BoolVarP(&historyDetailed, "detailed", "d", false, "Show detailed information")
	historyCmd.Flags().StringVar(&historyRun, "run", "", "Show the steps of one run")
}

func statusMark(status string) string {
	switch status {
	case "success":
		return color.New(color.FgGreen, color.Bold).Sprint("✅")
	case "failed":
		return color.New(color.FgRed, color.Bold).Sprint("❌")
	}
	return color.New(color.FgYellow, color.Bold).Sprint("⚠️")
}

func showDetailedHistory(history []runner.RunRecord) {
	blue := color.New(color.FgBlue, color.Bold)
	cyan := color.New(color.FgCyan)

	for i, record := range history {
		fmt.Printf("\n%d. %s ", i+1, statusMark(record.Status))
		blue.Printf("%s\n", record.Target)

		cyan.Printf("   🆔 Run: %s\n", record.ID)
		cyan.Printf("   📅 Started: %s\n", record.StartedAt.Local().Format("2006-01-02 15:04:05"))
		if record.Duration > 0 {
			cyan.Printf("   ⏱️  Duration: %v\n", record.Duration)
		}
		if record.ExecutedBy != "" {
			cyan.Printf("   👤 User: %s\n", record.ExecutedBy)
		}
		cyan.Printf("   📊 Steps: %d applied, %d satisfied, %d failed\n", record.Applied, record.Satisfied, record.Failed)
		if record.Driver != "" {
			cyan.Printf("   🔌 Driver: %s\n", record.Driver)
		}
		if len(record.Checksum) >= 8 {
			cyan.Printf("   🔍 Checksum: %s\n", record.Checksum[:8]+"...")
		}
	}
}

func showSummaryHistory(history []runner.RunRecord) {
	blue := color.New(color.FgBlue, color.Bold)

	fmt.Printf("%-4s %-8s %-20s %-14s %-12s %-10s %s\n", "#", "Status", "Target", "A/S/F", "Duration", "User", "Date")
	fmt.Println(strings.Repeat("-", 80))

	for i, record := range history {
		duration := "N/A"
		if record.Duration > 0 {
			duration = record.Duration.Round(time.Millisecond).String()
		}
		user := record.ExecutedBy
		if user == "" {
			user = "N/A"
		}
		name := record.Target
		if len(name) > 18 {
			name = name[:15] + "..."
		}

		fmt.Printf("%-4d %-8s %-20s %-14s %-12s %-10s %s\n",
			i+1,
			statusMark(record.Status),
			blue.Sprint(name),
			fmt.Sprintf("%d/%d/%d", record.Applied, record.Satisfied, record.Failed),
			duration,
			user,
			record.StartedAt.Local().Format("2006-01-02 15:04"),
		)
	}

	fmt.Println(strings.Repeat("-", 80))

	successCount, failedCount := 0, 0
	var totalDuration time.Duration
	for _, record := range history {
		switch record.Status {
		case "success":
			successCount++
		case "failed":
			failedCount++
		}
		totalDuration += record.Duration
	}

	fmt.Printf("📊 Summary: %d total, %d successful, %d failed\n", len(history), successCount, failedCount)
	if totalDuration > 0 {
		fmt.Printf("⏱️  Total execution time: %v\n", totalDuration)
	}
}

func showRunSteps(runID string, steps []runner.StepRecord) {
	red := color.New(color.FgRed)
	faint := color.New(color.Faint)

	fmt.Printf("📋 Run %s\n", runID)
	fmt.Println(strings.Repeat("=", 60))
	for _, s := range steps {
		line := fmt.Sprintf("%3d. %-8s %-40s %s", s.Position, s.Kind, s.Name, s.State)
		if s.RowsAffected > 0 {
			line += fmt.Sprintf(" (%d rows)", s.RowsAffected)
		}
		switch runner.State(s.State) {
		case runner.Failed:
			red.Println(line)
			if s.Message != "" {
				red.Printf("      %s\n", s.Message)
			}
		case runner.AlreadySatisfied:
			faint.Println(line)
		default:
			fmt.Println(line)
		}
	}
}

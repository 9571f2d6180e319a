package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ridoystarlord/auditconverge/introspect"
	"github.com/ridoystarlord/auditconverge/schema"
	"github.com/ridoystarlord/auditconverge/validator"
)

var (
	validateFormat  string
	validateOffline bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the schema target for errors and best practices",
	Long: `Validate the expected schema for errors, warnings, and best practices.

This command checks for:
- Invalid table, column and view names
- Duplicate tables and columns
- Invalid data types and default values
- Foreign key and primary key definitions
- Views that read from undeclared tables
- Backfills and seeds that reference missing columns
- Type mismatches against the live database (unless --offline)

Examples:
  auditconverge validate                     # Validate the built-in audit schema
  auditconverge validate -s schema.yaml      # Validate a custom schema
  auditconverge validate --format json       # Output in JSON format
  auditconverge validate --offline           # Skip the database comparison
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := loadTarget()
		if err != nil {
			return err
		}

		result := validator.ValidateTarget(target)
		if !validateOffline {
			result = validateAgainstDatabase(cmd, target, result)
		}

		if err := outputValidationResult(result, validateFormat); err != nil {
			return fmt.Errorf("error outputting results: %w", err)
		}

		if !result.Valid {
			return fmt.Errorf("schema has %d error(s)", len(result.Errors))
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().StringVarP(&validateFormat, "format", "f", "text", "Output format (text, json)")
	validateCmd.Flags().BoolVar(&validateOffline, "offline", false, "Do not compare the schema with the database")
}

// validateAgainstDatabase extends result with catalog findings. An unreachable
// database is reported as info, not as a failure.
func validateAgainstDatabase(cmd *cobra.Command, target schema.Target, result *validator.ValidationResult) *validator.ValidationResult {
	ctx := cmd.Context()
	db, err := openDatabase(ctx)
	if err != nil {
		result.Info = append(result.Info, validator.ValidationError{
			Type:     "database_unavailable",
			Message:  err.Error(),
			Severity: "info",
		})
		return result
	}
	defer db.Close()

	snap, err := introspect.IntrospectDatabase(ctx, db, db.Dialect)
	if err != nil {
		result.Info = append(result.Info, validator.ValidationError{
			Type:     "database_unavailable",
			Message:  err.Error(),
			Severity: "info",
		})
		return result
	}

	return validator.ValidateWithSnapshot(target, snap)
}

func outputValidationResult(result *validator.ValidationResult, format string) error {
	switch format {
	case "json":
		return outputJSON(result)
	case "text":
		return outputText(result)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func outputJSON(result *validator.ValidationResult) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func outputText(result *validator.ValidationResult) error {
	if result.Valid {
		color.Green("✅ Schema validation passed!")
	} else {
		color.Red("❌ Schema validation failed!")
	}

	printFindings("🔴 Errors", result.Errors)
	printFindings("🟡 Warnings", result.Warnings)
	printFindings("🔵 Info", result.Info)

	fmt.Printf("\n📊 Summary:\n")
	fmt.Printf("  • Errors: %d\n", len(result.Errors))
	fmt.Printf("  • Warnings: %d\n", len(result.Warnings))
	fmt.Printf("  • Info: %d\n", len(result.Info))

	if result.Valid {
		fmt.Printf("\n🎉 Your schema is valid and ready to converge!\n")
	} else {
		fmt.Printf("\n💡 Fix the errors above before converging.\n")
	}
	return nil
}

func printFindings(title string, findings []validator.ValidationError) {
	if len(findings) == 0 {
		return
	}
	fmt.Printf("\n%s (%d):\n", title, len(findings))
	for i, f := range findings {
		fmt.Printf("  %d. ", i+1)
		if f.Table != "" {
			fmt.Printf("[%s]", f.Table)
		}
		if f.Column != "" {
			fmt.Printf(".%s", f.Column)
		}
		if f.Item != "" {
			fmt.Printf(" (%s)", f.Item)
		}
		fmt.Printf(": %s\n", f.Message)
	}
}

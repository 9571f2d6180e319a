package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ridoystarlord/auditconverge/config"
	"github.com/ridoystarlord/auditconverge/database"
	"github.com/ridoystarlord/auditconverge/loader"
	"github.com/ridoystarlord/auditconverge/schema"
	"github.com/ridoystarlord/auditconverge/utils"
)

var (
	configFile string
	dbPath     string
	dbDriver   string
	schemaFile string

	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:   "auditconverge",
	Short: "Converge the audit controls database to its expected schema",
	Long: `auditconverge brings the audit controls database up to the schema the
application expects: missing tables and columns are added, views are
recreated and derived columns are backfilled. Running it again is safe.

With no subcommand it converges the database, exactly like 'converge'.

Examples:

  auditconverge
  auditconverge plan
  auditconverge converge --seed
  auditconverge --db other.db status
  auditconverge history --limit 5
`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := utils.LoadEnv(); err != nil {
			return err
		}
		loaded, err := config.Load(configFile)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("db") {
			loaded.DatabasePath = dbPath
		}
		if cmd.Flags().Changed("driver") {
			loaded.Driver = dbDriver
		}
		if cmd.Flags().Changed("schema") {
			loaded.SchemaFile = schemaFile
		}
		if err := loaded.Validate(); err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
	RunE: runConverge,
}

// Execute runs the CLI
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("❌", err)
		os.Exit(1)
	}
}

// Register subcommands
func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML config file (environment variables take precedence)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database file (default audit_controls.db)")
	rootCmd.PersistentFlags().StringVar(&dbDriver, "driver", "", "Database driver: sqlite or postgres")
	rootCmd.PersistentFlags().StringVarP(&schemaFile, "schema", "s", "", "YAML schema target to use instead of the built-in audit schema")
	registerConvergeFlags(rootCmd)

	rootCmd.AddCommand(convergeCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(fixtureCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(docsCmd)
}

func openDatabase(ctx context.Context) (*database.DB, error) {
	db, err := database.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

func loadTarget() (schema.Target, error) {
	if cfg.SchemaFile == "" {
		return schema.AuditTarget(), nil
	}
	target, err := loader.LoadTargetFromYAML(cfg.SchemaFile)
	if err != nil {
		return schema.Target{}, fmt.Errorf("failed to load schema: %w", err)
	}
	return target, nil
}

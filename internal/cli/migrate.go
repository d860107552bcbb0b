package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lherron/hlmigrate/internal/cli/appctx"
	"github.com/lherron/hlmigrate/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run any pending target database migrations",
	Long: `Migrate applies any pending SQL migrations to the target database.

Migrations are embedded in the hlmigrate binary and tracked via the
schema_migrations table. Each migration file is applied exactly once.

Use --dry-run to see which migrations would be applied without running them.
Use --status to show the current migration status.`,
	RunE: appctx.WithApp(appctx.Options{NeedsDB: false}, runMigrate),
}

var (
	migrateDryRun bool
	migrateStatus bool
)

func init() {
	rootCmd.AddCommand(migrateCmd)

	migrateCmd.Flags().BoolVar(&migrateDryRun, "dry-run", false, "Show which migrations would be applied without running them")
	migrateCmd.Flags().BoolVar(&migrateStatus, "status", false, "Show current migration status")
}

func runMigrate(app *appctx.App, cmd *cobra.Command, args []string) error {
	if app.Config.TargetDBPath == "" {
		return exitError(exitUsage, fmt.Errorf("target database path not specified (use --db flag or set HL_TARGET_DB)"))
	}

	database, err := db.Open(app.Config.TargetDBPath)
	if err != nil {
		return exitError(exitFailure, fmt.Errorf("failed to open database: %w", err))
	}
	defer database.Close()

	out := cmd.OutOrStdout()

	if migrateStatus {
		return showMigrationStatus(cmd, database)
	}
	if migrateDryRun {
		return showPendingMigrations(cmd, database)
	}

	applied, err := database.MigrateWithInfo()
	if err != nil {
		return exitError(exitFailure, fmt.Errorf("failed to run migrations: %w", err))
	}

	if len(applied) == 0 {
		fmt.Fprintln(out, "Database is up to date. No migrations to apply.")
		return nil
	}
	for _, m := range applied {
		fmt.Fprintf(out, "✓ Applied migration: %s\n", m)
	}
	fmt.Fprintf(out, "\nApplied %d migration(s).\n", len(applied))
	return nil
}

func showMigrationStatus(cmd *cobra.Command, database *db.DB) error {
	applied, pending, err := database.MigrationStatus()
	if err != nil {
		return exitError(exitFailure, fmt.Errorf("failed to get migration status: %w", err))
	}
	out := cmd.OutOrStdout()

	if len(applied) == 0 && len(pending) == 0 {
		fmt.Fprintln(out, "No migrations found.")
		return nil
	}

	if len(applied) > 0 {
		fmt.Fprintln(out, "Applied migrations:")
		for _, m := range applied {
			fmt.Fprintf(out, "  ✓ %s\n", m)
		}
	}
	if len(pending) > 0 {
		if len(applied) > 0 {
			fmt.Fprintln(out)
		}
		fmt.Fprintln(out, "Pending migrations:")
		for _, m := range pending {
			fmt.Fprintf(out, "  ○ %s\n", m)
		}
	}
	return nil
}

func showPendingMigrations(cmd *cobra.Command, database *db.DB) error {
	_, pending, err := database.MigrationStatus()
	if err != nil {
		return exitError(exitFailure, fmt.Errorf("failed to get migration status: %w", err))
	}
	out := cmd.OutOrStdout()

	if len(pending) == 0 {
		fmt.Fprintln(out, "No pending migrations. Database is up to date.")
		return nil
	}

	fmt.Fprintln(out, "Pending migrations (would be applied):")
	for _, m := range pending {
		fmt.Fprintf(out, "  ○ %s\n", m)
	}
	fmt.Fprintf(out, "\nTotal: %d migration(s) would be applied.\n", len(pending))
	return nil
}

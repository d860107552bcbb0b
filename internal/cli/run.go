package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lherron/hlmigrate/internal/cli/appctx"
	"github.com/lherron/hlmigrate/internal/importer"
	"github.com/lherron/hlmigrate/internal/render"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Import the legacy community into the target database",
	Long: `Run executes every import stage in order: groups, users, memberships,
categories, discussion posts, library entries, attachments, item comments,
announcements, blogs, blog comments and permalinks.

Records already mapped by an earlier run are reported as existing and left
untouched, so an interrupted run can simply be started again.

With --dry-run the target database is copied to a temporary file and every
write goes to the copy. Post content changes are printed as unified diffs.`,
	RunE: appctx.WithApp(appctx.Options{NeedsDB: false}, runRun),
}

var (
	runDryRun bool
	runJSON   bool
	runYAML   bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Write to a temporary copy of the target database")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print the run summary as JSON")
	runCmd.Flags().BoolVar(&runYAML, "yaml", false, "Print the run summary as YAML")
}

func runRun(app *appctx.App, cmd *cobra.Command, args []string) error {
	format, err := render.FormatFromFlags(runJSON, runYAML, false)
	if err != nil {
		return exitError(exitUsage, err)
	}

	cfg := app.Config
	if runDryRun {
		cfg.DryRun = true
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := importer.Output{Progress: cmd.ErrOrStderr()}
	if cfg.DryRun {
		out.Diffs = cmd.OutOrStdout()
	}
	if cfg.Telemetry {
		out.Metrics = cmd.ErrOrStderr()
	}

	summary, runErr := importer.Run(ctx, cfg, app.Log, out)
	if summary != nil {
		r := render.NewRenderer(cmd.OutOrStdout(), render.Options{Format: format})
		if err := r.Render(summary, importer.SummaryHeaders, summary.Rows()); err != nil {
			return exitError(exitFailure, fmt.Errorf("failed to print summary: %w", err))
		}
	}

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			return exitError(exitAborted, fmt.Errorf("run interrupted: %w", runErr))
		}
		return exitError(exitFailure, runErr)
	}

	if failed := summary.Totals().Failed; failed > 0 {
		return exitError(exitRecords, fmt.Errorf("%d record(s) failed; see the event log for details", failed))
	}
	return nil
}

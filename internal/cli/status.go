package cli

import (
	"fmt"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/lherron/hlmigrate/internal/cli/appctx"
	"github.com/lherron/hlmigrate/internal/domain"
	"github.com/lherron/hlmigrate/internal/events"
	"github.com/lherron/hlmigrate/internal/render"
	"github.com/lherron/hlmigrate/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show import progress recorded in the target database",
	Long: `Status prints the number of mapped legacy records per family, the row
counts of the target tables and the outcome of the most recent run.`,
	RunE: appctx.WithApp(appctx.DefaultOptions(), runStatus),
}

var (
	statusJSON bool
	statusYAML bool
	statusTSV  bool
)

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")
	statusCmd.Flags().BoolVar(&statusYAML, "yaml", false, "Output as YAML")
	statusCmd.Flags().BoolVar(&statusTSV, "tsv", false, "Output as TSV")
}

type statusReport struct {
	Mappings map[domain.Family]int `json:"mappings" yaml:"mappings"`
	Entities map[string]int        `json:"entities" yaml:"entities"`
	LastRun  *lastRun              `json:"last_run,omitempty" yaml:"last_run,omitempty"`
}

type lastRun struct {
	ID         string              `json:"id" yaml:"id"`
	StartedAt  string              `json:"started_at" yaml:"started_at"`
	FinishedAt string              `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
	Status     string              `json:"status" yaml:"status"`
	DryRun     bool                `json:"dry_run" yaml:"dry_run"`
	Events     map[events.Type]int `json:"events" yaml:"events"`
}

func runStatus(app *appctx.App, cmd *cobra.Command, args []string) error {
	format, err := render.FormatFromFlags(statusJSON, statusYAML, statusTSV)
	if err != nil {
		return exitError(exitUsage, err)
	}

	report, err := collectStatus(app)
	if err != nil {
		return exitError(exitFailure, err)
	}

	r := render.NewRenderer(cmd.OutOrStdout(), render.Options{Format: format})
	switch format {
	case render.FormatJSON, render.FormatYAML:
		return r.Render(report, nil, nil)
	}

	headers := []string{"KIND", "NAME", "COUNT"}
	if err := r.Render(nil, headers, statusRows(report)); err != nil {
		return err
	}
	if report.LastRun != nil && format == render.FormatTable {
		lr := report.LastRun
		finished := lr.FinishedAt
		if finished == "" {
			finished = "-"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\nLast run %s: %s (started %s, finished %s, dry run %t)\n",
			lr.ID, lr.Status, lr.StartedAt, finished, lr.DryRun)
	}
	return nil
}

func collectStatus(app *appctx.App) (*statusReport, error) {
	st := store.New(app.DB, "")

	mappings, err := st.MappingCounts()
	if err != nil {
		return nil, err
	}
	entities, err := st.EntityCounts()
	if err != nil {
		return nil, err
	}
	report := &statusReport{Mappings: mappings, Entities: entities}

	last, err := events.LastRun(app.DB.DB)
	if err != nil {
		return nil, err
	}
	if last != nil {
		counts, err := events.CountsByType(app.DB.DB, last.ID)
		if err != nil {
			return nil, err
		}
		report.LastRun = &lastRun{
			ID:        last.ID,
			StartedAt: last.StartedAt,
			Status:    last.Status,
			DryRun:    last.DryRun,
			Events:    counts,
		}
		if last.FinishedAt != nil {
			report.LastRun.FinishedAt = *last.FinishedAt
		}
	}
	return report, nil
}

// statusRows flattens the report into KIND/NAME/COUNT rows. Families are
// listed in import order, including those with nothing mapped yet.
func statusRows(report *statusReport) [][]string {
	var rows [][]string
	for _, f := range domain.AllFamilies {
		rows = append(rows, []string{"mapping", string(f), humanize.Comma(int64(report.Mappings[f]))})
	}

	tables := make([]string, 0, len(report.Entities))
	for t := range report.Entities {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	for _, t := range tables {
		rows = append(rows, []string{"table", t, humanize.Comma(int64(report.Entities[t]))})
	}

	if report.LastRun != nil {
		for _, t := range []events.Type{events.Created, events.Existed, events.Skipped, events.Warning, events.Failed} {
			rows = append(rows, []string{"event", string(t), humanize.Comma(int64(report.LastRun.Events[t]))})
		}
	}
	return rows
}

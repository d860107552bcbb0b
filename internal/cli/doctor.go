package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/lherron/hlmigrate/internal/attach"
	"github.com/lherron/hlmigrate/internal/cli/appctx"
	"github.com/lherron/hlmigrate/internal/db"
	"github.com/lherron/hlmigrate/internal/domain"
	"github.com/lherron/hlmigrate/internal/render"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check target database health",
	Long: `Performs health checks on the target database, its schema, the import
mappings, topic post numbering and the uploads directory.

With --fix, topic counters are reset to match their posts and upload files
that no upload row references are removed.`,
	RunE: appctx.WithApp(appctx.Options{NeedsDB: false}, runDoctor),
}

var (
	doctorJSON    bool
	doctorFix     bool
	doctorVerbose bool
)

type checkResult struct {
	Name    string   `json:"name"`
	Status  string   `json:"status"` // "ok", "warning", "error"
	Message string   `json:"message,omitempty"`
	Details []string `json:"details,omitempty"`
}

type doctorReport struct {
	Version       string        `json:"version"`
	DBPath        string        `json:"db_path"`
	Checks        []checkResult `json:"checks"`
	Fixes         []string      `json:"fixes,omitempty"`
	Warnings      int           `json:"warnings"`
	Errors        int           `json:"errors"`
	OverallStatus string        `json:"overall_status"`
}

// requiredTables must exist once migrations have run.
var requiredTables = []string{
	"users", "groups", "group_users", "categories", "topics", "posts",
	"uploads", "post_uploads", "permalinks",
	"import_mappings", "import_runs", "import_events",
}

// mappingTables names the target table each family's mappings point into.
var mappingTables = map[domain.Family]string{
	domain.FamilyUser:             "users",
	domain.FamilyGroup:            "groups",
	domain.FamilyCategory:         "categories",
	domain.FamilyDiscussionPost:   "posts",
	domain.FamilyLibraryEntry:     "posts",
	domain.FamilyItemComment:      "posts",
	domain.FamilyAnnouncement:     "posts",
	domain.FamilyBlog:             "posts",
	domain.FamilyLibraryEntryFile: "uploads",
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().BoolVar(&doctorJSON, "json", false, "Output JSON")
	doctorCmd.Flags().BoolVar(&doctorFix, "fix", false, "Auto-repair issues")
	doctorCmd.Flags().BoolVar(&doctorVerbose, "verbose", false, "Verbose output")
}

func runDoctor(app *appctx.App, cmd *cobra.Command, args []string) error {
	cfg := app.Config
	report := &doctorReport{
		Version:       Version,
		DBPath:        cfg.TargetDBPath,
		Checks:        []checkResult{},
		OverallStatus: "ok",
	}

	report.Checks = append(report.Checks, checkDatabaseFile(cfg.TargetDBPath)...)

	var database *db.DB
	if report.Checks[0].Status != "error" {
		var err error
		database, err = db.Open(cfg.TargetDBPath)
		if err != nil {
			report.Checks = append(report.Checks, checkResult{
				Name:    "database_open",
				Status:  "error",
				Message: fmt.Sprintf("Failed to open database: %v", err),
			})
		} else {
			defer database.Close()
		}
	}

	schemaOK := false
	if database != nil {
		report.Checks = append(report.Checks, checkDatabasePragmas(database)...)
		schema := checkSchema(database)
		report.Checks = append(report.Checks, schema...)
		schemaOK = schema[0].Status == "ok"
	}
	if schemaOK {
		report.Checks = append(report.Checks, checkMappings(database)...)
		report.Checks = append(report.Checks, checkNumbering(database)...)
		report.Checks = append(report.Checks, checkUploads(database, cfg.UploadsDir)...)
		report.Checks = append(report.Checks, checkSize(database)...)
	}

	for _, check := range report.Checks {
		if check.Status == "warning" {
			report.Warnings++
		} else if check.Status == "error" {
			report.Errors++
			report.OverallStatus = "error"
		}
	}
	if report.Warnings > 0 && report.OverallStatus == "ok" {
		report.OverallStatus = "warning"
	}

	if doctorFix && schemaOK {
		report.Fixes = applyFixes(database, cfg.UploadsDir)
	}

	if doctorJSON {
		if err := render.NewRenderer(cmd.OutOrStdout(), render.Options{Format: render.FormatJSON}).RenderJSON(report); err != nil {
			return err
		}
	} else {
		printHumanReport(cmd.OutOrStdout(), report)
	}

	if report.Errors > 0 && !doctorFix {
		return exitError(exitFailure, fmt.Errorf("doctor found %d error(s)", report.Errors))
	}
	return nil
}

func checkDatabaseFile(dbPath string) []checkResult {
	var results []checkResult

	info, err := os.Stat(dbPath)
	if err != nil {
		results = append(results, checkResult{
			Name:    "db_file_exists",
			Status:  "error",
			Message: fmt.Sprintf("Database file not found: %s", dbPath),
			Details: []string{"Run 'hlmigrate migrate' to create it"},
		})
		return results
	}

	results = append(results, checkResult{
		Name:    "db_file_exists",
		Status:  "ok",
		Message: fmt.Sprintf("Database file: %s (%s)", dbPath, humanize.Bytes(uint64(info.Size()))),
	})

	f, err := os.OpenFile(dbPath, os.O_RDWR, 0)
	if err != nil {
		results = append(results, checkResult{
			Name:    "db_file_permissions",
			Status:  "error",
			Message: fmt.Sprintf("Database file not writable: %v", err),
		})
	} else {
		f.Close()
		results = append(results, checkResult{
			Name:    "db_file_permissions",
			Status:  "ok",
			Message: "Database file is readable and writable",
		})
	}

	return results
}

func checkDatabasePragmas(database *db.DB) []checkResult {
	var results []checkResult

	var journalMode string
	database.QueryRow("PRAGMA journal_mode").Scan(&journalMode)
	if journalMode == "wal" {
		results = append(results, checkResult{Name: "wal_mode", Status: "ok", Message: "WAL mode enabled"})
	} else {
		results = append(results, checkResult{
			Name:    "wal_mode",
			Status:  "warning",
			Message: fmt.Sprintf("WAL mode not enabled (current: %s)", journalMode),
		})
	}

	var foreignKeys int
	database.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys)
	if foreignKeys == 1 {
		results = append(results, checkResult{Name: "foreign_keys", Status: "ok", Message: "Foreign keys enabled"})
	} else {
		results = append(results, checkResult{
			Name:    "foreign_keys",
			Status:  "error",
			Message: "Foreign keys not enabled",
		})
	}

	var integrity string
	database.QueryRow("PRAGMA integrity_check").Scan(&integrity)
	if integrity == "ok" {
		results = append(results, checkResult{Name: "integrity_check", Status: "ok", Message: "Database integrity check passed"})
	} else {
		results = append(results, checkResult{
			Name:    "integrity_check",
			Status:  "error",
			Message: fmt.Sprintf("Database integrity check failed: %s", integrity),
			Details: []string{"Database may be corrupted", "Restore from backup recommended"},
		})
	}

	return results
}

func checkSchema(database *db.DB) []checkResult {
	var missing []string
	for _, table := range requiredTables {
		var count int
		err := database.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		if err != nil || count == 0 {
			missing = append(missing, table)
		}
	}

	if len(missing) > 0 {
		return []checkResult{{
			Name:    "schema_tables",
			Status:  "error",
			Message: fmt.Sprintf("Missing tables: %s", strings.Join(missing, ", ")),
			Details: []string{"Run 'hlmigrate migrate' to create missing tables"},
		}}
	}

	results := []checkResult{{
		Name:    "schema_tables",
		Status:  "ok",
		Message: fmt.Sprintf("All required tables present (%d/%d)", len(requiredTables), len(requiredTables)),
	}}

	if _, pending, err := database.MigrationStatus(); err == nil && len(pending) > 0 {
		results = append(results, checkResult{
			Name:    "pending_migrations",
			Status:  "warning",
			Message: fmt.Sprintf("%d pending migration(s)", len(pending)),
			Details: pending,
		})
	}
	return results
}

// checkMappings reports mappings whose target row no longer exists. A
// dangling mapping makes the next run treat the record as already imported.
func checkMappings(database *db.DB) []checkResult {
	var details []string
	for _, family := range domain.AllFamilies {
		table := mappingTables[family]
		var n int
		err := database.QueryRow(fmt.Sprintf(`
			SELECT COUNT(*) FROM import_mappings m
			WHERE m.family = ? AND NOT EXISTS (SELECT 1 FROM %s t WHERE t.id = m.target_id)
		`, table), string(family)).Scan(&n)
		if err != nil {
			return []checkResult{{
				Name:    "dangling_mappings",
				Status:  "error",
				Message: fmt.Sprintf("Failed to check mappings: %v", err),
			}}
		}
		if n > 0 {
			details = append(details, fmt.Sprintf("%s: %d mapping(s) point at missing %s rows", family, n, table))
		}
	}

	if len(details) == 0 {
		return []checkResult{{Name: "dangling_mappings", Status: "ok", Message: "Every mapping points at an existing row"}}
	}
	return []checkResult{{
		Name:    "dangling_mappings",
		Status:  "error",
		Message: fmt.Sprintf("Dangling mappings in %d famil(ies)", len(details)),
		Details: details,
	}}
}

func checkNumbering(database *db.DB) []checkResult {
	drifts, err := db.NumberingDrifts(database)
	if err != nil {
		return []checkResult{{
			Name:    "topic_numbering",
			Status:  "error",
			Message: fmt.Sprintf("Failed to check topic numbering: %v", err),
		}}
	}
	if len(drifts) == 0 {
		return []checkResult{{Name: "topic_numbering", Status: "ok", Message: "Topic post counters match their posts"}}
	}

	details := make([]string, 0, len(drifts))
	for _, d := range drifts {
		details = append(details, fmt.Sprintf("topic %d: highest_post_number=%d max_post_number=%d posts_count=%d actual=%d",
			d.TopicID, d.HighestPostNumber, d.MaxPostNumber, d.PostsCount, d.ActualPosts))
	}
	return []checkResult{{
		Name:    "topic_numbering",
		Status:  "error",
		Message: fmt.Sprintf("Topic counters drifted for %d topic(s)", len(drifts)),
		Details: append(details, "Use --fix to reset counters"),
	}}
}

func checkUploads(database *db.DB, uploadsDir string) []checkResult {
	var results []checkResult

	info, err := os.Stat(uploadsDir)
	if err != nil || !info.IsDir() {
		var count int
		database.QueryRow("SELECT COUNT(*) FROM uploads").Scan(&count)
		status := "warning"
		if count > 0 {
			status = "error"
		}
		return append(results, checkResult{
			Name:    "uploads_dir_exists",
			Status:  status,
			Message: fmt.Sprintf("Uploads directory not found: %s (%d upload rows)", uploadsDir, count),
		})
	}
	results = append(results, checkResult{
		Name:    "uploads_dir_exists",
		Status:  "ok",
		Message: fmt.Sprintf("Uploads directory: %s", uploadsDir),
	})

	referenced, total, err := uploadFiles(database)
	if err != nil {
		return append(results, checkResult{
			Name:    "uploads_count",
			Status:  "error",
			Message: fmt.Sprintf("Failed to read uploads: %v", err),
		})
	}
	results = append(results, checkResult{
		Name:    "uploads_count",
		Status:  "ok",
		Message: fmt.Sprintf("%s uploads (%s total)", humanize.Comma(int64(len(referenced))), humanize.Bytes(uint64(total))),
	})

	var missing []string
	for rel := range referenced {
		if _, err := os.Stat(attach.AbsolutePath(uploadsDir, rel)); err != nil {
			missing = append(missing, rel)
		}
	}
	if len(missing) == 0 {
		results = append(results, checkResult{Name: "missing_files", Status: "ok", Message: "Every upload has its file"})
	} else {
		results = append(results, checkResult{
			Name:    "missing_files",
			Status:  "error",
			Message: fmt.Sprintf("%d upload(s) have no file on disk", len(missing)),
			Details: missing,
		})
	}

	orphans := orphanedUploadFiles(uploadsDir, referenced)
	if len(orphans) == 0 {
		results = append(results, checkResult{Name: "orphaned_files", Status: "ok", Message: "No orphaned upload files"})
	} else {
		results = append(results, checkResult{
			Name:    "orphaned_files",
			Status:  "warning",
			Message: fmt.Sprintf("%d orphaned upload file(s)", len(orphans)),
			Details: append(orphans, "Use --fix to remove orphaned files"),
		})
	}

	return results
}

// uploadFiles returns the stored relative path of every upload row and the
// summed file size.
func uploadFiles(database *db.DB) (map[string]bool, int64, error) {
	rows, err := database.Query("SELECT url, filesize FROM uploads")
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := map[string]bool{}
	var total int64
	for rows.Next() {
		var url string
		var size int64
		if err := rows.Scan(&url, &size); err != nil {
			return nil, 0, err
		}
		out[strings.TrimPrefix(url, attach.URL(""))] = true
		total += size
	}
	return out, total, rows.Err()
}

// orphanedUploadFiles lists files under uploads_dir/original that no upload
// row references, as paths relative to uploadsDir.
func orphanedUploadFiles(uploadsDir string, referenced map[string]bool) []string {
	var orphans []string
	entries, err := os.ReadDir(filepath.Join(uploadsDir, "original"))
	if err != nil {
		return nil
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		rel := "original/" + e.Name()
		if !referenced[rel] {
			orphans = append(orphans, rel)
		}
	}
	return orphans
}

func checkSize(database *db.DB) []checkResult {
	var pageCount, pageSize int64
	database.QueryRow("PRAGMA page_count").Scan(&pageCount)
	database.QueryRow("PRAGMA page_size").Scan(&pageSize)

	var topics, posts int
	database.QueryRow("SELECT COUNT(*) FROM topics").Scan(&topics)
	database.QueryRow("SELECT COUNT(*) FROM posts").Scan(&posts)

	return []checkResult{
		{
			Name:    "content_counts",
			Status:  "ok",
			Message: fmt.Sprintf("%s topics, %s posts", humanize.Comma(int64(topics)), humanize.Comma(int64(posts))),
		},
		{
			Name:    "database_size",
			Status:  "ok",
			Message: fmt.Sprintf("Database size: %s (%d pages)", humanize.Bytes(uint64(pageCount*pageSize)), pageCount),
		},
	}
}

func applyFixes(database *db.DB, uploadsDir string) []string {
	var outputs []string

	if drifts, err := db.FixNumberingDrifts(database); err != nil {
		outputs = append(outputs, fmt.Sprintf("Topic counter repair failed: %v", err))
	} else if len(drifts) > 0 {
		outputs = append(outputs, fmt.Sprintf("Reset counters for %d topic(s)", len(drifts)))
	} else {
		outputs = append(outputs, "No topic counter drift detected")
	}

	referenced, _, err := uploadFiles(database)
	if err != nil {
		return append(outputs, fmt.Sprintf("Orphan cleanup failed: %v", err))
	}
	removed := 0
	for _, rel := range orphanedUploadFiles(uploadsDir, referenced) {
		if err := attach.DeleteFile(uploadsDir, rel); err != nil {
			outputs = append(outputs, fmt.Sprintf("Failed to remove %s: %v", rel, err))
			continue
		}
		removed++
	}
	if removed > 0 {
		outputs = append(outputs, fmt.Sprintf("Removed %d orphaned upload file(s)", removed))
	}

	return outputs
}

func printHumanReport(w io.Writer, report *doctorReport) {
	fmt.Fprintf(w, "hlmigrate doctor %s\n\n", report.Version)
	fmt.Fprintf(w, "Database: %s\n\n", report.DBPath)

	categories := map[string][]checkResult{}
	for _, check := range report.Checks {
		var category string
		switch check.Name {
		case "db_file_exists", "db_file_permissions", "database_open":
			category = "Database File"
		case "wal_mode", "foreign_keys", "integrity_check":
			category = "Database Health"
		case "schema_tables", "pending_migrations":
			category = "Schema"
		case "dangling_mappings", "topic_numbering":
			category = "Import Integrity"
		case "uploads_dir_exists", "uploads_count", "missing_files", "orphaned_files":
			category = "Uploads"
		default:
			category = "Size"
		}
		categories[category] = append(categories[category], check)
	}

	for _, category := range []string{"Database File", "Database Health", "Schema", "Import Integrity", "Uploads", "Size"} {
		checks := categories[category]
		if len(checks) == 0 {
			continue
		}

		fmt.Fprintf(w, "%s\n", category)
		for _, check := range checks {
			icon := "✓"
			if check.Status == "warning" {
				icon = "⚠"
			} else if check.Status == "error" {
				icon = "✗"
			}
			fmt.Fprintf(w, "  %s %s\n", icon, check.Message)

			if doctorVerbose {
				for _, detail := range check.Details {
					fmt.Fprintf(w, "      %s\n", detail)
				}
			}
		}
		fmt.Fprintln(w)
	}

	if report.Errors > 0 {
		fmt.Fprintf(w, "Summary: %d error(s), %d warning(s)\n", report.Errors, report.Warnings)
	} else if report.Warnings > 0 {
		fmt.Fprintf(w, "Summary: %d warning(s)\n", report.Warnings)
	} else {
		fmt.Fprintf(w, "Summary: All checks passed ✓\n")
	}

	if len(report.Fixes) > 0 {
		fmt.Fprintln(w, "\n--fix results")
		fmt.Fprintln(w, strings.Join(report.Fixes, "\n"))
	}

	if !doctorVerbose && (report.Warnings > 0 || report.Errors > 0) {
		fmt.Fprintf(w, "\nRun with --verbose for detailed information\n")
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/raffis/importer/internal/listener/audit"
	"github.com/raffis/importer/internal/listener/security"
	"github.com/raffis/importer/internal/listener/telemetry"
	"github.com/raffis/importer/internal/lock"
	"github.com/raffis/importer/internal/report"
	"github.com/raffis/importer/internal/store"
	"github.com/raffis/importer/internal/styles"
	"github.com/raffis/importer/pkg/importer"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run <pipeline>...",
	Short: "Import the given pipelines and their required pipelines",
	Args:  cobra.MinimumNArgs(1),
}

type runFlags struct {
	dbPath            string `env:"DB_PATH"`
	startAt           string `env:"START_AT"`
	sinceLast         bool   `env:"SINCE_LAST"`
	username          string `env:"USERNAME"`
	organization      string `env:"ORGANIZATION"`
	autoCommit        bool   `env:"AUTO_COMMIT"`
	noStopOnError     bool   `env:"NO_STOP_ON_ERROR"`
	logResourceErrors bool   `env:"LOG_RESOURCE_ERRORS"`
	directory         string `env:"DIRECTORY"`
	profile           string `env:"PROFILE"`
	report            string `env:"REPORT"`
	reportOutput      string `env:"REPORT_OUTPUT"`
	lockOptions       *lock.Options
}

var runArgs = newRunFlags()

func newRunFlags() runFlags {
	return runFlags{
		lockOptions: lock.DefaultOptions(),
	}
}

func init() {
	// Assigned here rather than in the literal to break the
	// runCmd -> runRun -> debugProfile -> runCmd initialization cycle.
	runCmd.RunE = runRun

	runCmd.Flags().StringVarP(&runArgs.dbPath, "db-path", "", defaultDataPath("records.db"), "Path to the sqlite record store the pipelines load into.")
	runCmd.Flags().StringVarP(&runArgs.startAt, "start-at", "S", "", "Only import records changed since the given RFC3339 date. Ignored by pipelines which are not incremental.")
	runCmd.Flags().BoolVarP(&runArgs.sinceLast, "since-last", "", false, "Use the start of the last successful run as --start-at. Only applies if a single pipeline is given.")
	runCmd.Flags().StringVarP(&runArgs.username, "username", "U", "", "Import on behalf of the given user.")
	runCmd.Flags().StringVarP(&runArgs.organization, "organization", "O", "", "Import on behalf of the given organization.")
	runCmd.Flags().BoolVarP(&runArgs.autoCommit, "auto-commit", "A", false, "Store every valid record on its own instead of one transaction per batch.")
	runCmd.Flags().BoolVarP(&runArgs.noStopOnError, "no-stop-on-error", "", false, "Run pipelines even if one of their required pipelines failed.")
	runCmd.Flags().BoolVarP(&runArgs.logResourceErrors, "log-resource-errors", "", true, "Log the violations of every invalid record.")
	runCmd.Flags().StringVarP(&runArgs.directory, "directory", "", "", "Path to a yaml user directory. If set, the user and organization of a run are authenticated against it.")
	runCmd.Flags().StringVarP(&runArgs.profile, "profile", "p", electDefaultProfile().String(), "Set of defaults for the environment. One of [none, debug, github-actions].")
	runCmd.Flags().StringVarP(&runArgs.report, "report", "r", reportTypeNone.String(), "Report summary of the pipeline runs at the end of execution. One of [none, table, json, markdown].")
	runCmd.Flags().StringVarP(&runArgs.reportOutput, "report-output", "", electDefaultReportOutput(), "Destination for the report output.")
	runArgs.lockOptions.BindFlags(runCmd.Flags())

	rootCmd.AddCommand(runCmd)
}

type reportType string

var (
	reportTypeNone     reportType = "none"
	reportTypeTable    reportType = "table"
	reportTypeJSON     reportType = "json"
	reportTypeMarkdown reportType = "markdown"
)

func (d reportType) String() string {
	return string(d)
}

type runProfile string

var (
	runProfileNone          runProfile = "none"
	runProfileDebug         runProfile = "debug"
	runProfileGithubActions runProfile = "github-actions"
)

func (d runProfile) String() string {
	return string(d)
}

func electDefaultProfile() runProfile {
	if os.Getenv("GITHUB_ACTIONS") == "true" {
		return runProfileGithubActions
	}

	return runProfileNone
}

func electDefaultReportOutput() string {
	return os.Stdout.Name()
}

func (f *runFlags) applyProfile() error {
	switch runProfile(f.profile) {
	case runProfileNone:
		return nil
	case runProfileDebug:
		return f.debugProfile()
	case runProfileGithubActions:
		return f.githubActionsProfile()
	default:
		return fmt.Errorf("invalid profile given: %s", f.profile)
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	if err := runArgs.applyProfile(); err != nil {
		return err
	}

	startAt, err := parseStartAt(runArgs.startAt)
	if err != nil {
		return err
	}

	pipelines, err := loadPipelines(ctx)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(runArgs.dbPath), 0750); err != nil {
		return err
	}

	records, err := store.Open(ctx, runArgs.dbPath, store.WithLogger(logger))
	if err != nil {
		return err
	}

	defer records.Close()

	locker, err := runArgs.lockOptions.Build(logger)
	if err != nil {
		return err
	}

	if closer, ok := locker.(io.Closer); ok {
		defer closer.Close()
	}

	auditStore, closeAudit, err := openAudit(ctx)
	if err != nil {
		return err
	}

	defer closeAudit()

	bus := importer.NewEventBus()
	if err := subscribeListeners(bus, auditStore); err != nil {
		return err
	}

	var resultStore *report.Store
	if runArgs.report != reportTypeNone.String() {
		resultStore = report.NewStore()
		resultStore.Subscribe(bus, -10)
	}

	manager := importer.NewManager(
		importer.WithLogger(logger),
		importer.WithLocker(locker),
		importer.WithDomainManager(records),
		importer.WithDispatcher(bus),
		importer.WithLogResourceErrors(runArgs.logResourceErrors),
		importer.WithPipelines(pipelines...),
	)

	if startAt == nil && runArgs.sinceLast && len(args) == 1 {
		startAt, err = auditStore.LastImportDate(ctx, args[0])
		if err != nil {
			return err
		}

		logger.V(1).Info("use last import date", "importer_pipeline", args[0], "start_at", startAt)
	}

	color := !rootArgs.noColor
	results, err := manager.Imports(ctx,
		importer.Names(args...),
		importer.NewContext(runArgs.username, runArgs.organization, startAt, runArgs.autoCommit),
		importer.WithStopOnError(!runArgs.noStopOnError),
		importer.WithPostCallback(func(result importer.Result, _ []importer.Pipeline) {
			printResult(cmd.ErrOrStderr(), result, color)
		}),
	)

	if err != nil {
		return err
	}

	if resultStore != nil {
		resultStore.AddResults(results)
		if err := writeReport(resultStore.Ordered(), color); err != nil {
			return err
		}
	}

	if !results.Success() {
		return errFailed
	}

	return nil
}

func parseStartAt(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("invalid --start-at given, expected RFC3339: %w", err)
	}

	return &t, nil
}

func openAudit(ctx context.Context) (*audit.Store, func() error, error) {
	if err := os.MkdirAll(filepath.Dir(rootArgs.auditDBPath), 0750); err != nil {
		return nil, nil, err
	}

	db, err := audit.Open(rootArgs.auditDBPath, logger)
	if err != nil {
		return nil, nil, err
	}

	if err := audit.Migrate(ctx, db); err != nil {
		return nil, nil, errors.Join(err, db.Close())
	}

	return audit.NewStore(db, audit.WithLogger(logger)), db.Close, nil
}

func subscribeListeners(bus *importer.EventBus, auditStore *audit.Store) error {
	if runArgs.directory != "" {
		directory, err := security.LoadDirectory(runArgs.directory)
		if err != nil {
			return err
		}

		security.NewListener(directory, &security.Session{}, security.WithLogger(logger)).Subscribe(bus, 100)
	}

	auditStore.Subscribe(bus, 0)

	telemetryListener, err := telemetry.NewListener(
		providers.Tracer.Tracer(telemetry.Name),
		providers.Meter.Meter(telemetry.Name),
		telemetry.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	telemetryListener.Subscribe(bus, 0)
	return nil
}

func printResult(w io.Writer, result importer.Result, color bool) {
	name := result.PipelineName()

	switch {
	case result.Skipped() && result.SkipReason() == importer.SkipLocked:
		fmt.Fprintln(w, styles.Plain(styles.Note, color).Render(fmt.Sprintf("Note: pipeline %q is already being imported, skipped", name)))
	case result.Skipped():
		fmt.Fprintln(w, styles.Plain(styles.Error, color).Render(fmt.Sprintf("Error: pipeline %q was skipped because a required pipeline failed", name)))
	case result.Success():
		fmt.Fprintln(w, styles.Plain(styles.Ok, color).Render(fmt.Sprintf("Pipeline %q imported in %s", name, result.Duration().Round(time.Millisecond))))
	default:
		fmt.Fprintln(w, styles.Plain(styles.Failed, color).Render(fmt.Sprintf("Error: pipeline %q finished with %d errors", name, result.ErrorCount())))
	}
}

func writeReport(entries []report.Entry, color bool) error {
	outputPath := runArgs.reportOutput
	output := os.Stdout

	if outputPath != "/dev/stdout" && outputPath != "" {
		var err error
		output, err = os.OpenFile(outputPath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0640)
		if err != nil {
			return err
		}

		defer output.Close()
		color = false
	}

	return printReport(output, runArgs.report, entries, color)
}

func printReport(w io.Writer, kind string, entries []report.Entry, color bool) error {
	switch kind {
	case reportTypeTable.String():
		report.Table(w, entries, color)
	case reportTypeJSON.String():
		return report.JSON(w, entries)
	case reportTypeMarkdown.String():
		return report.Markdown(w, entries)
	case reportTypeNone.String():
		return nil
	default:
		return fmt.Errorf("invalid report type given: %s", kind)
	}

	return nil
}

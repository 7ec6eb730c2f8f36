package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/raffis/importer/internal/listener/telemetry"
	"github.com/raffis/importer/internal/logbridge"
	"github.com/raffis/importer/internal/logsetup"
	"github.com/raffis/importer/internal/otelsetup"
	"github.com/raffis/importer/internal/styles"
	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

var (
	version = "0.0.0-dev"
	commit  = "none"
	date    = "unknown"
)

type rootFlags struct {
	timeout     time.Duration `env:"TIMEOUT"`
	noColor     bool          `env:"NO_COLOR"`
	configFile  string        `env:"CONFIG"`
	envFile     string        `env:"ENV_FILE"`
	manifest    string        `env:"MANIFEST"`
	auditDBPath string        `env:"AUDIT_DB"`
	logOptions  *logsetup.Options
	otelOptions *otelsetup.Options
}

var rootArgs = newRootFlags()

func newRootFlags() rootFlags {
	return rootFlags{
		logOptions:  logsetup.DefaultOptions(),
		otelOptions: otelsetup.DefaultOptions(),
	}
}

var (
	logger     = logr.Discard()
	logCores   []zapcore.Core
	syncLogger func() error
	providers  *otelsetup.Providers
)

// errFailed is returned by commands which already reported why they failed.
var errFailed = errors.New("command failed")

var rootCmd = &cobra.Command{
	Use:               "importer",
	Short:             "Batched data import pipelines",
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: runRoot,
}

func main() {
	err := rootCmd.Execute()
	teardown()

	if err == nil {
		return
	}

	if !errors.Is(err, errFailed) {
		fmt.Fprintln(os.Stderr, styles.Plain(styles.Error, !rootArgs.noColor).Render("Error: "+err.Error()))
	}

	os.Exit(1)
}

func init() {
	rootCmd.PersistentFlags().DurationVarP(&rootArgs.timeout, "timeout", "", 0, "Abort the command after the given duration.")
	rootCmd.PersistentFlags().BoolVarP(&rootArgs.noColor, "no-color", "", electDefaultNoColor(), "Disable all color output to the terminal.")
	rootCmd.PersistentFlags().StringVarP(&rootArgs.configFile, "config", "c", "", "Path to a yaml config file. Keys are named like the flags.")
	rootCmd.PersistentFlags().StringVarP(&rootArgs.envFile, "env-file", "", "", "Load environment variables from the given dotenv file.")
	rootCmd.PersistentFlags().StringVarP(&rootArgs.manifest, "manifest", "f", "importer.yaml", "Path to the pipeline manifest, `-` reads it from stdin.")
	rootCmd.PersistentFlags().StringVarP(&rootArgs.auditDBPath, "audit-db", "", defaultDataPath("audit.db"), "Path to the sqlite database holding the run history and the last import dates.")
	rootArgs.logOptions.BindFlags(rootCmd.PersistentFlags())
	rootArgs.otelOptions.BindFlags(rootCmd.PersistentFlags())
}

func runRoot(cmd *cobra.Command, args []string) error {
	if err := loadConfig(cmd); err != nil {
		return err
	}

	var err error
	providers, err = rootArgs.otelOptions.Build(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}

	if providers.Logger != nil {
		logCores = append(logCores, logbridge.NewCore(providers.Logger.Logger(telemetry.Name), rootArgs.logOptions.Level()))
	}

	logger, syncLogger, err = rootArgs.logOptions.Build(logCores...)
	return err
}

func teardown() {
	if syncLogger != nil {
		_ = syncLogger()
	}

	if providers == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := providers.Shutdown(ctx); err != nil {
		logger.Error(err, "failed to shutdown telemetry providers")
	}
}

// commandContext is canceled on SIGINT, SIGTERM or once the --timeout expired.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	if rootArgs.timeout <= 0 {
		return ctx, stop
	}

	ctx, cancel := context.WithTimeout(ctx, rootArgs.timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

func electDefaultNoColor() bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return true
	}

	return !term.IsTerminal(int(os.Stdout.Fd()))
}

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/raffis/importer/internal/filepipeline"
	"github.com/raffis/importer/internal/storage"
	"github.com/raffis/importer/internal/styles"
	"github.com/spf13/cobra"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

var lintCmd = &cobra.Command{
	Use:   "lint [manifest]...",
	Short: "Validate pipeline manifests",
	Long: `The lint command decodes and validates the given manifests and compiles the cel expressions and merge patches of every pipeline.
Without arguments the manifest given by --manifest is linted.`,
	RunE: lintRun,
}

type lintFlags struct {
	outputFormat OutputFormat
}

var lintArgs = newLintFlags()

func newLintFlags() lintFlags {
	return lintFlags{
		outputFormat: OutputHuman,
	}
}

func init() {
	lintCmd.Flags().VarP(&lintArgs.outputFormat, "output", "o", "Output format. Choice of: \"human\" or \"json\"")
	rootCmd.AddCommand(lintCmd)
}

type OutputFormat string

const (
	OutputHuman OutputFormat = "human"
	OutputJSON  OutputFormat = "json"
)

func (e *OutputFormat) String() string {
	return string(*e)
}

func (e *OutputFormat) Set(v string) error {
	switch v {
	case "human", "json":
		*e = OutputFormat(v)
		return nil
	default:
		return fmt.Errorf(`must be one of "human", or "json"`)
	}
}

func (e *OutputFormat) Type() string {
	return "OutputFormat"
}

func lintRun(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		args = []string{rootArgs.manifest}
	}

	color := !rootArgs.noColor
	hasError := false
	res := map[string]metav1.Status{}

	for _, path := range args {
		err := lintFile(path)
		hasError = hasError || err != nil

		if lintArgs.outputFormat == OutputJSON {
			res[path] = errorToStatus(err)
			continue
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s...", styles.Plain(styles.Bold, color).Render(path))
		if err != nil {
			fmt.Fprintln(cmd.OutOrStdout(), styles.Plain(styles.Failed, color).Render("ERROR"))
			fmt.Fprintln(cmd.ErrOrStderr(), err.Error())
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), styles.Plain(styles.Ok, color).Render("OK"))
		}
	}

	if lintArgs.outputFormat == OutputJSON {
		data, err := json.MarshalIndent(res, "", "    ")
		if err != nil {
			return fmt.Errorf("failed to render results into JSON: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), string(data))
	}

	if hasError {
		return errFailed
	}

	return nil
}

func lintFile(path string) error {
	manifest, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading file: %w", err)
	}

	list, err := storage.Decode(manifest)
	if err != nil {
		return err
	}

	_, err = filepipeline.NewFromList(list)
	return err
}

func errorToStatus(err error) metav1.Status {
	if err == nil {
		return metav1.Status{Status: metav1.StatusSuccess}
	}

	return metav1.Status{
		Status:  metav1.StatusFailure,
		Reason:  metav1.StatusReasonInvalid,
		Message: err.Error(),
	}
}

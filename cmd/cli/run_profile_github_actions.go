package main

import (
	"os"
)

func (f *runFlags) githubActionsProfile() error {
	if !runCmd.Flags().Changed("report") {
		f.report = reportTypeMarkdown.String()
	}

	if !runCmd.Flags().Changed("report-output") && os.Getenv("GITHUB_STEP_SUMMARY") != "" {
		f.reportOutput = os.Getenv("GITHUB_STEP_SUMMARY")
	}

	if !runCmd.Root().PersistentFlags().Changed("no-color") {
		rootArgs.noColor = true
	}

	return nil
}

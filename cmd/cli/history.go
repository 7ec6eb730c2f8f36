package main

import (
	"github.com/raffis/importer/internal/report"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history [pipeline]",
	Short: "Print the recorded pipeline runs, newest first",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistory,
}

type historyFlags struct {
	limit  int    `env:"LIMIT"`
	report string `env:"REPORT"`
}

var historyArgs = historyFlags{}

func init() {
	historyCmd.Flags().IntVarP(&historyArgs.limit, "limit", "n", 20, "Maximum number of runs to print, 0 prints all runs.")
	historyCmd.Flags().StringVarP(&historyArgs.report, "report", "r", reportTypeTable.String(), "Output format. One of [table, json, markdown].")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	auditStore, closeAudit, err := openAudit(ctx)
	if err != nil {
		return err
	}

	defer closeAudit()

	var pipeline string
	if len(args) > 0 {
		pipeline = args[0]
	}

	runs, err := auditStore.History(ctx, pipeline, historyArgs.limit)
	if err != nil {
		return err
	}

	return printReport(cmd.OutOrStdout(), historyArgs.report, report.FromRuns(runs), !rootArgs.noColor)
}

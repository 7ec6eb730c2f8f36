package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/raffis/importer/pkg/apis/importer/v1beta1"
	"github.com/raffis/importer/pkg/importer"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the pipelines of the manifest",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

type listFlags struct {
	wide bool `env:"WIDE"`
}

var listArgs = listFlags{}

func init() {
	listCmd.Flags().BoolVarP(&listArgs.wide, "wide", "w", false, "Print a table including the description, resource and requirements of each pipeline.")
	rootCmd.AddCommand(listCmd)
}

type specProvider interface {
	Spec() v1beta1.PipelineSpec
}

func runList(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	pipelines, err := loadPipelines(ctx)
	if err != nil {
		return err
	}

	manager := importer.NewManager(
		importer.WithLogger(logger),
		importer.WithPipelines(pipelines...),
	)

	registered := manager.Pipelines()
	names := make([]string, 0, len(registered))
	for name := range registered {
		names = append(names, name)
	}

	slices.Sort(names)

	if !listArgs.wide {
		for _, name := range names {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}

		return nil
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader([]string{"Name", "Resource", "Batch size", "Incremental", "Requires", "Description"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetHeaderLine(false)
	table.SetAutoFormatHeaders(false)

	for _, name := range names {
		caps := importer.Probe(registered[name])
		var description, resource string
		if p, ok := registered[name].(specProvider); ok {
			description = p.Spec().Description
			resource = p.Spec().Resource
		}

		requires := make([]string, 0, len(caps.Requires))
		for _, req := range caps.Requires {
			if req.Optional {
				requires = append(requires, "?"+req.Name)
				continue
			}

			requires = append(requires, req.Name)
		}

		table.Append([]string{
			name,
			resource,
			fmt.Sprintf("%d", caps.BatchSize),
			fmt.Sprintf("%t", caps.Incremental),
			strings.Join(requires, ","),
			description,
		})
	}

	table.Render()
	return nil
}

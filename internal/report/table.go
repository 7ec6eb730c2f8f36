package report

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
)

// Table renders the entries as an aligned plain text table. Status icons are colored if color is set.
func Table(w io.Writer, entries []Entry, color bool) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"#", "Pipeline", "Status", "Started", "Duration", "Batches", "Records", "Errors", "Message"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetHeaderLine(false)
	table.SetReflowDuringAutoWrap(false)
	table.SetAutoFormatHeaders(false)

	for i, entry := range entries {
		errMsg, status, duration := stringify(entry, color)
		table.Append([]string{
			fmt.Sprintf("%d", i),
			entry.Pipeline,
			status,
			startedAt(entry),
			duration,
			fmt.Sprintf("%d", entry.Batches),
			fmt.Sprintf("%d", entry.Records),
			fmt.Sprintf("%d", entry.Errors),
			errMsg,
		})
	}

	table.Render()
}

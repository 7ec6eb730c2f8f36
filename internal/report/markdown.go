package report

import (
	"fmt"
	"io"
	"strings"
)

func Markdown(w io.Writer, entries []Entry) error {
	fmt.Fprintln(w, "| # | Pipeline | Status | Started | Duration | Batches | Records | Errors | Message |")
	fmt.Fprintln(w, "| --- | --- | --- | --- | --- | --- | --- | --- | --- |")

	for i, entry := range entries {
		errMsg, _, duration := stringify(entry, false)
		_, err := fmt.Fprintf(w, "| %d | %s | %s | %s | %s | %d | %d | %d | %s |\n",
			i,
			entry.Pipeline,
			markdownStatus(entry),
			startedAt(entry),
			duration,
			entry.Batches,
			entry.Records,
			entry.Errors,
			strings.ReplaceAll(errMsg, "|", `\|`),
		)

		if err != nil {
			return err
		}
	}

	return nil
}

func markdownStatus(entry Entry) string {
	switch entry.Status {
	case StatusSucceeded:
		return "✅ " + string(entry.Status)
	case StatusFailed:
		return "⛔ " + string(entry.Status)
	case StatusSkipped:
		return "⚠️ " + skipped(entry)
	default:
		return string(entry.Status)
	}
}

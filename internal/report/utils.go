package report

import (
	"strings"
	"time"

	"github.com/raffis/importer/internal/styles"
)

func stringify(entry Entry, color bool) (string, string, string) {
	var status string
	switch entry.Status {
	case StatusSucceeded:
		status = styles.Plain(styles.Ok, color).Render("✔ " + string(entry.Status))
	case StatusFailed:
		status = styles.Plain(styles.Failed, color).Render("✗ " + string(entry.Status))
	case StatusSkipped:
		status = styles.Plain(styles.Warning, color).Render("⚠ " + skipped(entry))
	default:
		status = styles.Plain(styles.Running, color).Render("◴ " + string(entry.Status))
	}

	return strings.ReplaceAll(entry.Message, "\n", ""), status, entry.Duration.Round(time.Millisecond * 10).String()
}

func skipped(entry Entry) string {
	if entry.SkipReason == "" {
		return string(entry.Status)
	}

	return string(entry.Status) + " (" + entry.SkipReason + ")"
}

func startedAt(entry Entry) string {
	if entry.StartedAt == nil {
		return ""
	}

	return entry.StartedAt.UTC().Format(time.RFC3339)
}

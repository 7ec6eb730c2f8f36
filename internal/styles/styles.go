package styles

import (
	"charm.land/lipgloss/v2"
)

var (
	Bold    = lipgloss.NewStyle().Bold(true)
	Ok      = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	Failed  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	Warning = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00"))
	Running = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFC0CB"))

	// Note highlights informational messages like a pipeline which is already being imported.
	Note = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")).Bold(true)
	// Error highlights messages which end up in a non zero exit code.
	Error = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")).Bold(true)
)

// Plain strips all styles if color is disabled.
func Plain(style lipgloss.Style, color bool) lipgloss.Style {
	if color {
		return style
	}

	return lipgloss.NewStyle()
}

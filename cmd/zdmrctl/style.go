package main

import "github.com/charmbracelet/lipgloss"

// Palette adapted from danzo's internal/output style block: same color
// indices, repurposed as a per-Status lookup instead of free-standing
// Print*/F* helpers, since every render here is already routed through a
// table or a uilive frame rather than ad-hoc fmt.Println calls.
var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))  // green
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))  // red
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")) // yellow
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")) // blue
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// statusStyle maps a Download/watch Status string to the color danzo's
// output manager would have used for the equivalent job state.
func statusStyle(status string) lipgloss.Style {
	switch status {
	case "COMPLETED":
		return successStyle
	case "ERROR":
		return errorStyle
	case "PAUSED":
		return warningStyle
	case "DOWNLOADING":
		return pendingStyle
	default:
		return dimStyle
	}
}

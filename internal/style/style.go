// Package style holds the terminal styles used by command output.
package style

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

var (
	// Title for session names and headers
	Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("33"))

	// Dim for labels and metadata
	Dim = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240"))

	Success = lipgloss.NewStyle().
		Foreground(lipgloss.Color("42"))

	Warning = lipgloss.NewStyle().
		Foreground(lipgloss.Color("214"))

	Error = lipgloss.NewStyle().
		Foreground(lipgloss.Color("196"))

	// Box frames multi-line output such as evaluation results
	Box = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("33")).
		Padding(0, 1)
)

// Check prints a "✓ msg" line.
func Check(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "%s %s\n", Success.Render("✓"), fmt.Sprintf(format, args...))
}

// Warn prints a "⚠ msg" line.
func Warn(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "%s %s\n", Warning.Render("⚠"), fmt.Sprintf(format, args...))
}

// Fail prints a "✗ msg" line.
func Fail(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "%s %s\n", Error.Render("✗"), fmt.Sprintf(format, args...))
}

// Label renders "label: value" with a dimmed label.
func Label(label, value string) string {
	return Dim.Render(label+":") + " " + value
}

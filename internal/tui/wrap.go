package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/yubzen/runneragent/internal/observer"
)

const (
	depthIndent = "  "
	// Continuation rows of a wrapped event sit this far past its first row.
	hangingIndent = "    "
	// Text keeps at least this many columns however deep the keyword is.
	minTextWidth = 20
)

// wrapEvent renders a formatted event at width columns. The keyword depth
// becomes leading indentation, clamped so deep nesting never squeezes the
// text below minTextWidth.
func wrapEvent(line observer.Line, width int) string {
	indent := strings.Repeat(depthIndent, max(line.Depth, 0))
	if width <= 0 {
		return indent + line.Text
	}
	if limit := width - minTextWidth; lipgloss.Width(indent) > limit {
		indent = strings.Repeat(" ", max(limit, 0))
	}

	rows := wrapRows(line.Text, width-lipgloss.Width(indent))
	if len(rows) == 0 {
		return indent
	}
	out := make([]string, 0, len(rows))
	out = append(out, indent+rows[0])
	if len(rows) > 1 {
		cont := indent + hangingIndent
		for _, r := range wrapRows(strings.Join(rows[1:], " "), width-lipgloss.Width(cont)) {
			out = append(out, cont+r)
		}
	}
	return strings.Join(out, "\n")
}

// wrapRows splits text into rows of at most width columns. Embedded newlines
// in log messages start new rows.
func wrapRows(text string, width int) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	if width <= 0 {
		return strings.Split(text, "\n")
	}
	wrapper := lipgloss.NewStyle().Width(width)
	var rows []string
	for _, part := range strings.Split(text, "\n") {
		if part == "" {
			rows = append(rows, "")
			continue
		}
		for _, r := range strings.Split(wrapper.Render(part), "\n") {
			rows = append(rows, strings.TrimRight(r, " "))
		}
	}
	return rows
}

package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/yubzen/runneragent/internal/observer"
	"github.com/yubzen/runneragent/internal/wire"
)

var (
	eventViewportStyle = lipgloss.NewStyle().Border(lipgloss.NormalBorder(), false, false, true, false).BorderForeground(lipgloss.Color("238"))
	structureStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	keywordStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	passStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	logStyle           = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	pausedStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("220")).Bold(true)
	systemStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Italic(true)
	placeholderStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Italic(true)
)

type eventLine struct {
	name string
	line observer.Line
}

// EventLogModel is the scrolling list of received events.
type EventLogModel struct {
	viewport  viewport.Model
	formatter observer.Formatter
	lines     []eventLine
	width     int
	height    int
}

func NewEventLogModel() *EventLogModel {
	vp := viewport.New(0, 0)
	vp.SetContent("")
	return &EventLogModel{viewport: vp}
}

func (m *EventLogModel) Update(msg tea.Msg) (*EventLogModel, tea.Cmd) {
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *EventLogModel) SetSize(w, h int) {
	if w == 0 || h == 0 {
		return
	}
	m.width = w
	m.height = h
	m.viewport.Width = w
	// One row for the bottom border.
	m.viewport.Height = max(h-1, 0)
	m.render()
}

// Append formats ev and scrolls to it when the view was already at the
// bottom.
func (m *EventLogModel) Append(ev wire.Event) {
	follow := m.viewport.AtBottom()
	m.lines = append(m.lines, eventLine{name: ev.Name, line: m.formatter.Format(ev)})
	m.render()
	if follow {
		m.viewport.GotoBottom()
	}
}

func (m *EventLogModel) Len() int { return len(m.lines) }

// Plain returns the unstyled text of every line.
func (m *EventLogModel) Plain() []string {
	out := make([]string, 0, len(m.lines))
	for _, l := range m.lines {
		out = append(out, l.line.String())
	}
	return out
}

func (m *EventLogModel) render() {
	width := m.viewport.Width
	if width <= 0 {
		width = 80
	}
	blocks := make([]string, 0, len(m.lines))
	for _, l := range m.lines {
		blocks = append(blocks, styleFor(l).Render(wrapEvent(l.line, width)))
	}
	m.viewport.SetContent(strings.Join(blocks, "\n"))
}

func styleFor(l eventLine) lipgloss.Style {
	switch l.name {
	case wire.EventStartSuite, wire.EventStartTest, wire.EventEndSuite:
		return structureStyle
	case wire.EventEndTest, wire.EventEndKeyword:
		if strings.Contains(l.line.Text, "[FAIL]") {
			return failStyle
		}
		return passStyle
	case wire.EventLogMessage:
		return logStyle
	case wire.EventPaused, wire.EventContinue:
		return pausedStyle
	case wire.EventStartKeyword:
		return keywordStyle
	default:
		return systemStyle
	}
}

func (m *EventLogModel) View() string {
	if len(m.lines) == 0 {
		return eventViewportStyle.Width(m.width).Height(max(m.height-1, 0)).
			Render(placeholderStyle.Render("waiting for events..."))
	}
	return eventViewportStyle.Width(m.width).Render(m.viewport.View())
}

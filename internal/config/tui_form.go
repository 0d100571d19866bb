package config

import (
	"fmt"
	"slices"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	itemStyle   = lipgloss.NewStyle().PaddingLeft(2)
	noticeStyle = lipgloss.NewStyle().PaddingLeft(2).Foreground(lipgloss.Color("42"))
	errorStyle  = lipgloss.NewStyle().PaddingLeft(2).Foreground(lipgloss.Color("196"))
)

// thresholds is the cycle order of the forwarded-log threshold.
var thresholds = []string{"TRACE", "DEBUG", "INFO", "WARN", "ERROR", "FAIL", "NONE"}

// FormModel shows the effective configuration and edits the few settings
// that are toggles. Changes are written only on save.
type FormModel struct {
	cfg    *Config
	path   string
	dirty  bool
	notice string
	err    error
}

func NewFormModel(cfg *Config, path string) *FormModel {
	return &FormModel{cfg: cfg, path: path}
}

func (m *FormModel) Init() tea.Cmd {
	return nil
}

func (m *FormModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch key.String() {
	case "q", "ctrl+c", "esc":
		return m, tea.Quit
	case "r":
		m.cfg.Log.Redact = !m.cfg.Log.Redact
		m.touch()
	case "t":
		m.cfg.Log.Threshold = nextThreshold(m.cfg.Log.Threshold)
		m.touch()
	case "s":
		m.save()
	}
	return m, nil
}

func (m *FormModel) touch() {
	m.dirty = true
	m.notice = ""
	m.err = nil
}

func (m *FormModel) save() {
	if err := m.cfg.Validate(); err != nil {
		m.err = err
		return
	}
	if err := m.cfg.SaveFile(m.path); err != nil {
		m.err = err
		return
	}
	m.dirty = false
	m.err = nil
	m.notice = "saved " + m.path
}

func nextThreshold(current string) string {
	i := slices.Index(thresholds, strings.ToUpper(strings.TrimSpace(current)))
	return thresholds[(i+1)%len(thresholds)]
}

func (m *FormModel) View() string {
	statePath := m.cfg.State.Path
	if statePath == "" {
		statePath = "(none)"
	}
	breakpoints := strings.Join(m.cfg.Debugger.Breakpoints, ", ")
	if breakpoints == "" {
		breakpoints = "(built-in only)"
	}
	title := "Runner Agent Configuration"
	if m.dirty {
		title += " *"
	}

	rows := []string{
		titleStyle.Render(title),
		"",
		itemStyle.Render("File: " + m.path),
		itemStyle.Render("Observer: " + m.cfg.ObserverAddr()),
		itemStyle.Render("Control bind: " + m.cfg.ControlAddr()),
		itemStyle.Render(fmt.Sprintf("State: %s %s", m.cfg.State.Backend, statePath)),
		itemStyle.Render(fmt.Sprintf("Poll interval: %s", m.cfg.Debugger.PollInterval)),
		itemStyle.Render("Breakpoints: " + breakpoints),
		itemStyle.Render("Log level: " + m.cfg.Log.Level),
		itemStyle.Render("[t] Threshold: " + m.cfg.Log.Threshold),
		itemStyle.Render(fmt.Sprintf("[r] Redact: %t", m.cfg.Log.Redact)),
		"",
	}
	switch {
	case m.err != nil:
		rows = append(rows, errorStyle.Render(m.err.Error()))
	case m.notice != "":
		rows = append(rows, noticeStyle.Render(m.notice))
	}
	rows = append(rows, "", "[s] save  [q] quit")
	return lipgloss.NewStyle().Padding(1, 2).Render(strings.Join(rows, "\n"))
}

func RunConfigForm(cfg *Config, path string) error {
	p := tea.NewProgram(NewFormModel(cfg, path))
	_, err := p.Run()
	return err
}

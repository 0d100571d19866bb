package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

var (
	sbBaseStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("255")).Background(lipgloss.Color("235")).Padding(0, 1)
	sbRunningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	sbPausedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("220")).Bold(true)
	sbDoneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Bold(true)
	sbInfoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	sbNoticeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	sbKeysStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
)

// Run states shown in the status bar.
const (
	RunWaiting  = "WAITING"
	RunRunning  = "RUNNING"
	RunPaused   = "PAUSED"
	RunFinished = "FINISHED"
)

const keyHelp = "p pause  r resume  n next  o over  f fail-pause  k kill  q quit"

type StatusBarModel struct {
	State          string
	PauseOnFailure bool
	PID            int64
	Port           int
	Notice         string
	width          int
}

func NewStatusBarModel() *StatusBarModel {
	return &StatusBarModel{State: RunWaiting}
}

func (m *StatusBarModel) SetWidth(w int) {
	m.width = w
}

func (m *StatusBarModel) View() string {
	stateStyle := sbRunningStyle
	switch m.State {
	case RunPaused:
		stateStyle = sbPausedStyle
	case RunWaiting, RunFinished:
		stateStyle = sbDoneStyle
	}
	stateStr := stateStyle.Render(fmt.Sprintf("[%s]", m.State))

	failStr := "off"
	if m.PauseOnFailure {
		failStr = "on"
	}
	pidStr := "-"
	if m.PID != 0 {
		pidStr = fmt.Sprint(m.PID)
	}
	portStr := "-"
	if m.Port != 0 {
		portStr = fmt.Sprint(m.Port)
	}
	info := sbInfoStyle.Render(fmt.Sprintf("[FAIL-PAUSE: %s] [PID: %s] [CONTROL: %s]", failStr, pidStr, portStr))

	s := fmt.Sprintf("%s | %s | %s", stateStr, info, sbKeysStyle.Render(keyHelp))
	if m.Notice != "" {
		s += " | " + sbNoticeStyle.Render(m.Notice)
	}
	return sbBaseStyle.Width(m.width).Render(s)
}

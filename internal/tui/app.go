// Package tui is the observer's live view of an agent run. It lists incoming
// events and sends debugger commands back to the agent.
package tui

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/yubzen/runneragent/internal/wire"
)

const commandTimeout = 5 * time.Second

// Sender delivers a control command to the agent.
type Sender interface {
	Send(ctx context.Context, cmd wire.Command) error
}

// EventMsg carries one event from the stream into the model.
type EventMsg struct {
	Event wire.Event
}

// StreamClosedMsg is sent once the event channel is closed.
type StreamClosedMsg struct{}

type CommandResultMsg struct {
	Command wire.Command
	Err     error
}

var keyCommands = map[string]wire.Command{
	"p": wire.CommandPause,
	"r": wire.CommandResume,
	"n": wire.CommandStepNext,
	"o": wire.CommandStepOver,
	"k": wire.CommandKill,
}

type AppModel struct {
	events    <-chan wire.Event
	sender    Sender
	log       *EventLogModel
	statusbar *StatusBarModel
	width     int
	height    int
}

func NewAppModel(events <-chan wire.Event, sender Sender) *AppModel {
	return &AppModel{
		events:    events,
		sender:    sender,
		log:       NewEventLogModel(),
		statusbar: NewStatusBarModel(),
	}
}

func (m *AppModel) Init() tea.Cmd {
	return waitForEvent(m.events)
}

func waitForEvent(ch <-chan wire.Event) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return StreamClosedMsg{}
		}
		return EventMsg{Event: ev}
	}
}

func (m *AppModel) sendCmd(cmd wire.Command) tea.Cmd {
	sender := m.sender
	return func() tea.Msg {
		if sender == nil {
			return CommandResultMsg{Command: cmd, Err: fmt.Errorf("no agent attached")}
		}
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		return CommandResultMsg{Command: cmd, Err: sender.Send(ctx, cmd)}
	}
}

func (m *AppModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch key := msg.String(); key {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "f":
			m.statusbar.PauseOnFailure = !m.statusbar.PauseOnFailure
			if m.statusbar.PauseOnFailure {
				return m, m.sendCmd(wire.CommandPauseOnFailure)
			}
			return m, m.sendCmd(wire.CommandDoNotPauseOnFailure)
		default:
			if cmd, ok := keyCommands[key]; ok {
				return m, m.sendCmd(cmd)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.statusbar.SetWidth(msg.Width)
		m.log.SetSize(msg.Width, msg.Height-1)
		return m, nil

	case EventMsg:
		m.handleEvent(msg.Event)
		return m, waitForEvent(m.events)

	case StreamClosedMsg:
		m.statusbar.State = RunFinished
		return m, nil

	case CommandResultMsg:
		if msg.Err != nil {
			m.statusbar.Notice = fmt.Sprintf("%s failed: %v", msg.Command, msg.Err)
		} else {
			m.statusbar.Notice = "sent " + string(msg.Command)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.log, cmd = m.log.Update(msg)
	return m, cmd
}

func (m *AppModel) handleEvent(ev wire.Event) {
	switch ev.Name {
	case wire.EventPID:
		if v, ok := ev.Arg(0).(int64); ok {
			m.statusbar.PID = v
		} else if v, ok := ev.Arg(0).(uint64); ok {
			m.statusbar.PID = int64(v)
		}
		m.statusbar.State = RunRunning
	case wire.EventPort:
		if v, ok := ev.Arg(0).(int64); ok {
			m.statusbar.Port = int(v)
		} else if v, ok := ev.Arg(0).(uint64); ok {
			m.statusbar.Port = int(v)
		}
	case wire.EventPaused:
		m.statusbar.State = RunPaused
	case wire.EventContinue:
		m.statusbar.State = RunRunning
	case wire.EventClose:
		m.statusbar.State = RunFinished
	}
	m.log.Append(ev)
}

func (m *AppModel) View() string {
	return lipgloss.JoinVertical(lipgloss.Left,
		m.log.View(),
		m.statusbar.View(),
	)
}

// Run shows the UI until the user quits or ctx ends.
func Run(ctx context.Context, events <-chan wire.Event, sender Sender) error {
	p := tea.NewProgram(NewAppModel(events, sender), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}

package wire

import "strings"

// Command is a control directive sent by the observer, one per connection.
type Command string

const (
	CommandKill                Command = "kill"
	CommandPause               Command = "pause"
	CommandResume              Command = "resume"
	CommandStepNext            Command = "step_next"
	CommandStepOver            Command = "step_over"
	CommandPauseOnFailure      Command = "pause_on_failure"
	CommandDoNotPauseOnFailure Command = "do_not_pause_on_failure"
)

var commands = map[string]Command{
	string(CommandKill):                CommandKill,
	string(CommandPause):               CommandPause,
	string(CommandResume):              CommandResume,
	string(CommandStepNext):            CommandStepNext,
	string(CommandStepOver):            CommandStepOver,
	string(CommandPauseOnFailure):      CommandPauseOnFailure,
	string(CommandDoNotPauseOnFailure): CommandDoNotPauseOnFailure,
}

// ParseCommand maps command text to a Command. Surrounding whitespace is
// ignored; anything else unknown returns false.
func ParseCommand(text string) (Command, bool) {
	cmd, ok := commands[strings.TrimSpace(text)]
	return cmd, ok
}

// Commands lists every known command in a stable order.
func Commands() []Command {
	return []Command{
		CommandKill,
		CommandPause,
		CommandResume,
		CommandStepNext,
		CommandStepOver,
		CommandPauseOnFailure,
		CommandDoNotPauseOnFailure,
	}
}

// Package wire defines the records exchanged between the agent and a remote
// observer: lifecycle events flowing out on a persistent stream, and single
// textual control commands flowing back on short-lived connections.
package wire

// Event names carried on the observer stream. The first two records of every
// stream are always pid then port.
const (
	EventPID          = "pid"
	EventPort         = "port"
	EventStartSuite   = "start_suite"
	EventEndSuite     = "end_suite"
	EventStartTest    = "start_test"
	EventEndTest      = "end_test"
	EventStartKeyword = "start_keyword"
	EventEndKeyword   = "end_keyword"
	EventLogMessage   = "log_message"
	EventLogFile      = "log_file"
	EventReportFile   = "report_file"
	EventPaused       = "paused"
	EventContinue     = "continue"
	EventClose        = "close"
)

// Event is one lifecycle record: a name plus the positional arguments of the
// callback that produced it. Events are not modified after creation.
type Event struct {
	_msgpack struct{} `msgpack:",as_array"`

	Name string
	Args []any
}

// NewEvent builds an event, copying args so later mutation by the caller is
// not observable on the wire.
func NewEvent(name string, args ...any) Event {
	var copied []any
	if len(args) > 0 {
		copied = make([]any, len(args))
		copy(copied, args)
	}
	return Event{Name: name, Args: copied}
}

// Arg returns the i-th argument or nil when out of range.
func (e Event) Arg(i int) any {
	if i < 0 || i >= len(e.Args) {
		return nil
	}
	return e.Args[i]
}

// IsTerminal reports whether the event closes the stream.
func (e Event) IsTerminal() bool {
	return e.Name == EventClose
}

package observer

import (
	"fmt"
	"strings"

	"github.com/yubzen/runneragent/internal/wire"
)

// Line is the readable form of one event.
type Line struct {
	// Depth is the keyword nesting at which the event happened.
	Depth int
	Text  string
}

// Formatter renders events and tracks keyword nesting across them.
type Formatter struct {
	depth int
}

func (f *Formatter) Depth() int { return f.depth }

func (f *Formatter) Format(ev wire.Event) Line {
	switch ev.Name {
	case wire.EventStartSuite:
		return Line{Depth: f.depth, Text: "SUITE " + argString(ev, 0)}
	case wire.EventEndSuite:
		return Line{Depth: f.depth, Text: fmt.Sprintf("END SUITE %s [%s]", argString(ev, 0), attr(ev, "status"))}
	case wire.EventStartTest:
		return Line{Depth: f.depth, Text: "TEST " + argString(ev, 0)}
	case wire.EventEndTest:
		text := fmt.Sprintf("END TEST %s [%s]", argString(ev, 0), attr(ev, "status"))
		if msg := attr(ev, "message"); msg != "" {
			text += " " + msg
		}
		return Line{Depth: f.depth, Text: text}
	case wire.EventStartKeyword:
		line := Line{Depth: f.depth, Text: "> " + argString(ev, 0)}
		if args := attrList(ev, "args"); len(args) > 0 {
			line.Text += "  " + strings.Join(args, "  ")
		}
		f.depth++
		return line
	case wire.EventEndKeyword:
		if f.depth > 0 {
			f.depth--
		}
		return Line{Depth: f.depth, Text: fmt.Sprintf("< %s [%s]", argString(ev, 0), attr(ev, "status"))}
	case wire.EventLogMessage:
		level, message := "", ""
		if m, ok := ev.Arg(0).(map[string]any); ok {
			level, _ = m["level"].(string)
			message, _ = m["message"].(string)
		}
		return Line{Depth: f.depth, Text: fmt.Sprintf("%s %s", level, message)}
	case wire.EventLogFile:
		return Line{Depth: f.depth, Text: "Log:    " + argString(ev, 0)}
	case wire.EventReportFile:
		return Line{Depth: f.depth, Text: "Report: " + argString(ev, 0)}
	case wire.EventPaused:
		return Line{Depth: f.depth, Text: "-- paused --"}
	case wire.EventContinue:
		return Line{Depth: f.depth, Text: "-- continue --"}
	case wire.EventPID:
		return Line{Text: "agent pid " + argString(ev, 0)}
	case wire.EventPort:
		return Line{Text: "control port " + argString(ev, 0)}
	case wire.EventClose:
		return Line{Text: "stream closed"}
	default:
		return Line{Depth: f.depth, Text: fmt.Sprintf("%s %v", ev.Name, ev.Args)}
	}
}

func (l Line) String() string {
	return strings.Repeat("  ", l.Depth) + l.Text
}

func argString(ev wire.Event, i int) string {
	v := ev.Arg(i)
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func attr(ev wire.Event, key string) string {
	m, ok := ev.Arg(1).(map[string]any)
	if !ok {
		return ""
	}
	if v, ok := m[key]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}

func attrList(ev wire.Event, key string) []string {
	m, ok := ev.Arg(1).(map[string]any)
	if !ok {
		return nil
	}
	items, ok := m[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, fmt.Sprint(item))
	}
	return out
}

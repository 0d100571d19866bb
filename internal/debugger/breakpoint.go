package debugger

// Breakpoint markers recognised without configuration.
const (
	CommentKeyword    = "BuiltIn.Comment"
	PauseMarker       = "PAUSE"
	BreakPointKeyword = "scenario.framework.main.Keyword.Break Point"
)

// IsBreakpoint reports whether a keyword call is a hard-coded breakpoint: a
// comment whose only argument is PAUSE, or the dedicated break point keyword.
func IsBreakpoint(name string, args []string) bool {
	if name == BreakPointKeyword {
		return true
	}
	return name == CommentKeyword && len(args) == 1 && args[0] == PauseMarker
}

package agent

import "fmt"

// Attrs is the attribute map the host engine passes with each callback. Its
// shape is engine-defined; the agent only reads "args", "status" and, for log
// messages, "level" and "message".
type Attrs map[string]any

// Args returns the keyword arguments as strings.
func (a Attrs) Args() []string {
	switch v := a["args"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
				continue
			}
			out = append(out, fmt.Sprint(item))
		}
		return out
	default:
		return nil
	}
}

func (a Attrs) String(key string) string {
	s, _ := a[key].(string)
	return s
}

// Passed reports whether the status attribute is PASS.
func (a Attrs) Passed() bool {
	return a.String("status") == StatusPass
}

// Status values used by the host engine.
const (
	StatusPass   = "PASS"
	StatusFail   = "FAIL"
	StatusNotRun = "NOT RUN"
)

package agent

import (
	"fmt"
	"strings"
)

// Log levels of the host engine, lowest first. HTML messages rank as INFO.
// NONE as a threshold disables forwarding.
var levelRank = map[string]int{
	"TRACE": 0,
	"DEBUG": 1,
	"INFO":  2,
	"HTML":  2,
	"WARN":  3,
	"ERROR": 4,
	"FAIL":  5,
	"NONE":  6,
}

func normalizeLevel(level string) string {
	return strings.ToUpper(strings.TrimSpace(level))
}

func validateThreshold(level string) (string, error) {
	level = normalizeLevel(level)
	if level == "" {
		return "", nil
	}
	if _, ok := levelRank[level]; !ok {
		return "", fmt.Errorf("unknown log level %q", level)
	}
	return level, nil
}

// isLogged reports whether a message at level passes threshold. An empty
// threshold and unknown message levels always pass.
func isLogged(threshold, level string) bool {
	if threshold == "" {
		return true
	}
	rank, ok := levelRank[normalizeLevel(level)]
	if !ok {
		return true
	}
	return rank >= levelRank[threshold] && rank < levelRank["NONE"]
}

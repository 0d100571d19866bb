// Package state holds the key/value store shared between the execution
// thread and the control server. The debugger keeps its request state here so
// that a controller in another goroutine, or another process when a file or
// SQLite backend is used, can change it.
package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Keys written by the agent. KeyDebuggerState carries the debugger request
// state ("running", "pause", "step_next", "step_over", "resume").
const (
	KeyDebuggerState  = "data"
	KeyLastTestPassed = "lastTestPassed"
	KeyLastKeyword    = "lastKeyword"
	KeyBreakPoint     = "breakPoint"
)

// Backend names accepted by Open.
const (
	BackendMemory     = "memory"
	BackendSQLite     = "sqlite"
	BackendProperties = "properties"
)

var (
	ErrNotFound       = errors.New("state key not found")
	ErrUnknownBackend = errors.New("unknown state backend")
	ErrMissingPath    = errors.New("state backend requires a path")
)

// Store is a small textual key/value store.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Close() error
}

// Watcher is implemented by stores that can report external modifications.
type Watcher interface {
	Watch(ctx context.Context) (<-chan struct{}, error)
}

// Open returns the store for backend. File-backed stores need a path.
func Open(backend, path string) (Store, error) {
	backend = strings.ToLower(strings.TrimSpace(backend))
	path = strings.TrimSpace(path)
	switch backend {
	case "", BackendMemory:
		return NewMemory(), nil
	case BackendSQLite:
		if path == "" {
			return nil, fmt.Errorf("%s: %w", backend, ErrMissingPath)
		}
		return Connect(path)
	case BackendProperties:
		if path == "" {
			return nil, fmt.Errorf("%s: %w", backend, ErrMissingPath)
		}
		return NewProperties(path), nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownBackend, backend)
	}
}

// GetOr returns the stored value, or def when the key is absent.
func GetOr(ctx context.Context, s Store, key, def string) (string, error) {
	v, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return def, nil
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

package debugger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/yubzen/runneragent/internal/log"
	"github.com/yubzen/runneragent/internal/state"
)

// State is the debugger request state as persisted in the store. A paused
// request means the execution thread blocks at its next keyword start.
type State string

const (
	StateRunning  State = "running"
	StatePaused   State = "pause"
	StateStepNext State = "step_next"
	StateStepOver State = "step_over"
	StateResume   State = "resume"
)

// ParseState maps a stored value to a State. Unknown and empty values mean
// running.
func ParseState(v string) State {
	switch s := State(strings.TrimSpace(v)); s {
	case StatePaused, StateStepNext, StateStepOver, StateResume:
		return s
	default:
		return StateRunning
	}
}

const (
	// DefaultPollInterval bounds how long a paused keyword waits before
	// re-reading the store.
	DefaultPollInterval = time.Second

	unsetLevel = -1
)

var ErrNoStore = errors.New("debugger requires a state store")

type Option func(*Debugger)

func WithPollInterval(d time.Duration) Option {
	return func(m *Debugger) {
		if d > 0 {
			m.tick = d
		}
	}
}

// WithBreakpoints adds keyword names that always pause, on top of the
// built-in markers.
func WithBreakpoints(names ...string) Option {
	return func(m *Debugger) {
		for _, n := range names {
			n = strings.TrimSpace(n)
			if n != "" {
				m.breakpoints[n] = struct{}{}
			}
		}
	}
}

// WithWakeup supplies a channel that signals external store changes.
func WithWakeup(ch <-chan struct{}) Option {
	return func(m *Debugger) { m.external = ch }
}

func WithLogger(l zerolog.Logger) Option {
	return func(m *Debugger) { m.log = l }
}

type Debugger struct {
	store       state.Store
	tick        time.Duration
	breakpoints map[string]struct{}
	log         zerolog.Logger

	// mu guards every field below and serialises read-modify-write of the
	// persisted state.
	mu               sync.Mutex
	last             State
	depth            int
	pauseWhenOnLevel int
	pauseOnFailure   bool
	wake             chan struct{}
	external         <-chan struct{}
}

// New creates a debugger in the running state at depth 0 and persists that
// state, overwriting anything left from an earlier run.
func New(store state.Store, opts ...Option) (*Debugger, error) {
	if store == nil {
		return nil, ErrNoStore
	}
	m := &Debugger{
		store:            store,
		tick:             DefaultPollInterval,
		breakpoints:      make(map[string]struct{}),
		log:              log.WithComponent("debugger"),
		last:             StateRunning,
		pauseWhenOnLevel: unsetLevel,
		wake:             make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := store.Set(context.Background(), state.KeyDebuggerState, string(StateRunning)); err != nil {
		return nil, fmt.Errorf("initialise debugger state: %w", err)
	}
	return m, nil
}

// IsBreakpoint reports whether the keyword call must pause, either through a
// built-in marker or a configured breakpoint name.
func (m *Debugger) IsBreakpoint(name string, args []string) bool {
	if IsBreakpoint(name, args) {
		return true
	}
	_, ok := m.breakpoints[name]
	return ok
}

// load reads the persisted state. On store failure the last known state is
// kept. Callers hold m.mu.
func (m *Debugger) load(ctx context.Context) State {
	v, err := m.store.Get(ctx, state.KeyDebuggerState)
	if errors.Is(err, state.ErrNotFound) {
		m.last = StateRunning
		return m.last
	}
	if err != nil {
		m.log.Warn().Err(err).Str("state", string(m.last)).Msg("read debugger state failed, keeping last known state")
		return m.last
	}
	m.last = ParseState(v)
	return m.last
}

// save persists s. Callers hold m.mu.
func (m *Debugger) save(ctx context.Context, s State) {
	m.last = s
	if err := m.store.Set(ctx, state.KeyDebuggerState, string(s)); err != nil {
		m.log.Warn().Err(err).Str("state", string(s)).Msg("write debugger state failed")
	}
}

// notify wakes every goroutine blocked in OnKeywordStart. Callers hold m.mu.
func (m *Debugger) notify() {
	close(m.wake)
	m.wake = make(chan struct{})
}

// OnKeywordStart blocks while the debugger is paused, then applies any
// pending step request and enters the keyword. The depth is incremented even
// when ctx ends the wait early, so it stays paired with OnKeywordEnd; the
// context error is returned in that case.
func (m *Debugger) OnKeywordStart(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var waitErr error
	st := m.load(ctx)
	for st == StatePaused {
		wake := m.wake
		external := m.external
		m.mu.Unlock()

		timer := time.NewTimer(m.tick)
		closed := false
		select {
		case <-ctx.Done():
			waitErr = ctx.Err()
		case <-wake:
		case _, ok := <-external:
			closed = !ok
		case <-timer.C:
		}
		timer.Stop()

		m.mu.Lock()
		if closed && m.external == external {
			m.external = nil
		}
		if waitErr != nil {
			break
		}
		st = m.load(ctx)
	}

	switch st {
	case StateStepNext:
		m.save(ctx, StatePaused)
	case StateStepOver:
		m.pauseWhenOnLevel = m.depth
		m.save(ctx, StateResume)
	}
	m.depth++
	return waitErr
}

// OnKeywordEnd leaves the current keyword and reports whether the debugger
// paused because of it: the keyword ended at the step-over depth, or it
// failed with pause-on-failure enabled.
func (m *Debugger) OnKeywordEnd(ctx context.Context, passed bool) bool {
	if ctx == nil {
		ctx = context.Background()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.depth > 0 {
		m.depth--
	}
	if m.depth == m.pauseWhenOnLevel || (m.pauseOnFailure && !passed) {
		m.save(ctx, StatePaused)
		return true
	}
	return false
}

func (m *Debugger) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.save(context.Background(), StatePaused)
}

// Resume clears any pause or step request and forgets the step-over depth.
func (m *Debugger) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.save(context.Background(), StateRunning)
	m.pauseWhenOnLevel = unsetLevel
	m.notify()
}

func (m *Debugger) StepNext() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.save(context.Background(), StateStepNext)
	m.notify()
}

func (m *Debugger) StepOver() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.save(context.Background(), StateStepOver)
	m.notify()
}

func (m *Debugger) SetPauseOnFailure(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pauseOnFailure = enabled
}

// IsPaused reads the persisted state.
func (m *Debugger) IsPaused() bool {
	return m.State() == StatePaused
}

// State reads the persisted state.
func (m *Debugger) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load(context.Background())
}

func (m *Debugger) Depth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.depth
}

// PauseWhenOnLevel returns the step-over target depth, or -1 when unset.
func (m *Debugger) PauseWhenOnLevel() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pauseWhenOnLevel
}

func (m *Debugger) PauseOnFailure() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pauseOnFailure
}

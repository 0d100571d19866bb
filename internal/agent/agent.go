// Package agent connects a host test-execution engine to a remote observer.
// The engine calls the lifecycle callbacks on its execution thread; the agent
// forwards them as wire events, drives the debugger state machine around each
// keyword, and exposes a control endpoint the observer uses to steer the run.
package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/yubzen/runneragent/internal/config"
	"github.com/yubzen/runneragent/internal/control"
	"github.com/yubzen/runneragent/internal/debugger"
	"github.com/yubzen/runneragent/internal/log"
	"github.com/yubzen/runneragent/internal/redact"
	"github.com/yubzen/runneragent/internal/state"
	"github.com/yubzen/runneragent/internal/stream"
	"github.com/yubzen/runneragent/internal/wire"
)

// DefaultControlAddr binds the control endpoint on an ephemeral port.
const DefaultControlAddr = ":0"

type Options struct {
	// ObserverAddr is host:port of the observer. Empty disables the stream.
	ObserverAddr string
	ControlAddr  string
	Store        state.Store
	Stopper      control.Stopper

	PollInterval time.Duration
	Breakpoints  []string
	LogThreshold string
	Redact       bool
	SendTimeout  time.Duration
	ReadTimeout  time.Duration
	Logger       *zerolog.Logger
}

type Agent struct {
	stream  *stream.Client
	dbg     *debugger.Debugger
	control *control.Server
	store   state.Store
	log     zerolog.Logger

	// threshold is the minimum forwarded log level. SetLogThreshold may be
	// called from any goroutine.
	threshold atomic.Value
	redact    bool

	// pauseAnnounced is set when EndKeyword has already told the observer
	// about a pause that the next StartKeyword will wait on.
	pauseAnnounced atomic.Bool

	ownsStore bool
	cancel    context.CancelFunc
	serveErr  chan error
	closeOnce sync.Once
}

// New builds the agent. The observer being unreachable is not an error: the
// agent then runs with event delivery disabled.
func New(ctx context.Context, opts Options) (*Agent, error) {
	if opts.Store == nil {
		return nil, debugger.ErrNoStore
	}
	threshold, err := validateThreshold(opts.LogThreshold)
	if err != nil {
		return nil, err
	}

	a := &Agent{
		store:  opts.Store,
		log:    log.WithComponent("agent"),
		redact: opts.Redact,
	}
	a.threshold.Store(threshold)
	if opts.Logger != nil {
		a.log = *opts.Logger
	}

	if opts.ObserverAddr == "" {
		a.stream = stream.Disconnected(errors.New("no observer address"))
	} else {
		a.stream = stream.Connect(ctx, opts.ObserverAddr, stream.Options{
			SendTimeout: opts.SendTimeout,
			Logger:      opts.Logger,
		})
	}
	a.stream.Send(wire.EventPID, os.Getpid())

	runCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	dbgOpts := []debugger.Option{debugger.WithBreakpoints(opts.Breakpoints...)}
	if opts.Logger != nil {
		dbgOpts = append(dbgOpts, debugger.WithLogger(*opts.Logger))
	}
	if opts.PollInterval > 0 {
		dbgOpts = append(dbgOpts, debugger.WithPollInterval(opts.PollInterval))
	}
	if w, ok := opts.Store.(state.Watcher); ok {
		ch, err := w.Watch(runCtx)
		if err != nil {
			a.log.Warn().Err(err).Msg("state watch unavailable, falling back to polling")
		} else {
			dbgOpts = append(dbgOpts, debugger.WithWakeup(ch))
		}
	}
	a.dbg, err = debugger.New(opts.Store, dbgOpts...)
	if err != nil {
		cancel()
		_ = a.stream.Close()
		return nil, err
	}

	addr := opts.ControlAddr
	if addr == "" {
		addr = DefaultControlAddr
	}
	a.control, err = control.Listen(addr, a.dbg, control.Options{
		Stopper:     opts.Stopper,
		Store:       opts.Store,
		ReadTimeout: opts.ReadTimeout,
		Logger:      opts.Logger,
	})
	if err != nil {
		cancel()
		_ = a.stream.Close()
		return nil, fmt.Errorf("control endpoint: %w", err)
	}
	a.serveErr = make(chan error, 1)
	go func() {
		a.serveErr <- a.control.Serve(runCtx)
	}()

	a.stream.Send(wire.EventPort, a.control.Port())
	a.log.Info().
		Str("control", a.control.Addr().String()).
		Bool("observer", a.stream.Connected()).
		Msg("agent started")
	return a, nil
}

// NewFromConfig opens the configured state store and builds the agent around
// it. The store is closed with the agent.
func NewFromConfig(ctx context.Context, cfg *config.Config, stopper control.Stopper) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	store, err := state.Open(cfg.State.Backend, cfg.State.Path)
	if err != nil {
		return nil, err
	}
	a, err := New(ctx, Options{
		ObserverAddr: cfg.ObserverAddr(),
		ControlAddr:  cfg.ControlAddr(),
		Store:        store,
		Stopper:      stopper,
		PollInterval: cfg.Debugger.PollInterval,
		Breakpoints:  cfg.Debugger.Breakpoints,
		LogThreshold: cfg.Log.Threshold,
		Redact:       cfg.Log.Redact,
		SendTimeout:  cfg.Observer.SendTimeout,
		ReadTimeout:  cfg.Control.ReadTimeout,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	a.ownsStore = true
	return a, nil
}

func (a *Agent) Debugger() *debugger.Debugger { return a.dbg }

// ControlAddr returns the bound address of the control endpoint.
func (a *Agent) ControlAddr() string { return a.control.Addr().String() }

func (a *Agent) ControlPort() int { return a.control.Port() }

// ObserverConnected reports whether events are being delivered.
func (a *Agent) ObserverConnected() bool { return a.stream.Connected() }

// SetLogThreshold changes the minimum level of forwarded log messages. An
// empty level forwards everything.
func (a *Agent) SetLogThreshold(level string) error {
	threshold, err := validateThreshold(level)
	if err != nil {
		return err
	}
	a.threshold.Store(threshold)
	return nil
}

// LogThreshold returns the current forwarding threshold.
func (a *Agent) LogThreshold() string {
	return a.threshold.Load().(string)
}

func (a *Agent) StartSuite(name string, attrs Attrs) {
	a.stream.Send(wire.EventStartSuite, name, map[string]any(attrs))
}

func (a *Agent) EndSuite(name string, attrs Attrs) {
	a.stream.Send(wire.EventEndSuite, name, map[string]any(attrs))
}

func (a *Agent) StartTest(name string, attrs Attrs) {
	a.stream.Send(wire.EventStartTest, name, map[string]any(attrs))
}

func (a *Agent) EndTest(name string, attrs Attrs) {
	a.stream.Send(wire.EventEndTest, name, map[string]any(attrs))
	a.remember(state.KeyLastTestPassed, strconv.FormatBool(attrs.Passed()))
}

// StartKeyword blocks while the debugger is paused. It returns
// ErrExecutionStopped when ctx ends during that wait; the keyword is still
// counted and must be paired with EndKeyword.
func (a *Agent) StartKeyword(ctx context.Context, name string, attrs Attrs) error {
	a.stream.Send(wire.EventStartKeyword, name, map[string]any(attrs))
	a.remember(state.KeyLastKeyword, name)

	if a.dbg.IsBreakpoint(name, attrs.Args()) {
		a.log.Info().Str("keyword", name).Msg("breakpoint reached")
		a.remember(state.KeyBreakPoint, name)
		a.dbg.Pause()
	}

	announced := a.pauseAnnounced.Swap(false)
	paused := a.dbg.IsPaused()
	switch {
	case paused && !announced:
		a.stream.Send(wire.EventPaused)
	case !paused && announced:
		// Resumed between keywords; close the pause the observer was told of.
		a.stream.Send(wire.EventContinue)
	}
	err := a.dbg.OnKeywordStart(ctx)
	if paused {
		a.stream.Send(wire.EventContinue)
	}
	return normalizeStopErr(err)
}

func (a *Agent) EndKeyword(name string, attrs Attrs) {
	a.stream.Send(wire.EventEndKeyword, name, map[string]any(attrs))
	if a.dbg.OnKeywordEnd(context.Background(), attrs.Passed()) {
		a.stream.Send(wire.EventPaused)
		a.pauseAnnounced.Store(true)
	}
}

// LogMessage forwards message when its level passes the threshold.
func (a *Agent) LogMessage(message Attrs) {
	if !isLogged(a.LogThreshold(), message.String("level")) {
		return
	}
	if a.redact {
		if text, ok := message["message"].(string); ok {
			cleaned := make(map[string]any, len(message))
			for k, v := range message {
				cleaned[k] = v
			}
			cleaned["message"] = redact.Clean(text)
			message = cleaned
		}
	}
	a.stream.Send(wire.EventLogMessage, map[string]any(message))
}

func (a *Agent) LogFile(path string) {
	a.stream.Send(wire.EventLogFile, path)
}

func (a *Agent) ReportFile(path string) {
	a.stream.Send(wire.EventReportFile, path)
}

// Message, OutputFile, SummaryFile and DebugFile are part of the host
// callback surface but are not forwarded.
func (a *Agent) Message(Attrs)      {}
func (a *Agent) OutputFile(string)  {}
func (a *Agent) SummaryFile(string) {}
func (a *Agent) DebugFile(string)   {}

// Close sends the terminal event, stops the control endpoint and releases
// the store when the agent opened it. It is safe to call more than once.
func (a *Agent) Close() error {
	var errs []error
	a.closeOnce.Do(func() {
		if err := a.stream.Close(); err != nil {
			errs = append(errs, err)
		}
		a.cancel()
		if err := a.control.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := <-a.serveErr; err != nil {
			errs = append(errs, err)
		}
		if a.ownsStore {
			if err := a.store.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		a.log.Info().Msg("agent closed")
	})
	return errors.Join(errs...)
}

func (a *Agent) remember(key, value string) {
	if err := a.store.Set(context.Background(), key, value); err != nil {
		a.log.Warn().Err(err).Str("key", key).Msg("state write failed")
	}
}

// Package control serves the out-of-band command endpoint. Each accepted
// connection carries exactly one textual command, which is applied to the
// debugger or, for kill, to the host engine's stop mechanism.
package control

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/yubzen/runneragent/internal/log"
	"github.com/yubzen/runneragent/internal/state"
	"github.com/yubzen/runneragent/internal/wire"
)

const (
	DefaultReadTimeout = 5 * time.Second

	// maxCommandLen bounds how much of a connection is read.
	maxCommandLen = 256
)

// ErrNoExecution is returned by a Stopper when nothing is running.
var ErrNoExecution = errors.New("no execution in progress")

// Debugger is the subset of the debugger state machine driven by commands.
type Debugger interface {
	Pause()
	Resume()
	StepNext()
	StepOver()
	SetPauseOnFailure(enabled bool)
}

// Stopper asks the host engine to stop executing.
type Stopper interface {
	Stop() error
}

// StopperFunc adapts a function to Stopper.
type StopperFunc func() error

func (f StopperFunc) Stop() error { return f() }

type Options struct {
	Stopper Stopper
	// Store, when set, supplies the command for connections that close
	// without sending one: controllers may write the command to the shared
	// store under state.KeyDebuggerState and only poke the port.
	Store       state.Store
	ReadTimeout time.Duration
	Logger      *zerolog.Logger
}

type Server struct {
	ln          net.Listener
	debugger    Debugger
	stopper     Stopper
	store       state.Store
	readTimeout time.Duration
	log         zerolog.Logger

	// mu orders wg.Add in Serve against wg.Wait in Close.
	mu        sync.Mutex
	wg        sync.WaitGroup
	closeOnce sync.Once
	closed    chan struct{}
}

// Listen binds addr. Use port 0 for an ephemeral port; the bound port is
// available from Port.
func Listen(addr string, debugger Debugger, opts Options) (*Server, error) {
	if debugger == nil {
		return nil, errors.New("control server requires a debugger")
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen control %s: %w", addr, err)
	}
	s := &Server{
		ln:          ln,
		debugger:    debugger,
		stopper:     opts.Stopper,
		store:       opts.Store,
		readTimeout: opts.ReadTimeout,
		log:         log.WithComponent("control"),
		closed:      make(chan struct{}),
	}
	if s.readTimeout <= 0 {
		s.readTimeout = DefaultReadTimeout
	}
	if opts.Logger != nil {
		s.log = *opts.Logger
	}
	return s, nil
}

func (s *Server) Addr() net.Addr { return s.ln.Addr() }

func (s *Server) Port() int {
	if tcp, ok := s.ln.Addr().(*net.TCPAddr); ok {
		return tcp.Port
	}
	_, port, err := net.SplitHostPort(s.ln.Addr().String())
	if err != nil {
		return 0
	}
	p, _ := strconv.Atoi(port)
	return p
}

// Serve accepts connections until ctx is done or Close is called. It returns
// nil on an orderly shutdown.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return nil
			default:
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("accept control connection: %w", err)
		}
		if !s.track() {
			_ = conn.Close()
			return nil
		}
		go func() {
			defer s.wg.Done()
			s.handle(ctx, conn)
		}()
	}
}

// track registers a connection handler unless the server is closed.
func (s *Server) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.closed:
		return false
	default:
	}
	s.wg.Add(1)
	return true
}

// Close stops accepting and waits for in-flight connections.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		close(s.closed)
		s.mu.Unlock()
		err = s.ln.Close()
	})
	s.wg.Wait()
	return err
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout))

	text, err := readCommand(conn)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("read control command failed")
		return
	}
	if text == "" && s.store != nil {
		text, err = state.GetOr(ctx, s.store, state.KeyDebuggerState, "")
		if err != nil {
			s.log.Warn().Err(err).Msg("read stored control command failed")
			return
		}
	}

	cmd, ok := wire.ParseCommand(text)
	if !ok {
		// Ignored so that newer controllers can send commands this agent
		// does not know.
		s.log.Warn().Str("command", text).Msg("ignoring unknown control command")
		return
	}
	s.Apply(cmd)
}

// readCommand returns the first line of the connection, trimmed. A token
// left unterminated on a connection that stays open is taken as the command
// once the read deadline passes.
func readCommand(r io.Reader) (string, error) {
	br := bufio.NewReader(io.LimitReader(r, maxCommandLen))
	line, err := br.ReadString('\n')
	if err == nil || errors.Is(err, io.EOF) {
		return strings.TrimSpace(line), nil
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		if text := strings.TrimSpace(line); text != "" {
			return text, nil
		}
	}
	return "", err
}

// Apply executes one command.
func (s *Server) Apply(cmd wire.Command) {
	s.log.Debug().Str("command", string(cmd)).Msg("control command")
	switch cmd {
	case wire.CommandKill:
		s.kill()
	case wire.CommandPause:
		s.debugger.Pause()
	case wire.CommandResume:
		s.debugger.Resume()
	case wire.CommandStepNext:
		s.debugger.StepNext()
	case wire.CommandStepOver:
		s.debugger.StepOver()
	case wire.CommandPauseOnFailure:
		s.debugger.SetPauseOnFailure(true)
	case wire.CommandDoNotPauseOnFailure:
		s.debugger.SetPauseOnFailure(false)
	}
}

// kill never reports failure to the controller; an idle or finished engine
// is not an error from its point of view.
func (s *Server) kill() {
	if s.stopper == nil {
		s.log.Debug().Msg("kill requested but no stop mechanism is attached")
		return
	}
	if err := s.stopper.Stop(); err != nil {
		s.log.Debug().Err(err).Msg("kill requested with no execution to stop")
	}
}

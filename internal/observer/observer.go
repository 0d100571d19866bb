// Package observer is the receiving end of an agent's event stream. It
// accepts the persistent connection, decodes events in order and remembers
// where the agent's control endpoint listens so commands can be sent back.
package observer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/yubzen/runneragent/internal/control"
	"github.com/yubzen/runneragent/internal/log"
	"github.com/yubzen/runneragent/internal/wire"
)

var ErrNoControlPort = errors.New("agent has not reported a control port")

const eventBuffer = 256

type Server struct {
	ln  net.Listener
	log zerolog.Logger
}

func Listen(addr string, logger *zerolog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen observer %s: %w", addr, err)
	}
	s := &Server{ln: ln, log: log.WithComponent("observer")}
	if logger != nil {
		s.log = *logger
	}
	return s, nil
}

func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Accept waits for the next agent. Closing ctx aborts the wait.
func (s *Server) Accept(ctx context.Context) (*Session, error) {
	stop := context.AfterFunc(ctx, func() { _ = s.ln.Close() })
	defer stop()

	conn, err := s.ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("accept agent: %w", err)
	}
	s.log.Info().Str("agent", conn.RemoteAddr().String()).Msg("agent connected")
	sess := newSession(conn, s.log)
	go sess.run()
	return sess, nil
}

func (s *Server) Close() error { return s.ln.Close() }

// Session is one agent stream.
type Session struct {
	conn   net.Conn
	events chan wire.Event
	log    zerolog.Logger

	// done is closed by Close so run never blocks on a consumer that left.
	done      chan struct{}
	closeOnce sync.Once

	mu   sync.Mutex
	pid  int64
	port int
	err  error
}

func newSession(conn net.Conn, logger zerolog.Logger) *Session {
	return &Session{
		conn:   conn,
		events: make(chan wire.Event, eventBuffer),
		log:    logger,
		done:   make(chan struct{}),
	}
}

func (s *Session) run() {
	defer close(s.events)
	dec := wire.NewDecoder(s.conn)
	for {
		ev, err := dec.Decode()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.setErr(err)
				s.log.Warn().Err(err).Msg("agent stream ended unexpectedly")
			}
			return
		}
		s.capture(ev)
		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
		if ev.IsTerminal() {
			return
		}
	}
}

func (s *Session) capture(ev wire.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch ev.Name {
	case wire.EventPID:
		if v, ok := toInt64(ev.Arg(0)); ok {
			s.pid = v
		}
	case wire.EventPort:
		if v, ok := toInt64(ev.Arg(0)); ok {
			s.port = int(v)
		}
	}
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Events yields the decoded events in stream order and is closed after the
// terminal event or when the connection ends.
func (s *Session) Events() <-chan wire.Event { return s.events }

// Err returns the decode error that ended the stream, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) PID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pid
}

func (s *Session) ControlPort() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

func (s *Session) RemoteAddr() string { return s.conn.RemoteAddr().String() }

// ControlAddr combines the agent's host with the port it reported.
func (s *Session) ControlAddr() (string, error) {
	port := s.ControlPort()
	if port == 0 {
		return "", ErrNoControlPort
	}
	host, _, err := net.SplitHostPort(s.conn.RemoteAddr().String())
	if err != nil {
		return "", err
	}
	return net.JoinHostPort(host, strconv.Itoa(port)), nil
}

// Send delivers cmd to the agent's control endpoint.
func (s *Session) Send(ctx context.Context, cmd wire.Command) error {
	addr, err := s.ControlAddr()
	if err != nil {
		return err
	}
	return control.Send(ctx, addr, cmd)
}

// Close ends the stream. Events not yet received may be dropped.
func (s *Session) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return s.conn.Close()
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	default:
		return 0, false
	}
}

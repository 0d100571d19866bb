package control

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/yubzen/runneragent/internal/state"
	"github.com/yubzen/runneragent/internal/wire"
)

var nop = zerolog.Nop()

type recordingDebugger struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingDebugger) record(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, s)
}

func (r *recordingDebugger) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recordingDebugger) Pause()    { r.record("pause") }
func (r *recordingDebugger) Resume()   { r.record("resume") }
func (r *recordingDebugger) StepNext() { r.record("step_next") }
func (r *recordingDebugger) StepOver() { r.record("step_over") }
func (r *recordingDebugger) SetPauseOnFailure(enabled bool) {
	if enabled {
		r.record("pause_on_failure=true")
		return
	}
	r.record("pause_on_failure=false")
}

func startServer(t *testing.T, dbg Debugger, opts Options) *Server {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = &nop
	}
	srv, err := Listen("127.0.0.1:0", dbg, opts)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(context.Background()) }()
	t.Cleanup(func() {
		_ = srv.Close()
		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(3 * time.Second):
			t.Error("Serve did not return after Close")
		}
	})
	return srv
}

func TestCommandsReachDebugger(t *testing.T) {
	t.Parallel()

	dbg := &recordingDebugger{}
	srv := startServer(t, dbg, Options{})
	require.NotZero(t, srv.Port())

	ctx := context.Background()
	sequence := []wire.Command{
		wire.CommandPause,
		wire.CommandStepNext,
		wire.CommandStepOver,
		wire.CommandPauseOnFailure,
		wire.CommandDoNotPauseOnFailure,
		wire.CommandResume,
	}
	want := []string{"pause", "step_next", "step_over", "pause_on_failure=true", "pause_on_failure=false", "resume"}

	// One connection per command; wait for each so ordering is deterministic.
	for i, cmd := range sequence {
		require.NoError(t, Send(ctx, srv.Addr().String(), cmd))
		n := i + 1
		require.Eventually(t, func() bool { return len(dbg.Calls()) == n }, 2*time.Second, 5*time.Millisecond)
	}
	assert.Equal(t, want, dbg.Calls())
}

func TestKillUsesStopperAndSwallowsErrors(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	stops := 0
	stopper := StopperFunc(func() error {
		mu.Lock()
		defer mu.Unlock()
		stops++
		if stops > 1 {
			return ErrNoExecution
		}
		return nil
	})

	dbg := &recordingDebugger{}
	srv := startServer(t, dbg, Options{Stopper: stopper})

	for i := 0; i < 2; i++ {
		require.NoError(t, Send(context.Background(), srv.Addr().String(), wire.CommandKill))
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return stops == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, dbg.Calls(), "kill must not touch the debugger")
}

func TestKillWithoutStopper(t *testing.T) {
	t.Parallel()

	dbg := &recordingDebugger{}
	srv, err := Listen("127.0.0.1:0", dbg, Options{Logger: &nop})
	require.NoError(t, err)
	defer srv.Close()

	assert.NotPanics(t, func() { srv.Apply(wire.CommandKill) })
	assert.Empty(t, dbg.Calls())
}

func TestUnknownCommandIsIgnored(t *testing.T) {
	t.Parallel()

	dbg := &recordingDebugger{}
	srv := startServer(t, dbg, Options{})

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	_, err = conn.Write([]byte("self_destruct\n"))
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	require.NoError(t, Send(context.Background(), srv.Addr().String(), wire.CommandPause))
	require.Eventually(t, func() bool { return len(dbg.Calls()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"pause"}, dbg.Calls())
}

func TestSendRejectsUnknownCommand(t *testing.T) {
	t.Parallel()

	err := Send(context.Background(), "127.0.0.1:1", wire.Command("explode"))
	assert.Error(t, err)
}

func TestEmptyConnectionAppliesStoredCommand(t *testing.T) {
	t.Parallel()

	store := state.NewMemory()
	require.NoError(t, store.Set(context.Background(), state.KeyDebuggerState, "step_over"))

	dbg := &recordingDebugger{}
	srv := startServer(t, dbg, Options{Store: store})

	require.NoError(t, Poke(context.Background(), srv.Addr().String()))
	require.Eventually(t, func() bool { return len(dbg.Calls()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"step_over"}, dbg.Calls())
}

func TestSilentClientTimesOut(t *testing.T) {
	t.Parallel()

	dbg := &recordingDebugger{}
	srv := startServer(t, dbg, Options{ReadTimeout: 50 * time.Millisecond})

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	// The server hangs up once the read deadline passes.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 1)
	_, err = conn.Read(buf)
	require.Error(t, err)
	var ne net.Error
	assert.False(t, errors.As(err, &ne) && ne.Timeout(), "server should close the connection before the client deadline")
	assert.Empty(t, dbg.Calls())
}

func TestManySequentialConnections(t *testing.T) {
	t.Parallel()

	dbg := &recordingDebugger{}
	srv := startServer(t, dbg, Options{})

	const n = 200
	for i := 0; i < n; i++ {
		require.NoError(t, Send(context.Background(), srv.Addr().String(), wire.CommandResume))
	}
	require.Eventually(t, func() bool { return len(dbg.Calls()) == n }, 5*time.Second, 5*time.Millisecond)
}

func TestServeStopsWithContext(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	srv, err := Listen("127.0.0.1:0", &recordingDebugger{}, Options{Logger: &nop})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx) }()

	require.NoError(t, Send(context.Background(), srv.Addr().String(), wire.CommandPause))
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	require.NoError(t, srv.Close())

	_, err = net.DialTimeout("tcp", srv.Addr().String(), 200*time.Millisecond)
	assert.Error(t, err)
}

func TestUnterminatedCommandOnOpenConnection(t *testing.T) {
	t.Parallel()

	dbg := &recordingDebugger{}
	srv := startServer(t, dbg, Options{ReadTimeout: 100 * time.Millisecond})

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("pause"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(dbg.Calls()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"pause"}, dbg.Calls())
}

func TestNoHandlerRunsAfterClose(t *testing.T) {
	t.Parallel()

	dbg := &recordingDebugger{}
	srv, err := Listen("127.0.0.1:0", dbg, Options{ReadTimeout: 100 * time.Millisecond, Logger: &nop})
	require.NoError(t, err)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(context.Background()) }()

	addr := srv.Addr().String()
	stop := make(chan struct{})
	var dialers sync.WaitGroup
	for i := 0; i < 4; i++ {
		dialers.Add(1)
		go func() {
			defer dialers.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
				if err != nil {
					continue
				}
				_, _ = conn.Write([]byte("pause\n"))
				_ = conn.Close()
			}
		}()
	}

	require.Eventually(t, func() bool { return len(dbg.Calls()) > 0 }, 2*time.Second, time.Millisecond)
	require.NoError(t, srv.Close())
	applied := len(dbg.Calls())

	time.Sleep(200 * time.Millisecond)
	close(stop)
	dialers.Wait()
	assert.Len(t, dbg.Calls(), applied)

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after Close")
	}
}

func TestReadCommand(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"pause\n":        "pause",
		"  resume \r\n":  "resume",
		"step_next":      "step_next",
		"":               "",
		"kill\nresume\n": "kill",
	}
	for in, want := range cases {
		got, err := readCommand(strings.NewReader(in))
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

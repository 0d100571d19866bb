// Package stream owns the outbound connection to the remote observer.
//
// A Client is either connected or disconnected. A disconnected client
// accepts every call and sends nothing, so the host engine never fails
// because no observer is attached or because the observer went away.
package stream

import (
	"bufio"
	"context"
	"errors"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/yubzen/runneragent/internal/log"
	"github.com/yubzen/runneragent/internal/wire"
)

const DefaultSendTimeout = 5 * time.Second

var ErrClosed = errors.New("event stream closed")

type Options struct {
	// SendTimeout bounds each write so a stalled observer cannot hold the
	// execution thread. Zero means DefaultSendTimeout.
	SendTimeout time.Duration
	Logger      *zerolog.Logger
}

// link is the transport state of a Client.
type link interface {
	send(ev wire.Event) error
	close() error
}

type connected struct {
	conn    net.Conn
	w       *bufio.Writer
	enc     *wire.Encoder
	timeout time.Duration
}

func (c *connected) send(ev wire.Event) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return err
	}
	if err := c.enc.Encode(ev); err != nil {
		return err
	}
	return c.w.Flush()
}

func (c *connected) close() error {
	return c.conn.Close()
}

// disconnected drops every event. reason is the error that put the client in
// this state.
type disconnected struct {
	reason error
}

func (disconnected) send(wire.Event) error { return nil }
func (disconnected) close() error          { return nil }

// Client sends events to the observer in call order. It is not safe for
// concurrent use; the execution thread is its only writer.
type Client struct {
	addr string
	link link
	log  zerolog.Logger
}

// Connect dials the observer. A failed dial yields a disconnected client
// rather than an error.
func Connect(ctx context.Context, addr string, opts Options) *Client {
	c := &Client{addr: addr, log: log.WithComponent("stream")}
	if opts.Logger != nil {
		c.log = *opts.Logger
	}
	timeout := opts.SendTimeout
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		c.log.Warn().Err(err).Str("addr", addr).Msg("unable to connect to observer, events will not be sent")
		c.link = disconnected{reason: err}
		return c
	}
	w := bufio.NewWriter(conn)
	c.link = &connected{conn: conn, w: w, enc: wire.NewEncoder(w), timeout: timeout}
	c.log.Debug().Str("addr", addr).Msg("connected to observer")
	return c
}

// Disconnected returns a client that never sends.
func Disconnected(reason error) *Client {
	return &Client{link: disconnected{reason: reason}, log: zerolog.Nop()}
}

func (c *Client) Connected() bool {
	_, ok := c.link.(*connected)
	return ok
}

// Err returns why the client is disconnected, or nil while connected.
func (c *Client) Err() error {
	if d, ok := c.link.(disconnected); ok {
		return d.reason
	}
	return nil
}

// Send writes one event and flushes it. Failures are logged, the connection
// is dropped, and later sends become no-ops.
func (c *Client) Send(name string, args ...any) {
	c.SendEvent(wire.NewEvent(name, args...))
}

func (c *Client) SendEvent(ev wire.Event) {
	conn, ok := c.link.(*connected)
	if !ok {
		return
	}
	if err := conn.send(ev); err != nil {
		c.log.Warn().Err(err).Str("event", ev.Name).Str("addr", c.addr).Msg("observer send failed, disabling event stream")
		_ = conn.close()
		c.link = disconnected{reason: err}
	}
}

// Close sends the terminal close event and releases the connection. Calling
// it again is a no-op.
func (c *Client) Close() error {
	if _, ok := c.link.(*connected); !ok {
		return nil
	}
	c.Send(wire.EventClose)
	err := c.link.close()
	c.link = disconnected{reason: ErrClosed}
	return err
}

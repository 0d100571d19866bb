package control

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/yubzen/runneragent/internal/wire"
)

// Send delivers one command to the control server at addr over a fresh
// connection.
func Send(ctx context.Context, addr string, cmd wire.Command) error {
	if _, ok := wire.ParseCommand(string(cmd)); !ok {
		return fmt.Errorf("unknown control command %q", cmd)
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial control %s: %w", addr, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(DefaultReadTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetWriteDeadline(deadline)
	if _, err := conn.Write([]byte(string(cmd) + "\n")); err != nil {
		return fmt.Errorf("send %s: %w", cmd, err)
	}
	return nil
}

// Poke opens and closes a connection without a command, making the server
// apply the command stored in its shared store.
func Poke(ctx context.Context, addr string) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial control %s: %w", addr, err)
	}
	return conn.Close()
}

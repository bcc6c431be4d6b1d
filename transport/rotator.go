package transport

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"time"
)

// ControlRotator requests a fresh circuit over the proxy's control port
// (SIGNAL NEWNYM). It implements Rotator.
type ControlRotator struct {
	// Addr is the control port address. Default: 127.0.0.1:9051.
	Addr string
	// Password for AUTHENTICATE. Empty sends an empty-string auth, which
	// matches cookie-less default configurations.
	Password string
	// SettleDelay is how long to wait after the signal for the new circuit
	// to establish. Default: 3s.
	SettleDelay time.Duration
}

// Rotate connects to the control port, authenticates, and signals NEWNYM.
// It waits SettleDelay before returning so the next request rides the new
// circuit.
func (r *ControlRotator) Rotate(ctx context.Context) error {
	addr := r.Addr
	if addr == "" {
		addr = "127.0.0.1:9051"
	}
	settle := r.SettleDelay
	if settle <= 0 {
		settle = 3 * time.Second
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("transport: control port dial: %w", err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(10 * time.Second))
	}

	rd := bufio.NewReader(conn)
	send := func(cmd string) error {
		if _, err := fmt.Fprintf(conn, "%s\r\n", cmd); err != nil {
			return fmt.Errorf("transport: control write: %w", err)
		}
		line, err := rd.ReadString('\n')
		if err != nil {
			return fmt.Errorf("transport: control read: %w", err)
		}
		if !strings.HasPrefix(line, "250") {
			return fmt.Errorf("transport: control %q: %s", cmd, strings.TrimSpace(line))
		}
		return nil
	}

	if err := send(fmt.Sprintf("AUTHENTICATE %q", r.Password)); err != nil {
		return err
	}
	if err := send("SIGNAL NEWNYM"); err != nil {
		return err
	}
	fmt.Fprintf(conn, "QUIT\r\n")

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(settle):
	}
	return nil
}

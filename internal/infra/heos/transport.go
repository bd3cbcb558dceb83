// Package heos implements the HEOS CLI wire protocol: a persistent TCP stream
// carrying newline terminated "heos://" command lines and unframed JSON replies.
package heos

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultPort is the fixed control port of HEOS devices.
	DefaultPort = 1255

	// DefaultTimeout bounds dialing and every single read or write.
	DefaultTimeout = 15 * time.Second

	readChunk = 8192
)

// Endpoint is a resolved device address.
type Endpoint struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Addr returns host:port.
func (e Endpoint) Addr() string {
	port := e.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(e.Host, strconv.Itoa(port))
}

func (e Endpoint) String() string {
	return e.Addr()
}

// Transport owns one stream socket to a device.
type Transport struct {
	conn    net.Conn
	addr    string
	timeout time.Duration
	buf     []byte
}

// Dial opens a stream to the endpoint. A zero timeout uses DefaultTimeout.
func Dial(ctx context.Context, ep Endpoint, timeout time.Duration) (*Transport, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	addr := ep.Addr()
	log.Debug().Str("addr", addr).Msg("Connecting to HEOS device")

	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectionError{Op: "dial", Addr: addr, Err: err}
	}

	log.Debug().Str("addr", addr).Msg("Connected to HEOS device")
	return NewTransport(conn, timeout), nil
}

// NewTransport wraps an already open connection.
func NewTransport(conn net.Conn, timeout time.Duration) *Transport {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	addr := ""
	if ra := conn.RemoteAddr(); ra != nil {
		addr = ra.String()
	}
	return &Transport{
		conn:    conn,
		addr:    addr,
		timeout: timeout,
		buf:     make([]byte, readChunk),
	}
}

// WriteLine sends line followed by a line terminator.
func (t *Transport) WriteLine(line string) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.timeout)); err != nil {
		return &ConnectionError{Op: "write", Addr: t.addr, Err: err}
	}
	if _, err := t.conn.Write([]byte(line + "\r\n")); err != nil {
		return &ConnectionError{Op: "write", Addr: t.addr, Err: err}
	}
	return nil
}

// ReadAvailable blocks until at least one byte arrives or the timeout expires,
// then returns whatever was read. It never waits for a whole message.
func (t *Transport) ReadAvailable() ([]byte, error) {
	if err := t.conn.SetReadDeadline(time.Now().Add(t.timeout)); err != nil {
		return nil, &ConnectionError{Op: "read", Addr: t.addr, Err: err}
	}
	n, err := t.conn.Read(t.buf)
	if n > 0 {
		out := make([]byte, n)
		copy(out, t.buf[:n])
		return out, nil
	}
	if err != nil {
		return nil, &ConnectionError{Op: "read", Addr: t.addr, Err: err}
	}
	return nil, &ConnectionError{Op: "read", Addr: t.addr, Err: fmt.Errorf("empty read")}
}

// Close closes the socket.
func (t *Transport) Close() error {
	return t.conn.Close()
}

// RemoteAddr returns the peer address.
func (t *Transport) RemoteAddr() string {
	return t.addr
}

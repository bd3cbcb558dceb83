package heos

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned when a request is issued on a closed connection.
	ErrClosed = errors.New("heos: connection closed")

	// ErrMalformedReply is returned when the device sends bytes that can never
	// become a JSON object, so the stream can no longer be trusted.
	ErrMalformedReply = errors.New("heos: malformed reply")
)

// ConnectionError reports a socket level failure (dial, write, read, timeout).
// It is fatal for the current session.
type ConnectionError struct {
	Op   string // dial, write, read, decode
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	if e.Addr == "" {
		return fmt.Sprintf("heos: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("heos: %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the failure was a deadline expiry.
func (e *ConnectionError) Timeout() bool {
	var t interface{ Timeout() bool }
	return errors.As(e.Err, &t) && t.Timeout()
}

// CommandError is returned when the device answers a command with
// result "fail". The complete reply is kept for diagnostics.
type CommandError struct {
	Response *Response
}

func (e *CommandError) Error() string {
	cmd := e.Response.Heos.Command
	if text, ok := e.Response.Message.Get("text"); ok {
		if eid, ok := e.Response.Message.Get("eid"); ok {
			return fmt.Sprintf("heos: %s failed: %s (eid %s)", cmd, text, eid)
		}
		return fmt.Sprintf("heos: %s failed: %s", cmd, text)
	}
	if e.Response.Heos.Message != "" {
		return fmt.Sprintf("heos: %s failed: %s", cmd, e.Response.Heos.Message)
	}
	return fmt.Sprintf("heos: %s failed", cmd)
}

// IsCommandError reports whether err carries a device "fail" reply and returns it.
func IsCommandError(err error) (*CommandError, bool) {
	var ce *CommandError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

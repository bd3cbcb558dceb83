package heos

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

const (
	// Scheme prefixes every command line.
	Scheme = "heos://"

	underProcessMarker = "command under process"
)

// LineTransport is the byte stream a Conn frames replies from.
type LineTransport interface {
	WriteLine(line string) error
	ReadAvailable() ([]byte, error)
	Close() error
}

// Requester issues one command and returns its final reply.
type Requester interface {
	Request(ctx context.Context, command string, waitForFinal bool) (*Response, error)
}

// Conn frames request/reply exchanges over a LineTransport.
// The protocol is half duplex, so requests are serialized: the lock is held
// from the write until the final reply has been read.
type Conn struct {
	mu     sync.Mutex
	t      LineTransport
	closed bool
}

// NewConn returns a Conn reading and writing through t.
func NewConn(t LineTransport) *Conn {
	return &Conn{t: t}
}

// Request sends command (with or without the heos:// prefix) and reads until a
// complete JSON reply arrives. With waitForFinal set, "command under process"
// notices are dropped and reading continues until the real answer.
// A reply with result "fail" is returned as *CommandError.
func (c *Conn) Request(ctx context.Context, command string, waitForFinal bool) (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Cancellation closes the transport to unblock a pending read or write.
	// The stream position is lost then, so the Conn is closed for good.
	stop := context.AfterFunc(ctx, func() {
		c.t.Close()
	})
	defer func() {
		if !stop() {
			c.closed = true
		}
	}()

	line := Scheme + strings.TrimPrefix(command, Scheme)
	log.Debug().Str("command", line).Bool("wait", waitForFinal).Msg("HEOS request")

	if err := c.t.WriteLine(line); err != nil {
		return nil, cancelled(ctx, err)
	}

	var buf []byte
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		chunk, err := c.t.ReadAvailable()
		if err != nil {
			return nil, cancelled(ctx, err)
		}
		buf = append(buf, chunk...)

		for {
			state, resp, rest, perr := parseFrame(buf)
			if state == frameIncomplete {
				log.Trace().Int("buffered", len(buf)).Msg("Incomplete reply")
				break
			}
			if state == frameMalformed {
				return nil, &ConnectionError{Op: "decode", Err: fmt.Errorf("%w: %v", ErrMalformedReply, perr)}
			}

			if waitForFinal && isUnderProcess(resp.Heos.Message) {
				log.Debug().Str("command", resp.Heos.Command).Msg("Command under process, waiting for final reply")
				// The final reply may share a read with the notice; keep what follows it.
				buf = rest
				continue
			}

			if len(bytes.TrimSpace(rest)) > 0 {
				log.Debug().Int("bytes", len(rest)).Msg("Dropping bytes after final reply")
			}
			return finish(resp)
		}
	}
}

// Close closes the underlying transport. Further requests fail with ErrClosed.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.t.Close()
}

// cancelled prefers the context error when ctx ended the request.
func cancelled(ctx context.Context, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	return err
}

func finish(resp *Response) (*Response, error) {
	resp.Message = ParseMessage(resp.Heos.Message)

	log.Debug().
		Str("command", resp.Heos.Command).
		Str("result", resp.Heos.Result).
		Str("message", resp.Heos.Message).
		Msg("HEOS reply")

	if resp.Heos.Result == ResultFail {
		return nil, &CommandError{Response: resp}
	}
	return resp, nil
}

type frameState int

const (
	frameIncomplete frameState = iota
	frameComplete
	frameMalformed
)

// parseFrame attempts to decode one JSON object from the front of buf.
// On frameComplete it also returns the bytes following the object.
func parseFrame(buf []byte) (frameState, *Response, []byte, error) {
	dec := json.NewDecoder(bytes.NewReader(buf))

	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return frameIncomplete, nil, nil, nil
		}
		return frameMalformed, nil, nil, err
	}

	if len(raw) == 0 || raw[0] != '{' {
		return frameMalformed, nil, nil, fmt.Errorf("reply is not a JSON object: %.40s", string(raw))
	}

	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return frameMalformed, nil, nil, err
	}
	resp.Raw = append(json.RawMessage(nil), raw...)

	return frameComplete, &resp, buf[dec.InputOffset():], nil
}

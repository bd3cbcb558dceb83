// Package heostest provides an in-memory HEOS device for tests.
package heostest

import (
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/edumarques81/heos-control/internal/infra/heos"
)

// Device is a heos.LineTransport that answers command lines from a table.
//
// Replies are looked up by the full command (scheme stripped), then by its
// path before "?". A reply may hold several concatenated JSON objects, for
// example a "command under process" notice followed by the final answer.
// Unknown commands get a "fail" reply.
type Device struct {
	mu      sync.Mutex
	replies map[string][]string
	last    map[string]string
	pending []byte
	lines   []string
	closed  bool

	// Chunk, when positive, limits every ReadAvailable to that many bytes.
	Chunk int
}

// NewDevice returns a device with no replies configured.
func NewDevice() *Device {
	return &Device{
		replies: make(map[string][]string),
		last:    make(map[string]string),
	}
}

// Reply queues a reply for command. Successive requests for the same command
// consume queued replies in order; once the queue is empty the most recently
// consumed reply is repeated.
func (d *Device) Reply(command, reply string) *Device {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.replies[command] = append(d.replies[command], reply)
	return d
}

// Conn returns a heos.Conn talking to this device.
func (d *Device) Conn() *heos.Conn {
	return heos.NewConn(d)
}

// Lines returns the commands received so far, scheme stripped.
func (d *Device) Lines() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.lines...)
}

// Closed reports whether Close was called.
func (d *Device) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// WriteLine implements heos.LineTransport.
func (d *Device) WriteLine(line string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	cmd := strings.TrimPrefix(line, heos.Scheme)
	d.lines = append(d.lines, cmd)
	d.pending = append(d.pending, d.replyLocked(cmd)...)
	return nil
}

func (d *Device) replyLocked(cmd string) string {
	path, _, _ := strings.Cut(cmd, "?")
	for _, key := range []string{cmd, path} {
		if queue := d.replies[key]; len(queue) > 0 {
			d.replies[key] = queue[1:]
			d.last[key] = queue[0]
			return queue[0]
		}
		if reply, ok := d.last[key]; ok {
			return reply
		}
	}
	return Fail(path, "eid=1&text="+url.PathEscape("unrecognized command"))
}

// ReadAvailable implements heos.LineTransport.
func (d *Device) ReadAvailable() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.pending) == 0 {
		return nil, &heos.ConnectionError{Op: "read", Err: io.EOF}
	}
	n := len(d.pending)
	if d.Chunk > 0 && d.Chunk < n {
		n = d.Chunk
	}
	out := append([]byte(nil), d.pending[:n]...)
	d.pending = d.pending[n:]
	return out, nil
}

// Close implements heos.LineTransport.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Success builds a success reply with an optional message and payload.
func Success(command, message, payload string) string {
	return reply(command, heos.ResultSuccess, message, payload)
}

// Fail builds a fail reply.
func Fail(command, message string) string {
	return reply(command, heos.ResultFail, message, "")
}

func reply(command, result, message, payload string) string {
	var b strings.Builder
	b.WriteString(`{"heos":{"command":"` + command + `","result":"` + result + `","message":"` + message + `"}`)
	if payload != "" {
		b.WriteString(`,"payload":` + payload)
	}
	b.WriteString("}")
	return b.String()
}

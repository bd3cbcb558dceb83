// Package ssdp implements the search half of the Simple Service Discovery
// Protocol: an M-SEARCH datagram sent to the multicast group and the unicast
// HTTP-over-UDP answers collected until a deadline.
package ssdp

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/ipv4"
)

const (
	// MulticastAddr is the SSDP IPv4 group and port.
	MulticastAddr = "239.255.255.250:1900"

	// DefaultTimeout is how long answers are collected after the last search.
	DefaultTimeout = 5 * time.Second

	defaultMX  = 3
	defaultTTL = 2
)

// ErrNoResponse is returned when no device answered before the deadline.
var ErrNoResponse = errors.New("ssdp: no response")

// Response is one answer to an M-SEARCH.
type Response struct {
	ST       string `json:"st"`
	Location string `json:"location"`
	USN      string `json:"usn,omitempty"`
	Server   string `json:"server,omitempty"`
	From     string `json:"from,omitempty"`
}

// Host extracts the host part of Location, without the port.
func (r Response) Host() (string, error) {
	u, err := url.Parse(r.Location)
	if err != nil {
		return "", fmt.Errorf("ssdp: invalid location %q: %w", r.Location, err)
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("ssdp: no host in location %q", r.Location)
	}
	return host, nil
}

func (r Response) key() string {
	return r.Location + "|" + r.USN + "|" + r.ST
}

// Searcher sends M-SEARCH requests.
type Searcher struct {
	// Timeout bounds the collection window. Zero uses DefaultTimeout.
	Timeout time.Duration
	// Retries is the number of M-SEARCH datagrams sent. Zero sends one.
	Retries int
	// MX is the maximum wait advertised to devices, in seconds.
	MX int
	// Addr overrides MulticastAddr, mainly for tests.
	Addr string
}

// NewSearcher returns a Searcher with the given collection window.
func NewSearcher(timeout time.Duration, retries int) *Searcher {
	return &Searcher{Timeout: timeout, Retries: retries}
}

// Search multicasts a query for target and returns the distinct answers in
// arrival order. Answers are not filtered by ST; callers decide.
func (s *Searcher) Search(ctx context.Context, target string) ([]Response, error) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	retries := s.Retries
	if retries <= 0 {
		retries = 1
	}
	mx := s.MX
	if mx <= 0 {
		mx = defaultMX
	}
	addr := s.Addr
	if addr == "" {
		addr = MulticastAddr
	}

	group, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("ssdp: resolve %s: %w", addr, err)
	}

	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return nil, fmt.Errorf("ssdp: listen: %w", err)
	}
	defer conn.Close()

	pc := ipv4.NewPacketConn(conn)
	if group.IP.IsMulticast() {
		if err := pc.SetMulticastTTL(defaultTTL); err != nil {
			log.Debug().Err(err).Msg("ssdp: cannot set multicast TTL")
		}
		if err := pc.SetMulticastLoopback(true); err != nil {
			log.Debug().Err(err).Msg("ssdp: cannot enable multicast loopback")
		}
	}

	req := buildSearch(addr, target, mx)

	var (
		responses []Response
		seen      = make(map[string]bool)
		buf       = make([]byte, 2048)
	)

	for i := 0; i < retries; i++ {
		log.Debug().Str("st", target).Str("group", addr).Int("attempt", i+1).Msg("Sending M-SEARCH")
		if _, err := pc.WriteTo(req, nil, group); err != nil {
			return nil, fmt.Errorf("ssdp: send: %w", err)
		}

		deadline := time.Now().Add(timeout)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		if err := conn.SetReadDeadline(deadline); err != nil {
			return nil, fmt.Errorf("ssdp: set deadline: %w", err)
		}

		for {
			if err := ctx.Err(); err != nil {
				return responses, err
			}
			n, from, err := conn.ReadFrom(buf)
			if err != nil {
				var ne net.Error
				if errors.As(err, &ne) && ne.Timeout() {
					break
				}
				return responses, fmt.Errorf("ssdp: read: %w", err)
			}

			resp, err := ParseResponse(buf[:n])
			if err != nil {
				log.Debug().Err(err).Str("from", from.String()).Msg("Ignoring SSDP datagram")
				continue
			}
			resp.From = from.String()
			if seen[resp.key()] {
				continue
			}
			seen[resp.key()] = true
			log.Debug().Str("st", resp.ST).Str("location", resp.Location).Msg("SSDP answer")
			responses = append(responses, resp)
		}
	}

	if len(responses) == 0 {
		return nil, ErrNoResponse
	}
	return responses, nil
}

func buildSearch(host, target string, mx int) []byte {
	var b strings.Builder
	b.WriteString("M-SEARCH * HTTP/1.1\r\n")
	fmt.Fprintf(&b, "HOST: %s\r\n", host)
	b.WriteString("MAN: \"ssdp:discover\"\r\n")
	fmt.Fprintf(&b, "ST: %s\r\n", target)
	fmt.Fprintf(&b, "MX: %d\r\n", mx)
	b.WriteString("\r\n")
	return []byte(b.String())
}

// ParseResponse decodes one HTTP-over-UDP answer. NOTIFY datagrams and
// answers without a LOCATION header are rejected.
func ParseResponse(datagram []byte) (Response, error) {
	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(datagram)), nil)
	if err != nil {
		return Response{}, fmt.Errorf("ssdp: parse answer: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Response{}, fmt.Errorf("ssdp: answer status %d", resp.StatusCode)
	}

	r := Response{
		ST:       resp.Header.Get("St"),
		Location: resp.Header.Get("Location"),
		USN:      resp.Header.Get("Usn"),
		Server:   resp.Header.Get("Server"),
	}
	if r.Location == "" {
		return Response{}, fmt.Errorf("ssdp: answer without location")
	}
	return r, nil
}

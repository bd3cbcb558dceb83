package session

import (
	"fmt"
	"strings"
)

// DiscoveryError is returned when no discovered device could be connected
// to and asked for the configured player.
type DiscoveryError struct {
	Target     string
	PlayerName string
	Candidates int
	// Err is set when the search itself failed.
	Err error
	// Attempts holds one error per rejected candidate, in order.
	Attempts []error
}

func (e *DiscoveryError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "discovery: no HEOS device with player %q found (%d candidates)", e.PlayerName, e.Candidates)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	for _, a := range e.Attempts {
		fmt.Fprintf(&b, "; %v", a)
	}
	return b.String()
}

func (e *DiscoveryError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts)+1)
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return append(errs, e.Attempts...)
}

// candidateError records why one discovery answer was rejected.
type candidateError struct {
	Location string
	Err      error
}

func (e *candidateError) Error() string {
	return fmt.Sprintf("%s: %v", e.Location, e.Err)
}

func (e *candidateError) Unwrap() error {
	return e.Err
}

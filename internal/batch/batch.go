// Package batch reads command scripts and runs them against a session.
//
// A script has one command per line, followed by key=value parameters
// separated by whitespace:
//
//	# comments and blank lines are skipped
//	player/set_volume level=10
//	wait 3
//	player/set_play_state state=play
//
// "wait N" pauses for N seconds (default 1) and is never sent to the device.
package batch

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/heos-control/internal/domain/dispatch"
	"github.com/edumarques81/heos-control/internal/infra/heos"
)

// WaitCommand is the pseudo command that pauses execution.
const WaitCommand = "wait"

// DefaultWait is used when wait has no argument.
const DefaultWait = time.Second

// Step is one tokenized script line.
type Step struct {
	Line    int
	Command string
	Params  dispatch.Params
	Wait    time.Duration
}

// IsWait reports whether the step is a pause.
func (s Step) IsWait() bool {
	return s.Command == WaitCommand
}

// ParseError points at the offending script line.
type ParseError struct {
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("batch line %d: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Parse tokenizes a script.
func Parse(r io.Reader) ([]Step, error) {
	var steps []Step

	sc := bufio.NewScanner(r)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		step := Step{Line: n, Command: fields[0]}

		if step.IsWait() {
			d, err := parseWait(fields[1:])
			if err != nil {
				return nil, &ParseError{Line: n, Err: err}
			}
			step.Wait = d
			steps = append(steps, step)
			continue
		}

		params, err := dispatch.ParseParams(fields[1:])
		if err != nil {
			return nil, &ParseError{Line: n, Err: err}
		}
		step.Params = params
		steps = append(steps, step)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read batch: %w", err)
	}

	return steps, nil
}

func parseWait(args []string) (time.Duration, error) {
	if len(args) == 0 {
		return DefaultWait, nil
	}
	if len(args) > 1 {
		return 0, fmt.Errorf("wait takes one argument, got %d", len(args))
	}
	secs, err := strconv.ParseFloat(args[0], 64)
	if err != nil || secs < 0 {
		return 0, fmt.Errorf("invalid wait %q", args[0])
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// Executor sends one command.
type Executor interface {
	Execute(ctx context.Context, command string, params dispatch.Params) (*heos.Response, error)
}

// Result is the outcome of one step. Exactly one field is set.
type Result struct {
	Response *heos.Response
	Sleep    time.Duration
	Err      error
}

// MarshalJSON writes the device reply as received, or a local record for
// pauses and errors that produced no reply.
func (r Result) MarshalJSON() ([]byte, error) {
	switch {
	case r.Response != nil:
		return json.Marshal(r.Response)
	case r.Err != nil:
		return json.Marshal(map[string]map[string]string{
			"heosctl": {"error": r.Err.Error()},
		})
	default:
		return json.Marshal(map[string]map[string]string{
			"heosctl": {"sleep": fmt.Sprintf("successful for %s", r.Sleep)},
		})
	}
}

// StepError is returned by Run for the step that halted the script.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("batch line %d (%s): %v", e.Step.Line, e.Step.Command, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Run executes steps in order and stops at the first command that does not
// succeed. The results collected so far are always returned; the failing
// step's result is the last one.
func Run(ctx context.Context, exec Executor, steps []Step) ([]Result, error) {
	results := make([]Result, 0, len(steps))

	for _, step := range steps {
		if step.IsWait() {
			log.Debug().Dur("wait", step.Wait).Int("line", step.Line).Msg("Pausing batch")
			if err := sleep(ctx, step.Wait); err != nil {
				return results, &StepError{Step: step, Err: err}
			}
			results = append(results, Result{Sleep: step.Wait})
			continue
		}

		log.Info().Str("command", step.Command).Str("params", step.Params.Encode()).Msg("Issue command")
		resp, err := exec.Execute(ctx, step.Command, step.Params)
		if err != nil {
			res := Result{Err: err}
			var ce *heos.CommandError
			if errors.As(err, &ce) && ce.Response != nil {
				res = Result{Response: ce.Response}
			}
			results = append(results, res)
			return results, &StepError{Step: step, Err: err}
		}

		results = append(results, Result{Response: resp})
		if !resp.Succeeded() {
			return results, &StepError{Step: step, Err: fmt.Errorf("result %q", resp.Heos.Result)}
		}
	}

	return results, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package batch

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/edumarques81/heos-control/internal/domain/catalog"
	"github.com/edumarques81/heos-control/internal/domain/dispatch"
	"github.com/edumarques81/heos-control/internal/infra/heos"
)

func TestParse(t *testing.T) {
	script := `# morning routine
player/set_volume level=10

wait
  player/set_play_state state=play   pname=Kitchen
wait 2.5
system/heart_beat
`
	steps, err := Parse(strings.NewReader(script))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	want := []Step{
		{Line: 2, Command: "player/set_volume", Params: dispatch.Params{{Key: "level", Value: "10"}}},
		{Line: 4, Command: WaitCommand, Wait: time.Second},
		{Line: 5, Command: "player/set_play_state", Params: dispatch.Params{
			{Key: "state", Value: "play"}, {Key: "pname", Value: "Kitchen"},
		}},
		{Line: 6, Command: WaitCommand, Wait: 2500 * time.Millisecond},
		{Line: 7, Command: "system/heart_beat", Params: dispatch.Params{}},
	}

	if len(steps) != len(want) {
		t.Fatalf("Expected %d steps, got %d: %+v", len(want), len(steps), steps)
	}
	for i, w := range want {
		got := steps[i]
		if got.Line != w.Line || got.Command != w.Command || got.Wait != w.Wait {
			t.Errorf("Step %d: expected %+v, got %+v", i, w, got)
		}
		if got.Params.Encode() != w.Params.Encode() {
			t.Errorf("Step %d: expected params %q, got %q", i, w.Params.Encode(), got.Params.Encode())
		}
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name   string
		script string
		line   int
	}{
		{"bad wait", "wait soon", 1},
		{"negative wait", "system/heart_beat\nwait -1", 2},
		{"too many wait args", "wait 1 2", 1},
		{"param without value", "# c\nplayer/set_volume level", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.script))
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("Expected *ParseError, got %v", err)
			}
			if pe.Line != tt.line {
				t.Errorf("Expected line %d, got %d", tt.line, pe.Line)
			}
		})
	}
}

type call struct {
	command string
	params  string
}

type fakeExecutor struct {
	calls   []call
	replies map[string]func() (*heos.Response, error)
}

func (f *fakeExecutor) Execute(_ context.Context, command string, params dispatch.Params) (*heos.Response, error) {
	f.calls = append(f.calls, call{command, params.Encode()})
	if reply, ok := f.replies[command]; ok {
		return reply()
	}
	return &heos.Response{Heos: heos.Envelope{Command: command, Result: heos.ResultSuccess}}, nil
}

func TestRunSuccess(t *testing.T) {
	exec := &fakeExecutor{}
	steps := []Step{
		{Line: 1, Command: "player/set_volume", Params: dispatch.Params{{Key: "level", Value: "10"}}},
		{Line: 2, Command: WaitCommand, Wait: time.Millisecond},
		{Line: 3, Command: "system/heart_beat"},
	}

	results, err := Run(context.Background(), exec, steps)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(results))
	}
	if len(exec.calls) != 2 {
		t.Errorf("Wait must not reach the device, got calls %v", exec.calls)
	}
	if exec.calls[0].params != "level=10" {
		t.Errorf("Unexpected params %q", exec.calls[0].params)
	}
	if results[1].Sleep != time.Millisecond {
		t.Errorf("Expected sleep result, got %+v", results[1])
	}

	data, err := json.Marshal(results[1])
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"sleep"`) {
		t.Errorf("Unexpected sleep record %s", data)
	}
}

func TestRunHaltsOnCommandError(t *testing.T) {
	failed := &heos.Response{Heos: heos.Envelope{
		Command: "player/set_volume",
		Result:  heos.ResultFail,
		Message: "eid=4&text=invalid%20pid",
	}}
	exec := &fakeExecutor{replies: map[string]func() (*heos.Response, error){
		"player/set_volume": func() (*heos.Response, error) {
			return nil, &heos.CommandError{Response: failed}
		},
	}}
	steps := []Step{
		{Line: 1, Command: "system/heart_beat"},
		{Line: 2, Command: "player/set_volume"},
		{Line: 3, Command: "player/set_mute"},
	}

	results, err := Run(context.Background(), exec, steps)

	var se *StepError
	if !errors.As(err, &se) {
		t.Fatalf("Expected *StepError, got %v", err)
	}
	if se.Step.Line != 2 {
		t.Errorf("Expected failing line 2, got %d", se.Step.Line)
	}
	if _, ok := heos.IsCommandError(err); !ok {
		t.Error("Command error should stay reachable")
	}
	if len(exec.calls) != 2 {
		t.Errorf("Steps after the failure must not run, got %v", exec.calls)
	}
	if len(results) != 2 || results[1].Response != failed {
		t.Errorf("The fail reply should be the last result, got %+v", results)
	}
}

func TestRunHaltsOnLocalError(t *testing.T) {
	exec := &fakeExecutor{replies: map[string]func() (*heos.Response, error){
		"player/set_volume": func() (*heos.Response, error) {
			return nil, &catalog.NameResolutionError{Kind: catalog.Player, Name: "Attic"}
		},
	}}

	results, err := Run(context.Background(), exec, []Step{{Line: 1, Command: "player/set_volume"}})

	var ne *catalog.NameResolutionError
	if !errors.As(err, &ne) {
		t.Fatalf("Expected *NameResolutionError, got %v", err)
	}
	data, err := json.Marshal(results)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "Attic") {
		t.Errorf("Error record should name the player, got %s", data)
	}
}

func TestRunHaltsOnNonSuccess(t *testing.T) {
	exec := &fakeExecutor{replies: map[string]func() (*heos.Response, error){
		"system/heart_beat": func() (*heos.Response, error) {
			return &heos.Response{Heos: heos.Envelope{Command: "system/heart_beat", Result: "pending"}}, nil
		},
	}}
	steps := []Step{{Line: 1, Command: "system/heart_beat"}, {Line: 2, Command: "system/heart_beat"}}

	results, err := Run(context.Background(), exec, steps)
	if err == nil {
		t.Fatal("Expected an error for a non-success result")
	}
	if len(results) != 1 || len(exec.calls) != 1 {
		t.Errorf("Expected to stop after the first step, got %d results", len(results))
	}
}

func TestRunWaitCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, &fakeExecutor{}, []Step{{Line: 1, Command: WaitCommand, Wait: time.Hour}})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

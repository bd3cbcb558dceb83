package dispatch

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/edumarques81/heos-control/internal/domain/catalog"
	"github.com/edumarques81/heos-control/internal/infra/heos"
	"github.com/edumarques81/heos-control/internal/infra/heos/heostest"
)

// fakeNames resolves from static tables.
type fakeNames map[catalog.Kind]map[string]string

func (f fakeNames) Resolve(kind catalog.Kind, names string) (string, error) {
	var ids []string
	for _, n := range strings.Split(names, ",") {
		id, ok := f[kind][n]
		if !ok {
			return "", &catalog.NameResolutionError{Kind: kind, Name: n}
		}
		ids = append(ids, id)
	}
	return strings.Join(ids, ","), nil
}

func id(n int) *int { return &n }

var names = fakeNames{
	catalog.Player: {"Living Room": "1", "Kitchen": "2"},
	catalog.Group:  {"Downstairs": "-5"},
}

func TestBuild(t *testing.T) {
	tests := []struct {
		name      string
		command   string
		params    Params
		defaultID *int
		want      string
	}{
		{"inject pid first", "player/set_volume", Params{{"level", "19"}}, id(7), "player/set_volume?pid=7&level=19"},
		{"explicit pid", "player/set_volume", Params{{"pid", "3"}, {"level", "19"}}, id(7), "player/set_volume?dummy=1&pid=3&level=19"},
		{"player name alias", "player/set_volume", Params{{"level", "5"}, {"pname", "Kitchen"}}, id(7), "player/set_volume?dummy=1&level=5&pid=2"},
		{"inject gid for group", "group/get_volume", nil, id(7), "group/get_volume?gid=7"},
		{"inject gid for browse", "browse/get_music_sources", nil, id(7), "browse/get_music_sources?gid=7"},
		{"group name alias", "group/set_volume", Params{{"gname", "Downstairs"}, {"level", "10"}}, id(7), "group/set_volume?dummy=1&gid=-5&level=10"},
		{"pid does not satisfy group", "group/set_volume", Params{{"pid", "1"}}, id(7), "group/set_volume?gid=7&pid=1"},
		{"multi name", "group/set_group", Params{{"pname", "Living Room,Kitchen"}}, id(7), "group/set_group?gid=7&pid=1,2"},
		{"players namespace", "get_players", nil, id(7), "get_players?pid=7"},
		{"no context", "system/heart_beat", nil, id(7), "system/heart_beat?dummy=1"},
		{"no context with params", "system/sign_in", Params{{"un", "me"}, {"pw", "x"}}, id(7), "system/sign_in?dummy=1&un=me&pw=x"},
		{"no default player", "player/set_volume", Params{{"level", "19"}}, nil, "player/set_volume?dummy=1&level=19"},
		{"no default group", "group/get_volume", nil, nil, "group/get_volume?dummy=1"},
		{"zero is a valid default", "player/set_volume", Params{{"level", "19"}}, id(0), "player/set_volume?pid=0&level=19"},
		{"negative default", "group/get_volume", nil, id(-12), "group/get_volume?gid=-12"},
		{"inline query", "player/set_volume?level=4", nil, id(7), "player/set_volume?pid=7&level=4"},
		{"scheme stripped", "heos://system/heart_beat", nil, id(7), "system/heart_beat?dummy=1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(nil, names)
			if tt.defaultID != nil {
				d.WithDefaultID(*tt.defaultID)
			}
			got, err := d.Build(tt.command, tt.params)
			if err != nil {
				t.Fatalf("Build failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Build(%q, %v) = %q, want %q", tt.command, tt.params, got, tt.want)
			}
		})
	}
}

func TestBuildUnknownName(t *testing.T) {
	d := New(nil, names).WithDefaultID(7)

	_, err := d.Build("player/set_volume", Params{{"pname", "Garage"}})
	var nre *catalog.NameResolutionError
	if !errors.As(err, &nre) {
		t.Fatalf("Expected NameResolutionError, got %v", err)
	}
	if nre.Name != "Garage" {
		t.Errorf("Expected unresolved token Garage, got %q", nre.Name)
	}
}

func TestExecute(t *testing.T) {
	dev := heostest.NewDevice().
		Reply("player/set_volume?pid=7&level=19",
			heostest.Success("player/set_volume", "command under process&pid=7", "")+
				heostest.Success("player/set_volume", "pid=7&level=19", ""))
	d := New(dev.Conn(), names).WithDefaultID(7)

	resp, err := d.Execute(context.Background(), "player/set_volume", Params{{"level", "19"}})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if level, _ := resp.Message.Get("level"); level != "19" {
		t.Errorf("Expected final reply with level=19, got %q", resp.Heos.Message)
	}
	if got := dev.Lines(); !reflect.DeepEqual(got, []string{"player/set_volume?pid=7&level=19"}) {
		t.Errorf("Unexpected lines %v", got)
	}
}

func TestExecuteFail(t *testing.T) {
	dev := heostest.NewDevice().
		Reply("player/set_volume", `{"heos":{"command":"player/set_volume","result":"fail","message":"eid=4&text=invalid%20pid"}}`)
	d := New(dev.Conn(), names).WithDefaultID(99)

	_, err := d.Execute(context.Background(), "player/set_volume", Params{{"level", "19"}})
	ce, ok := heos.IsCommandError(err)
	if !ok {
		t.Fatalf("Expected CommandError, got %v", err)
	}
	eid, _ := ce.Response.Message.Get("eid")
	text, _ := ce.Response.Message.Get("text")
	if eid != "4" || text != "invalid pid" {
		t.Errorf("Expected {eid: 4, text: invalid pid}, got {eid: %q, text: %q}", eid, text)
	}
}

func TestExecuteUnknownNameSendsNothing(t *testing.T) {
	dev := heostest.NewDevice()
	d := New(dev.Conn(), names).WithDefaultID(7)

	if _, err := d.Execute(context.Background(), "player/set_volume", Params{{"pname", "Attic"}}); err == nil {
		t.Fatal("Expected error")
	}
	if n := len(dev.Lines()); n != 0 {
		t.Errorf("Nothing should be sent, got %d lines", n)
	}
}

func TestParseParams(t *testing.T) {
	got, err := ParseParams([]string{"level=19", "url=http://x/?a=b", "empty="})
	if err != nil {
		t.Fatalf("ParseParams failed: %v", err)
	}
	want := Params{{"level", "19"}, {"url", "http://x/?a=b"}, {"empty", ""}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if v, ok := got.Get("url"); !ok || v != "http://x/?a=b" {
		t.Errorf("Get(url) = %q, %v", v, ok)
	}

	for _, bad := range []string{"level", "=5"} {
		if _, err := ParseParams([]string{bad}); err == nil {
			t.Errorf("Expected error for %q", bad)
		}
	}
}

package heos

import (
	"encoding/json"
	"testing"
)

func TestIDUnmarshal(t *testing.T) {
	tests := []struct {
		input   string
		want    ID
		wantErr bool
	}{
		{`12`, 12, false},
		{`-1899423658`, -1899423658, false},
		{`"7"`, 7, false},
		{`"abc"`, 0, true},
	}

	for _, tt := range tests {
		var id ID
		err := json.Unmarshal([]byte(tt.input), &id)
		if (err != nil) != tt.wantErr {
			t.Errorf("Unmarshal(%s) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && id != tt.want {
			t.Errorf("Unmarshal(%s) = %d, want %d", tt.input, id, tt.want)
		}
	}
}

func TestResponseDecodePayload(t *testing.T) {
	state, resp, _, err := parseFrame([]byte(`{"heos":{"command":"group/get_groups","result":"success"},"payload":[{"name":"Downstairs","gid":"-5","players":[{"name":"Kitchen","pid":2,"role":"leader"}]}]}`))
	if state != frameComplete || err != nil {
		t.Fatalf("parseFrame failed: %v", err)
	}

	var groups []Group
	if err := resp.DecodePayload(&groups); err != nil {
		t.Fatalf("DecodePayload failed: %v", err)
	}
	if len(groups) != 1 || groups[0].Name != "Downstairs" || groups[0].GID != -5 {
		t.Errorf("Unexpected groups %+v", groups)
	}
	if len(groups[0].Players) != 1 || groups[0].Players[0].Role != "leader" {
		t.Errorf("Unexpected members %+v", groups[0].Players)
	}
}

func TestResponseWithoutPayload(t *testing.T) {
	for _, input := range []string{
		`{"heos":{"command":"player/get_players","result":"success"}}`,
		`{"heos":{"command":"player/get_players","result":"success"},"payload":null}`,
	} {
		_, resp, _, _ := parseFrame([]byte(input))
		if resp.HasPayload() {
			t.Errorf("HasPayload should be false for %s", input)
		}
		var v []Player
		if err := resp.DecodePayload(&v); err == nil {
			t.Errorf("DecodePayload should fail for %s", input)
		}
	}
}

func TestResponseMarshalJSON(t *testing.T) {
	_, resp, _, _ := parseFrame([]byte(`{"heos":{"command":"system/check_account","result":"success","message":"signed_in&un=me@example.com"},"extra":1}`))
	resp.Message = ParseMessage(resp.Heos.Message)

	b, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("Output is not JSON: %v", err)
	}
	if out["extra"] != float64(1) {
		t.Errorf("Unknown fields must survive, got %v", out)
	}
	parsed, ok := out["heos_message_parsed"].(map[string]any)
	if !ok {
		t.Fatalf("Missing heos_message_parsed in %s", b)
	}
	if parsed["signed_in"] != true || parsed["un"] != "me@example.com" {
		t.Errorf("Unexpected parsed message %v", parsed)
	}
}

func TestResponseSucceeded(t *testing.T) {
	var nilResp *Response
	if nilResp.Succeeded() {
		t.Error("nil response must not succeed")
	}
	if !(&Response{Heos: Envelope{Result: ResultSuccess}}).Succeeded() {
		t.Error("success result should succeed")
	}
	if (&Response{Heos: Envelope{Result: ResultFail}}).Succeeded() {
		t.Error("fail result should not succeed")
	}
}

package heos

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Result values of heos.result.
const (
	ResultSuccess = "success"
	ResultFail    = "fail"
)

// Envelope is the common "heos" object present in every reply.
type Envelope struct {
	Command string `json:"command"`
	Result  string `json:"result"`
	Message string `json:"message,omitempty"`
}

// Response is one complete reply from the device.
type Response struct {
	Heos    Envelope        `json:"heos"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Options json.RawMessage `json:"options,omitempty"`

	// Message is the decoded form of Heos.Message. Heos.Message is kept as sent.
	Message Message `json:"-"`

	// Raw is the complete reply as received, including fields not modelled here.
	Raw json.RawMessage `json:"-"`
}

// Succeeded reports whether heos.result is "success".
func (r *Response) Succeeded() bool {
	return r != nil && r.Heos.Result == ResultSuccess
}

// HasPayload reports whether the reply carried a non-null payload.
func (r *Response) HasPayload() bool {
	p := bytes.TrimSpace(r.Payload)
	return len(p) > 0 && !bytes.Equal(p, []byte("null"))
}

// DecodePayload unmarshals the payload into v.
func (r *Response) DecodePayload(v any) error {
	if !r.HasPayload() {
		return fmt.Errorf("heos: %s: no payload", r.Heos.Command)
	}
	if err := json.Unmarshal(r.Payload, v); err != nil {
		return fmt.Errorf("heos: %s: decode payload: %w", r.Heos.Command, err)
	}
	return nil
}

// MarshalJSON emits the reply as received plus a "heos_message_parsed" object
// when a message was present.
func (r *Response) MarshalJSON() ([]byte, error) {
	fields := make(map[string]json.RawMessage)
	if len(r.Raw) > 0 {
		if err := json.Unmarshal(r.Raw, &fields); err != nil {
			return nil, err
		}
	} else {
		heos, err := json.Marshal(r.Heos)
		if err != nil {
			return nil, err
		}
		fields["heos"] = heos
		if len(r.Payload) > 0 {
			fields["payload"] = r.Payload
		}
		if len(r.Options) > 0 {
			fields["options"] = r.Options
		}
	}
	if len(r.Message) > 0 {
		parsed, err := r.Message.MarshalJSON()
		if err != nil {
			return nil, err
		}
		fields["heos_message_parsed"] = parsed
	}
	return json.Marshal(fields)
}

// ID is a device assigned identifier. Some firmware sends ids as JSON numbers
// and others as quoted strings; both decode here.
type ID int

// UnmarshalJSON accepts 12, -12 and "12".
func (id *ID) UnmarshalJSON(b []byte) error {
	s := string(bytes.TrimSpace(b))
	if unq, err := strconv.Unquote(s); err == nil {
		s = unq
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("heos: invalid id %s", string(b))
	}
	*id = ID(n)
	return nil
}

func (id ID) String() string {
	return strconv.Itoa(int(id))
}

// Player is one entry of the player/get_players payload.
type Player struct {
	Name    string `json:"name"`
	PID     ID     `json:"pid"`
	GID     *ID    `json:"gid,omitempty"`
	Model   string `json:"model,omitempty"`
	Version string `json:"version,omitempty"`
	IP      string `json:"ip,omitempty"`
	Network string `json:"network,omitempty"`
	Serial  string `json:"serial,omitempty"`
}

// Group is one entry of the group/get_groups payload.
type Group struct {
	Name    string        `json:"name"`
	GID     ID            `json:"gid"`
	Players []GroupMember `json:"players,omitempty"`
}

// GroupMember is a player inside a group entry.
type GroupMember struct {
	Name string `json:"name"`
	PID  ID     `json:"pid"`
	Role string `json:"role,omitempty"`
}

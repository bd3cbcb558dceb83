package heos

import (
	"bytes"
	"encoding/json"
	"net/url"
	"strings"
)

// Attr is one token of a decoded heos.message string.
// Tokens without "=" are flags and carry Flag=true with an empty Value.
type Attr struct {
	Key   string
	Value string
	Flag  bool
}

// Message is the ordered decoding of a heos.message attribute string,
// e.g. "signed_in&un=me@example.com".
type Message []Attr

// ParseMessage splits s on "&" and each token on its first "=".
// Values are percent-decoded when they are valid escapes and kept verbatim
// otherwise. Empty tokens are skipped. A repeated key keeps every occurrence;
// Get returns the first.
func ParseMessage(s string) Message {
	if s == "" {
		return nil
	}

	var msg Message
	for _, token := range strings.Split(s, "&") {
		if token == "" {
			continue
		}
		key, value, found := strings.Cut(token, "=")
		if !found {
			msg = append(msg, Attr{Key: token, Flag: true})
			continue
		}
		if decoded, err := url.PathUnescape(value); err == nil {
			value = decoded
		}
		msg = append(msg, Attr{Key: key, Value: value})
	}
	return msg
}

// Get returns the value of the first attribute named key.
func (m Message) Get(key string) (string, bool) {
	for _, a := range m {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

// Has reports whether key appears, either as a flag or with a value.
func (m Message) Has(key string) bool {
	for _, a := range m {
		if a.Key == key {
			return true
		}
	}
	return false
}

// isUnderProcess reports whether a raw heos.message is the intermediate
// notice sent before the final reply of a slow command.
func isUnderProcess(raw string) bool {
	return strings.Contains(raw, underProcessMarker)
}

// MarshalJSON encodes the message as a JSON object in token order.
// Flags are encoded as true.
func (m Message) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	seen := make(map[string]bool, len(m))
	first := true
	for _, a := range m {
		if seen[a.Key] {
			continue
		}
		seen[a.Key] = true
		if !first {
			buf.WriteByte(',')
		}
		first = false

		k, err := json.Marshal(a.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		if a.Flag {
			buf.WriteString("true")
			continue
		}
		v, err := json.Marshal(a.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// EscapeValue percent-encodes the characters the device treats as
// separators ("&", "=") and the escape character itself ("%").
func EscapeValue(s string) string {
	if !strings.ContainsAny(s, "&=%") {
		return s
	}
	r := strings.NewReplacer("%", "%25", "&", "%26", "=", "%3D")
	return r.Replace(s)
}

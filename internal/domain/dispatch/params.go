package dispatch

import (
	"fmt"
	"strings"
)

// Param is one key=value command parameter.
type Param struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Params is an ordered parameter list; order is preserved on the wire.
type Params []Param

// ParseParams turns "key=value" tokens into Params. The value may itself
// contain "=".
func ParseParams(tokens []string) (Params, error) {
	params := make(Params, 0, len(tokens))
	for _, tok := range tokens {
		key, value, ok := strings.Cut(tok, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q, expected key=value", tok)
		}
		params = append(params, Param{Key: key, Value: value})
	}
	return params, nil
}

// Get returns the first value for key.
func (p Params) Get(key string) (string, bool) {
	for _, kv := range p {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}

// Encode joins the parameters as key=value pairs separated by "&".
func (p Params) Encode() string {
	var b strings.Builder
	for i, kv := range p {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(kv.Key)
		b.WriteByte('=')
		b.WriteString(kv.Value)
	}
	return b.String()
}

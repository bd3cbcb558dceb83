// Package dispatch builds fully qualified HEOS commands from a command path
// and parameters, filling in the default player or group when omitted.
package dispatch

import (
	"context"
	"strconv"
	"strings"

	"github.com/edumarques81/heos-control/internal/domain/catalog"
	"github.com/edumarques81/heos-control/internal/infra/heos"
	"github.com/rs/zerolog/log"
)

// Name addressing aliases accepted in place of pid/gid.
const (
	PlayerNameKey = "pname"
	GroupNameKey  = "gname"

	placeholder = "dummy=1"
)

var aliases = map[string]catalog.Kind{
	PlayerNameKey: catalog.Player,
	GroupNameKey:  catalog.Group,
}

// Resolver maps comma separated names to comma separated ids.
type Resolver interface {
	Resolve(kind catalog.Kind, names string) (string, error)
}

// Dispatcher is the entry point for sending commands.
type Dispatcher struct {
	conn      heos.Requester
	names     Resolver
	defaultID int
	hasID     bool
}

// New returns a dispatcher without a default target.
func New(conn heos.Requester, names Resolver) *Dispatcher {
	return &Dispatcher{conn: conn, names: names}
}

// WithDefaultID sets the main player id injected when a command omits its
// target. Any value is valid, including 0 and negative ids.
func (d *Dispatcher) WithDefaultID(id int) *Dispatcher {
	d.defaultID = id
	d.hasID = true
	return d
}

// Execute builds the command line, sends it and waits for the final reply.
func (d *Dispatcher) Execute(ctx context.Context, command string, params Params) (*heos.Response, error) {
	line, err := d.Build(command, params)
	if err != nil {
		return nil, err
	}
	log.Info().Str("cmd", command).Str("line", line).Msg("Issuing command")
	return d.conn.Request(ctx, line, true)
}

// Build returns the command line without scheme, e.g.
// "player/set_volume?pid=7&level=19". Name aliases are resolved first; an
// unknown name returns *catalog.NameResolutionError.
func (d *Dispatcher) Build(command string, params Params) (string, error) {
	command = strings.TrimPrefix(command, heos.Scheme)
	if base, query, ok := strings.Cut(command, "?"); ok {
		inline, err := parseQuery(query)
		if err != nil {
			return "", err
		}
		command = base
		params = append(inline, params...)
	}

	resolved := make(Params, 0, len(params))
	var pidGiven, gidGiven bool

	for _, p := range params {
		if kind, ok := aliases[p.Key]; ok {
			ids, err := d.names.Resolve(kind, p.Value)
			if err != nil {
				return "", err
			}
			log.Debug().Str("name", p.Value).Str("key", kind.Key()).Str("id", ids).Msg("Translated name")
			p = Param{Key: kind.Key(), Value: ids}
		}
		switch p.Key {
		case "pid":
			pidGiven = true
		case "gid":
			gidGiven = true
		}
		resolved = append(resolved, p)
	}

	var lead string
	switch {
	case needsGroup(command) && !gidGiven:
		lead = d.inject("gid", command)
	case needsPlayer(command) && !pidGiven:
		lead = d.inject("pid", command)
	}
	if lead == "" {
		lead = placeholder
	}

	query := lead
	if len(resolved) > 0 {
		query += "&" + resolved.Encode()
	}
	return command + "?" + query, nil
}

// inject returns key=defaultID, or "" with a warning when no default is known.
func (d *Dispatcher) inject(key, command string) string {
	if !d.hasID {
		log.Warn().Str("cmd", command).Msg("No default player is defined")
		return ""
	}
	log.Debug().Str("key", key).Int("id", d.defaultID).Msg("Assuming default target")
	return key + "=" + strconv.Itoa(d.defaultID)
}

func parseQuery(query string) (Params, error) {
	var tokens []string
	for _, tok := range strings.Split(query, "&") {
		if tok != "" {
			tokens = append(tokens, tok)
		}
	}
	return ParseParams(tokens)
}

func needsGroup(command string) bool {
	return strings.Contains(command, "groups/") ||
		strings.Contains(command, "group/") ||
		strings.Contains(command, "browse/")
}

func needsPlayer(command string) bool {
	return strings.Contains(command, "player/") || strings.Contains(command, "players")
}

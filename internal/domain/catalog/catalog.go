// Package catalog resolves human readable player and group names to the
// device assigned ids used on the wire.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/edumarques81/heos-control/internal/infra/heos"
	"github.com/rs/zerolog/log"
)

// Kind distinguishes addressable entities.
type Kind int

const (
	Player Kind = iota
	Group
)

func (k Kind) String() string {
	switch k {
	case Player:
		return "player"
	case Group:
		return "group"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Key returns the protocol parameter addressing this kind ("pid" or "gid").
func (k Kind) Key() string {
	if k == Group {
		return "gid"
	}
	return "pid"
}

const (
	playersCommand = "player/get_players"
	groupsCommand  = "group/get_groups"
)

// Identity is one resolved catalog entry.
type Identity struct {
	Kind Kind   `json:"kind"`
	Name string `json:"name"`
	ID   int    `json:"id"`
}

// Catalog holds name to id tables for the lifetime of one connection.
type Catalog struct {
	mu      sync.RWMutex
	conn    heos.Requester
	players map[string]int
	groups  map[string]int
}

// New returns an empty catalog that refreshes through conn.
func New(conn heos.Requester) *Catalog {
	return &Catalog{
		conn:    conn,
		players: make(map[string]int),
		groups:  make(map[string]int),
	}
}

// Refresh replaces both tables from the device. Players are mandatory;
// a missing or failed group list only logs a warning.
func (c *Catalog) Refresh(ctx context.Context) error {
	players, err := c.fetchPlayers(ctx)
	if err != nil {
		return err
	}

	groups, err := c.fetchGroups(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Could not find a list of groups")
		groups = make(map[string]int)
	}

	c.mu.Lock()
	c.players = players
	c.groups = groups
	c.mu.Unlock()

	log.Info().Int("players", len(players)).Int("groups", len(groups)).Msg("Catalog refreshed")
	return nil
}

func (c *Catalog) fetchPlayers(ctx context.Context) (map[string]int, error) {
	resp, err := c.conn.Request(ctx, playersCommand, true)
	if err != nil {
		if _, ok := heos.IsCommandError(err); ok {
			return nil, &CatalogError{Reason: "device refused player list", Err: err}
		}
		return nil, err
	}
	if !resp.HasPayload() {
		return nil, &CatalogError{Reason: "no player list in reply"}
	}

	var items []heos.Player
	if err := resp.DecodePayload(&items); err != nil {
		return nil, &CatalogError{Reason: "unreadable player list", Err: err}
	}
	if len(items) == 0 {
		return nil, &CatalogError{Reason: "device reports no players"}
	}

	out := make(map[string]int, len(items))
	for _, p := range items {
		log.Debug().Str("name", p.Name).Int("pid", int(p.PID)).Msg("Found player")
		out[p.Name] = int(p.PID)
	}
	return out, nil
}

func (c *Catalog) fetchGroups(ctx context.Context) (map[string]int, error) {
	resp, err := c.conn.Request(ctx, groupsCommand, true)
	if err != nil {
		return nil, err
	}
	if !resp.HasPayload() {
		return nil, fmt.Errorf("no group list in reply")
	}

	var items []heos.Group
	if err := resp.DecodePayload(&items); err != nil {
		return nil, err
	}

	out := make(map[string]int, len(items))
	for _, g := range items {
		log.Debug().Str("name", g.Name).Int("gid", int(g.GID)).Msg("Found group")
		out[g.Name] = int(g.GID)
	}
	return out, nil
}

// Lookup returns the id of one exact, case sensitive name.
func (c *Catalog) Lookup(kind Kind, name string) (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	id, ok := c.table(kind)[name]
	return id, ok
}

// Resolve maps a comma separated list of names to the protocol's comma
// separated id list, e.g. "Living Room,Kitchen" -> "1,2". Any unknown name
// fails the whole call.
func (c *Catalog) Resolve(kind Kind, names string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	table := c.table(kind)
	tokens := strings.Split(names, ",")
	ids := make([]string, 0, len(tokens))
	for _, name := range tokens {
		id, ok := table[name]
		if !ok {
			return "", &NameResolutionError{Kind: kind, Name: name, Known: sortedKeys(table)}
		}
		ids = append(ids, strconv.Itoa(id))
	}

	log.Debug().Str("kind", kind.String()).Str("names", names).Strs("ids", ids).Msg("Resolved names")
	return strings.Join(ids, ","), nil
}

// Names returns the known names of a kind, sorted.
func (c *Catalog) Names(kind Kind) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedKeys(c.table(kind))
}

// Snapshot returns a copy of the table for kind.
func (c *Catalog) Snapshot(kind Kind) map[string]int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	src := c.table(kind)
	out := make(map[string]int, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// Identities lists every entry, players first, each kind sorted by name.
func (c *Catalog) Identities() []Identity {
	var out []Identity
	for _, kind := range []Kind{Player, Group} {
		for _, name := range c.Names(kind) {
			id, _ := c.Lookup(kind, name)
			out = append(out, Identity{Kind: kind, Name: name, ID: id})
		}
	}
	return out
}

func (c *Catalog) table(kind Kind) map[string]int {
	if kind == Group {
		return c.groups
	}
	return c.players
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

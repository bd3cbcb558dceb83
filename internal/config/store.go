package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// Learned is what a session discovered and the next run can reuse.
type Learned struct {
	Host    string
	PID     int
	Players map[string]int
	Groups  map[string]int
}

// Save merges learned values into the JSON document at path, keeping every
// other key as written by the user. Player and group names keep their case.
func Save(path string, learned Learned) error {
	doc := make(map[string]json.RawMessage)

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &doc); err != nil {
			return &Error{Path: path, Err: fmt.Errorf("invalid config format: %w", err)}
		}
	case os.IsNotExist(err):
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return &Error{Path: path, Err: fmt.Errorf("failed to create config directory: %w", err)}
		}
	default:
		return &Error{Path: path, Err: err}
	}

	set := func(key string, v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		doc[key] = b
		return nil
	}

	if err := set("host", learned.Host); err != nil {
		return err
	}
	if err := set("pid", learned.PID); err != nil {
		return err
	}
	if learned.Players != nil {
		if err := set("players", learned.Players); err != nil {
			return err
		}
	}
	if learned.Groups != nil {
		if err := set("groups", learned.Groups); err != nil {
			return err
		}
	}

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, append(out, '\n'), 0600); err != nil {
		return &Error{Path: path, Err: err}
	}

	log.Info().Str("path", path).Str("host", learned.Host).Int("pid", learned.PID).Msg("Saved host and pid")
	return nil
}

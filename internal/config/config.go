// Package config loads and persists the session configuration.
//
// The file is JSON (config.json) and is looked up in the current directory,
// then $HOME/.heosctl, then $HEOSCTL_CONF, unless a path is given explicitly.
// Every key can be overridden from the environment with the HEOSCTL_ prefix,
// e.g. HEOSCTL_HOST.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const (
	// FileName is the default config file name.
	FileName = "config.json"

	// EnvDir names the environment variable holding an extra search directory.
	EnvDir = "HEOSCTL_CONF"

	envPrefix = "HEOSCTL"
)

// Config is the resolved session configuration.
type Config struct {
	PlayerName string
	User       string
	Password   string

	// Cached endpoint and player id from a previous discovery. HasPID tells
	// a cached pid of 0 apart from none.
	Host   string
	PID    int
	HasPID bool
	Port   int

	Timeout          time.Duration
	DiscoveryTimeout time.Duration
	DiscoveryRetries int

	// Rediscover forces discovery even when Host and PID are cached.
	Rediscover bool

	// Path is the file the configuration was read from.
	Path string
}

// Error is returned for a missing, unreadable or incomplete configuration.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("config: %v", e.Err)
	}
	return fmt.Sprintf("config %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrNoPlayerName is wrapped by Error when no target player is configured.
var ErrNoPlayerName = errors.New("no main player name given")

// DefaultSearchPaths returns the directories searched for FileName, in order.
func DefaultSearchPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".heosctl"))
	}
	if dir := os.Getenv(EnvDir); dir != "" {
		paths = append(paths, dir)
	}
	return paths
}

// Find returns the first existing FileName in the search paths, or the
// path in the current directory when none exists.
func Find(paths []string) string {
	for _, dir := range paths {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return filepath.Join(".", FileName)
}

// Load reads the configuration at path. An empty path searches the default
// locations.
func Load(path string) (*Config, error) {
	if path == "" {
		path = Find(DefaultSearchPaths())
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("port", 1255)
	v.SetDefault("timeout", "15s")
	v.SetDefault("discovery_timeout", "5s")
	v.SetDefault("discovery_retries", 1)

	if err := v.ReadInConfig(); err != nil {
		return nil, &Error{Path: path, Err: fmt.Errorf("cannot read config file: %w", err)}
	}
	log.Debug().Str("path", path).Msg("Using config file")

	cfg := &Config{
		PlayerName:       v.GetString("player_name"),
		User:             v.GetString("user"),
		Password:         v.GetString("pw"),
		Host:             v.GetString("host"),
		PID:              v.GetInt("pid"),
		HasPID:           v.IsSet("pid"),
		Port:             v.GetInt("port"),
		Timeout:          seconds(v, "timeout"),
		DiscoveryTimeout: seconds(v, "discovery_timeout"),
		DiscoveryRetries: v.GetInt("discovery_retries"),
		Path:             path,
	}
	if cfg.PlayerName == "" {
		cfg.PlayerName = v.GetString("main_player_name")
	}

	return cfg, nil
}

// seconds reads a duration that may be written as "15s" or as a plain number
// of seconds.
func seconds(v *viper.Viper, key string) time.Duration {
	switch raw := v.Get(key).(type) {
	case float64:
		return time.Duration(raw * float64(time.Second))
	case int:
		return time.Duration(raw) * time.Second
	case string:
		if n, err := strconv.ParseFloat(raw, 64); err == nil {
			return time.Duration(n * float64(time.Second))
		}
	}
	return v.GetDuration(key)
}

// Validate checks the fields a session cannot start without.
func (c *Config) Validate() error {
	if c.PlayerName == "" {
		return &Error{Path: c.Path, Err: ErrNoPlayerName}
	}
	if c.Port < 0 || c.Port > 65535 {
		return &Error{Path: c.Path, Err: fmt.Errorf("invalid port %d", c.Port)}
	}
	return nil
}

// HasCachedEndpoint reports whether a previous discovery result can be used.
func (c *Config) HasCachedEndpoint() bool {
	return c.Host != "" && c.HasPID
}

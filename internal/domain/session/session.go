// Package session establishes a connection to a HEOS device and wires the
// catalog, account manager and dispatcher on top of it.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/edumarques81/heos-control/internal/config"
	"github.com/edumarques81/heos-control/internal/domain/account"
	"github.com/edumarques81/heos-control/internal/domain/catalog"
	"github.com/edumarques81/heos-control/internal/domain/dispatch"
	"github.com/edumarques81/heos-control/internal/infra/heos"
	"github.com/edumarques81/heos-control/internal/infra/ssdp"
)

// DeviceURN is the SSDP search target advertised by HEOS devices.
const DeviceURN = "urn:schemas-denon-com:device:ACT-Denon:1"

// Finder searches the network for devices.
type Finder interface {
	Search(ctx context.Context, target string) ([]ssdp.Response, error)
}

// DialFunc opens a transport to a device.
type DialFunc func(ctx context.Context, ep heos.Endpoint, timeout time.Duration) (heos.LineTransport, error)

// Option customizes Establish.
type Option func(*options)

type options struct {
	finder Finder
	dial   DialFunc
}

// WithFinder replaces the SSDP searcher.
func WithFinder(f Finder) Option {
	return func(o *options) { o.finder = f }
}

// WithDialer replaces the TCP dialer.
func WithDialer(d DialFunc) Option {
	return func(o *options) { o.dial = d }
}

func dialTCP(ctx context.Context, ep heos.Endpoint, timeout time.Duration) (heos.LineTransport, error) {
	t, err := heos.Dial(ctx, ep, timeout)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Session is one established device connection.
type Session struct {
	id         string
	cfg        config.Config
	endpoint   heos.Endpoint
	pid        int
	discovered bool
	logger     zerolog.Logger

	conn       *heos.Conn
	catalog    *catalog.Catalog
	account    *account.Manager
	dispatcher *dispatch.Dispatcher
}

// Establish connects using the cached endpoint, or discovers one when none
// is cached or cfg.Rediscover is set. It then refreshes the catalog and, when
// credentials are configured, makes sure the account is signed in.
func Establish(ctx context.Context, cfg config.Config, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{dial: dialTCP}
	for _, opt := range opts {
		opt(&o)
	}
	if o.finder == nil {
		o.finder = ssdp.NewSearcher(cfg.DiscoveryTimeout, cfg.DiscoveryRetries)
	}

	id := uuid.NewString()
	logger := log.With().Str("session", id).Logger()

	var (
		s   *Session
		err error
	)
	if cfg.Rediscover || !cfg.HasCachedEndpoint() {
		logger.Info().Str("player", cfg.PlayerName).Msg("Discovering HEOS player in the local network")
		s, err = discover(ctx, cfg, o, logger)
	} else {
		logger.Info().Str("player", cfg.PlayerName).Str("host", cfg.Host).Msg("Using cached HEOS host")
		s, err = open(ctx, cfg, cfg.Host, o, logger)
	}
	if err != nil {
		return nil, err
	}
	s.id = id

	if cfg.HasPID && cfg.PID != s.pid {
		logger.Info().Int("cached", cfg.PID).Int("pid", s.pid).Msg("Player id changed")
	}

	s.account = account.NewManager(s.conn)
	s.dispatcher = dispatch.New(s.conn, s.catalog).WithDefaultID(s.pid)

	if cfg.User != "" {
		if _, err := s.account.EnsureSignedIn(ctx, cfg.User, cfg.Password); err != nil {
			var ce *heos.ConnectionError
			if errors.As(err, &ce) {
				s.Close()
				return nil, err
			}
			logger.Warn().Err(err).Str("user", cfg.User).Msg("Sign in failed")
		}
	}

	logger.Info().Str("host", s.endpoint.Host).Int("pid", s.pid).Msg("Session established")
	return s, nil
}

// EstablishWithFallback tries the cached endpoint first and, if that fails
// for any reason other than bad configuration, rediscovers once.
func EstablishWithFallback(ctx context.Context, cfg config.Config, opts ...Option) (*Session, error) {
	s, err := Establish(ctx, cfg, opts...)
	if err == nil || cfg.Rediscover {
		return s, err
	}

	var cerr *config.Error
	if errors.As(err, &cerr) {
		return nil, err
	}

	log.Info().Err(err).Msg("First connection failed, trying to rediscover the HEOS players")
	cfg.Rediscover = true
	return Establish(ctx, cfg, opts...)
}

// discover walks the SSDP answers in arrival order and keeps the first device
// that accepts a connection and knows the configured player.
func discover(ctx context.Context, cfg config.Config, o options, logger zerolog.Logger) (*Session, error) {
	answers, err := o.finder.Search(ctx, DeviceURN)
	if err != nil {
		return nil, &DiscoveryError{Target: DeviceURN, PlayerName: cfg.PlayerName, Err: err}
	}
	logger.Debug().Int("answers", len(answers)).Msg("Found possible hosts")

	derr := &DiscoveryError{Target: DeviceURN, PlayerName: cfg.PlayerName}
	for _, answer := range answers {
		if answer.ST != DeviceURN {
			logger.Debug().Str("st", answer.ST).Msg("Skipping non HEOS answer")
			continue
		}
		derr.Candidates++

		host, err := answer.Host()
		if err != nil {
			derr.Attempts = append(derr.Attempts, &candidateError{Location: answer.Location, Err: err})
			continue
		}

		logger.Debug().Str("host", host).Msg("Testing host")
		s, err := open(ctx, cfg, host, o, logger)
		if err != nil {
			logger.Debug().Err(err).Str("host", host).Msg("Candidate rejected")
			derr.Attempts = append(derr.Attempts, &candidateError{Location: answer.Location, Err: err})
			if ctx.Err() != nil {
				break
			}
			continue
		}

		s.discovered = true
		logger.Info().Str("player", cfg.PlayerName).Str("host", host).Msg("Found main player in the local network")
		return s, nil
	}

	return nil, derr
}

// open connects to host, refreshes the catalog and resolves the main player.
func open(ctx context.Context, cfg config.Config, host string, o options, logger zerolog.Logger) (*Session, error) {
	ep := heos.Endpoint{Host: host, Port: cfg.Port}

	t, err := o.dial(ctx, ep, cfg.Timeout)
	if err != nil {
		return nil, err
	}
	conn := heos.NewConn(t)

	cat := catalog.New(conn)
	if err := cat.Refresh(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	pid, ok := cat.Lookup(catalog.Player, cfg.PlayerName)
	if !ok {
		conn.Close()
		return nil, &catalog.NameResolutionError{
			Kind:  catalog.Player,
			Name:  cfg.PlayerName,
			Known: cat.Names(catalog.Player),
		}
	}

	return &Session{
		cfg:      cfg,
		endpoint: ep,
		pid:      pid,
		logger:   logger,
		conn:     conn,
		catalog:  cat,
	}, nil
}

// ID is the random id used to correlate this session's log lines.
func (s *Session) ID() string { return s.id }

// Endpoint returns the connected device address.
func (s *Session) Endpoint() heos.Endpoint { return s.endpoint }

// PlayerID returns the id of the configured main player.
func (s *Session) PlayerID() int { return s.pid }

// Discovered reports whether the endpoint came from discovery in this run.
func (s *Session) Discovered() bool { return s.discovered }

// Catalog returns the name tables.
func (s *Session) Catalog() *catalog.Catalog { return s.catalog }

// Account returns the cached sign-in state.
func (s *Session) Account() account.State { return s.account.State() }

// Execute sends a command through the dispatcher.
func (s *Session) Execute(ctx context.Context, command string, params dispatch.Params) (*heos.Response, error) {
	return s.dispatcher.Execute(ctx, command, params)
}

// Learned returns what should be persisted for the next run.
func (s *Session) Learned() config.Learned {
	return config.Learned{
		Host:    s.endpoint.Host,
		PID:     s.pid,
		Players: s.catalog.Snapshot(catalog.Player),
		Groups:  s.catalog.Snapshot(catalog.Group),
	}
}

// NeedsSave reports whether Learned differs from what the config cached.
func (s *Session) NeedsSave() bool {
	return s.discovered || !s.cfg.HasPID || s.cfg.PID != s.pid || s.cfg.Host != s.endpoint.Host
}

// Close closes the device connection.
func (s *Session) Close() error {
	s.logger.Debug().Msg("Closing session")
	return s.conn.Close()
}

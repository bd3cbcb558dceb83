// Package main is the heosctl command line client for HEOS players.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/edumarques81/heos-control/internal/batch"
	"github.com/edumarques81/heos-control/internal/config"
	"github.com/edumarques81/heos-control/internal/domain/dispatch"
	"github.com/edumarques81/heos-control/internal/domain/session"
	"github.com/edumarques81/heos-control/internal/infra/heos"
	"github.com/edumarques81/heos-control/internal/version"
)

type options struct {
	params     []string
	configPath string
	rediscover bool
	status     bool
	infile     string
	logLevel   string
	debug      bool
}

func main() {
	if err := newRootCmd(os.Stdout, os.Stdin).Execute(); err != nil {
		log.Error().Err(err).Msg("heosctl failed")
		os.Exit(1)
	}
}

// newRootCmd builds the command. Session options are passed through to
// session establishment.
func newRootCmd(out io.Writer, in io.Reader, sessionOpts ...session.Option) *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "heosctl [command]",
		Short: "Control HEOS players from the command line",
		Long: `heosctl sends commands of the HEOS CLI protocol to a player in the local
network, for example:

  heosctl player/set_volume -p level=19
  heosctl player/get_volume -p pname=Kitchen
  heosctl -s
  heosctl -i morning.heos

The player is found by discovery on first use; its address is then cached
in the config file.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(opts.logLevel, opts.debug)

			var command string
			if len(args) == 1 {
				command = args[0]
			}
			return run(cmd.Context(), out, in, command, opts, sessionOpts)
		},
	}

	cmd.Flags().StringArrayVarP(&opts.params, "param", "p", nil, "command parameter key=value (repeatable)")
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "config file (default: search ., ~/.heosctl, $HEOSCTL_CONF)")
	cmd.Flags().BoolVarP(&opts.rediscover, "rediscover", "r", false, "ignore the cached host and discover the player again")
	cmd.Flags().BoolVarP(&opts.status, "status", "s", false, "print a status snapshot of the system and the main player")
	cmd.Flags().StringVarP(&opts.infile, "infile", "i", "", "run commands from a batch file (- for stdin)")
	cmd.Flags().StringVarP(&opts.logLevel, "log", "l", "info", "log level (debug, info, warn|warning, error, fatal|critical)")
	cmd.Flags().BoolVar(&opts.debug, "debug", false, "enable debug logging")

	cmd.Version = version.Version
	cmd.SetVersionTemplate(version.GetInfo().String() + "\n")

	return cmd
}

// levelAliases maps alternative level names to zerolog levels.
var levelAliases = map[string]string{
	"warning":  "warn",
	"critical": "fatal",
}

func setupLogging(level string, debug bool) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	name := strings.ToLower(level)
	if alias, ok := levelAliases[name]; ok {
		name = alias
	}
	lvl, err := zerolog.ParseLevel(name)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	if debug {
		lvl = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	if err != nil && level != "" {
		log.Warn().Str("level", level).Msg("Unknown log level, using info")
	}
}

func run(ctx context.Context, out io.Writer, in io.Reader, command string, opts options, sessionOpts []session.Option) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if command == "" && !opts.status && opts.infile == "" {
		return errors.New("nothing to do: give a command, --status or --infile")
	}

	// Everything that can fail locally is checked before any network activity.
	params, err := dispatch.ParseParams(opts.params)
	if err != nil {
		return err
	}
	var steps []batch.Step
	if opts.infile != "" {
		steps, err = readBatch(opts.infile, in)
		if err != nil {
			return err
		}
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	cfg.Rediscover = opts.rediscover

	s, err := session.EstablishWithFallback(ctx, *cfg, sessionOpts...)
	if err != nil {
		return err
	}
	defer s.Close()

	if s.NeedsSave() {
		if err := config.Save(cfg.Path, s.Learned()); err != nil {
			log.Warn().Err(err).Msg("Failed to save learned host and pid")
		}
	}

	switch {
	case opts.status:
		log.Info().Str("host", s.Endpoint().Host).Msg("Collecting status")
		st, err := s.Status(ctx)
		if err != nil {
			return err
		}
		return printJSON(out, st)

	case opts.infile != "":
		results, runErr := batch.Run(ctx, s, steps)
		if err := printJSON(out, results); err != nil {
			return err
		}
		return runErr

	default:
		log.Info().Str("command", command).Str("params", params.Encode()).Msg("Issue command")
		resp, err := s.Execute(ctx, command, params)
		if ce, ok := heos.IsCommandError(err); ok && ce.Response != nil {
			if perr := printJSON(out, ce.Response); perr != nil {
				return perr
			}
			return err
		}
		if err != nil {
			return err
		}
		return printJSON(out, resp)
	}
}

func readBatch(path string, stdin io.Reader) ([]batch.Step, error) {
	if path == "-" {
		return batch.Parse(stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open batch file: %w", err)
	}
	defer f.Close()
	return batch.Parse(f)
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

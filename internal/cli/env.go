package cli

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Steven-Chan/chat/internal/backend"
	"github.com/Steven-Chan/chat/internal/config"
	"github.com/Steven-Chan/chat/internal/link"
	"github.com/Steven-Chan/chat/internal/metrics"
)

// env is what a store command runs with: merged config, logger, metrics
// and an open store with the linker registered.
type env struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	store   backend.Store
	out     *OutputFormatter
}

// loadConfig merges config file, dotenv, environment and global flags,
// in that order.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.Config, opts.EnvFile)
	if err != nil {
		return nil, err
	}

	if opts.Backend != "" && opts.Backend != cfg.Backend {
		// The path was defaulted for the old backend.
		if cfg.Path == config.DefaultPath(cfg.Backend) {
			cfg.Path = ""
		}
		cfg.Backend = opts.Backend
	}
	if opts.Database != "" {
		cfg.Path = opts.Database
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}
	if opts.LogFormat != "" {
		cfg.Log.Format = opts.LogFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the stderr logger the config asks for.
func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	hopts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}

// openEnv loads config and opens the configured store. adjust, when not
// nil, may change the config before the store is opened.
func openEnv(cmd *cobra.Command, opts *RootOptions, adjust func(*config.Config)) (*env, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if adjust != nil {
		adjust(cfg)
	}

	logger := newLogger(cfg, cmd.ErrOrStderr())
	m := metrics.New()

	logger.Debug("opening store", "backend", cfg.Backend, "path", cfg.Path)
	st, err := backend.OpenLinked(backend.Options{
		Backend:          cfg.Backend,
		Path:             cfg.Path,
		StreamedBackfill: cfg.Backfill.Streamed,
		Logger:           logger,
	}, link.WithLogger(logger), link.WithMetrics(m))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}

	return &env{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		store:   st,
		out:     &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()},
	}, nil
}

func (e *env) linkOptions() []link.Option {
	return []link.Option{link.WithLogger(e.logger), link.WithMetrics(e.metrics)}
}

func (e *env) Close() {
	if err := e.store.Close(); err != nil {
		e.logger.Error("error closing store", "error", err)
	}
}

// Package config loads chatlink settings from defaults, a YAML file, a
// .env file and CHATLINK_* environment variables, and validates the result
// against an embedded CUE schema.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Steven-Chan/chat/internal/link"
)

//go:embed schema.cue
var schemaCUE string

// Environment variables read by Load.
const (
	EnvBackend          = "CHATLINK_BACKEND"
	EnvPath             = "CHATLINK_PATH"
	EnvLogLevel         = "CHATLINK_LOG_LEVEL"
	EnvLogFormat        = "CHATLINK_LOG_FORMAT"
	EnvMetricsAddr      = "CHATLINK_METRICS_ADDR"
	EnvBackfillStreamed = "CHATLINK_BACKFILL_STREAMED"
)

// Config holds every chatlink setting.
type Config struct {
	Backend  string         `yaml:"backend"`
	Path     string         `yaml:"path"`
	Backfill BackfillConfig `yaml:"backfill"`
	Log      LogConfig      `yaml:"log"`
	Retry    RetryConfig    `yaml:"retry"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// BackfillConfig controls bulk relinking.
type BackfillConfig struct {
	// Streamed forces the ordered-scan backfill on backends that support
	// windowed relinking.
	Streamed bool `yaml:"streamed"`
}

// LogConfig controls the slog handler installed by the CLI.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RetryConfig is the caller-side retry policy for inserts.
type RetryConfig struct {
	MaxAttempts int      `yaml:"max_attempts"`
	BaseDelay   Duration `yaml:"base_delay"`
	MaxDelay    Duration `yaml:"max_delay"`
}

// MetricsConfig controls the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Duration is a time.Duration that unmarshals from "250ms" style strings
// or plain numbers of seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*d = 0
		return nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		*d = Duration(td)
		return nil
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		*d = Duration(time.Duration(f * float64(time.Second)))
		return nil
	}
	return fmt.Errorf("invalid duration value: %q", node.Value)
}

// Duration returns d as a time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

// Default returns the built-in settings.
func Default() *Config {
	p := link.DefaultRetryPolicy()
	return &Config{
		Backend: "sqlite",
		Log:     LogConfig{Level: "info", Format: "text"},
		Retry: RetryConfig{
			MaxAttempts: p.MaxAttempts,
			BaseDelay:   Duration(p.BaseDelay),
			MaxDelay:    Duration(p.MaxDelay),
		},
	}
}

// DefaultPath returns the store location used when none is configured.
func DefaultPath(backend string) string {
	if backend == "pebble" {
		return "chatlink.pebble"
	}
	return "chatlink.db"
}

// Load builds a Config. path names a YAML file and may be empty. envFile
// names a dotenv file; a missing envFile is ignored. Variables already set
// in the environment win over the dotenv file.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("config file not found: %s", path)
		}
		return fmt.Errorf("read config file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvBackend); ok && v != "" {
		c.Backend = v
	}
	if v, ok := lookup(EnvPath); ok && v != "" {
		c.Path = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v, ok := lookup(EnvLogFormat); ok && v != "" {
		c.Log.Format = strings.ToLower(v)
	}
	if v, ok := lookup(EnvMetricsAddr); ok {
		c.Metrics.Addr = v
	}
	if v, ok := lookup(EnvBackfillStreamed); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvBackfillStreamed, err)
		}
		c.Backfill.Streamed = b
	}
	return nil
}

// Validate fills the backend's default path when none is set and checks
// the config against the embedded schema.
func (c *Config) Validate() error {
	if c.Path == "" {
		c.Path = DefaultPath(c.Backend)
	}

	cctx := cuecontext.New()
	schema := cctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	doc := cctx.Encode(c.document())
	if err := doc.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := def.Unify(doc).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// document is the schema-shaped view of c.
func (c *Config) document() map[string]any {
	return map[string]any{
		"backend": c.Backend,
		"path":    c.Path,
		"backfill": map[string]any{
			"streamed": c.Backfill.Streamed,
		},
		"log": map[string]any{
			"level":  c.Log.Level,
			"format": c.Log.Format,
		},
		"retry": map[string]any{
			"max_attempts":  c.Retry.MaxAttempts,
			"base_delay_ns": int64(c.Retry.BaseDelay),
			"max_delay_ns":  int64(c.Retry.MaxDelay),
		},
		"metrics": map[string]any{
			"addr": c.Metrics.Addr,
		},
	}
}

// RetryPolicy returns the insert retry policy.
func (c *Config) RetryPolicy() link.RetryPolicy {
	return link.RetryPolicy{
		MaxAttempts: c.Retry.MaxAttempts,
		BaseDelay:   c.Retry.BaseDelay.Duration(),
		MaxDelay:    c.Retry.MaxDelay.Duration(),
	}
}

// SlogLevel maps Log.Level to a slog level. Unknown values map to info.
func (c *Config) SlogLevel() slog.Level {
	switch c.Log.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

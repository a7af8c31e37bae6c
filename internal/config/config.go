// Package config implements the layered configuration described in
// §11: built-in defaults, overridden by an optional TOML file,
// overridden by environment variables, with .env.local loaded into the
// process environment (best effort) before any of it is read.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"github.com/tensorloom/loom/internal/errs"
	"github.com/tensorloom/loom/internal/sampling"
)

// Config is the fully-resolved process configuration.
type Config struct {
	// Providers is the execution-provider preference order, as
	// strings (e.g. "cuda", "cpu"); the CLI layer resolves these to
	// tensorrt.Provider values, keeping this package free of a
	// dependency on the runtime facade.
	Providers []string
	// Threads is the configured intra-op thread count (0 when unset).
	// It is read from the file and environment here; the CLI does not
	// pass it to the runtime, which picks its own thread count.
	Threads int
	// PostgresDSN selects the persistent retrieval store when set; an
	// empty value means the in-memory store is used.
	PostgresDSN string
	// LogLevel is a zerolog level name ("debug", "info", "warn", ...).
	LogLevel string
	// Sampling holds the default sampling configuration a session uses
	// absent a turn-specific override.
	Sampling sampling.Config
}

// Default returns the built-in defaults, before any file or
// environment layering.
func Default() Config {
	return Config{
		Providers: []string{"cpu"},
		LogLevel:  "info",
		Sampling:  sampling.Default(),
	}
}

// fileConfig mirrors the optional TOML file's schema. The sampling
// fields are pointers so "absent" can be told apart from "explicitly
// set to the zero value"; the other fields are compared against their
// zero value, so setting one of them to zero leaves the default.
type fileConfig struct {
	Runtime struct {
		Providers []string `toml:"providers"`
		Threads   int      `toml:"threads"`
	} `toml:"runtime"`
	Postgres struct {
		DSN string `toml:"dsn"`
	} `toml:"postgres"`
	LogLevel string `toml:"log_level"`
	Sampling struct {
		Temperature       *float64 `toml:"temperature"`
		TopK              *int     `toml:"top_k"`
		TopP              *float64 `toml:"top_p"`
		MinP              *float64 `toml:"min_p"`
		TFSZ              *float64 `toml:"tfs_z"`
		TypicalP          *float64 `toml:"typical_p"`
		RepetitionPenalty *float64 `toml:"repetition_penalty"`
		FrequencyPenalty  *float64 `toml:"frequency_penalty"`
		PresencePenalty   *float64 `toml:"presence_penalty"`
		MaxTokens         *int     `toml:"max_tokens"`
	} `toml:"sampling"`
}

// Load builds a Config by layering, lowest precedence first: built-in
// defaults, the TOML file at path (skipped entirely if path is empty
// or the file does not exist), then environment variables.
func Load(path string) (Config, error) {
	_ = godotenv.Load(".env.local")

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			var fc fileConfig
			if err := toml.Unmarshal(data, &fc); err != nil {
				return Config{}, errs.Wrap(errs.InvalidArgument, "parse config file", err)
			}
			applyFile(&cfg, fc)
		case os.IsNotExist(err):
			// no config file is not an error
		default:
			return Config{}, errs.Wrap(errs.InvalidArgument, "read config file", err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyFile(cfg *Config, fc fileConfig) {
	if len(fc.Runtime.Providers) > 0 {
		cfg.Providers = fc.Runtime.Providers
	}
	if fc.Runtime.Threads > 0 {
		cfg.Threads = fc.Runtime.Threads
	}
	if fc.Postgres.DSN != "" {
		cfg.PostgresDSN = fc.Postgres.DSN
	}
	if fc.LogLevel != "" {
		cfg.LogLevel = fc.LogLevel
	}

	s := &fc.Sampling
	if s.Temperature != nil {
		cfg.Sampling.Temperature = *s.Temperature
	}
	if s.TopK != nil {
		cfg.Sampling.TopK = *s.TopK
	}
	if s.TopP != nil {
		cfg.Sampling.TopP = *s.TopP
	}
	if s.MinP != nil {
		cfg.Sampling.MinP = *s.MinP
	}
	if s.TFSZ != nil {
		cfg.Sampling.TFSZ = *s.TFSZ
	}
	if s.TypicalP != nil {
		cfg.Sampling.TypicalP = *s.TypicalP
	}
	if s.RepetitionPenalty != nil {
		cfg.Sampling.RepetitionPenalty = *s.RepetitionPenalty
	}
	if s.FrequencyPenalty != nil {
		cfg.Sampling.FrequencyPenalty = *s.FrequencyPenalty
	}
	if s.PresencePenalty != nil {
		cfg.Sampling.PresencePenalty = *s.PresencePenalty
	}
	if s.MaxTokens != nil {
		cfg.Sampling.MaxTokens = *s.MaxTokens
	}
}

const (
	envProviders   = "LOOM_PROVIDERS"
	envThreads     = "LOOM_THREADS"
	envPostgresDSN = "LOOM_POSTGRES_DSN"
	envLogLevel    = "LOOM_LOG_LEVEL"
)

func applyEnv(cfg *Config) {
	if v := os.Getenv(envProviders); v != "" {
		cfg.Providers = strings.Split(v, ",")
	}
	if v := os.Getenv(envThreads); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Threads = n
		}
	}
	if v := os.Getenv(envPostgresDSN); v != "" {
		cfg.PostgresDSN = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = v
	}
}

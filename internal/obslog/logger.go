// Package obslog configures the process-wide structured logger (§10):
// JSON to stdout via zerolog, level set once at process start from an
// env var or --log-level flag, zerolog.InfoLevel by default.
package obslog

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global zerolog logger. levelName is parsed
// case-insensitively ("warning" is accepted as an alias for "warn");
// an empty or unrecognized value falls back to zerolog.InfoLevel.
func Init(levelName string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.Output(os.Stdout).With().Timestamp().Logger()

	lvl := zerolog.InfoLevel
	name := strings.ToLower(strings.TrimSpace(levelName))
	if name == "warning" {
		name = "warn"
	}
	if name != "" {
		if parsed, err := zerolog.ParseLevel(name); err == nil {
			lvl = parsed
		}
	}
	zerolog.SetGlobalLevel(lvl)
}

// Component returns a named sub-logger so packages can tag their
// entries without holding a concrete sink; callers that want a fully
// isolated logger for tests can build their own zerolog.Logger instead.
func Component(name string) zerolog.Logger {
	return log.Logger.With().Str("component", name).Logger()
}

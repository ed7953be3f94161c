// Package logger builds the service-wide zerolog logger.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/opensur/platform/internal/shared/config"
)

const serviceName = "opensur-platform"

// New returns a logger writing JSON to stdout, or console output when
// cfg.Pretty is set.
func New(cfg config.LogConfig, env string) zerolog.Logger {
	var out io.Writer = os.Stdout
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	return NewWithWriter(out, cfg.Level).With().
		Str("service", serviceName).
		Str("environment", env).
		Logger()
}

// NewWithWriter returns a timestamped logger at the given level. Unknown
// levels fall back to info.
func NewWithWriter(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

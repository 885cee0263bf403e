package observability

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// LogConfig controls logger construction.
type LogConfig struct {
	Level   string
	Console bool
	Output  io.Writer
}

// NewLogger builds the process-wide base logger. Components derive their
// own via log.With().Str("component", ...).
func NewLogger(cfg LogConfig) zerolog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Console {
		out = zerolog.ConsoleWriter{Out: out}
	}
	return zerolog.New(out).
		Level(parseLevel(cfg.Level)).
		With().Timestamp().Logger()
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "":
		return zerolog.InfoLevel
	default:
		return zerolog.InfoLevel
	}
}

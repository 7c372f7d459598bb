package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures the global zerolog logger.
// format is "console" (human readable) or "json".
func Setup(level, format string, out io.Writer) error {
	if out == nil {
		out = os.Stderr
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339

	switch strings.ToLower(format) {
	case "", "console":
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}).With().Timestamp().Logger()
	case "json":
		log.Logger = zerolog.New(out).With().Timestamp().Logger()
	default:
		return fmt.Errorf("invalid log format %q (expected console or json)", format)
	}
	return nil
}

// WithRunID returns a child of the global logger that tags every line with the run id
func WithRunID(runID string) zerolog.Logger {
	return log.With().Str("run_id", runID).Logger()
}

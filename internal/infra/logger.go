package infra

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// Logger aliases zerolog.Logger so packages outside infra can accept a logger
// without importing zerolog directly.
type Logger = zerolog.Logger

// NewLogger constructs the service logger. Development builds log at debug
// level and use the console writer when stdout is a terminal.
func NewLogger(appEnv string) zerolog.Logger {
	return newLogger(appEnv, os.Stdout, isatty.IsTerminal(os.Stdout.Fd()))
}

func newLogger(appEnv string, out io.Writer, tty bool) zerolog.Logger {
	dev := strings.EqualFold(appEnv, "development")
	level := zerolog.InfoLevel
	if dev {
		level = zerolog.DebugLevel
	}
	if raw := os.Getenv("LOG_LEVEL"); raw != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(raw)); err == nil {
			level = parsed
		}
	}

	if dev && tty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// Component returns a child logger tagged with the component name.
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}

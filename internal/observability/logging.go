package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	LogFormatJSON    = "json"
	LogFormatConsole = "console"
)

// Loggers hands out component loggers that share one output and level.
type Loggers struct {
	root zerolog.Logger
}

// NewLoggers builds the process loggers. format is LogFormatJSON or
// LogFormatConsole; anything else falls back to JSON.
func NewLoggers(out io.Writer, level zerolog.Level, format string) *Loggers {
	if format == LogFormatConsole {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return &Loggers{
		root: zerolog.New(out).Level(level).With().Timestamp().Logger(),
	}
}

// For returns the logger of one component.
func (l *Loggers) For(component string) zerolog.Logger {
	return l.root.With().Str("component", component).Logger()
}

// NewLogger is for tools that log before any configuration is read. The
// level comes from AIS_LOG_LEVEL.
func NewLogger(component string) zerolog.Logger {
	return NewLoggers(os.Stdout, ParseLogLevel(os.Getenv("AIS_LOG_LEVEL")), LogFormatJSON).For(component)
}

// ParseLogLevel accepts any zerolog level name, case-insensitively.
// Unknown or empty names mean info.
func ParseLogLevel(s string) zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}

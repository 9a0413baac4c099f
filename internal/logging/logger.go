// Package logging builds the zerolog logger shared by the server and workers.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/quillpress/apiserver/config"
)

const (
	FormatConsole = "console"
	FormatPretty  = "pretty"

	// FieldFault tags error logs with who has to act on them.
	FieldFault    = "fault"
	FaultOperator = "operator"
	FaultUser     = "user"
)

// New creates a logger for the named service from config.
func New(cfg config.LogConfig, service string) zerolog.Logger {
	return NewWithWriter(cfg, service, os.Stdout)
}

// NewWithWriter is New with an explicit output.
func NewWithWriter(cfg config.LogConfig, service string, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	out := w
	switch strings.ToLower(cfg.Format) {
	case FormatConsole, FormatPretty:
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("service", service).
		Logger()
}

// Component returns a child logger tagged with a component name.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

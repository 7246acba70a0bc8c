// Package logging builds the zerolog logger shared by all components.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Formats accepted by New.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// New returns a logger writing to w at the given level. An empty level
// means info.
func New(w io.Writer, level, format string) (zerolog.Logger, error) {
	lvl := zerolog.InfoLevel
	if level != "" {
		var err error
		lvl, err = zerolog.ParseLevel(strings.ToLower(level))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("parse log level %q: %w", level, err)
		}
	}

	switch format {
	case "", FormatConsole:
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	case FormatJSON:
	default:
		return zerolog.Nop(), fmt.Errorf("unknown log format %q", format)
	}

	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}

// Must is New on stderr, falling back to an info console logger.
func Must(level, format string) zerolog.Logger {
	logger, err := New(os.Stderr, level, format)
	if err != nil {
		logger, _ = New(os.Stderr, "", FormatConsole)
		logger.Warn().Err(err).Msg("Invalid logging config, using defaults")
	}
	return logger
}

package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// New builds the process logger. w defaults to stderr.
func New(level, format string, w io.Writer) (zerolog.Logger, error) {
	parsedLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("failed to parse log level: %w", err)
	}
	if w == nil {
		w = os.Stderr
	}

	var output io.Writer
	switch format {
	case "", FormatJSON:
		output = w
	case FormatConsole:
		output = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	default:
		return zerolog.Nop(), fmt.Errorf("unknown log format %q", format)
	}

	return zerolog.New(output).Level(parsedLevel).With().Timestamp().Str("service", "chat-relay").Logger(), nil
}

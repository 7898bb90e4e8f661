// Package logging configures the process-wide zerolog logger.
package logging

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// New builds the root logger. Unknown levels fall back to info; pretty
// switches to the human console writer for local runs.
func New(level string, pretty bool) zerolog.Logger {
	parsed, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(parsed).With().Timestamp().Logger()
}

// Banner renders a title centered in a fixed-width rule of '=' characters,
// used to delimit the phases of a run in the console output.
func Banner(title string) string {
	const width = 80
	title = " " + strings.TrimSpace(title) + " "
	if len(title) >= width {
		return title
	}
	left := (width - len(title)) / 2
	right := width - len(title) - left
	return strings.Repeat("=", left) + title + strings.Repeat("=", right)
}

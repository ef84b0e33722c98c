package logger

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// New creates a logger and returns a function that releases its output.
//
// level is a zerolog level name (unknown values fall back to info), format is
// "console"/"text" for human-readable output and anything else for JSON, and
// output is "stdout", "stderr" or a file path opened for append. A file that
// cannot be opened falls back to stderr. The close function only closes a
// file output; for the standard streams it does nothing.
func New(level, format, output string) (zerolog.Logger, func() error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	w, closeFn, openErr := writer(output)

	var logger zerolog.Logger
	if format == "text" || format == "console" {
		// Human-readable output for terminals
		cw := zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
		}
		logger = zerolog.New(cw).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(w).With().Timestamp().Logger()
	}
	logger = logger.Level(lvl)

	if openErr != nil {
		logger.Warn().Err(openErr).Str("output", output).Msg("cannot open log output, using stderr")
	}

	return logger, closeFn
}

// WithComponent returns a child logger tagged with a component name.
func WithComponent(l zerolog.Logger, component string) zerolog.Logger {
	return l.With().Str("component", component).Logger()
}

func nopClose() error { return nil }

func writer(output string) (io.Writer, func() error, error) {
	switch output {
	case "", "stdout":
		return os.Stdout, nopClose, nil
	case "stderr":
		return os.Stderr, nopClose, nil
	}

	f, err := os.OpenFile(filepath.Clean(output), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return os.Stderr, nopClose, err
	}
	return f, f.Close, nil
}

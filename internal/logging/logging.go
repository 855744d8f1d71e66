// Package logging installs the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Level maps the -v count to a log level. 0 shows warnings and errors, 1
// connections and getinfo/settck, 2 every shift, 3 and above trace output.
func Level(verbose int) zerolog.Level {
	switch {
	case verbose <= 0:
		return zerolog.WarnLevel
	case verbose == 1:
		return zerolog.InfoLevel
	case verbose == 2:
		return zerolog.DebugLevel
	default:
		return zerolog.TraceLevel
	}
}

// Init writes human-readable logs for app to stderr at the level selected by
// verbose and makes the result the global logger.
func Init(app string, verbose int) zerolog.Logger {
	return InitWriter(os.Stderr, app, verbose)
}

// InitWriter is Init with a custom destination.
func InitWriter(w io.Writer, app string, verbose int) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
		NoColor:    !isTerminal(w),
	}
	logger := zerolog.New(output).Level(Level(verbose)).With().Timestamp().Str("app", app).Logger()
	log.Logger = logger
	return logger
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

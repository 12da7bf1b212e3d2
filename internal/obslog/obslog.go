// Package obslog configures the session-wide slog logger.
package obslog

import (
	"errors"
	"io"
	"log/slog"
	"os"
)

// Configure sets the default slog logger for a given level and optional
// output file.
//
// Valid log levels are "none", "error", "warn", "info", "debug". Any other
// value returns an error. logFile may either specify a file path (an error
// is returned if the path cannot be opened) or be empty, in which case the
// logger points to stdout.
//
// Returns the os.File pointer backing the logger, if any, so callers can
// close it on shutdown:
//
//	f, err := obslog.Configure("info", "", slog.HandlerOptions{})
//	if f != nil {
//		defer f.Close()
//	}
func Configure(logLevel string, logFile string, loggerOptions slog.HandlerOptions) (*os.File, error) {
	switch logLevel {
	case "none":
		slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
		return nil, nil
	case "error":
		loggerOptions.Level = slog.LevelError
	case "warn":
		loggerOptions.Level = slog.LevelWarn
	case "info":
		loggerOptions.Level = slog.LevelInfo
	case "debug":
		loggerOptions.Level = slog.LevelDebug
	default:
		return nil, errors.New("unexpected log level")
	}

	// --------------------------------------------------------------------------------

	var logFilePointer *os.File
	var slogHandler slog.Handler
	if logFile == "" {
		slogHandler = slog.NewTextHandler(os.Stdout, &loggerOptions)
	} else {
		var err error
		logFilePointer, err = os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			return nil, err
		}
		slogHandler = slog.NewJSONHandler(logFilePointer, &loggerOptions)
	}

	// --------------------------------------------------------------------------------

	slog.SetDefault(slog.New(slogHandler))
	return logFilePointer, nil
}

// Package logger holds the process-wide zerolog logger used by every component.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Log is the global logger instance
var Log zerolog.Logger

func init() {
	Log = zerolog.New(os.Stdout).
		With().
		Timestamp().
		Logger()

	// Pretty print for development if requested
	if os.Getenv("APP_ENV") != "production" {
		Log = Log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

// GetLogger returns the global logger instance
func GetLogger() zerolog.Logger {
	return Log
}

// ParseLevel maps the level names accepted in configuration
// (DEBUG, INFO, WARNING, ERROR, CRITICAL) onto zerolog levels.
// Matching is case-insensitive; an empty name means INFO.
func ParseLevel(name string) (zerolog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "", "INFO":
		return zerolog.InfoLevel, nil
	case "DEBUG":
		return zerolog.DebugLevel, nil
	case "WARNING", "WARN":
		return zerolog.WarnLevel, nil
	case "ERROR":
		return zerolog.ErrorLevel, nil
	case "CRITICAL", "FATAL":
		return zerolog.FatalLevel, nil
	default:
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q: must be one of DEBUG, INFO, WARNING, ERROR, CRITICAL", name)
	}
}

// Setup reconfigures Log with the given level and, when file is non-empty,
// tees JSON output into that file. The returned closer releases the file
// and is safe to call when no file was opened.
func Setup(level, file string) (io.Closer, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nopCloser{}, err
	}

	var console io.Writer = os.Stdout
	if os.Getenv("APP_ENV") != "production" {
		console = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	if file == "" {
		Log = zerolog.New(console).Level(lvl).With().Timestamp().Logger()
		return nopCloser{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return nopCloser{}, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nopCloser{}, fmt.Errorf("open log file: %w", err)
	}

	Log = zerolog.New(zerolog.MultiLevelWriter(console, f)).
		Level(lvl).
		With().
		Timestamp().
		Logger()
	return f, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

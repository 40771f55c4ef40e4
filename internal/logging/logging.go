// Package logging configures the slog handlers used across mailfixture and
// sanitizes values that arrive from the wire before they are logged.
package logging

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"unicode"
)

// Config represents the configuration for a logger
type Config struct {
	Level  string    // debug, info, warn or error
	Format string    // text or json
	Output io.Writer // defaults to os.Stderr
}

// New creates a logger from configuration. Invalid levels fall back to INFO
// and invalid formats to text.
func New(config Config) *slog.Logger {
	level, err := StringToLevel(config.Level)
	if err != nil {
		level = slog.LevelInfo
	}

	out := config.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(config.Format) {
	case "json":
		handler = slog.NewJSONHandler(out, opts)
	default:
		handler = slog.NewTextHandler(out, opts)
	}

	return slog.New(handler)
}

// Discard returns a logger that drops every record
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// StringToLevel converts string to slog.Level. The empty string is INFO.
func StringToLevel(levelStr string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, errors.New("invalid log level")
	}
}

// SanitizeMessage normalizes a value to a single line and removes control
// characters that could be used for log injection.
func SanitizeMessage(msg string) string {
	// Replace CR/LF with spaces to avoid multi-line injection
	msg = strings.ReplaceAll(msg, "\r", " ")
	msg = strings.ReplaceAll(msg, "\n", " ")

	// Drop other control characters except tab
	var b strings.Builder
	for _, r := range msg {
		if r == '\t' || !unicode.IsControl(r) {
			b.WriteRune(r)
		}
	}

	return b.String()
}

// Package logging configures the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Setup installs the default slog logger. Format "json" selects structured
// output for log aggregation; anything else selects colorized text for
// local development.
func Setup(level, format string) {
	slog.SetDefault(slog.New(newHandler(os.Stderr, level, format)))
}

func newHandler(out io.Writer, level, format string) slog.Handler {
	lvl := parseLevel(level)

	if strings.EqualFold(format, "json") {
		return slog.NewJSONHandler(out, &slog.HandlerOptions{Level: lvl})
	}

	return tint.NewHandler(out, &tint.Options{
		Level:      lvl,
		TimeFormat: time.TimeOnly,
	})
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

package config

import (
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
)

// LogFormat enumerates supported log output formats.
type LogFormat string

const (
	LogFormatJSON LogFormat = "json"
	LogFormatText LogFormat = "text"
)

// NormalizeLogLevel maps LOG_LEVEL values onto slog levels, defaulting to info.
func NormalizeLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
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

// NormalizeLogFormat maps LOG_FORMAT values onto a format, defaulting to JSON.
func NormalizeLogFormat(raw string) LogFormat {
	if strings.ToLower(strings.TrimSpace(raw)) == "text" {
		return LogFormatText
	}
	return LogFormatJSON
}

// SetupLogging installs the default slog logger. JSON goes to stdout for
// machine consumption; the text handler renders to stderr for humans.
func SetupLogging(level slog.Level, format LogFormat) {
	var handler slog.Handler
	if format == LogFormatText {
		handler = tint.NewHandler(os.Stderr, &tint.Options{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}

// internal/utils/logger.go

package utils

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// LoggingConfig selects the log handler and minimum level.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// NewLogger builds a logger writing to stderr.
func NewLogger(cfg LoggingConfig) *slog.Logger {
	return NewLoggerTo(os.Stderr, cfg)
}

// NewLoggerTo builds a logger writing to w. Format "json" selects the JSON
// handler, anything else the text handler.
func NewLoggerTo(w io.Writer, cfg LoggingConfig) *slog.Logger {
	return newLogger(w, cfg.Format, ParseLevel(cfg.Level))
}

// NewLeveledLogger builds a stderr logger whose minimum level follows level,
// so it can be changed while the logger is in use. level starts at cfg.Level.
func NewLeveledLogger(cfg LoggingConfig, level *slog.LevelVar) *slog.Logger {
	level.Set(ParseLevel(cfg.Level))
	return newLogger(os.Stderr, cfg.Format, level)
}

func newLogger(w io.Writer, format string, level slog.Leveler) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Component returns a child logger tagged with the component name. A nil
// logger yields one that discards everything.
func Component(logger *slog.Logger, name string) *slog.Logger {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return logger.With("component", name)
}

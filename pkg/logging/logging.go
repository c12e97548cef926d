// Package logging configures the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Redacted replaces the value of attributes that look like credentials.
const Redacted = "[redacted]"

// Config holds logging options.
type Config struct {
	Level slog.Level
	// JSON selects the JSON handler instead of text.
	JSON bool
	// Source adds the calling file and line to each record.
	Source bool
	// Output defaults to os.Stderr.
	Output io.Writer
}

// DefaultConfig reads LOG_LEVEL (debug, info, warn, error; default info),
// LOG_FORMAT=json and LOG_SOURCE=true from the environment.
func DefaultConfig() Config {
	source, _ := strconv.ParseBool(os.Getenv("LOG_SOURCE"))
	return Config{
		Level:  parseLogLevel(os.Getenv("LOG_LEVEL")),
		JSON:   strings.EqualFold(os.Getenv("LOG_FORMAT"), "json"),
		Source: source,
		Output: os.Stderr,
	}
}

func parseLogLevel(s string) slog.Level {
	if strings.EqualFold(s, "warning") {
		return slog.LevelWarn
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// Setup builds a logger from cfg and installs it as the slog default.
func Setup(cfg Config) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{
		Level:       cfg.Level,
		AddSource:   cfg.Source,
		ReplaceAttr: redact,
	}

	var handler slog.Handler = slog.NewTextHandler(out, opts)
	if cfg.JSON {
		handler = slog.NewJSONHandler(out, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

var secretKeys = []string{"token", "password", "secret", "api_key", "apikey", "authorization"}

// redact hides string values whose key names a credential.
func redact(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() != slog.KindString || a.Value.String() == "" {
		return a
	}
	key := strings.ToLower(a.Key)
	for _, s := range secretKeys {
		if strings.Contains(key, s) {
			return slog.String(a.Key, Redacted)
		}
	}
	return a
}

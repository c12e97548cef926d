package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"Error", slog.LevelError},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLogLevel(tt.in))
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "JSON")
	t.Setenv("LOG_SOURCE", "true")

	cfg := DefaultConfig()
	assert.Equal(t, slog.LevelDebug, cfg.Level)
	assert.True(t, cfg.JSON)
	assert.True(t, cfg.Source)

	t.Setenv("LOG_FORMAT", "")
	t.Setenv("LOG_SOURCE", "")
	cfg = DefaultConfig()
	assert.False(t, cfg.JSON)
	assert.False(t, cfg.Source)
}

func setupJSON(t *testing.T, level slog.Level) (*slog.Logger, *bytes.Buffer) {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	return Setup(Config{Level: level, JSON: true, Output: &buf}), &buf
}

// TestSetup_JSON tests that records are emitted as JSON at the configured level.
func TestSetup_JSON(t *testing.T) {
	logger, buf := setupJSON(t, slog.LevelWarn)

	logger.Info("dropped")
	logger.Warn("sync cycle complete", "records", 3)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "sync cycle complete", rec["msg"])
	assert.EqualValues(t, 3, rec["records"])
}

func TestSetup_RedactsCredentials(t *testing.T) {
	logger, buf := setupJSON(t, slog.LevelInfo)

	logger.Info("connecting",
		"bot_token", "123:abc",
		"Password", "hunter2",
		"openai_api_key", "sk-1",
		"user", "alice",
		"token_count", 7,
	)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, Redacted, rec["bot_token"])
	assert.Equal(t, Redacted, rec["Password"])
	assert.Equal(t, Redacted, rec["openai_api_key"])
	assert.Equal(t, "alice", rec["user"])
	assert.EqualValues(t, 7, rec["token_count"])
}

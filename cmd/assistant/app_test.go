package main

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkotama/firefly-telegram-assistant/pkg/config"
)

func TestNewRegistry(t *testing.T) {
	registry, err := newRegistry()
	require.NoError(t, err)

	var names []string
	for _, info := range registry.Describe() {
		names = append(names, info.Kind+"/"+info.Name)
	}
	assert.Equal(t, []string{"reader/firefly", "writer/csv", "writer/firefly", "writer/json", "writer/postgres", "writer/sheets"}, names)
}

// TestOpenStore tests the embedded backends and rejection of unknown ones.
func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.DiscardHandler)

	cfg := config.Defaults()
	for _, backend := range []string{"memory", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			cfg.Store.Backend = backend
			cfg.Store.SQLitePath = filepath.Join(t.TempDir(), "assistant.db")
			st, err := openStore(ctx, cfg, 32, logger)
			require.NoError(t, err)
			defer st.Close()

			n, err := st.Count(ctx)
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}

	cfg.Store.Backend = "mongo"
	_, err := openStore(ctx, cfg, 32, logger)
	assert.Error(t, err)
}

func TestNewEmbedderAndRefiner(t *testing.T) {
	ctx := context.Background()
	cfg := config.Defaults()
	cfg.Embedding.Provider = "hashing"
	cfg.Embedding.Dimensions = 64

	e, err := newEmbedder(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, 64, e.Dimension())

	cfg.LLM.Provider = "none"
	r, err := newRefiner(ctx, cfg)
	require.NoError(t, err)
	assert.Nil(t, r)

	cfg.LLM.Provider = "claude"
	_, err = newRefiner(ctx, cfg)
	assert.Error(t, err)
}

func TestNewSessions(t *testing.T) {
	cfg := config.Defaults()
	s, closeFn, err := newSessions(context.Background(), cfg)
	require.NoError(t, err)
	assert.NotNil(t, s)
	assert.NoError(t, closeFn())

	cfg.Session.Backend = "memcached"
	_, _, err = newSessions(context.Background(), cfg)
	assert.Error(t, err)
}

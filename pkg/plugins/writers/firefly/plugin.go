// Package firefly registers the Firefly III expense writer.
package firefly

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dkotama/firefly-telegram-assistant/internal/plugins"
	"github.com/dkotama/firefly-telegram-assistant/pkg/api"
	ff "github.com/dkotama/firefly-telegram-assistant/pkg/firefly"
	ffwriter "github.com/dkotama/firefly-telegram-assistant/pkg/writer/firefly"
)

// Plugin is the "firefly" writer plugin.
type Plugin struct{}

type Config struct {
	BaseURL          string `json:"baseUrl"`
	DefaultAccountID string `json:"defaultAccountId,omitempty"`
	FlushInterval    int    `json:"flushInterval,omitempty"`
}

func (p *Plugin) Name() string             { return "firefly" }
func (p *Plugin) Description() string      { return "Create accepted expenses as Firefly III withdrawals" }
func (p *Plugin) RequiredScopes() []string { return nil }

func (p *Plugin) ConfigSchema() map[string]any {
	return plugins.Schema(map[string]plugins.Property{
		"baseUrl":          plugins.String("Firefly III URL, with or without /api/v1"),
		"defaultAccountId": plugins.String("Asset account used when an expense names none"),
		"flushInterval":    plugins.Integer("Seconds between automatic flushes").WithDefault(5),
	}, "baseUrl")
}

// NewWriter expects httpClient to attach the Firefly access token.
func (p *Plugin) NewWriter(httpClient *http.Client, raw json.RawMessage, logger *slog.Logger) (api.Writer, error) {
	var cfg Config
	if err := plugins.Decode(p.Name(), raw, &cfg); err != nil {
		return nil, err
	}
	if cfg.BaseURL == "" {
		return nil, errors.New("firefly: baseUrl is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := ff.NewWithHTTPClient(httpClient, ff.Config{BaseURL: cfg.BaseURL}, logger.With("component", "firefly-client"))
	if err != nil {
		return nil, err
	}
	return ffwriter.New(client, ffwriter.Config{
		DefaultAccountID: cfg.DefaultAccountID,
		FlushInterval:    plugins.Seconds(cfg.FlushInterval),
	}, logger), nil
}

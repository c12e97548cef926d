// Package firefly registers the Firefly III sync reader.
package firefly

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dkotama/firefly-telegram-assistant/internal/plugins"
	"github.com/dkotama/firefly-telegram-assistant/pkg/api"
	ff "github.com/dkotama/firefly-telegram-assistant/pkg/firefly"
	ffreader "github.com/dkotama/firefly-telegram-assistant/pkg/reader/firefly"
)

// Plugin is the "firefly" reader plugin. It authenticates with a personal
// access token, so it asks for no Google scopes.
type Plugin struct{}

// Config controls the sync loop. Interval is in seconds and Since is RFC 3339.
type Config struct {
	BaseURL   string `json:"baseUrl"`
	Interval  int    `json:"interval,omitempty"`
	Since     string `json:"since,omitempty"`
	PageLimit int    `json:"pageLimit,omitempty"`
	Once      bool   `json:"once,omitempty"`
}

func (p *Plugin) Name() string             { return "firefly" }
func (p *Plugin) Description() string      { return "Mirror Firefly III transactions into the local similarity store" }
func (p *Plugin) RequiredScopes() []string { return nil }

func (p *Plugin) ConfigSchema() map[string]any {
	return plugins.Schema(map[string]plugins.Property{
		"baseUrl":   plugins.String("Firefly III URL, with or without /api/v1"),
		"interval":  plugins.Integer("Seconds between sync cycles").WithDefault(900),
		"since":     plugins.String("Only sync transactions updated after this RFC 3339 time"),
		"pageLimit": plugins.Integer("Page size for list requests").WithDefault(100),
		"once":      plugins.Boolean("Run a single sync cycle and stop"),
	}, "baseUrl")
}

func (p *Plugin) NewReader(httpClient *http.Client, raw json.RawMessage, logger *slog.Logger) (api.Reader, error) {
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

	var since time.Time
	if cfg.Since != "" {
		t, err := time.Parse(time.RFC3339, cfg.Since)
		if err != nil {
			return nil, fmt.Errorf("firefly: parsing since: %w", err)
		}
		since = t
	}

	client, err := ff.NewWithHTTPClient(httpClient, ff.Config{
		BaseURL:   cfg.BaseURL,
		PageLimit: cfg.PageLimit,
	}, logger.With("component", "firefly-client"))
	if err != nil {
		return nil, err
	}
	return ffreader.New(client, ffreader.Config{
		Interval: plugins.Seconds(cfg.Interval),
		Since:    since,
		Once:     cfg.Once,
	}, logger), nil
}

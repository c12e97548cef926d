// Package json registers the JSON file writer.
package json

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dkotama/firefly-telegram-assistant/internal/plugins"
	"github.com/dkotama/firefly-telegram-assistant/pkg/api"
	jsonwriter "github.com/dkotama/firefly-telegram-assistant/pkg/writer/json"
)

// Plugin is the "json" writer plugin.
type Plugin struct{}

// Config mirrors the csv plugin config.
type Config struct {
	FilePath      string `json:"filePath"`
	BatchSize     int    `json:"batchSize,omitempty"`
	FlushInterval int    `json:"flushInterval,omitempty"`
}

func (p *Plugin) Name() string             { return "json" }
func (p *Plugin) Description() string      { return "Keep accepted expenses in a JSON file" }
func (p *Plugin) RequiredScopes() []string { return nil }

func (p *Plugin) ConfigSchema() map[string]any {
	return plugins.Schema(map[string]plugins.Property{
		"filePath":      plugins.String("Path to the JSON output file"),
		"batchSize":     plugins.Integer("Expenses buffered per write").WithDefault(10),
		"flushInterval": plugins.Integer("Seconds between automatic flushes").WithDefault(30),
	}, "filePath")
}

func (p *Plugin) NewWriter(_ *http.Client, raw json.RawMessage, logger *slog.Logger) (api.Writer, error) {
	var cfg Config
	if err := plugins.Decode(p.Name(), raw, &cfg); err != nil {
		return nil, err
	}
	if cfg.FilePath == "" {
		return nil, errors.New("json: filePath is required")
	}
	return jsonwriter.New(jsonwriter.Config{
		FilePath:      cfg.FilePath,
		BatchSize:     cfg.BatchSize,
		FlushInterval: plugins.Seconds(cfg.FlushInterval),
	}, logger)
}

// Package csv registers the CSV file writer.
package csv

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dkotama/firefly-telegram-assistant/internal/plugins"
	"github.com/dkotama/firefly-telegram-assistant/pkg/api"
	csvwriter "github.com/dkotama/firefly-telegram-assistant/pkg/writer/csv"
)

// Plugin is the "csv" writer plugin.
type Plugin struct{}

// Config is the plugin config. FlushInterval is in seconds.
type Config struct {
	FilePath      string `json:"filePath"`
	BatchSize     int    `json:"batchSize,omitempty"`
	FlushInterval int    `json:"flushInterval,omitempty"`
}

func (p *Plugin) Name() string             { return "csv" }
func (p *Plugin) Description() string      { return "Append accepted expenses to a CSV file" }
func (p *Plugin) RequiredScopes() []string { return nil }

func (p *Plugin) ConfigSchema() map[string]any {
	return plugins.Schema(map[string]plugins.Property{
		"filePath":      plugins.String("Path to the CSV output file"),
		"batchSize":     plugins.Integer("Expenses buffered per write").WithDefault(10),
		"flushInterval": plugins.Integer("Seconds between automatic flushes").WithDefault(30),
	}, "filePath")
}

// NewWriter builds a CSV writer. The HTTP client is not used.
func (p *Plugin) NewWriter(_ *http.Client, raw json.RawMessage, logger *slog.Logger) (api.Writer, error) {
	var cfg Config
	if err := plugins.Decode(p.Name(), raw, &cfg); err != nil {
		return nil, err
	}
	if cfg.FilePath == "" {
		return nil, errors.New("csv: filePath is required")
	}
	return csvwriter.New(csvwriter.Config{
		FilePath:      cfg.FilePath,
		BatchSize:     cfg.BatchSize,
		FlushInterval: plugins.Seconds(cfg.FlushInterval),
	}, logger)
}

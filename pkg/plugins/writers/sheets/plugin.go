// Package sheets registers the Google Sheets writer.
package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	sheetsapi "google.golang.org/api/sheets/v4"

	"github.com/dkotama/firefly-telegram-assistant/internal/plugins"
	"github.com/dkotama/firefly-telegram-assistant/pkg/api"
	sheetswriter "github.com/dkotama/firefly-telegram-assistant/pkg/writer/sheets"
)

// Plugin is the "sheets" writer plugin.
type Plugin struct{}

// Config selects the spreadsheet. With no SheetID a new spreadsheet titled
// SheetTitle is created.
type Config struct {
	SheetTitle    string `json:"sheetTitle,omitempty"`
	SheetID       string `json:"sheetId,omitempty"`
	SheetName     string `json:"sheetName"`
	BatchSize     int    `json:"batchSize,omitempty"`
	FlushInterval int    `json:"flushInterval,omitempty"`
}

func (p *Plugin) Name() string        { return "sheets" }
func (p *Plugin) Description() string { return "Append accepted expenses to a Google Sheet" }

func (p *Plugin) RequiredScopes() []string {
	return []string{sheetsapi.SpreadsheetsScope}
}

func (p *Plugin) ConfigSchema() map[string]any {
	return plugins.Schema(map[string]plugins.Property{
		"sheetTitle":    plugins.String("Title of a new spreadsheet, used when sheetId is empty"),
		"sheetId":       plugins.String("ID of an existing spreadsheet"),
		"sheetName":     plugins.String("Tab within the spreadsheet"),
		"batchSize":     plugins.Integer("Expenses buffered per write").WithDefault(10),
		"flushInterval": plugins.Integer("Seconds between automatic flushes").WithDefault(30),
	}, "sheetName")
}

// NewWriter needs an HTTP client holding Google credentials for the
// spreadsheets scope.
func (p *Plugin) NewWriter(httpClient *http.Client, raw json.RawMessage, logger *slog.Logger) (api.Writer, error) {
	var cfg Config
	if err := plugins.Decode(p.Name(), raw, &cfg); err != nil {
		return nil, err
	}
	switch {
	case cfg.SheetName == "":
		return nil, errors.New("sheets: sheetName is required")
	case cfg.SheetID == "" && cfg.SheetTitle == "":
		return nil, errors.New("sheets: one of sheetId or sheetTitle is required")
	}
	return sheetswriter.New(context.Background(), httpClient, sheetswriter.Config{
		SheetTitle:    cfg.SheetTitle,
		SheetID:       cfg.SheetID,
		SheetName:     cfg.SheetName,
		BatchSize:     cfg.BatchSize,
		FlushInterval: plugins.Seconds(cfg.FlushInterval),
	}, logger)
}

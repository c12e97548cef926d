// Package postgres registers the PostgreSQL expense ledger writer.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/dkotama/firefly-telegram-assistant/internal/plugins"
	"github.com/dkotama/firefly-telegram-assistant/pkg/api"
	pgwriter "github.com/dkotama/firefly-telegram-assistant/pkg/writer/postgres"
)

// Plugin is the "postgres" writer plugin.
type Plugin struct{}

// Config holds connection settings. Zero values take the writer defaults.
type Config struct {
	Host          string `json:"host"`
	Port          int    `json:"port,omitempty"`
	Database      string `json:"database"`
	User          string `json:"user"`
	Password      string `json:"password"`
	SSLMode       string `json:"sslmode,omitempty"`
	BatchSize     int    `json:"batchSize,omitempty"`
	FlushInterval int    `json:"flushInterval,omitempty"`
	MaxPoolSize   int    `json:"maxPoolSize,omitempty"`
}

func (p *Plugin) Name() string             { return "postgres" }
func (p *Plugin) Description() string      { return "Keep a ledger of accepted expenses in PostgreSQL" }
func (p *Plugin) RequiredScopes() []string { return nil }

func (p *Plugin) ConfigSchema() map[string]any {
	return plugins.Schema(map[string]plugins.Property{
		"host":          plugins.String("Database host").WithDefault("localhost"),
		"port":          plugins.Integer("Database port").WithDefault(5432),
		"database":      plugins.String("Database name").WithDefault("assistant"),
		"user":          plugins.String("Database user"),
		"password":      plugins.String("Database password"),
		"sslmode":       plugins.String("SSL mode").WithDefault("disable").OneOf("disable", "require", "verify-ca", "verify-full"),
		"batchSize":     plugins.Integer("Expenses buffered per transaction").WithDefault(1),
		"flushInterval": plugins.Integer("Seconds between automatic flushes").WithDefault(30),
		"maxPoolSize":   plugins.Integer("Connection pool size").WithDefault(5),
	}, "host", "database", "user")
}

// NewWriter connects to the database and creates the ledger tables.
func (p *Plugin) NewWriter(_ *http.Client, raw json.RawMessage, logger *slog.Logger) (api.Writer, error) {
	var cfg Config
	if err := plugins.Decode(p.Name(), raw, &cfg); err != nil {
		return nil, err
	}
	for field, v := range map[string]string{"host": cfg.Host, "database": cfg.Database, "user": cfg.User} {
		if v == "" {
			return nil, fmt.Errorf("postgres: %s is required", field)
		}
	}
	return pgwriter.New(context.Background(), pgwriter.Config{
		Host:          cfg.Host,
		Port:          cfg.Port,
		Database:      cfg.Database,
		User:          cfg.User,
		Password:      cfg.Password,
		SSLMode:       cfg.SSLMode,
		BatchSize:     cfg.BatchSize,
		FlushInterval: plugins.Seconds(cfg.FlushInterval),
		MaxPoolSize:   cfg.MaxPoolSize,
	}, logger)
}

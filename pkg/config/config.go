// Package config loads the assistant configuration from an optional JSON
// file overlaid with environment variables.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// ClientSecretFile is the default path to the Google OAuth credentials JSON file.
const ClientSecretFile = "data/client_secret.json"

// FileEnv names the environment variable pointing at the optional config file.
const FileEnv = "ASSISTANT_CONFIG_FILE"

// Backends and providers accepted by Validate.
var (
	StoreBackends      = []string{"sqlite", "memory", "postgres", "qdrant"}
	SessionBackends    = []string{"memory", "redis"}
	EmbeddingProviders = []string{"openai", "gemini", "hashing"}
	LLMProviders       = []string{"openai", "gemini", "none"}
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	// TelegramToken is the bot token. Empty disables the Telegram transport.
	// Environment variable: TELEGRAM_BOT_TOKEN
	TelegramToken string `koanf:"TELEGRAM_BOT_TOKEN"`

	// AuthorizedUsers lists the user ids allowed to talk to the bot. Empty allows everyone.
	// Environment variable: AUTHORIZED_USERS (comma separated)
	AuthorizedUsers []string `koanf:"AUTHORIZED_USERS"`

	Firefly FireflyConfig `koanf:",squash"`

	// ReaderPlugin is the name of the reader plugin to use.
	// Environment variable: ASSISTANT_READER
	ReaderPlugin string `koanf:"ASSISTANT_READER"`

	// WriterPlugin is the name of the writer plugin to use.
	// Environment variable: ASSISTANT_WRITER
	WriterPlugin string `koanf:"ASSISTANT_WRITER"`

	// ReaderConfigJSON is the JSON configuration for the reader plugin.
	// Environment variable: ASSISTANT_READER_CONFIG
	ReaderConfigJSON string `koanf:"ASSISTANT_READER_CONFIG"`

	// WriterConfigJSON is the JSON configuration for the writer plugin.
	// Environment variable: ASSISTANT_WRITER_CONFIG
	WriterConfigJSON string `koanf:"ASSISTANT_WRITER_CONFIG"`

	// ReaderConfig and WriterConfig are the plugin configs after defaults.
	ReaderConfig json.RawMessage `koanf:"-"`
	WriterConfig json.RawMessage `koanf:"-"`

	Embedding EmbeddingConfig `koanf:",squash"`
	LLM       LLMConfig       `koanf:",squash"`
	Store     StoreConfig     `koanf:",squash"`
	Session   SessionConfig   `koanf:",squash"`
	Suggest   SuggestConfig   `koanf:",squash"`
	HTTP      HTTPConfig      `koanf:",squash"`

	// GoogleTokenFile caches the OAuth token for the sheets writer.
	GoogleTokenFile string `koanf:"GOOGLE_TOKEN_FILE"`
}

// FireflyConfig holds the Firefly III connection settings.
type FireflyConfig struct {
	APIURL           string        `koanf:"FIREFLY_API_URL"`
	APIToken         string        `koanf:"FIREFLY_API_TOKEN"`
	DefaultAccountID string        `koanf:"FIREFLY_DEFAULT_ACCOUNT_ID"`
	SyncInterval     time.Duration `koanf:"SYNC_INTERVAL"`
	// SyncSince is an RFC3339 timestamp. Empty syncs the full history.
	SyncSince string `koanf:"SYNC_SINCE"`
}

// EmbeddingConfig selects the embedding provider.
type EmbeddingConfig struct {
	Provider   string `koanf:"EMBEDDING_PROVIDER"`
	Model      string `koanf:"EMBEDDING_MODEL"`
	Dimensions int    `koanf:"EMBEDDING_DIMENSIONS"`
}

// LLMConfig selects the language model and holds provider credentials.
type LLMConfig struct {
	Provider      string  `koanf:"LLM_PROVIDER"`
	Model         string  `koanf:"LLM_MODEL"`
	Temperature   float32 `koanf:"LLM_TEMPERATURE"`
	OpenAIKey     string  `koanf:"OPEN_AI_API_KEY"`
	OpenAIBaseURL string  `koanf:"OPENAI_BASE_URL"`
	GeminiKey     string  `koanf:"GEMINI_API_KEY"`
}

// StoreConfig selects the vector store backend.
type StoreConfig struct {
	Backend          string         `koanf:"STORE_BACKEND"`
	SQLitePath       string         `koanf:"SQLITE_PATH"`
	Postgres         PostgresConfig `koanf:",squash"`
	QdrantAddr       string         `koanf:"QDRANT_ADDR"`
	QdrantCollection string         `koanf:"QDRANT_COLLECTION"`
}

// PostgresConfig holds PostgreSQL connection configuration.
type PostgresConfig struct {
	Host     string `koanf:"POSTGRES_HOST"`
	Port     int    `koanf:"POSTGRES_PORT"`
	Database string `koanf:"POSTGRES_DB"`
	User     string `koanf:"POSTGRES_USER"`
	Password string `koanf:"POSTGRES_PASSWORD"`
	SSLMode  string `koanf:"POSTGRES_SSLMODE"`
}

// DSN returns the connection string for pgx.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode)
}

// SessionConfig selects where conversation sessions live.
type SessionConfig struct {
	Backend       string        `koanf:"SESSION_BACKEND"`
	RedisAddr     string        `koanf:"REDIS_ADDR"`
	RedisPassword string        `koanf:"REDIS_PASSWORD"`
	RedisDB       int           `koanf:"REDIS_DB"`
	IdleTimeout   time.Duration `koanf:"SESSION_IDLE_TIMEOUT"`
}

// SuggestConfig tunes ranking and composition.
type SuggestConfig struct {
	TopK            int           `koanf:"SUGGEST_TOP_K"`
	MinScore        float64       `koanf:"SUGGEST_MIN_SCORE"`
	HighThreshold   float64       `koanf:"SUGGEST_HIGH_THRESHOLD"`
	LowThreshold    float64       `koanf:"SUGGEST_LOW_THRESHOLD"`
	LLMTimeout      time.Duration `koanf:"SUGGEST_LLM_TIMEOUT"`
	DefaultCurrency string        `koanf:"DEFAULT_CURRENCY"`
}

// HTTPConfig configures the HTTP API.
type HTTPConfig struct {
	Addr      string `koanf:"HTTP_ADDR"`
	JWTSecret string `koanf:"HTTP_JWT_SECRET"`
}

// Enabled reports whether the HTTP API should be served. Both an address
// and a signing secret are needed.
func (h HTTPConfig) Enabled() bool {
	return h.Addr != "" && h.JWTSecret != ""
}

// Defaults returns a configuration with every default applied.
func Defaults() Config {
	return Config{
		ReaderPlugin: "firefly",
		WriterPlugin: "firefly",
		Firefly: FireflyConfig{
			SyncInterval: 15 * time.Minute,
		},
		Embedding: EmbeddingConfig{
			Model:      "text-embedding-3-small",
			Dimensions: 384,
		},
		LLM: LLMConfig{
			Model:       "gpt-4o-mini",
			Temperature: 0.4,
		},
		Store: StoreConfig{
			Backend:    "sqlite",
			SQLitePath: "data/firefly_local.db",
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				Database: "assistant",
				User:     "assistant",
				SSLMode:  "disable",
			},
			QdrantAddr:       "localhost:6334",
			QdrantCollection: "firefly_transactions",
		},
		Session: SessionConfig{
			Backend:     "memory",
			RedisAddr:   "localhost:6379",
			IdleTimeout: 10 * time.Minute,
		},
		Suggest: SuggestConfig{
			TopK:            5,
			HighThreshold:   0.85,
			LowThreshold:    0.55,
			LLMTimeout:      10 * time.Second,
			DefaultCurrency: "USD",
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		GoogleTokenFile: "data/google_token.json",
	}
}

// Load reads the JSON file at path, if any, then the environment, and
// returns the validated result. Environment variables win over the file.
func Load(path string) (Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), kjson.Parser()); err != nil {
			return Config{}, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	// Load configuration from environment variables
	if err := k.Load(env.Provider("", ".", nil), nil); err != nil {
		return Config{}, fmt.Errorf("loading config from environment: %w", err)
	}

	cfg := Defaults()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf", FlatPaths: true}); err != nil {
		return Config{}, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.finish(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// finish fills values derived from other settings.
func (c *Config) finish() error {
	c.AuthorizedUsers = splitList(c.AuthorizedUsers)
	c.Suggest.DefaultCurrency = strings.ToUpper(c.Suggest.DefaultCurrency)

	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "hashing"
		if c.LLM.OpenAIKey != "" {
			c.Embedding.Provider = "openai"
		}
	}
	if c.LLM.Provider == "" {
		switch {
		case c.LLM.OpenAIKey != "":
			c.LLM.Provider = "openai"
		case c.LLM.GeminiKey != "":
			c.LLM.Provider = "gemini"
		default:
			c.LLM.Provider = "none"
		}
	}

	c.ReaderConfig = rawOrNil(c.ReaderConfigJSON)
	c.WriterConfig = rawOrNil(c.WriterConfigJSON)

	if len(c.ReaderConfig) == 0 && c.ReaderPlugin == "firefly" {
		raw, err := c.defaultReaderConfig()
		if err != nil {
			return fmt.Errorf("building default reader config: %w", err)
		}
		c.ReaderConfig = raw
	}
	if len(c.WriterConfig) == 0 && (c.WriterPlugin == "firefly" || c.WriterPlugin == "postgres") {
		raw, err := c.defaultWriterConfig()
		if err != nil {
			return fmt.Errorf("building default writer config: %w", err)
		}
		c.WriterConfig = raw
	}
	return nil
}

// defaultReaderConfig builds the firefly reader plugin config from the
// FIREFLY_* and SYNC_* variables.
func (c *Config) defaultReaderConfig() (json.RawMessage, error) {
	cfg := map[string]any{
		"baseUrl":  c.Firefly.APIURL,
		"interval": int(c.Firefly.SyncInterval / time.Second),
	}
	if c.Firefly.SyncSince != "" {
		cfg["since"] = c.Firefly.SyncSince
	}
	return json.Marshal(cfg)
}

// defaultWriterConfig builds the firefly writer plugin config, or the
// postgres one from the POSTGRES_* variables.
func (c *Config) defaultWriterConfig() (json.RawMessage, error) {
	if c.WriterPlugin == "postgres" {
		pg := c.Store.Postgres
		return json.Marshal(map[string]any{
			"host":     pg.Host,
			"port":     pg.Port,
			"database": pg.Database,
			"user":     pg.User,
			"password": pg.Password,
			"sslmode":  pg.SSLMode,
		})
	}
	return json.Marshal(map[string]any{
		"baseUrl":          c.Firefly.APIURL,
		"defaultAccountId": c.Firefly.DefaultAccountID,
	})
}

// UsesFirefly reports whether either plugin talks to Firefly.
func (c *Config) UsesFirefly() bool {
	return c.ReaderPlugin == "firefly" || c.WriterPlugin == "firefly"
}

// SyncSinceTime parses SYNC_SINCE. The zero time means a full sync.
func (c *Config) SyncSinceTime() (time.Time, error) {
	if c.Firefly.SyncSince == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, c.Firefly.SyncSince)
}

// ValidateTransport checks that users can reach the assistant: through
// Telegram, the HTTP API or both. Only the daemon needs this.
func (c *Config) ValidateTransport() error {
	if c.TelegramToken == "" && !c.HTTP.Enabled() {
		return errors.New("TELEGRAM_BOT_TOKEN is required unless HTTP_ADDR and HTTP_JWT_SECRET are set")
	}
	return nil
}

// Validate checks the configuration. Errors name the environment variable at fault.
func (c *Config) Validate() error {
	var errs []error

	if c.ReaderPlugin == "" {
		errs = append(errs, errors.New("ASSISTANT_READER is required"))
	}
	if c.WriterPlugin == "" {
		errs = append(errs, errors.New("ASSISTANT_WRITER is required"))
	}
	if c.UsesFirefly() {
		if c.Firefly.APIURL == "" {
			errs = append(errs, errors.New("FIREFLY_API_URL is required"))
		}
		if c.Firefly.APIToken == "" {
			errs = append(errs, errors.New("FIREFLY_API_TOKEN is required"))
		}
	}
	if len(c.ReaderConfig) > 0 && !json.Valid(c.ReaderConfig) {
		errs = append(errs, errors.New("ASSISTANT_READER_CONFIG must be valid JSON"))
	}
	if len(c.WriterConfig) > 0 && !json.Valid(c.WriterConfig) {
		errs = append(errs, errors.New("ASSISTANT_WRITER_CONFIG must be valid JSON"))
	}
	if _, err := c.SyncSinceTime(); err != nil {
		errs = append(errs, fmt.Errorf("SYNC_SINCE must be RFC3339: %w", err))
	}
	if c.Firefly.SyncInterval <= 0 {
		errs = append(errs, errors.New("SYNC_INTERVAL must be positive"))
	}

	errs = append(errs, oneOf("EMBEDDING_PROVIDER", c.Embedding.Provider, EmbeddingProviders))
	errs = append(errs, oneOf("LLM_PROVIDER", c.LLM.Provider, LLMProviders))
	errs = append(errs, oneOf("STORE_BACKEND", c.Store.Backend, StoreBackends))
	errs = append(errs, oneOf("SESSION_BACKEND", c.Session.Backend, SessionBackends))

	if c.Embedding.Dimensions <= 0 {
		errs = append(errs, errors.New("EMBEDDING_DIMENSIONS must be positive"))
	}
	if c.Embedding.Provider == "openai" || c.LLM.Provider == "openai" {
		if c.LLM.OpenAIKey == "" {
			errs = append(errs, errors.New("OPEN_AI_API_KEY is required for the openai provider"))
		}
	}
	if c.Embedding.Provider == "gemini" || c.LLM.Provider == "gemini" {
		if c.LLM.GeminiKey == "" {
			errs = append(errs, errors.New("GEMINI_API_KEY is required for the gemini provider"))
		}
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, errors.New("LLM_TEMPERATURE must be between 0 and 2"))
	}

	switch c.Store.Backend {
	case "sqlite":
		if c.Store.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite backend"))
		}
	case "postgres":
		if c.Store.Postgres.Host == "" {
			errs = append(errs, errors.New("POSTGRES_HOST is required for the postgres backend"))
		}
	case "qdrant":
		if c.Store.QdrantAddr == "" {
			errs = append(errs, errors.New("QDRANT_ADDR is required for the qdrant backend"))
		}
	}
	if c.Session.Backend == "redis" && c.Session.RedisAddr == "" {
		errs = append(errs, errors.New("REDIS_ADDR is required for the redis session backend"))
	}
	if c.Session.IdleTimeout <= 0 {
		errs = append(errs, errors.New("SESSION_IDLE_TIMEOUT must be positive"))
	}

	s := c.Suggest
	if s.TopK <= 0 {
		errs = append(errs, errors.New("SUGGEST_TOP_K must be positive"))
	}
	if s.LowThreshold < 0 || s.LowThreshold > s.HighThreshold || s.HighThreshold > 1 {
		errs = append(errs, errors.New("SUGGEST_LOW_THRESHOLD and SUGGEST_HIGH_THRESHOLD must satisfy 0 <= low <= high <= 1"))
	}
	if s.MinScore < 0 || s.MinScore > 1 {
		errs = append(errs, errors.New("SUGGEST_MIN_SCORE must be between 0 and 1"))
	}
	if s.LLMTimeout <= 0 {
		errs = append(errs, errors.New("SUGGEST_LLM_TIMEOUT must be positive"))
	}
	if len(s.DefaultCurrency) != 3 {
		errs = append(errs, errors.New("DEFAULT_CURRENCY must be a three-letter code"))
	}

	return errors.Join(errs...)
}

func rawOrNil(s string) json.RawMessage {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return json.RawMessage(s)
}

func oneOf(name, value string, allowed []string) error {
	if slices.Contains(allowed, value) {
		return nil
	}
	return fmt.Errorf("%s must be one of %s, got %q", name, strings.Join(allowed, ", "), value)
}

// splitList trims entries and drops empty ones. A single entry holding
// commas is split, which covers values that bypassed the decoder hook.
func splitList(in []string) []string {
	var out []string
	for _, v := range in {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

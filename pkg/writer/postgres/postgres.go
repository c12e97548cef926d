// Package postgres provides a PostgreSQL writer that keeps a ledger of
// accepted expenses.
package postgres

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dkotama/firefly-telegram-assistant/pkg/api"
	"github.com/dkotama/firefly-telegram-assistant/pkg/writer/buffered"
)

//go:embed schema.sql
var schemaSQL string

const upsertExpense = `
	INSERT INTO expenses (
		id, user_id, type, amount, currency, description, category, payee,
		source_account, source_account_id, date, confidence, notes, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	ON CONFLICT (id) DO UPDATE SET
		type = EXCLUDED.type,
		amount = EXCLUDED.amount,
		currency = EXCLUDED.currency,
		description = EXCLUDED.description,
		category = EXCLUDED.category,
		payee = EXCLUDED.payee,
		source_account = EXCLUDED.source_account,
		source_account_id = EXCLUDED.source_account_id,
		date = EXCLUDED.date,
		confidence = EXCLUDED.confidence,
		notes = EXCLUDED.notes,
		written_at = NOW()`

// Config holds the PostgreSQL writer configuration.
type Config struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string

	// BatchSize is the number of expenses to buffer before writing.
	BatchSize int
	// FlushInterval is the time between automatic flushes.
	FlushInterval time.Duration

	// MaxPoolSize is the maximum number of connections in the pool.
	MaxPoolSize int
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 5432
	}
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	if c.BatchSize == 0 {
		c.BatchSize = 1
	}
	if c.MaxPoolSize == 0 {
		c.MaxPoolSize = 5
	}
}

// ConnString returns the key/value connection string for pgx.
func (c Config) ConnString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Writer writes expenses to a PostgreSQL database.
type Writer struct {
	pool     *pgxpool.Pool
	buffered *buffered.Writer[*api.FinalizedExpense]
	logger   *slog.Logger
}

// New connects, creates the ledger tables if needed and returns a writer.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Writer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()

	poolConfig, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.MaxPoolSize)
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	logger.Info("connected to PostgreSQL",
		"host", cfg.Host,
		"port", cfg.Port,
		"database", cfg.Database,
	)

	w := &Writer{pool: pool, logger: logger}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating ledger tables: %w", err)
	}

	w.buffered = buffered.New(w.writeBatch,
		func(e *api.FinalizedExpense) string { return e.ID },
		buffered.Config{BatchSize: cfg.BatchSize, FlushInterval: cfg.FlushInterval},
		logger.With("component", "postgres_buffer"),
	)
	return w, nil
}

// Write consumes expenses from the channel and writes them to PostgreSQL.
func (w *Writer) Write(ctx context.Context, in <-chan *api.FinalizedExpense, ackChan chan<- string) error {
	return w.buffered.Write(ctx, in, ackChan)
}

// writeBatch upserts a batch in one database transaction. An expense written
// twice keeps its row and has its tags replaced.
func (w *Writer) writeBatch(ctx context.Context, expenses []*api.FinalizedExpense) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, e := range expenses {
		typ := e.Type
		if typ == "" {
			typ = api.TypeWithdrawal
		}
		batch.Queue(upsertExpense,
			e.ID, e.UserID, typ, e.Amount, e.Currency, e.Description, e.Category, e.Payee,
			e.SourceAccount, e.SourceAccountID, e.Date, e.Confidence, e.Notes, e.CreatedAt,
		)
		batch.Queue(`DELETE FROM expense_tags WHERE expense_id = $1`, e.ID)
		if len(e.Tags) > 0 {
			query, args := tagInsert(e.ID, e.Tags)
			batch.Queue(query, args...)
		}
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("writing expenses: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	w.logger.Info("wrote expense batch", "count", len(expenses))
	return nil
}

// tagInsert builds a multi-row insert for the tags of one expense.
func tagInsert(expenseID string, tags []string) (string, []any) {
	values := make([]string, 0, len(tags))
	args := make([]any, 0, len(tags)*2)
	for i, tag := range tags {
		values = append(values, fmt.Sprintf("($%d, $%d)", 2*i+1, 2*i+2))
		args = append(args, expenseID, tag)
	}
	query := fmt.Sprintf(`
		INSERT INTO expense_tags (expense_id, tag)
		VALUES %s
		ON CONFLICT (expense_id, tag) DO NOTHING`, strings.Join(values, ","))
	return query, args
}

// Close closes the database connection pool.
func (w *Writer) Close() {
	if w.pool != nil {
		w.pool.Close()
		w.logger.Info("closed PostgreSQL connection pool")
	}
}

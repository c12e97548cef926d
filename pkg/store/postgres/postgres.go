// Package postgres provides a PostgreSQL vector store backed by pgvector.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/shopspring/decimal"

	"github.com/dkotama/firefly-telegram-assistant/pkg/api"
	"github.com/dkotama/firefly-telegram-assistant/pkg/store"
	"github.com/dkotama/firefly-telegram-assistant/pkg/vector"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Config holds the PostgreSQL store configuration.
type Config struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string

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
	if c.MaxPoolSize == 0 {
		c.MaxPoolSize = 10
	}
}

// URL returns the connection URL with the given scheme.
func (c Config) URL(scheme string) string {
	u := url.URL{
		Scheme:   scheme,
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Host + ":" + strconv.Itoa(c.Port),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

// Store is a pgvector-backed vector store. Similarity is computed by the
// database with exact (non-indexed) cosine distance, so filters and top-k
// selection run over every matching row.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New connects to PostgreSQL, runs migrations and returns a ready store.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()

	poolConfig, err := pgxpool.ParseConfig(cfg.URL("postgres"))
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxPoolSize)
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = 1 * time.Hour
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

	s := &Store{pool: pool, logger: logger}

	if err := s.runMigrations(cfg); err != nil {
		pool.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// runMigrations applies the embedded schema migrations.
func (s *Store) runMigrations(cfg Config) error {
	s.logger.Info("running database migrations")

	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("opening migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, cfg.URL("pgx5"))
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}
	defer m.Close()

	before, _, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("reading schema version: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}

	after, _, err := m.Version()
	if err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	s.logger.Info("migrations completed successfully",
		"from_version", before,
		"to_version", after,
	)
	return nil
}

const upsertSQL = `
	INSERT INTO transactions (
		source_id, type, amount, currency, description, category, payee,
		account, account_id, tags, timestamp, source_updated_at, embedding
	) VALUES ($1, $2, $3::text::numeric, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13::text::vector)
	ON CONFLICT (source_id) DO UPDATE SET
		type = EXCLUDED.type,
		amount = EXCLUDED.amount,
		currency = EXCLUDED.currency,
		description = EXCLUDED.description,
		category = EXCLUDED.category,
		payee = EXCLUDED.payee,
		account = EXCLUDED.account,
		account_id = EXCLUDED.account_id,
		tags = EXCLUDED.tags,
		timestamp = EXCLUDED.timestamp,
		source_updated_at = EXCLUDED.source_updated_at,
		embedding = EXCLUDED.embedding,
		synced_at = NOW()
`

// Upsert inserts or replaces rec by source id.
func (s *Store) Upsert(ctx context.Context, rec *api.TransactionRecord) error {
	return s.UpsertMany(ctx, []*api.TransactionRecord{rec})
}

// UpsertMany writes all records in a single database transaction.
func (s *Store) UpsertMany(ctx context.Context, recs []*api.TransactionRecord) error {
	if s == nil || s.pool == nil {
		return api.NewStorageError("upsert", api.ErrNotInitialized)
	}
	if len(recs) == 0 {
		return nil
	}
	for _, rec := range recs {
		if err := store.Validate(rec); err != nil {
			return api.NewStorageError("upsert", err)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return api.NewStorageError("upsert", fmt.Errorf("beginning transaction: %w", err))
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, rec := range recs {
		n := store.Normalize(rec)
		tags := n.Tags
		if tags == nil {
			tags = []string{}
		}
		batch.Queue(upsertSQL,
			n.SourceID,
			n.Type,
			n.Amount.String(),
			n.Currency,
			n.Description,
			n.Category,
			n.Payee,
			n.Account,
			n.AccountID,
			tags,
			n.Timestamp,
			n.UpdatedAt,
			pgvector.NewVector(n.Embedding).String(),
		)
	}

	results := tx.SendBatch(ctx, batch)
	for i := range recs {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return api.NewStorageError("upsert", fmt.Errorf("upserting record %s: %w", recs[i].SourceID, err))
		}
	}
	if err := results.Close(); err != nil {
		return api.NewStorageError("upsert", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return api.NewStorageError("upsert", fmt.Errorf("committing transaction: %w", err))
	}
	return nil
}

// Query ranks rows matching f by clipped cosine similarity to v.
func (s *Store) Query(ctx context.Context, v vector.Vector, k int, f *store.Filter) ([]api.SuggestionCandidate, error) {
	if s == nil || s.pool == nil {
		return nil, api.NewStorageError("query", api.ErrNotInitialized)
	}
	if k <= 0 {
		return []api.SuggestionCandidate{}, nil
	}

	sql, args := buildQuery(v, k, f)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, api.NewStorageError("query", err)
	}
	defer rows.Close()

	cands := make([]api.SuggestionCandidate, 0, k)
	for rows.Next() {
		var (
			rec    api.TransactionRecord
			amount string
			upd    *time.Time
			score  float64
		)
		if err := rows.Scan(
			&rec.SourceID, &rec.Type, &amount, &rec.Currency, &rec.Description,
			&rec.Category, &rec.Payee, &rec.Account, &rec.AccountID, &rec.Tags,
			&rec.Timestamp, &upd, &score,
		); err != nil {
			return nil, api.NewStorageError("query", fmt.Errorf("scanning row: %w", err))
		}
		rec.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, api.NewStorageError("query", fmt.Errorf("parsing amount %q: %w", amount, err))
		}
		rec.Timestamp = rec.Timestamp.UTC()
		if upd != nil {
			rec.UpdatedAt = upd.UTC()
		}
		cands = append(cands, api.SuggestionCandidate{Record: rec, Score: vector.Clip01(score)})
	}
	if err := rows.Err(); err != nil {
		return nil, api.NewStorageError("query", err)
	}

	// The database already ordered by clipped score; re-rank to apply the
	// source id tie-break identically to the other adapters.
	return store.Rank(cands, k), nil
}

// buildQuery renders the similarity query. Scores are clipped in SQL so the
// timestamp tie-break also applies among candidates clipped to zero.
func buildQuery(v vector.Vector, k int, f *store.Filter) (string, []any) {
	args := []any{pgvector.NewVector(v).String()}
	var where []string

	if f != nil {
		if f.Category != "" {
			args = append(args, f.Category)
			where = append(where, fmt.Sprintf("lower(category) = lower($%d)", len(args)))
		}
		if !f.From.IsZero() {
			args = append(args, f.From.UTC())
			where = append(where, fmt.Sprintf("timestamp >= $%d", len(args)))
		}
		if !f.To.IsZero() {
			args = append(args, f.To.UTC())
			where = append(where, fmt.Sprintf("timestamp <= $%d", len(args)))
		}
	}

	var sb strings.Builder
	sb.WriteString(`
		SELECT source_id, type, amount::text, currency, description, category, payee,
			account, account_id, tags, timestamp, source_updated_at,
			LEAST(1, GREATEST(0, 1 - (embedding <=> $1::text::vector))) AS score
		FROM transactions`)
	if len(where) > 0 {
		sb.WriteString("\n\t\tWHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}
	args = append(args, k)
	fmt.Fprintf(&sb, "\n\t\tORDER BY score DESC, timestamp DESC, source_id\n\t\tLIMIT $%d", len(args))

	return sb.String(), args
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	if s == nil || s.pool == nil {
		return 0, api.NewStorageError("count", api.ErrNotInitialized)
	}
	var n int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM transactions").Scan(&n); err != nil {
		return 0, api.NewStorageError("count", err)
	}
	return n, nil
}

// Close closes the database connection pool.
func (s *Store) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
		s.pool = nil
		s.logger.Info("closed PostgreSQL connection pool")
	}
	return nil
}

// Package sqlite implements an embedded, file-backed vector store on gorm.
//
// Embeddings are stored as JSON arrays next to the transaction columns.
// Filters run in SQL; similarity is computed in Go over the filtered rows so
// top-k selection always sees every candidate.
package sqlite

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/dkotama/firefly-telegram-assistant/pkg/api"
	"github.com/dkotama/firefly-telegram-assistant/pkg/catalog"
	"github.com/dkotama/firefly-telegram-assistant/pkg/store"
	"github.com/dkotama/firefly-telegram-assistant/pkg/vector"
)

// Config holds the SQLite store configuration.
type Config struct {
	// Path is the database file. ":memory:" keeps everything in memory.
	Path string
}

// transaction is the table row for a synced record.
type transaction struct {
	SourceID        string          `gorm:"column:source_id;primaryKey"`
	Type            string          `gorm:"column:type"`
	Amount          decimal.Decimal `gorm:"column:amount;type:text"`
	Currency        string          `gorm:"column:currency"`
	Description     string          `gorm:"column:description"`
	Category        string          `gorm:"column:category"`
	CategoryKey     string          `gorm:"column:category_key;index"`
	Payee           string          `gorm:"column:payee"`
	Account         string          `gorm:"column:account"`
	AccountID       string          `gorm:"column:account_id"`
	Tags            []string        `gorm:"column:tags;type:text;serializer:json"`
	Timestamp       time.Time       `gorm:"column:timestamp;index"`
	SourceUpdatedAt time.Time       `gorm:"column:source_updated_at"`
	Embedding       vector.Vector   `gorm:"column:embedding;type:text;serializer:json"`
	Dim             int             `gorm:"column:dim"`
}

func (transaction) TableName() string { return "transactions" }

func toRow(rec *api.TransactionRecord) transaction {
	n := store.Normalize(rec)
	return transaction{
		SourceID:        n.SourceID,
		Type:            n.Type,
		Amount:          n.Amount,
		Currency:        n.Currency,
		Description:     n.Description,
		Category:        n.Category,
		CategoryKey:     catalog.Key(n.Category),
		Payee:           n.Payee,
		Account:         n.Account,
		AccountID:       n.AccountID,
		Tags:            n.Tags,
		Timestamp:       n.Timestamp,
		SourceUpdatedAt: n.UpdatedAt,
		Embedding:       n.Embedding,
		Dim:             len(n.Embedding),
	}
}

func (t *transaction) record() api.TransactionRecord {
	return api.TransactionRecord{
		SourceID:    t.SourceID,
		Type:        t.Type,
		Amount:      t.Amount,
		Currency:    t.Currency,
		Description: t.Description,
		Category:    t.Category,
		Payee:       t.Payee,
		Account:     t.Account,
		AccountID:   t.AccountID,
		Tags:        t.Tags,
		Timestamp:   t.Timestamp.UTC(),
		UpdatedAt:   t.SourceUpdatedAt.UTC(),
		Embedding:   t.Embedding,
	}
}

// Store is a gorm-backed SQLite vector store.
type Store struct {
	db     *gorm.DB
	sim    vector.Similarity
	logger *slog.Logger

	// mu guards dim and serializes writers; SQLite allows a single writer anyway.
	mu  sync.Mutex
	dim int
}

// Open opens (creating if needed) the database at cfg.Path and migrates the schema.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB: %w", err)
	}
	// One connection keeps ":memory:" databases shared and writes serialized.
	sqlDB.SetMaxOpenConns(1)

	if err := db.WithContext(ctx).AutoMigrate(&transaction{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	if err := backfillCategoryKeys(ctx, db); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("backfilling category keys: %w", err)
	}

	s := &Store{db: db, sim: vector.Cosine, logger: logger}

	var dims []int
	if err := db.WithContext(ctx).Model(&transaction{}).Limit(1).Pluck("dim", &dims).Error; err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("reading embedding dimension: %w", err)
	}
	if len(dims) > 0 {
		s.dim = dims[0]
	}

	logger.Info("opened sqlite store", "path", cfg.Path, "dimension", s.dim)
	return s, nil
}

// backfillCategoryKeys folds categories of rows written before category_key existed.
func backfillCategoryKeys(ctx context.Context, db *gorm.DB) error {
	var rows []transaction
	err := db.WithContext(ctx).Select("source_id", "category").
		Where("category_key IS NULL OR category_key = ''").
		Where("category <> ''").
		Find(&rows).Error
	if err != nil || len(rows) == 0 {
		return err
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, r := range rows {
			err := tx.Model(&transaction{}).Where("source_id = ?", r.SourceID).
				Update("category_key", catalog.Key(r.Category)).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Upsert inserts or replaces rec by source id.
func (s *Store) Upsert(ctx context.Context, rec *api.TransactionRecord) error {
	return s.UpsertMany(ctx, []*api.TransactionRecord{rec})
}

// UpsertMany writes all records in one transaction.
func (s *Store) UpsertMany(ctx context.Context, recs []*api.TransactionRecord) error {
	if s == nil || s.db == nil {
		return api.NewStorageError("upsert", api.ErrNotInitialized)
	}
	if len(recs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dim := s.dim
	rows := make([]transaction, 0, len(recs))
	for _, rec := range recs {
		if err := store.Validate(rec); err != nil {
			return api.NewStorageError("upsert", err)
		}
		if err := store.CheckDim(dim, len(rec.Embedding)); err != nil {
			return api.NewStorageError("upsert", err)
		}
		dim = len(rec.Embedding)
		rows = append(rows, toRow(rec))
	}

	// A batch may carry the same source id twice; the last one wins.
	rows = dedupeLast(rows)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "source_id"}},
			UpdateAll: true,
		}).CreateInBatches(rows, 200).Error
	})
	if err != nil {
		return api.NewStorageError("upsert", err)
	}

	s.dim = dim
	return nil
}

func dedupeLast(rows []transaction) []transaction {
	seen := make(map[string]int, len(rows))
	out := rows[:0:0]
	for _, r := range rows {
		if i, ok := seen[r.SourceID]; ok {
			out[i] = r
			continue
		}
		seen[r.SourceID] = len(out)
		out = append(out, r)
	}
	return out
}

// Query loads the rows matching f and ranks them by similarity to v.
func (s *Store) Query(ctx context.Context, v vector.Vector, k int, f *store.Filter) ([]api.SuggestionCandidate, error) {
	if s == nil || s.db == nil {
		return nil, api.NewStorageError("query", api.ErrNotInitialized)
	}

	q := s.db.WithContext(ctx).Model(&transaction{})
	if f != nil {
		if f.Category != "" {
			// SQLite's NOCASE folds ASCII only.
			q = q.Where("category_key = ?", catalog.Key(f.Category))
		}
		if !f.From.IsZero() {
			q = q.Where("timestamp >= ?", f.From.UTC())
		}
		if !f.To.IsZero() {
			q = q.Where("timestamp <= ?", f.To.UTC())
		}
	}

	var rows []transaction
	if err := q.Find(&rows).Error; err != nil {
		return nil, api.NewStorageError("query", err)
	}
	if len(rows) == 0 {
		return []api.SuggestionCandidate{}, nil
	}

	cands := make([]api.SuggestionCandidate, 0, len(rows))
	for i := range rows {
		rec := rows[i].record()
		score, err := store.Score(s.sim, v, &rec)
		if err != nil {
			return nil, api.NewStorageError("query", err)
		}
		cands = append(cands, api.SuggestionCandidate{Record: rec, Score: score})
	}
	return store.Rank(cands, k), nil
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	if s == nil || s.db == nil {
		return 0, api.NewStorageError("count", api.ErrNotInitialized)
	}
	var n int64
	if err := s.db.WithContext(ctx).Model(&transaction{}).Count(&n).Error; err != nil {
		return 0, api.NewStorageError("count", err)
	}
	return int(n), nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	s.db = nil
	s.logger.Info("closed sqlite store")
	return sqlDB.Close()
}

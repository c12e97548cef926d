// Package memory implements an in-process vector store.
package memory

import (
	"context"
	"sync"

	"github.com/dkotama/firefly-telegram-assistant/pkg/api"
	"github.com/dkotama/firefly-telegram-assistant/pkg/store"
	"github.com/dkotama/firefly-telegram-assistant/pkg/vector"
)

// Store keeps records in a map guarded by a RWMutex. Upserts replace whole
// records under the write lock, so queries never see a partial record.
// The zero value is uninitialized; use New.
type Store struct {
	mu      sync.RWMutex
	records map[string]api.TransactionRecord
	dim     int
	sim     vector.Similarity
}

// Option configures a Store.
type Option func(*Store)

// WithSimilarity replaces the default cosine similarity.
func WithSimilarity(sim vector.Similarity) Option {
	return func(s *Store) { s.sim = sim }
}

// New returns an empty, initialized store.
func New(opts ...Option) *Store {
	s := &Store{
		records: make(map[string]api.TransactionRecord),
		sim:     vector.Cosine,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upsert inserts or replaces rec by source id.
func (s *Store) Upsert(ctx context.Context, rec *api.TransactionRecord) error {
	return s.UpsertMany(ctx, []*api.TransactionRecord{rec})
}

// UpsertMany validates every record first, then applies them all under one lock.
func (s *Store) UpsertMany(_ context.Context, recs []*api.TransactionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.records == nil {
		return api.NewStorageError("upsert", api.ErrNotInitialized)
	}

	dim := s.dim
	for _, rec := range recs {
		if err := store.Validate(rec); err != nil {
			return api.NewStorageError("upsert", err)
		}
		if err := store.CheckDim(dim, len(rec.Embedding)); err != nil {
			return api.NewStorageError("upsert", err)
		}
		dim = len(rec.Embedding)
	}

	for _, rec := range recs {
		s.records[rec.SourceID] = store.Normalize(rec)
	}
	s.dim = dim
	return nil
}

// Query scores every record matching f and returns the top k.
func (s *Store) Query(_ context.Context, v vector.Vector, k int, f *store.Filter) ([]api.SuggestionCandidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.records == nil {
		return nil, api.NewStorageError("query", api.ErrNotInitialized)
	}
	if len(s.records) == 0 {
		return []api.SuggestionCandidate{}, nil
	}
	if err := store.CheckDim(s.dim, len(v)); err != nil {
		return nil, api.NewStorageError("query", err)
	}

	cands := make([]api.SuggestionCandidate, 0, len(s.records))
	for _, rec := range s.records {
		if !f.Match(&rec) {
			continue
		}
		score, err := store.Score(s.sim, v, &rec)
		if err != nil {
			return nil, api.NewStorageError("query", err)
		}
		cands = append(cands, api.SuggestionCandidate{Record: store.Normalize(&rec), Score: score})
	}
	return store.Rank(cands, k), nil
}

// Count returns the number of stored records.
func (s *Store) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.records == nil {
		return 0, api.NewStorageError("count", api.ErrNotInitialized)
	}
	return len(s.records), nil
}

// Close drops all records. Later calls fail as uninitialized.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
	s.dim = 0
	return nil
}

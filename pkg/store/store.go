// Package store defines the vector store contract for transaction records and
// the ranking rules shared by every adapter.
package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dkotama/firefly-telegram-assistant/pkg/api"
	"github.com/dkotama/firefly-telegram-assistant/pkg/vector"
)

// Store persists transaction records with their embeddings and answers
// nearest-neighbour queries by cosine similarity.
//
// Query returns at most k candidates ordered by descending score, ties broken
// by the most recent timestamp. An empty store yields an empty result, not an
// error. Filters are applied before top-k selection. A query observes each
// record either before or after a concurrent upsert, never a partial write.
// Calls on an uninitialized or closed store fail with a StorageError wrapping
// api.ErrNotInitialized.
type Store interface {
	Upsert(ctx context.Context, rec *api.TransactionRecord) error
	UpsertMany(ctx context.Context, recs []*api.TransactionRecord) error
	Query(ctx context.Context, v vector.Vector, k int, f *Filter) ([]api.SuggestionCandidate, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// Filter narrows the candidate set. Zero fields are unbounded.
type Filter struct {
	// Category matches case-insensitively.
	Category string
	// From and To bound the record timestamp, both inclusive.
	From time.Time
	To   time.Time
}

// Match reports whether rec passes the filter. A nil filter matches everything.
func (f *Filter) Match(rec *api.TransactionRecord) bool {
	if f == nil {
		return true
	}
	if f.Category != "" && !strings.EqualFold(f.Category, rec.Category) {
		return false
	}
	if !f.From.IsZero() && rec.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && rec.Timestamp.After(f.To) {
		return false
	}
	return true
}

// ErrInvalidRecord is returned for records that cannot be stored.
var ErrInvalidRecord = errors.New("invalid record")

// Validate checks that rec can be stored: it needs a source id and an embedding.
func Validate(rec *api.TransactionRecord) error {
	if rec == nil {
		return fmt.Errorf("%w: nil record", ErrInvalidRecord)
	}
	if rec.SourceID == "" {
		return fmt.Errorf("%w: source id is required", ErrInvalidRecord)
	}
	if len(rec.Embedding) == 0 {
		return fmt.Errorf("%w: record %s has no embedding", ErrInvalidRecord, rec.SourceID)
	}
	return nil
}

// CheckDim returns ErrDimensionMismatch when got differs from a known dimension.
// A zero want means no dimension has been fixed yet.
func CheckDim(want, got int) error {
	if want != 0 && want != got {
		return fmt.Errorf("%w: store has %d, got %d", vector.ErrDimensionMismatch, want, got)
	}
	return nil
}

// Compare orders candidates by descending score, then by newest timestamp,
// then by source id so results are deterministic.
func Compare(a, b api.SuggestionCandidate) int {
	switch {
	case a.Score > b.Score:
		return -1
	case a.Score < b.Score:
		return 1
	}
	if c := b.Record.Timestamp.Compare(a.Record.Timestamp); c != 0 {
		return c
	}
	return strings.Compare(a.Record.SourceID, b.Record.SourceID)
}

// Rank sorts candidates in place and truncates to k. A non-positive k returns nothing.
func Rank(cands []api.SuggestionCandidate, k int) []api.SuggestionCandidate {
	if k <= 0 {
		return []api.SuggestionCandidate{}
	}
	slices.SortFunc(cands, Compare)
	if len(cands) > k {
		cands = cands[:k]
	}
	return cands
}

// Score computes the clipped similarity between v and rec's embedding.
func Score(sim vector.Similarity, v vector.Vector, rec *api.TransactionRecord) (float64, error) {
	s, err := sim(v, rec.Embedding)
	if err != nil {
		return 0, err
	}
	return vector.Clip01(s), nil
}

// Normalize returns a copy of rec with timestamps in UTC and tags and embedding
// cloned, so a stored record never aliases caller memory.
func Normalize(rec *api.TransactionRecord) api.TransactionRecord {
	out := *rec
	out.Timestamp = rec.Timestamp.UTC()
	out.UpdatedAt = rec.UpdatedAt.UTC()
	out.Tags = slices.Clone(rec.Tags)
	out.Embedding = rec.Embedding.Clone()
	return out
}

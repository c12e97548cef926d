// Package ranker turns a store query into a short list of distinct
// suggestion candidates.
package ranker

import (
	"context"

	"github.com/dkotama/firefly-telegram-assistant/pkg/api"
	"github.com/dkotama/firefly-telegram-assistant/pkg/catalog"
	"github.com/dkotama/firefly-telegram-assistant/pkg/store"
	"github.com/dkotama/firefly-telegram-assistant/pkg/vector"
)

// DefaultK is the number of candidates returned when none is configured.
const DefaultK = 5

// Config tunes the ranker.
type Config struct {
	K int
	// MinScore drops candidates scoring below it.
	MinScore float64
	// Overfetch multiplies K for the store query so deduplication still
	// leaves up to K distinct candidates.
	Overfetch int
}

// Ranker queries a store and post-processes the result.
type Ranker struct {
	store     store.Store
	k         int
	minScore  float64
	overfetch int
}

// New returns a ranker over s.
func New(s store.Store, cfg Config) *Ranker {
	if cfg.K <= 0 {
		cfg.K = DefaultK
	}
	if cfg.Overfetch <= 0 {
		cfg.Overfetch = 4
	}
	return &Ranker{store: s, k: cfg.K, minScore: cfg.MinScore, overfetch: cfg.Overfetch}
}

// K returns the configured result size.
func (r *Ranker) K() int { return r.k }

// Rank returns up to K candidates, highest score first, with no two sharing
// a (category, payee) pair. An empty result means no confident match.
// Storage failures are returned as *api.StorageError.
func (r *Ranker) Rank(ctx context.Context, v vector.Vector, f *store.Filter) ([]api.SuggestionCandidate, error) {
	cands, err := r.store.Query(ctx, v, r.k*r.overfetch, f)
	if err != nil {
		return nil, api.NewStorageError("query", err)
	}
	out := Dedupe(Threshold(cands, r.minScore))
	if len(out) > r.k {
		out = out[:r.k]
	}
	return out, nil
}

// Threshold keeps candidates scoring at least min. Input order is preserved.
func Threshold(cands []api.SuggestionCandidate, min float64) []api.SuggestionCandidate {
	out := make([]api.SuggestionCandidate, 0, len(cands))
	for _, c := range cands {
		if c.Score >= min {
			out = append(out, c)
		}
	}
	return out
}

type pair struct{ category, payee string }

// Dedupe keeps the first candidate of every (category, payee) pair, compared
// case-insensitively. Input must already be ranked best first.
func Dedupe(cands []api.SuggestionCandidate) []api.SuggestionCandidate {
	seen := make(map[pair]struct{}, len(cands))
	out := make([]api.SuggestionCandidate, 0, len(cands))
	for _, c := range cands {
		p := pair{catalog.Key(c.Record.Category), catalog.Key(c.Record.Payee)}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, c)
	}
	return out
}

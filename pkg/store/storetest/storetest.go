// Package storetest holds behaviour tests shared by every store adapter.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkotama/firefly-telegram-assistant/pkg/api"
	"github.com/dkotama/firefly-telegram-assistant/pkg/store"
	"github.com/dkotama/firefly-telegram-assistant/pkg/vector"
)

// Factory returns an initialized, empty store. The test owns closing it.
type Factory func(t *testing.T) store.Store

// Base is the reference time used by generated records.
var Base = time.Date(2025, 1, 15, 9, 30, 0, 0, time.UTC)

// Record builds a withdrawal record with the given embedding.
func Record(id, category, payee string, ts time.Time, v ...float32) *api.TransactionRecord {
	return &api.TransactionRecord{
		SourceID:    id,
		Type:        api.TypeWithdrawal,
		Amount:      decimal.RequireFromString("12.50"),
		Currency:    "USD",
		Description: payee + " purchase",
		Category:    category,
		Payee:       payee,
		Account:     "Checking",
		AccountID:   "1",
		Tags:        []string{"test"},
		Timestamp:   ts,
		UpdatedAt:   ts,
		Embedding:   vector.Vector(v),
	}
}

// Run executes the shared behaviour tests against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("EmptyStore", func(t *testing.T) { testEmptyStore(t, newStore(t)) })
	t.Run("Ordering", func(t *testing.T) { testOrdering(t, newStore(t)) })
	t.Run("TieBreak", func(t *testing.T) { testTieBreak(t, newStore(t)) })
	t.Run("UpsertReplaces", func(t *testing.T) { testUpsertReplaces(t, newStore(t)) })
	t.Run("FilterBeforeTopK", func(t *testing.T) { testFilterBeforeTopK(t, newStore(t)) })
	t.Run("FilterFoldsNonASCII", func(t *testing.T) { testFilterFoldsNonASCII(t, newStore(t)) })
	t.Run("RoundTrip", func(t *testing.T) { testRoundTrip(t, newStore(t)) })
}

func sourceIDs(cands []api.SuggestionCandidate) []string {
	ids := make([]string, len(cands))
	for i, c := range cands {
		ids[i] = c.Record.SourceID
	}
	return ids
}

func testEmptyStore(t *testing.T, s store.Store) {
	ctx := context.Background()

	got, err := s.Query(ctx, vector.Vector{1, 0, 0}, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func testOrdering(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.UpsertMany(ctx, []*api.TransactionRecord{
		Record("a", "Groceries", "Market", Base, 1, 0, 0),
		Record("b", "Dining", "Sukiya", Base, 1, 1, 0),
		Record("c", "Rent", "Landlord", Base, 0, 1, 0),
		Record("d", "Travel", "Airline", Base.Add(time.Hour), -1, 0, 0),
	}))

	got, err := s.Query(ctx, vector.Vector{1, 0, 0}, 3, nil)
	require.NoError(t, err)
	require.Len(t, got, 3)

	// c and d both clip to 0; d is newer.
	assert.Equal(t, []string{"a", "b", "d"}, sourceIDs(got))
	assert.InDelta(t, 1.0, got[0].Score, 1e-4)
	assert.InDelta(t, 0.7071, got[1].Score, 1e-3)
	assert.InDelta(t, 0.0, got[2].Score, 1e-4)
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].Score, got[i].Score)
	}
}

func testTieBreak(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, Record("old", "Dining", "Sukiya", Base, 0, 1, 1)))
	require.NoError(t, s.Upsert(ctx, Record("new", "Dining", "Sukiya", Base.AddDate(0, 1, 0), 0, 1, 1)))

	got, err := s.Query(ctx, vector.Vector{0, 1, 1}, 1, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].Record.SourceID)
}

func testUpsertReplaces(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, Record("1", "Groceries", "Market", Base, 1, 0, 0)))
	require.NoError(t, s.Upsert(ctx, Record("1", "Dining", "Sukiya", Base, 0, 1, 0)))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.Query(ctx, vector.Vector{1, 0, 0}, 5, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Dining", got[0].Record.Category)
	assert.Equal(t, "Sukiya", got[0].Record.Payee)
	assert.InDelta(t, 0.0, got[0].Score, 1e-4)
}

func testFilterBeforeTopK(t *testing.T, s store.Store) {
	ctx := context.Background()
	recs := []*api.TransactionRecord{
		Record("g", "Groceries", "Market", Base.AddDate(0, -2, 0), 0.2, 1, 0),
	}
	for _, id := range []string{"d1", "d2", "d3", "d4", "d5"} {
		recs = append(recs, Record(id, "Dining", "Sukiya", Base, 1, 0, 0))
	}
	require.NoError(t, s.UpsertMany(ctx, recs))

	got, err := s.Query(ctx, vector.Vector{1, 0, 0}, 1, &store.Filter{Category: "groceries"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "g", got[0].Record.SourceID)

	got, err = s.Query(ctx, vector.Vector{1, 0, 0}, 5, &store.Filter{To: Base.AddDate(0, -1, 0)})
	require.NoError(t, err)
	assert.Equal(t, []string{"g"}, sourceIDs(got))

	got, err = s.Query(ctx, vector.Vector{1, 0, 0}, 10, &store.Filter{From: Base, To: Base})
	require.NoError(t, err)
	assert.Len(t, got, 5)
}

func testFilterFoldsNonASCII(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.UpsertMany(ctx, []*api.TransactionRecord{
		Record("a", "Äpfel", "Markt", Base, 1, 0, 0),
		Record("b", "Brot", "Bäcker", Base, 1, 0, 0),
	}))

	got, err := s.Query(ctx, vector.Vector{1, 0, 0}, 5, &store.Filter{Category: "äPFEL"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, sourceIDs(got))
	assert.Equal(t, "Äpfel", got[0].Record.Category)
}

func testRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	want := Record("42", "Groceries", "Market", Base, 1, 2, 3)
	require.NoError(t, s.Upsert(ctx, want))

	got, err := s.Query(ctx, vector.Vector{1, 2, 3}, 1, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)

	rec := got[0].Record
	assert.Equal(t, want.SourceID, rec.SourceID)
	assert.Equal(t, want.Type, rec.Type)
	assert.True(t, want.Amount.Equal(rec.Amount), "amount %s != %s", rec.Amount, want.Amount)
	assert.Equal(t, want.Currency, rec.Currency)
	assert.Equal(t, want.Description, rec.Description)
	assert.Equal(t, want.Category, rec.Category)
	assert.Equal(t, want.Payee, rec.Payee)
	assert.Equal(t, want.Account, rec.Account)
	assert.Equal(t, want.AccountID, rec.AccountID)
	assert.Equal(t, want.Tags, rec.Tags)
	assert.True(t, want.Timestamp.Equal(rec.Timestamp), "timestamp %s != %s", rec.Timestamp, want.Timestamp)
}

package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkotama/firefly-telegram-assistant/pkg/api"
	"github.com/dkotama/firefly-telegram-assistant/pkg/store"
	"github.com/dkotama/firefly-telegram-assistant/pkg/store/storetest"
	"github.com/dkotama/firefly-telegram-assistant/pkg/vector"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{Path: filepath.Join(t.TempDir(), "test.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return openTemp(t) })
}

// TestStore_Reopen tests that records and the embedding dimension survive a reopen.
func TestStore_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.db")

	s, err := Open(ctx, Config{Path: path}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Upsert(ctx, storetest.Record("1", "Groceries", "Market", storetest.Base, 1, 0)))
	require.NoError(t, s.Close())

	s, err = Open(ctx, Config{Path: path}, nil)
	require.NoError(t, err)
	defer s.Close()

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	err = s.Upsert(ctx, storetest.Record("2", "Groceries", "Market", storetest.Base, 1, 0, 0))
	assert.ErrorIs(t, err, vector.ErrDimensionMismatch)
}

func TestStore_NotInitialized(t *testing.T) {
	var s Store
	_, err := s.Query(context.Background(), vector.Vector{1}, 5, nil)
	assert.True(t, api.IsStorage(err))
	assert.ErrorIs(t, err, api.ErrNotInitialized)

	closed := openTemp(t)
	require.NoError(t, closed.Close())
	_, err = closed.Count(context.Background())
	assert.ErrorIs(t, err, api.ErrNotInitialized)
}

func TestStore_DuplicateInBatch(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	require.NoError(t, s.UpsertMany(ctx, []*api.TransactionRecord{
		storetest.Record("1", "Groceries", "Market", storetest.Base, 1, 0),
		storetest.Record("1", "Dining", "Sukiya", storetest.Base, 1, 0),
	}))

	got, err := s.Query(ctx, vector.Vector{1, 0}, 5, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Dining", got[0].Record.Category)
}

// TestStore_BackfillsCategoryKey tests that rows without a folded category
// still match category filters after a reopen.
func TestStore_BackfillsCategoryKey(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "backfill.db")

	s, err := Open(ctx, Config{Path: path}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Upsert(ctx, storetest.Record("1", "Äpfel", "Markt", storetest.Base, 1, 0)))
	require.NoError(t, s.db.Exec("UPDATE transactions SET category_key = ''").Error)
	require.NoError(t, s.Close())

	s, err = Open(ctx, Config{Path: path}, nil)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Query(ctx, vector.Vector{1, 0}, 5, &store.Filter{Category: "ÄPFEL"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "1", got[0].Record.SourceID)
}

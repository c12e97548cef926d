package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkotama/firefly-telegram-assistant/pkg/api"
	"github.com/dkotama/firefly-telegram-assistant/pkg/store"
	"github.com/dkotama/firefly-telegram-assistant/pkg/store/storetest"
	"github.com/dkotama/firefly-telegram-assistant/pkg/vector"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s := New()
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

// TestStore_NotInitialized tests that the zero value and a closed store both
// report a StorageError wrapping ErrNotInitialized.
func TestStore_NotInitialized(t *testing.T) {
	ctx := context.Background()

	var zero Store
	_, err := zero.Query(ctx, vector.Vector{1}, 5, nil)
	require.Error(t, err)
	assert.True(t, api.IsStorage(err))
	assert.ErrorIs(t, err, api.ErrNotInitialized)

	s := New()
	require.NoError(t, s.Close())
	err = s.Upsert(ctx, storetest.Record("1", "c", "p", storetest.Base, 1))
	assert.ErrorIs(t, err, api.ErrNotInitialized)
}

func TestStore_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Upsert(ctx, storetest.Record("1", "c", "p", storetest.Base, 1, 0)))

	err := s.Upsert(ctx, storetest.Record("2", "c", "p", storetest.Base, 1, 0, 0))
	assert.True(t, api.IsStorage(err))
	assert.ErrorIs(t, err, vector.ErrDimensionMismatch)

	_, err = s.Query(ctx, vector.Vector{1, 0, 0}, 5, nil)
	assert.ErrorIs(t, err, vector.ErrDimensionMismatch)

	// A failed batch leaves the store untouched.
	err = s.UpsertMany(ctx, []*api.TransactionRecord{
		storetest.Record("3", "c", "p", storetest.Base, 0, 1),
		storetest.Record("4", "c", "p", storetest.Base, 0, 1, 1),
	})
	require.Error(t, err)
	n, _ := s.Count(ctx)
	assert.Equal(t, 1, n)
}

func TestStore_WithSimilarity(t *testing.T) {
	ctx := context.Background()
	errBoom := errors.New("boom")
	s := New(WithSimilarity(func(a, b vector.Vector) (float64, error) { return 0, errBoom }))
	require.NoError(t, s.Upsert(ctx, storetest.Record("1", "c", "p", storetest.Base, 1)))

	_, err := s.Query(ctx, vector.Vector{1}, 1, nil)
	assert.ErrorIs(t, err, errBoom)
}

// TestStore_ConcurrentQueryUpsert tests that queries never observe a record
// whose fields come from two different writes.
func TestStore_ConcurrentQueryUpsert(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Upsert(ctx, storetest.Record("1", "A", "A", storetest.Base, 1, 0)))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			name := "A"
			if i%2 == 0 {
				name = "B"
			}
			_ = s.Upsert(ctx, storetest.Record("1", name, name, storetest.Base, 1, 0))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			got, err := s.Query(ctx, vector.Vector{1, 0}, 1, nil)
			if err != nil || len(got) != 1 {
				t.Errorf("Query() = %v, %v", got, err)
				return
			}
			if got[0].Record.Category != got[0].Record.Payee {
				t.Errorf("torn record: %+v", got[0].Record)
				return
			}
		}
	}()
	wg.Wait()
}

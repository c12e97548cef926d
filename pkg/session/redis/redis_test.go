package redis

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/dkotama/firefly-telegram-assistant/pkg/api"
	"github.com/dkotama/firefly-telegram-assistant/pkg/session"
)

func TestNew_ConnectionFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := New(ctx, Config{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}

// TestStore_Integration exercises the store against a Redis container.
func TestStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	ctr, err := tcredis.Run(ctx, "redis:7-alpine")
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	uri, err := ctr.ConnectionString(ctx)
	require.NoError(t, err)

	// ConnectionString returns redis://host:port.
	s, err := New(ctx, Config{Addr: uri[len("redis://"):], TTL: time.Hour})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Load(ctx, "42")
	assert.ErrorIs(t, err, session.ErrNotFound)

	sess := session.New("42")
	sess.Present(&api.ExpenseSuggestion{
		Category:   "Dining",
		Payee:      "Sukiya",
		Amount:     decimal.NewNullDecimal(decimal.RequireFromString("768")),
		Currency:   "JPY",
		Confidence: 0.91,
	}, "768 yen at Sukiya")
	sess.Touch(time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, s.Save(ctx, sess))

	got, err := s.Load(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, session.AwaitingConfirmation, got.State)
	assert.Equal(t, "Sukiya", got.Pending.Payee)
	assert.True(t, got.Pending.Amount.Decimal.Equal(decimal.NewFromInt(768)))
	assert.True(t, sess.LastInteraction.Equal(got.LastInteraction))

	all, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, s.Delete(ctx, "42"))
	_, err = s.Load(ctx, "42")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkotama/firefly-telegram-assistant/pkg/api"
)

func TestSession_Transitions(t *testing.T) {
	s := New("42")
	require.NoError(t, s.Validate())

	s.Present(&api.ExpenseSuggestion{Category: "Dining"}, "lunch 700")
	assert.Equal(t, AwaitingConfirmation, s.State)
	require.NoError(t, s.Validate())

	s.BeginEdit("category")
	assert.Equal(t, AwaitingEdit, s.State)
	assert.Equal(t, "category", s.EditField)
	require.NoError(t, s.Validate())

	s.EndEdit()
	assert.Equal(t, AwaitingConfirmation, s.State)
	assert.Empty(t, s.EditField)

	s.Reset()
	assert.Equal(t, Idle, s.State)
	assert.Nil(t, s.Pending)
	require.NoError(t, s.Validate())
}

func TestSession_Validate(t *testing.T) {
	assert.Error(t, (&Session{State: Idle, Pending: &api.ExpenseSuggestion{}}).Validate())
	assert.Error(t, (&Session{State: AwaitingEdit}).Validate())
	assert.Error(t, (&Session{State: "bogus"}).Validate())
}

func TestSession_Expired(t *testing.T) {
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	s := New("42")
	s.LastInteraction = now.Add(-11 * time.Minute)

	assert.False(t, s.Expired(now, 10*time.Minute), "idle sessions never expire")

	s.Present(&api.ExpenseSuggestion{}, "x")
	assert.True(t, s.Expired(now, 10*time.Minute))
	assert.False(t, s.Expired(now, 15*time.Minute))
	assert.False(t, s.Expired(now, 0))
}

func TestSession_Clone(t *testing.T) {
	s := New("42")
	s.Present(&api.ExpenseSuggestion{Category: "Dining", Tags: []string{"food"}}, "x")

	c := s.Clone()
	c.Pending.Category = "Groceries"
	c.Pending.Tags[0] = "other"

	assert.Equal(t, "Dining", s.Pending.Category)
	assert.Equal(t, "food", s.Pending.Tags[0])
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	_, err := m.Load(ctx, "42")
	assert.ErrorIs(t, err, ErrNotFound)

	s := New("42")
	s.Present(&api.ExpenseSuggestion{Category: "Dining"}, "x")
	require.NoError(t, m.Save(ctx, s))

	// Mutating the caller's copy must not change the stored session.
	s.Reset()

	got, err := m.Load(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, AwaitingConfirmation, got.State)

	all, err := m.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, m.Delete(ctx, "42"))
	_, err = m.Load(ctx, "42")
	assert.ErrorIs(t, err, ErrNotFound)
}

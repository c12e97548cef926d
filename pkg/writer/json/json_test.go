package json

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkotama/firefly-telegram-assistant/pkg/api"
)

func write(t *testing.T, w *Writer, expenses ...*api.FinalizedExpense) {
	t.Helper()
	in := make(chan *api.FinalizedExpense, len(expenses))
	for _, e := range expenses {
		in <- e
	}
	close(in)
	require.NoError(t, w.Write(context.Background(), in, nil))
}

func TestWrite_AppendsAndReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "expenses.json")
	day := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	w, err := New(Config{FilePath: path}, nil)
	require.NoError(t, err)
	write(t, w,
		&api.FinalizedExpense{ID: "a", Amount: decimal.NewFromInt(1), Payee: "Market", Date: day},
		&api.FinalizedExpense{ID: "b", Amount: decimal.NewFromInt(2), Payee: "Sukiya", Date: day},
	)
	assert.Equal(t, 2, w.Count())

	w, err = New(Config{FilePath: path}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, w.Count())
	write(t, w, &api.FinalizedExpense{ID: "a", Amount: decimal.NewFromInt(3), Payee: "Market", Date: day})
	assert.Equal(t, 2, w.Count())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got []*api.FinalizedExpense
	require.NoError(t, json.Unmarshal(data, &got))
	require.Len(t, got, 2)
	assert.Equal(t, "3", got[0].Amount.String())
	assert.Equal(t, "Sukiya", got[1].Payee)
}

func TestNew_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "expenses.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := New(Config{FilePath: path}, nil)
	assert.Error(t, err)
}

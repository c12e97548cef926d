package embedding

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkotama/firefly-telegram-assistant/pkg/api"
	"github.com/dkotama/firefly-telegram-assistant/pkg/vector"
)

func TestRecordText(t *testing.T) {
	tests := []struct {
		name string
		rec  api.TransactionRecord
		want string
	}{
		{
			name: "withdrawal",
			rec: api.TransactionRecord{
				Type:        api.TypeWithdrawal,
				Description: "Beef bowl",
				Account:     "Wallet",
				Payee:       "Sukiya",
				Category:    "Dining",
				Tags:        []string{"food", "lunch"},
				Amount:      decimal.RequireFromString("768"),
			},
			want: "Beef bowl source Wallet from Wallet destination Sukiya to Sukiya category Dining tags food, lunch amount 768",
		},
		{
			name: "deposit swaps direction",
			rec: api.TransactionRecord{
				Type:        api.TypeDeposit,
				Description: "Salary",
				Account:     "Bank",
				Payee:       "Employer",
			},
			want: "Salary source Employer from Employer destination Bank to Bank",
		},
		{
			name: "description only",
			rec:  api.TransactionRecord{Description: "misc"},
			want: "misc",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RecordText(&tt.rec))
		})
	}
}

type singleProvider struct{ calls int }

func (p *singleProvider) Embed(_ context.Context, text string) (vector.Vector, error) {
	p.calls++
	return vector.Vector{float32(len(text))}, nil
}

func (p *singleProvider) Dimension() int { return 1 }

type batchProvider struct {
	singleProvider
	batches int
}

func (p *batchProvider) EmbedBatch(_ context.Context, texts []string) ([]vector.Vector, error) {
	p.batches++
	out := make([]vector.Vector, len(texts))
	for i, t := range texts {
		out[i] = vector.Vector{float32(len(t))}
	}
	return out, nil
}

func TestEmbedAll(t *testing.T) {
	ctx := context.Background()

	sp := &singleProvider{}
	vs, err := EmbedAll(ctx, sp, []string{"a", "bb"})
	require.NoError(t, err)
	assert.Equal(t, []vector.Vector{{1}, {2}}, vs)
	assert.Equal(t, 2, sp.calls)

	bp := &batchProvider{}
	vs, err = EmbedAll(ctx, bp, []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	assert.Len(t, vs, 3)
	assert.Equal(t, 1, bp.batches)
	assert.Equal(t, 0, bp.calls)
}

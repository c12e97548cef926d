package firefly

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkotama/firefly-telegram-assistant/pkg/api"
	ff "github.com/dkotama/firefly-telegram-assistant/pkg/firefly"
)

type fakeCreator struct {
	mu   sync.Mutex
	txs  []ff.NewTransaction
	fail map[string]bool
}

func (f *fakeCreator) CreateTransaction(_ context.Context, tx ff.NewTransaction) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[tx.Transactions[0].ExternalID] {
		return "", errors.New("firefly: 422 The given data was invalid.")
	}
	f.txs = append(f.txs, tx)
	return "1", nil
}

func TestWrite(t *testing.T) {
	c := &fakeCreator{fail: map[string]bool{"bad": true}}
	w := New(c, Config{DefaultAccountID: "9"}, nil)

	in := make(chan *api.FinalizedExpense, 3)
	acks := make(chan string, 3)
	in <- &api.FinalizedExpense{ID: "a", Amount: decimal.NewFromInt(1), Payee: "Market"}
	in <- &api.FinalizedExpense{ID: "bad", Amount: decimal.NewFromInt(2), Payee: "Nowhere"}
	in <- &api.FinalizedExpense{ID: "c", Amount: decimal.NewFromInt(3), Payee: "Sukiya", SourceAccountID: "1", BillID: "7"}
	close(in)

	require.NoError(t, w.Write(context.Background(), in, acks))
	close(acks)

	var acked []string
	for id := range acks {
		acked = append(acked, id)
	}
	assert.Equal(t, []string{"a", "c"}, acked)

	require.Len(t, c.txs, 2)
	assert.Equal(t, "9", c.txs[0].Transactions[0].SourceID)
	assert.Equal(t, "1", c.txs[1].Transactions[0].SourceID)
	assert.Equal(t, "Sukiya", c.txs[1].Transactions[0].DestinationName)
	assert.Empty(t, c.txs[0].Transactions[0].BillID)
	assert.Equal(t, "7", c.txs[1].Transactions[0].BillID)
}

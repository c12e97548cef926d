package firefly

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkotama/firefly-telegram-assistant/pkg/api"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := New(context.Background(), Config{
		BaseURL:    srv.URL,
		Token:      "tok",
		RetryDelay: time.Millisecond,
	}, nil)
	require.NoError(t, err)
	return c
}

func TestNewWithHTTPClient_BaseURL(t *testing.T) {
	for _, in := range []string{"https://ff.example.com", "https://ff.example.com/", "https://ff.example.com/api/v1"} {
		c, err := NewWithHTTPClient(http.DefaultClient, Config{BaseURL: in}, nil)
		require.NoError(t, err)
		assert.Equal(t, "https://ff.example.com/api/v1/", c.BaseURL(), in)
	}

	_, err := NewWithHTTPClient(http.DefaultClient, Config{}, nil)
	assert.Error(t, err)
}

func TestAccounts_PaginatesAndSkipsBookkeeping(t *testing.T) {
	pages := map[string]string{
		"1": `{"data":[
			{"id":"1","type":"accounts","attributes":{"name":"Wallet","type":"asset","currency_code":"JPY"}},
			{"id":"2","type":"accounts","attributes":{"name":"Initial balance for Wallet","type":"initial-balance"}}
		],"meta":{"pagination":{"total":3,"current_page":1,"total_pages":2}}}`,
		"2": `{"data":[
			{"id":"3","type":"accounts","attributes":{"name":"Sukiya","type":"expense"}}
		],"meta":{"pagination":{"total":3,"current_page":2,"total_pages":2}}}`,
	}
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/accounts", r.URL.Path)
		assert.Equal(t, "asset,expense,revenue", r.URL.Query().Get("type"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		fmt.Fprint(w, pages[r.URL.Query().Get("page")])
	}))

	accounts, err := c.Accounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []api.Account{
		{ID: "1", Name: "Wallet", Type: "asset", Currency: "JPY"},
		{ID: "3", Name: "Sukiya", Type: "expense"},
	}, accounts)
}

func TestTransactions_Records(t *testing.T) {
	body := `{"data":[{"id":"10","type":"transactions","attributes":{
		"group_title":"",
		"updated_at":"2025-05-02T10:00:00+09:00",
		"transactions":[
			{"transaction_journal_id":"100","type":"withdrawal","date":"2025-05-01T12:00:00+09:00",
			 "amount":"768.00","currency_code":"JPY","description":"Lunch",
			 "source_id":"1","source_name":"Wallet","destination_id":"3","destination_name":"Sukiya",
			 "category_name":"Dining","tags":["food"]},
			{"transaction_journal_id":"101","type":"deposit","date":"2025-05-01T09:00:00Z",
			 "amount":"300000","currency_code":"JPY","description":"Salary",
			 "source_id":"5","source_name":"ACME","destination_id":"1","destination_name":"Wallet",
			 "category_name":"Income","tags":null}
		]}}],"meta":{"pagination":{"total":1,"current_page":1,"total_pages":1}}}`

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2025-05-01T00:00:00Z", r.URL.Query().Get("updated_at"))
		fmt.Fprint(w, body)
	}))

	var recs []*api.TransactionRecord
	err := c.Transactions(context.Background(), time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC), func(g *Group) error {
		assert.Equal(t, "10", g.ID)
		recs = append(recs, g.Records()...)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, recs, 2)

	w := recs[0]
	assert.Equal(t, "100", w.SourceID)
	assert.Equal(t, api.TypeWithdrawal, w.Type)
	assert.True(t, decimal.RequireFromString("768").Equal(w.Amount))
	assert.Equal(t, "Sukiya", w.Payee)
	assert.Equal(t, "Wallet", w.Account)
	assert.Equal(t, "1", w.AccountID)
	assert.Equal(t, "Dining", w.Category)
	assert.Equal(t, []string{"food"}, w.Tags)
	assert.Equal(t, time.Date(2025, 5, 1, 3, 0, 0, 0, time.UTC), w.Timestamp)
	assert.Equal(t, time.Date(2025, 5, 2, 1, 0, 0, 0, time.UTC), w.UpdatedAt)

	d := recs[1]
	assert.Equal(t, "ACME", d.Payee)
	assert.Equal(t, "Wallet", d.Account)
}

func TestTransactions_SkipsNotUpdated(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"id":"1","attributes":{"updated_at":"2025-01-01T00:00:00Z","transactions":[]}}],
			"meta":{"pagination":{"total_pages":1}}}`)
	}))

	calls := 0
	err := c.Transactions(context.Background(), time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), func(*Group) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, calls)
}

func TestDo_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"data":{"version":"6.1.0","api_version":"2.1.0","os":"Linux"}}`)
	}))

	about, err := c.About(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "6.1.0", about.Version)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDo_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"message":"Unauthenticated."}`)
	}))

	_, err := c.About(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "Unauthenticated.", apiErr.Message)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCreateTransaction(t *testing.T) {
	var calls atomic.Int32
	var got NewTransaction
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/transactions", r.URL.Path)
		b, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(b, &got))
		fmt.Fprint(w, `{"data":{"id":"77","attributes":{"transactions":[]}}}`)
	}))

	e := &api.FinalizedExpense{
		ID:              "exp-1",
		Type:            api.TypeWithdrawal,
		Amount:          decimal.RequireFromString("768"),
		Currency:        "JPY",
		Description:     "Lunch",
		Category:        "Dining",
		Payee:           "Sukiya",
		SourceAccountID: "1",
		Tags:            []string{"food"},
		Date:            time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC),
		Notes:           api.DefaultNotes,
	}
	id, err := c.CreateTransaction(context.Background(), FromExpense(e))
	require.NoError(t, err)
	assert.Equal(t, "77", id)
	assert.Equal(t, int32(1), calls.Load())

	require.Len(t, got.Transactions, 1)
	s := got.Transactions[0]
	assert.True(t, got.ErrorIfDuplicateHash)
	assert.Equal(t, "withdrawal", s.Type)
	assert.Equal(t, "2025-05-01T12:00:00Z", s.Date)
	assert.Equal(t, "768", s.Amount)
	assert.Equal(t, "JPY", s.CurrencyCode)
	assert.Equal(t, "Dining", s.CategoryName)
	assert.Equal(t, "1", s.SourceID)
	assert.Empty(t, s.SourceName)
	assert.Equal(t, "Sukiya", s.DestinationName)
	assert.Equal(t, []string{"food"}, s.Tags)
	assert.Equal(t, api.DefaultNotes, s.Notes)
}

func TestCreateTransaction_BillID(t *testing.T) {
	var bodies []map[string]any
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		bodies = append(bodies, body)
		fmt.Fprint(w, `{"data":{"id":"78","attributes":{"transactions":[]}}}`)
	}))

	e := &api.FinalizedExpense{ID: "exp-2", Amount: decimal.NewFromInt(8200), Payee: "TEPCO", BillID: "7"}
	_, err := c.CreateTransaction(context.Background(), FromExpense(e))
	require.NoError(t, err)
	e.BillID = ""
	_, err = c.CreateTransaction(context.Background(), FromExpense(e))
	require.NoError(t, err)

	require.Len(t, bodies, 2)
	split := bodies[0]["transactions"].([]any)[0].(map[string]any)
	assert.Equal(t, "7", split["bill_id"])
	split = bodies[1]["transactions"].([]any)[0].(map[string]any)
	assert.NotContains(t, split, "bill_id")
}

func TestCreateTransaction_ValidationError(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"message":"The given data was invalid.","errors":{"transactions.0.source_id":["Invalid account."]}}`)
	}))

	_, err := c.CreateTransaction(context.Background(), NewTransaction{Transactions: []NewSplit{{Type: "withdrawal"}}})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.False(t, apiErr.Temporary())
	assert.Equal(t, []string{"Invalid account."}, apiErr.Errors["transactions.0.source_id"])
	assert.Contains(t, err.Error(), "transactions.0.source_id: Invalid account.")
	assert.Equal(t, int32(1), calls.Load())
}

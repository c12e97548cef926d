package llm

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkotama/firefly-telegram-assistant/pkg/api"
)

func TestCleanJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"prose around", "Sure! {\"a\":1} Hope that helps.", `{"a":1}`},
		{"null", "null", "null"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanJSON(tt.in))
		})
	}
}

func TestParseRefinement(t *testing.T) {
	r, err := ParseRefinement("```json\n{\"category\": \" Dining \", \"payee\": \"Sukiya\", \"description\": \"Beef bowl\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, &Refinement{Category: "Dining", Payee: "Sukiya", Description: "Beef bowl"}, r)

	r, err = ParseRefinement("null")
	require.NoError(t, err)
	assert.Nil(t, r)

	_, err = ParseRefinement("{not json}")
	assert.Error(t, err)
}

func TestParseRefinement_BillID(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"string", `{"category":"Utilities","payee":"TEPCO","bill_id":"7"}`, "7"},
		{"number", `{"category":"Utilities","payee":"TEPCO","bill_id":7}`, "7"},
		{"unknown", `{"category":"Utilities","payee":"TEPCO","bill_id":"unknown"}`, ""},
		{"null", `{"category":"Utilities","payee":"TEPCO","bill_id":null}`, ""},
		{"missing", `{"category":"Utilities","payee":"TEPCO"}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := ParseRefinement(tt.raw)
			require.NoError(t, err)
			require.NotNil(t, r)
			assert.Equal(t, tt.want, r.BillID)
		})
	}
}

func TestUserPrompt(t *testing.T) {
	p := UserPrompt(Request{
		Text:        "768 yen at Sukiya",
		UserContext: "for dinner",
		Candidates: []api.SuggestionCandidate{{
			Record: api.TransactionRecord{Description: "Beef bowl", Category: "Dining", Payee: "Sukiya", Amount: decimal.NewFromInt(700), Currency: "JPY"},
			Score:  0.7,
		}},
		Categories: []string{"Dining", "Groceries"},
		Payees:     []string{"Sukiya"},
		Reference:  "## KNOWN ACCOUNTS:\n- Wallet (ID: 1)",
		Today:      time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
	})

	assert.Contains(t, p, "Today: 2025-05-01")
	assert.Contains(t, p, "768 yen at Sukiya")
	assert.Contains(t, p, "for dinner")
	assert.Contains(t, p, `score=0.70 description="Beef bowl" category="Dining" payee="Sukiya" amount=700 JPY`)
	assert.Contains(t, p, "Allowed categories: Dining, Groceries")
	assert.Contains(t, p, "KNOWN ACCOUNTS")
}

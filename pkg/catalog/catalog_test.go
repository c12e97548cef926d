package catalog

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/dkotama/firefly-telegram-assistant/pkg/api"
)

func testCatalog() *Catalog {
	c := New()
	c.SetReference(&api.ReferenceData{
		Accounts: []api.Account{
			{ID: "1", Name: "Wallet Cash", Type: "asset"},
			{ID: "2", Name: "Sukiya", Type: "expense"},
			{ID: "3", Name: "Employer", Type: "revenue"},
		},
		Categories: []api.Category{{ID: "10", Name: "Dining"}, {ID: "11", Name: "Groceries"}},
		Bills:      []api.Bill{{ID: "5", Name: "Electricity", AmountMin: decimal.NewFromInt(40), AmountMax: decimal.NewFromInt(80)}},
	})
	c.Observe(&api.TransactionRecord{Category: "Rent", Payee: "Landlord", Tags: []string{"home"}})
	return c
}

func TestCatalog_Canonical(t *testing.T) {
	c := testCatalog()

	tests := []struct {
		name   string
		lookup func(string) (string, bool)
		in     string
		want   string
		ok     bool
	}{
		{"category exact", c.Category, "Dining", "Dining", true},
		{"category folded", c.Category, "  dINING ", "Dining", true},
		{"category from record", c.Category, "rent", "Rent", true},
		{"unknown category", c.Category, "Foobar", "", false},
		{"payee from expense account", c.Payee, "sukiya", "Sukiya", true},
		{"payee from revenue account", c.Payee, "EMPLOYER", "Employer", true},
		{"asset account is not a payee", c.Payee, "Wallet Cash", "", false},
		{"tag", c.Tag, "HOME", "home", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.lookup(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCatalog_Account(t *testing.T) {
	c := testCatalog()

	a, ok := c.Account("1")
	assert.True(t, ok)
	assert.Equal(t, "Wallet Cash", a.Name)

	a, ok = c.Account("wallet   cash")
	assert.True(t, ok)
	assert.Equal(t, "1", a.ID)

	_, ok = c.Account("2")
	assert.False(t, ok)
}

func TestCatalog_Bill(t *testing.T) {
	c := testCatalog()

	b, ok := c.Bill("5")
	assert.True(t, ok)
	assert.Equal(t, "Electricity", b.Name)

	b, ok = c.Bill("ELECTRICITY")
	assert.True(t, ok)
	assert.Equal(t, "5", b.ID)

	_, ok = c.Bill("6")
	assert.False(t, ok)
}

func TestCatalog_FirstSpellingWins(t *testing.T) {
	c := New()
	c.Observe(&api.TransactionRecord{Category: "Dining"}, &api.TransactionRecord{Category: "DINING"})
	assert.Equal(t, []string{"Dining"}, c.Categories())
}

func TestCatalog_Stats(t *testing.T) {
	assert.Equal(t, Stats{Accounts: 1, Categories: 3, Payees: 3, Tags: 1, Bills: 1}, testCatalog().Stats())
}

func TestCatalog_PromptContext(t *testing.T) {
	p := testCatalog().PromptContext()

	assert.Contains(t, p, "## KNOWN ACCOUNTS:\n- Wallet Cash (ID: 1)")
	assert.Contains(t, p, "- Dining\n- Groceries\n- Rent")
	assert.Contains(t, p, "## KNOWN TAGS:\n- home")
	assert.Contains(t, p, "- Electricity (ID: 5, amount 40-80)")
}

// Package catalog holds the known vocabulary of the finance platform:
// asset accounts, categories, payees, tags and bills.
//
// Lookups are case-insensitive and return the canonical spelling, so user
// input and model output can be validated against a closed vocabulary.
package catalog

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"golang.org/x/text/cases"

	"github.com/dkotama/firefly-telegram-assistant/pkg/api"
)

// Account types that count as the user's own money.
const accountTypeAsset = "asset"

// Stats summarises catalog sizes.
type Stats struct {
	Accounts   int `json:"accounts"`
	Categories int `json:"categories"`
	Payees     int `json:"payees"`
	Tags       int `json:"tags"`
	Bills      int `json:"bills"`
}

// Catalog is safe for concurrent use.
type Catalog struct {
	mu         sync.RWMutex
	accounts   map[string]api.Account
	categories map[string]string
	payees     map[string]string
	tags       map[string]string
	bills      map[string]api.Bill
}

// New returns an empty catalog.
func New() *Catalog {
	return &Catalog{
		accounts:   make(map[string]api.Account),
		categories: make(map[string]string),
		payees:     make(map[string]string),
		tags:       make(map[string]string),
		bills:      make(map[string]api.Bill),
	}
}

// Key folds s for case-insensitive comparison and collapses whitespace.
func Key(s string) string {
	return cases.Fold().String(strings.Join(strings.Fields(s), " "))
}

func add(m map[string]string, name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	k := Key(name)
	if _, ok := m[k]; !ok {
		m[k] = name
	}
}

// SetReference replaces accounts and bills and merges categories. Expense and
// revenue accounts become payees.
func (c *Catalog) SetReference(ref *api.ReferenceData) {
	if ref == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.accounts = make(map[string]api.Account, len(ref.Accounts))
	for _, a := range ref.Accounts {
		if a.Type == accountTypeAsset {
			c.accounts[a.ID] = a
			continue
		}
		add(c.payees, a.Name)
	}
	for _, cat := range ref.Categories {
		add(c.categories, cat.Name)
	}
	c.bills = make(map[string]api.Bill, len(ref.Bills))
	for _, b := range ref.Bills {
		c.bills[b.ID] = b
	}
}

// Observe adds the category, payee and tags of synced records.
func (c *Catalog) Observe(recs ...*api.TransactionRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, r := range recs {
		if r == nil {
			continue
		}
		add(c.categories, r.Category)
		add(c.payees, r.Payee)
		for _, t := range r.Tags {
			add(c.tags, t)
		}
	}
}

func lookup(mu *sync.RWMutex, m map[string]string, s string) (string, bool) {
	mu.RLock()
	defer mu.RUnlock()
	name, ok := m[Key(s)]
	return name, ok
}

// Category returns the canonical spelling of a known category.
func (c *Catalog) Category(s string) (string, bool) { return lookup(&c.mu, c.categories, s) }

// Payee returns the canonical spelling of a known payee.
func (c *Catalog) Payee(s string) (string, bool) { return lookup(&c.mu, c.payees, s) }

// Tag returns the canonical spelling of a known tag.
func (c *Catalog) Tag(s string) (string, bool) { return lookup(&c.mu, c.tags, s) }

func sortedValues(mu *sync.RWMutex, m map[string]string) []string {
	mu.RLock()
	out := make([]string, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	mu.RUnlock()
	slices.SortFunc(out, func(a, b string) int { return strings.Compare(Key(a), Key(b)) })
	return out
}

// Categories returns all known categories, sorted.
func (c *Catalog) Categories() []string { return sortedValues(&c.mu, c.categories) }

// Payees returns all known payees, sorted.
func (c *Catalog) Payees() []string { return sortedValues(&c.mu, c.payees) }

// Tags returns all known tags, sorted.
func (c *Catalog) Tags() []string { return sortedValues(&c.mu, c.tags) }

// Accounts returns the asset accounts sorted by name.
func (c *Catalog) Accounts() []api.Account {
	c.mu.RLock()
	out := make([]api.Account, 0, len(c.accounts))
	for _, a := range c.accounts {
		out = append(out, a)
	}
	c.mu.RUnlock()
	slices.SortFunc(out, func(a, b api.Account) int { return strings.Compare(Key(a.Name), Key(b.Name)) })
	return out
}

// Account finds an asset account by id or case-insensitive name.
func (c *Catalog) Account(idOrName string) (api.Account, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if a, ok := c.accounts[idOrName]; ok {
		return a, true
	}
	k := Key(idOrName)
	for _, a := range c.accounts {
		if Key(a.Name) == k {
			return a, true
		}
	}
	return api.Account{}, false
}

// Bills returns the known bills sorted by name.
func (c *Catalog) Bills() []api.Bill {
	c.mu.RLock()
	out := make([]api.Bill, 0, len(c.bills))
	for _, b := range c.bills {
		out = append(out, b)
	}
	c.mu.RUnlock()
	slices.SortFunc(out, func(a, b api.Bill) int { return strings.Compare(Key(a.Name), Key(b.Name)) })
	return out
}

// Bill finds a bill by id or case-insensitive name.
func (c *Catalog) Bill(idOrName string) (api.Bill, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if b, ok := c.bills[idOrName]; ok {
		return b, true
	}
	k := Key(idOrName)
	for _, b := range c.bills {
		if Key(b.Name) == k {
			return b, true
		}
	}
	return api.Bill{}, false
}

// Stats returns the catalog sizes.
func (c *Catalog) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Accounts:   len(c.accounts),
		Categories: len(c.categories),
		Payees:     len(c.payees),
		Tags:       len(c.tags),
		Bills:      len(c.bills),
	}
}

// PromptContext renders the known accounts, categories, tags and bills as a
// text block for the language model.
func (c *Catalog) PromptContext() string {
	var sb strings.Builder

	sb.WriteString("## KNOWN ACCOUNTS:\n")
	for _, a := range c.Accounts() {
		fmt.Fprintf(&sb, "- %s (ID: %s)\n", a.Name, a.ID)
	}
	sb.WriteString("\n## KNOWN CATEGORIES:\n")
	for _, name := range c.Categories() {
		fmt.Fprintf(&sb, "- %s\n", name)
	}
	sb.WriteString("\n## KNOWN TAGS:\n")
	for _, name := range c.Tags() {
		fmt.Fprintf(&sb, "- %s\n", name)
	}
	sb.WriteString("\n## KNOWN BILLS:\n")
	for _, b := range c.Bills() {
		fmt.Fprintf(&sb, "- %s (ID: %s, amount %s-%s)\n", b.Name, b.ID, b.AmountMin.String(), b.AmountMax.String())
	}
	return strings.TrimRight(sb.String(), "\n")
}

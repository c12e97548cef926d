package firefly

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dkotama/firefly-telegram-assistant/pkg/api"
)

type resource[T any] struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Attributes T      `json:"attributes"`
}

type listResponse[T any] struct {
	Data []resource[T] `json:"data"`
	Meta struct {
		Pagination struct {
			Total       int `json:"total"`
			CurrentPage int `json:"current_page"`
			TotalPages  int `json:"total_pages"`
		} `json:"pagination"`
	} `json:"meta"`
}

type singleResponse[T any] struct {
	Data resource[T] `json:"data"`
}

type accountAttributes struct {
	Name         string    `json:"name"`
	Type         string    `json:"type"`
	CurrencyCode string    `json:"currency_code"`
	Active       *bool     `json:"active"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type categoryAttributes struct {
	Name      string    `json:"name"`
	UpdatedAt time.Time `json:"updated_at"`
}

type billAttributes struct {
	Name      string          `json:"name"`
	AmountMin decimal.Decimal `json:"amount_min"`
	AmountMax decimal.Decimal `json:"amount_max"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Group is a Firefly transaction group: one or more splits booked together.
type Group struct {
	ID           string    `json:"-"`
	GroupTitle   string    `json:"group_title"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Transactions []Split   `json:"transactions"`
}

// Split is one journal of a transaction group.
type Split struct {
	JournalID       string          `json:"transaction_journal_id"`
	Type            string          `json:"type"`
	Date            time.Time       `json:"date"`
	Amount          decimal.Decimal `json:"amount"`
	CurrencyCode    string          `json:"currency_code"`
	Description     string          `json:"description"`
	SourceID        string          `json:"source_id"`
	SourceName      string          `json:"source_name"`
	DestinationID   string          `json:"destination_id"`
	DestinationName string          `json:"destination_name"`
	CategoryName    string          `json:"category_name"`
	Tags            []string        `json:"tags"`
}

// Records flattens the group into one record per split.
//
// The payee is the counterparty: the destination of a withdrawal or
// transfer, the source of a deposit. Account is the other side.
func (g *Group) Records() []*api.TransactionRecord {
	out := make([]*api.TransactionRecord, 0, len(g.Transactions))
	for _, s := range g.Transactions {
		if s.JournalID == "" {
			continue
		}
		rec := &api.TransactionRecord{
			SourceID:    s.JournalID,
			Type:        strings.ToLower(s.Type),
			Amount:      s.Amount.Abs(),
			Currency:    s.CurrencyCode,
			Description: s.Description,
			Category:    s.CategoryName,
			Tags:        s.Tags,
			Timestamp:   s.Date.UTC(),
			UpdatedAt:   g.UpdatedAt.UTC(),
		}
		if rec.Type == api.TypeDeposit {
			rec.Payee = s.SourceName
			rec.Account, rec.AccountID = s.DestinationName, s.DestinationID
		} else {
			rec.Payee = s.DestinationName
			rec.Account, rec.AccountID = s.SourceName, s.SourceID
		}
		if rec.Description == "" {
			rec.Description = g.GroupTitle
		}
		out = append(out, rec)
	}
	return out
}

// NewSplit is one split of a transaction to create.
type NewSplit struct {
	Type            string   `json:"type"`
	Date            string   `json:"date"`
	Amount          string   `json:"amount"`
	Description     string   `json:"description"`
	CurrencyCode    string   `json:"currency_code,omitempty"`
	CategoryName    string   `json:"category_name,omitempty"`
	SourceID        string   `json:"source_id,omitempty"`
	SourceName      string   `json:"source_name,omitempty"`
	DestinationName string   `json:"destination_name,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	BillID          string   `json:"bill_id,omitempty"`
	Notes           string   `json:"notes,omitempty"`
	ExternalID      string   `json:"external_id,omitempty"`
}

// NewTransaction is the body of POST /transactions.
type NewTransaction struct {
	ErrorIfDuplicateHash bool       `json:"error_if_duplicate_hash"`
	ApplyRules           bool       `json:"apply_rules"`
	GroupTitle           string     `json:"group_title,omitempty"`
	Transactions         []NewSplit `json:"transactions"`
}

// FromExpense builds the create request for a finalized expense.
func FromExpense(e *api.FinalizedExpense) NewTransaction {
	split := NewSplit{
		Type:            e.Type,
		Date:            e.Date.Format(time.RFC3339),
		Amount:          e.Amount.String(),
		Description:     e.Description,
		CurrencyCode:    e.Currency,
		CategoryName:    e.Category,
		SourceID:        e.SourceAccountID,
		DestinationName: e.Payee,
		Tags:            e.Tags,
		BillID:          e.BillID,
		Notes:           e.Notes,
		ExternalID:      e.ID,
	}
	if split.Type == "" {
		split.Type = api.TypeWithdrawal
	}
	if split.SourceID == "" {
		split.SourceName = e.SourceAccount
	}
	return NewTransaction{
		ErrorIfDuplicateHash: true,
		ApplyRules:           true,
		Transactions:         []NewSplit{split},
	}
}

// About describes the Firefly instance.
type About struct {
	Version    string `json:"version"`
	APIVersion string `json:"api_version"`
	OS         string `json:"os"`
}

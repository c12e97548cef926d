// Package api defines the core interfaces and data structures for the assistant.
package api

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dkotama/firefly-telegram-assistant/pkg/vector"
)

// Transaction types as used by Firefly III.
const (
	TypeWithdrawal = "withdrawal"
	TypeDeposit    = "deposit"
	TypeTransfer   = "transfer"
)

// DefaultNotes is attached to every expense the assistant creates.
const DefaultNotes = "Created by Firefly Assistant"

// TransactionRecord is a historical transaction mirrored from the finance platform.
// Records are keyed by SourceID; a re-sync with the same SourceID replaces the record.
type TransactionRecord struct {
	// SourceID is the unique id assigned by the finance platform (journal id for Firefly).
	SourceID    string          `json:"source_id"`
	Type        string          `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	// Payee is the counterparty: the expense account of a withdrawal, the revenue account of a deposit.
	Payee string `json:"payee"`
	// Account is the user's own asset account the money moved from or to.
	Account   string    `json:"account"`
	AccountID string    `json:"account_id"`
	Tags      []string  `json:"tags,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	UpdatedAt time.Time `json:"updated_at"`

	// Embedding is computed at ingest time from the record's text.
	Embedding vector.Vector `json:"-"`
}

// SuggestionCandidate pairs a record with its similarity to a query vector.
// Score is cosine similarity clipped to [0,1].
type SuggestionCandidate struct {
	Record TransactionRecord `json:"record"`
	Score  float64           `json:"score"`
}

// SuggestionSource records which composer path produced a suggestion.
type SuggestionSource string

// Composer paths.
const (
	SourceFastPath SuggestionSource = "fast_path"
	SourceRefined  SuggestionSource = "refined"
	SourceFallback SuggestionSource = "fallback"
	SourceManual   SuggestionSource = "manual"
)

// Alternative is a runner-up category/payee pair the user may pick instead.
// Account is the asset account of the past transaction it came from.
type Alternative struct {
	Category  string  `json:"category"`
	Payee     string  `json:"payee"`
	Account   string  `json:"account,omitempty"`
	AccountID string  `json:"account_id,omitempty"`
	Score     float64 `json:"score"`
}

// ExpenseSuggestion is a proposed expense entry awaiting user confirmation.
type ExpenseSuggestion struct {
	Category    string              `json:"category"`
	Payee       string              `json:"payee"`
	Amount      decimal.NullDecimal `json:"amount"`
	Currency    string              `json:"currency"`
	Description string              `json:"description"`
	Tags        []string            `json:"tags,omitempty"`
	Account     string              `json:"account,omitempty"`
	AccountID   string              `json:"account_id,omitempty"`
	// BillID and BillName are set when the expense pays a known bill.
	BillID   string    `json:"bill_id,omitempty"`
	BillName string    `json:"bill_name,omitempty"`
	Date     time.Time `json:"date"`
	// Confidence is the similarity score backing the suggestion, or 0 when no confident match exists.
	Confidence   float64          `json:"confidence"`
	Source       SuggestionSource `json:"source"`
	Alternatives []Alternative    `json:"alternatives,omitempty"`
}

// NeedsManualEntry reports whether the user must supply category and payee themselves.
func (s *ExpenseSuggestion) NeedsManualEntry() bool {
	return s.Confidence == 0
}

// FinalizedExpense is an accepted suggestion, ready to be written to a ledger.
type FinalizedExpense struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	Type            string          `json:"type"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Description     string          `json:"description"`
	Category        string          `json:"category"`
	Payee           string          `json:"payee"`
	SourceAccount   string          `json:"source_account,omitempty"`
	SourceAccountID string          `json:"source_account_id,omitempty"`
	Tags            []string        `json:"tags,omitempty"`
	BillID          string          `json:"bill_id,omitempty"`
	Date            time.Time       `json:"date"`
	Confidence      float64         `json:"confidence"`
	Notes           string          `json:"notes"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Account is a Firefly account.
type Account struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Currency string `json:"currency,omitempty"`
}

// Category is a Firefly category.
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Bill is a Firefly bill (recurring expense).
type Bill struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	AmountMin decimal.Decimal `json:"amount_min"`
	AmountMax decimal.Decimal `json:"amount_max"`
}

// ReferenceData is the non-transaction data pulled during a sync.
type ReferenceData struct {
	Accounts   []Account
	Categories []Category
	Bills      []Bill
}

// Reader reads transaction records from a source and sends them to the provided channel.
// Implementations should close the channel when done or on error.
// The ackChan receives the source ids of records that were stored successfully.
type Reader interface {
	Read(ctx context.Context, out chan<- *TransactionRecord, ackChan <-chan string) error
}

// ReferenceSource is implemented by readers that can also list accounts, categories and bills.
type ReferenceSource interface {
	Reference(ctx context.Context) (*ReferenceData, error)
}

// Syncer is implemented by readers that can run a sync cycle on demand.
type Syncer interface {
	SyncNow()
}

// Writer consumes finalized expenses from a channel and writes them to a destination.
// Successfully written expense IDs are sent to the ackChan.
type Writer interface {
	Write(ctx context.Context, in <-chan *FinalizedExpense, ackChan chan<- string) error
}

// Button is an inline reply option. Data is sent back as the user's message text.
type Button struct {
	Label string `json:"label"`
	Data  string `json:"data"`
}

// OutboundMessage is a message rendered for the conversational transport.
type OutboundMessage struct {
	Text    string     `json:"text"`
	Buttons [][]Button `json:"buttons,omitempty"`
}

// Notifier delivers messages the user did not directly ask for (timeouts, write confirmations).
type Notifier interface {
	Notify(ctx context.Context, userID string, msgs []OutboundMessage) error
}

// Package firefly implements a Writer that stores finalized expenses in Firefly III.
package firefly

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dkotama/firefly-telegram-assistant/pkg/api"
	ff "github.com/dkotama/firefly-telegram-assistant/pkg/firefly"
	"github.com/dkotama/firefly-telegram-assistant/pkg/writer/buffered"
)

// Creator is the part of the Firefly client the writer needs.
type Creator interface {
	CreateTransaction(ctx context.Context, tx ff.NewTransaction) (string, error)
}

// Config holds configuration for the Firefly writer.
type Config struct {
	// DefaultAccountID is the source account for expenses that name none.
	DefaultAccountID string
	// FlushInterval bounds how long an expense may wait in the buffer.
	FlushInterval time.Duration
}

// Writer posts each expense as its own transaction.
type Writer struct {
	client           Creator
	defaultAccountID string
	buffered         *buffered.Writer[*api.FinalizedExpense]
	logger           *slog.Logger
}

// New creates a new Firefly writer.
func New(client Creator, cfg Config, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	w := &Writer{
		client:           client,
		defaultAccountID: cfg.DefaultAccountID,
		logger:           logger,
	}
	// One expense per batch so a rejected expense never blocks another's ack.
	w.buffered = buffered.New(w.flushBatch,
		func(e *api.FinalizedExpense) string { return e.ID },
		buffered.Config{BatchSize: 1, FlushInterval: cfg.FlushInterval},
		logger.With("component", "firefly_buffer"),
	)
	return w
}

// Write consumes expenses and posts them to Firefly.
func (w *Writer) Write(ctx context.Context, in <-chan *api.FinalizedExpense, ackChan chan<- string) error {
	w.logger.Info("firefly writer started")
	return w.buffered.Write(ctx, in, ackChan)
}

func (w *Writer) flushBatch(ctx context.Context, expenses []*api.FinalizedExpense) error {
	for _, e := range expenses {
		tx := ff.FromExpense(e)
		if tx.Transactions[0].SourceID == "" && tx.Transactions[0].SourceName == "" {
			tx.Transactions[0].SourceID = w.defaultAccountID
		}
		id, err := w.client.CreateTransaction(ctx, tx)
		if err != nil {
			return fmt.Errorf("posting expense %s: %w", e.ID, err)
		}
		w.logger.Info("expense stored in firefly",
			"expense_id", e.ID,
			"transaction_id", id,
			"payee", e.Payee,
			"amount", e.Amount.String(),
		)
	}
	return nil
}

package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dkotama/firefly-telegram-assistant/pkg/api"
)

// Outbox hands finalized expenses to the writer pipeline and tells the
// owning user once the writer acknowledges them.
type Outbox struct {
	out      chan *api.FinalizedExpense
	notifier api.Notifier
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]*api.FinalizedExpense
}

// NewOutbox returns an outbox buffering up to size expenses. notifier may be nil.
func NewOutbox(size int, notifier api.Notifier, logger *slog.Logger) *Outbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &Outbox{
		out:      make(chan *api.FinalizedExpense, size),
		notifier: notifier,
		logger:   logger,
		pending:  make(map[string]*api.FinalizedExpense),
	}
}

// SetNotifier replaces the notifier. The transport is usually built after the handler.
func (o *Outbox) SetNotifier(n api.Notifier) {
	o.mu.Lock()
	o.notifier = n
	o.mu.Unlock()
}

// Emit queues e for writing. It blocks until there is room or ctx is done.
func (o *Outbox) Emit(ctx context.Context, e *api.FinalizedExpense) error {
	o.mu.Lock()
	o.pending[e.ID] = e
	o.mu.Unlock()

	select {
	case o.out <- e:
		return nil
	case <-ctx.Done():
		o.mu.Lock()
		delete(o.pending, e.ID)
		o.mu.Unlock()
		return ctx.Err()
	}
}

// Expenses is the channel writers consume.
func (o *Outbox) Expenses() <-chan *api.FinalizedExpense {
	return o.out
}

// Pending returns the number of emitted expenses not yet acknowledged.
func (o *Outbox) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

// Acknowledge marks expense id as written and notifies its owner.
// Unknown ids are ignored.
func (o *Outbox) Acknowledge(ctx context.Context, id string) {
	o.mu.Lock()
	e, ok := o.pending[id]
	delete(o.pending, id)
	n := o.notifier
	o.mu.Unlock()

	if !ok {
		o.logger.Debug("ack for unknown expense", "id", id)
		return
	}
	o.logger.Info("expense written", "id", id, "user", e.UserID)
	if n == nil {
		return
	}
	msg := reply(fmt.Sprintf("✅ Saved: %s %s at %s.", e.Amount.String(), e.Currency, e.Payee))
	if err := n.Notify(ctx, e.UserID, []api.OutboundMessage{msg}); err != nil {
		o.logger.Warn("failed to notify user", "user", e.UserID, "error", err)
	}
}

// ConsumeAcks acknowledges every id received on acks until it closes or ctx is done.
func (o *Outbox) ConsumeAcks(ctx context.Context, acks <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case id, ok := <-acks:
			if !ok {
				return
			}
			o.Acknowledge(ctx, id)
		}
	}
}

// Close closes the expense channel. Emit must not be called afterwards.
func (o *Outbox) Close() {
	close(o.out)
}

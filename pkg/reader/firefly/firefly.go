// Package firefly implements a Reader that mirrors Firefly III transactions.
package firefly

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dkotama/firefly-telegram-assistant/pkg/api"
	ff "github.com/dkotama/firefly-telegram-assistant/pkg/firefly"
)

// DefaultInterval is the time between sync cycles.
const DefaultInterval = 15 * time.Minute

// Source is the part of the Firefly client the reader needs.
type Source interface {
	Reference(ctx context.Context) (*api.ReferenceData, error)
	Transactions(ctx context.Context, since time.Time, fn func(*ff.Group) error) error
}

// Config holds configuration for the Firefly reader.
type Config struct {
	// Interval between sync cycles. Defaults to DefaultInterval.
	Interval time.Duration
	// Since is the initial watermark. Zero syncs the full history.
	Since time.Time
	// Once runs a single cycle and returns.
	Once bool
}

// Stats describes the reader's progress.
type Stats struct {
	Watermark time.Time `json:"watermark"`
	LastRun   time.Time `json:"last_run"`
	LastError string    `json:"last_error,omitempty"`
	// Emitted counts records sent since start.
	Emitted int `json:"emitted"`
	// Pending counts records of the current cycle not yet acknowledged.
	Pending int `json:"pending"`
}

type cycle struct {
	pending map[string]bool
	max     time.Time
	sealed  bool
}

// Reader syncs transactions updated since its watermark. The watermark
// only advances once every record of a cycle has been acknowledged, so a
// failed write is retried on the next cycle.
type Reader struct {
	src      Source
	interval time.Duration
	once     bool
	trigger  chan struct{}
	logger   *slog.Logger

	mu      sync.Mutex
	stats   Stats
	current *cycle
}

// New creates a new Firefly reader.
func New(src Source, cfg Config, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Reader{
		src:      src,
		interval: interval,
		once:     cfg.Once,
		trigger:  make(chan struct{}, 1),
		logger:   logger,
		stats:    Stats{Watermark: cfg.Since},
	}
}

// Reference fetches accounts, categories and bills.
func (r *Reader) Reference(ctx context.Context) (*api.ReferenceData, error) {
	return r.src.Reference(ctx)
}

// SyncNow requests a cycle without waiting for the interval. Requests made
// while one is already queued are merged.
func (r *Reader) SyncNow() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Stats returns a snapshot of the sync progress.
func (r *Reader) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stats
	if r.current != nil {
		s.Pending = len(r.current.pending)
	}
	return s
}

// Read runs sync cycles and sends records to out until ctx is canceled.
// Source ids received on ackChan count as stored.
func (r *Reader) Read(ctx context.Context, out chan<- *api.TransactionRecord, ackChan <-chan string) error {
	defer close(out)

	go r.handleAcknowledgments(ctx, ackChan)

	if err := r.sync(ctx, out); err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	if r.once {
		return nil
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("firefly reader stopping", "reason", ctx.Err())
			return ctx.Err()
		case <-ticker.C:
		case <-r.trigger:
			r.logger.Info("sync requested")
		}
		if err := r.sync(ctx, out); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (r *Reader) handleAcknowledgments(ctx context.Context, ackChan <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case id, ok := <-ackChan:
			if !ok {
				r.logger.Info("acknowledgment channel closed")
				return
			}
			r.ack(id)
		}
	}
}

func (r *Reader) ack(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.current
	if c == nil || !c.pending[id] {
		return
	}
	delete(c.pending, id)
	r.maybeAdvance()
}

// maybeAdvance moves the watermark once the sealed cycle is fully acknowledged.
// Callers hold r.mu.
func (r *Reader) maybeAdvance() {
	c := r.current
	if c == nil || !c.sealed || len(c.pending) > 0 {
		return
	}
	if c.max.After(r.stats.Watermark) {
		r.stats.Watermark = c.max
		r.logger.Info("sync watermark advanced", "watermark", c.max)
	}
	r.current = nil
}

func (r *Reader) sync(ctx context.Context, out chan<- *api.TransactionRecord) error {
	r.mu.Lock()
	since := r.stats.Watermark
	c := &cycle{pending: make(map[string]bool)}
	r.current = c
	r.mu.Unlock()

	r.logger.Info("starting firefly sync", "since", since)
	start := time.Now()
	sent := 0

	err := r.src.Transactions(ctx, since, func(g *ff.Group) error {
		for _, rec := range g.Records() {
			r.mu.Lock()
			c.pending[rec.SourceID] = true
			if rec.UpdatedAt.After(c.max) {
				c.max = rec.UpdatedAt
			}
			r.mu.Unlock()

			select {
			case out <- rec:
				sent++
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.LastRun = start
	r.stats.Emitted += sent
	if err != nil {
		r.stats.LastError = err.Error()
		r.logger.Error("firefly sync failed", "error", err, "sent", sent)
		// Records already sent are still stored, but the watermark stays put.
		r.current = nil
		return err
	}
	r.stats.LastError = ""
	c.sealed = true
	r.maybeAdvance()

	r.logger.Info("firefly sync complete", "records", sent, "duration", time.Since(start))
	return nil
}

// Package ingest embeds synced transaction records and stores them for
// similarity search.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dkotama/firefly-telegram-assistant/pkg/api"
	"github.com/dkotama/firefly-telegram-assistant/pkg/embedding"
	"github.com/dkotama/firefly-telegram-assistant/pkg/store"
	"github.com/dkotama/firefly-telegram-assistant/pkg/writer/buffered"
)

// Observer learns vocabulary from stored records.
type Observer interface {
	Observe(recs ...*api.TransactionRecord)
}

// Config holds configuration for the ingest writer.
type Config struct {
	// BatchSize is the number of records embedded and stored together.
	BatchSize int
	// FlushInterval is the interval between automatic flushes.
	FlushInterval time.Duration
}

// Stats describes what the writer has stored.
type Stats struct {
	Stored    int       `json:"stored"`
	Batches   int       `json:"batches"`
	Failed    int       `json:"failed"`
	LastFlush time.Time `json:"last_flush"`
}

// Writer consumes records, embeds them and upserts them into a store.
// Source ids are acknowledged only after the store accepted them.
type Writer struct {
	store    store.Store
	embedder embedding.Provider
	observer Observer
	logger   *slog.Logger
	buffered *buffered.Writer[*api.TransactionRecord]

	mu    sync.Mutex
	stats Stats
}

// New creates an ingest writer. observer may be nil.
func New(s store.Store, embedder embedding.Provider, observer Observer, cfg Config, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	w := &Writer{
		store:    s,
		embedder: embedder,
		observer: observer,
		logger:   logger,
	}
	w.buffered = buffered.New(w.flushBatch, sourceID,
		buffered.Config{BatchSize: cfg.BatchSize, FlushInterval: cfg.FlushInterval},
		logger.With("component", "ingest_buffer"),
	)
	return w
}

// Write consumes records until in is closed or ctx is canceled.
func (w *Writer) Write(ctx context.Context, in <-chan *api.TransactionRecord, ackChan chan<- string) error {
	return w.buffered.Write(ctx, in, ackChan)
}

// Stats returns a snapshot of the ingest counters.
func (w *Writer) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *Writer) flushBatch(ctx context.Context, recs []*api.TransactionRecord) error {
	valid := recs[:0:0]
	for _, r := range recs {
		if r == nil || r.SourceID == "" {
			w.logger.Warn("dropping record without source id")
			continue
		}
		valid = append(valid, r)
	}
	if len(valid) == 0 {
		return nil
	}

	texts := make([]string, len(valid))
	for i, r := range valid {
		texts[i] = embedding.RecordText(r)
	}
	vs, err := embedding.EmbedAll(ctx, w.embedder, texts)
	if err != nil {
		w.fail()
		return fmt.Errorf("embedding %d records: %w", len(valid), err)
	}
	for i, r := range valid {
		r.Embedding = vs[i]
	}

	if err := w.store.UpsertMany(ctx, valid); err != nil {
		w.fail()
		return fmt.Errorf("storing %d records: %w", len(valid), err)
	}

	if w.observer != nil {
		w.observer.Observe(valid...)
	}

	w.mu.Lock()
	w.stats.Stored += len(valid)
	w.stats.Batches++
	w.stats.LastFlush = time.Now()
	w.mu.Unlock()

	w.logger.Info("stored record batch", "count", len(valid))
	return nil
}

func sourceID(r *api.TransactionRecord) string {
	if r == nil {
		return ""
	}
	return r.SourceID
}

func (w *Writer) fail() {
	w.mu.Lock()
	w.stats.Failed++
	w.mu.Unlock()
}

// Package buffered provides a generic batching writer: items are buffered
// and handed to a flusher when the batch fills, on a timer, and on shutdown.
package buffered

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultBatchSize is the default number of items to buffer before flushing.
const DefaultBatchSize = 10

// DefaultFlushInterval is the default interval between automatic flushes.
const DefaultFlushInterval = 30 * time.Second

// shutdownTimeout bounds the final flush after the context is canceled.
const shutdownTimeout = 10 * time.Second

// Flusher writes one batch. A batch is acknowledged only when it returns nil.
type Flusher[T any] func(ctx context.Context, items []T) error

// Config holds configuration for buffered writing.
type Config struct {
	// BatchSize is the number of items to buffer before flushing.
	// Defaults to DefaultBatchSize.
	BatchSize int
	// FlushInterval is the interval between automatic flushes.
	// Defaults to DefaultFlushInterval.
	FlushInterval time.Duration
}

// Writer buffers items and flushes them in batches.
type Writer[T any] struct {
	buffer  []T
	mu      sync.Mutex
	flusher Flusher[T]
	key     func(T) string
	config  Config
	logger  *slog.Logger
}

// New creates a buffered writer. key extracts the id sent on the ack
// channel after a successful flush; it may be nil when nothing is acknowledged.
func New[T any](flusher Flusher[T], key func(T) string, cfg Config, logger *slog.Logger) *Writer[T] {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Writer[T]{
		buffer:  make([]T, 0, cfg.BatchSize),
		flusher: flusher,
		key:     key,
		config:  cfg,
		logger:  logger,
	}
}

// Write consumes items from in until it is closed or ctx is canceled.
// The ids of flushed items are sent on ackChan, which may be nil.
func (w *Writer[T]) Write(ctx context.Context, in <-chan T, ackChan chan<- string) error {
	ticker := time.NewTicker(w.config.FlushInterval)
	defer ticker.Stop()

	w.logger.Info("buffered writer started",
		"batch_size", w.config.BatchSize,
		"flush_interval", w.config.FlushInterval,
	)

	for {
		select {
		case <-ctx.Done():
			return w.handleShutdown(ackChan)
		case <-ticker.C:
			if err := w.flush(ctx, ackChan); err != nil {
				w.logger.Error("failed to flush on interval", "error", err)
			}
		case item, ok := <-in:
			if !ok {
				w.logger.Info("input channel closed, flushing remaining buffer")
				return w.flush(ctx, ackChan)
			}
			if w.add(item) {
				if err := w.flush(ctx, ackChan); err != nil {
					w.logger.Error("failed to flush on batch size", "error", err)
				}
			}
		}
	}
}

func (w *Writer[T]) handleShutdown(ackChan chan<- string) error {
	w.logger.Info("buffered writer stopping, flushing remaining buffer")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := w.flush(ctx, ackChan); err != nil {
		w.logger.Error("failed to flush on shutdown", "error", err)
	}
	return context.Canceled
}

// add buffers item and reports whether the batch is full.
func (w *Writer[T]) add(item T) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buffer = append(w.buffer, item)
	return len(w.buffer) >= w.config.BatchSize
}

// flush writes all buffered items. A failed batch is dropped, not retried;
// its items are never acknowledged, so upstream sources resend them.
func (w *Writer[T]) flush(ctx context.Context, ackChan chan<- string) error {
	w.mu.Lock()
	if len(w.buffer) == 0 {
		w.mu.Unlock()
		return nil
	}
	toFlush := make([]T, len(w.buffer))
	copy(toFlush, w.buffer)
	w.buffer = w.buffer[:0]
	w.mu.Unlock()

	w.logger.Debug("flushing buffer", "count", len(toFlush))

	if err := w.flusher(ctx, toFlush); err != nil {
		return err
	}
	w.logger.Info("flushed items", "count", len(toFlush))

	if ackChan == nil || w.key == nil {
		return nil
	}
	for _, item := range toFlush {
		select {
		case ackChan <- w.key(item):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// BufferLen returns the current number of buffered items.
func (w *Writer[T]) BufferLen() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buffer)
}

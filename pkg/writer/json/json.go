// Package json implements a Writer that keeps finalized expenses in a JSON file.
package json

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dkotama/firefly-telegram-assistant/pkg/api"
	"github.com/dkotama/firefly-telegram-assistant/pkg/writer/buffered"
)

// Writer writes expenses to a JSON array file with buffered batching.
type Writer struct {
	filePath string
	expenses []*api.FinalizedExpense
	mu       sync.Mutex
	buffered *buffered.Writer[*api.FinalizedExpense]
	logger   *slog.Logger
}

// Config holds configuration for the JSON writer.
type Config struct {
	// FilePath is the path to the JSON output file.
	FilePath string
	// BatchSize is the number of expenses to buffer before writing.
	BatchSize int
	// FlushInterval is the interval between automatic flushes.
	FlushInterval time.Duration
}

// New creates a new JSON writer, loading any expenses already in the file.
func New(cfg Config, logger *slog.Logger) (*Writer, error) {
	if logger == nil {
		logger = slog.Default()
	}

	w := &Writer{
		filePath: cfg.FilePath,
		logger:   logger,
	}
	if err := w.loadExisting(); err != nil {
		return nil, fmt.Errorf("loading %s: %w", cfg.FilePath, err)
	}

	w.buffered = buffered.New(w.flushBatch,
		func(e *api.FinalizedExpense) string { return e.ID },
		buffered.Config{BatchSize: cfg.BatchSize, FlushInterval: cfg.FlushInterval},
		logger.With("component", "json_buffer"),
	)

	logger.Info("json writer initialized", "file", cfg.FilePath, "existing_count", len(w.expenses))
	return w, nil
}

func (w *Writer) loadExisting() error {
	data, err := os.ReadFile(w.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, &w.expenses)
}

// Write consumes expenses from the input channel and writes them to JSON.
func (w *Writer) Write(ctx context.Context, in <-chan *api.FinalizedExpense, ackChan chan<- string) error {
	return w.buffered.Write(ctx, in, ackChan)
}

// flushBatch rewrites the whole file; JSON arrays cannot be appended to.
// An expense already present by id is replaced.
func (w *Writer) flushBatch(_ context.Context, expenses []*api.FinalizedExpense) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	index := make(map[string]int, len(w.expenses))
	for i, e := range w.expenses {
		index[e.ID] = i
	}
	for _, e := range expenses {
		if i, ok := index[e.ID]; ok {
			w.expenses[i] = e
			continue
		}
		index[e.ID] = len(w.expenses)
		w.expenses = append(w.expenses, e)
	}

	data, err := json.MarshalIndent(w.expenses, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling json: %w", err)
	}

	tmp := w.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing json file: %w", err)
	}
	if err := os.Rename(tmp, w.filePath); err != nil {
		return fmt.Errorf("replacing json file: %w", err)
	}

	w.logger.Debug("wrote expenses to json",
		"batch_count", len(expenses),
		"total_count", len(w.expenses),
	)
	return nil
}

// Count returns the total number of expenses in the file.
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.expenses)
}

// Package csv implements a Writer that appends finalized expenses to a CSV file.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dkotama/firefly-telegram-assistant/pkg/api"
	"github.com/dkotama/firefly-telegram-assistant/pkg/writer/buffered"
)

var headers = []string{"ID", "Date", "Amount", "Currency", "Description", "Category", "Payee", "Account", "Tags", "Confidence", "User"}

// Writer appends expenses to a CSV file in batches.
type Writer struct {
	path     string
	logger   *slog.Logger
	buffered *buffered.Writer[*api.FinalizedExpense]

	mu         sync.Mutex
	file       *os.File
	out        *csv.Writer
	needHeader bool
}

// Config holds configuration for the CSV writer.
type Config struct {
	FilePath string
	// BatchSize and FlushInterval are passed to the buffered writer.
	BatchSize     int
	FlushInterval time.Duration
}

// New opens cfg.FilePath for appending. A header row is written before the
// first batch when the file is empty.
func New(cfg Config, logger *slog.Logger) (*Writer, error) {
	if logger == nil {
		logger = slog.Default()
	}

	file, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening csv file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		return nil, errors.Join(fmt.Errorf("stat csv file: %w", err), file.Close())
	}

	w := &Writer{
		path:       cfg.FilePath,
		logger:     logger,
		file:       file,
		out:        csv.NewWriter(file),
		needHeader: info.Size() == 0,
	}
	w.buffered = buffered.New(w.flushBatch, expenseID,
		buffered.Config{BatchSize: cfg.BatchSize, FlushInterval: cfg.FlushInterval},
		logger.With("component", "csv_buffer"),
	)

	logger.Info("csv writer initialized", "file", cfg.FilePath, "new_file", w.needHeader)
	return w, nil
}

func expenseID(e *api.FinalizedExpense) string { return e.ID }

// Row renders an expense as a CSV record.
func Row(e *api.FinalizedExpense) []string {
	return []string{
		e.ID,
		e.Date.Format("2006-01-02"),
		e.Amount.StringFixed(2),
		e.Currency,
		e.Description,
		e.Category,
		e.Payee,
		firstNonEmpty(e.SourceAccount, e.SourceAccountID),
		strings.Join(e.Tags, ","),
		strconv.FormatFloat(e.Confidence, 'f', 2, 64),
		e.UserID,
	}
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// Write consumes expenses from the input channel and writes them to CSV.
func (w *Writer) Write(ctx context.Context, in <-chan *api.FinalizedExpense, ackChan chan<- string) error {
	defer w.Close()
	return w.buffered.Write(ctx, in, ackChan)
}

func (w *Writer) flushBatch(_ context.Context, expenses []*api.FinalizedExpense) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.needHeader {
		if err := w.out.Write(headers); err != nil {
			return fmt.Errorf("writing csv header: %w", err)
		}
	}
	for _, e := range expenses {
		if err := w.out.Write(Row(e)); err != nil {
			return fmt.Errorf("writing csv record %s: %w", e.ID, err)
		}
	}
	w.out.Flush()
	if err := w.out.Error(); err != nil {
		return fmt.Errorf("flushing csv: %w", err)
	}
	w.needHeader = false

	w.logger.Debug("wrote expenses to csv", "count", len(expenses))
	return nil
}

// Close flushes pending output and closes the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.out.Flush()
	if err := errors.Join(w.out.Error(), w.file.Close()); err != nil {
		return fmt.Errorf("closing csv file: %w", err)
	}
	w.logger.Info("csv writer closed", "file", w.path)
	return nil
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dkotama/firefly-telegram-assistant/internal/daemon"
	"github.com/dkotama/firefly-telegram-assistant/pkg/config"
)

// runSync pulls every new or updated transaction from the reader into the
// local store once and exits.
func runSync(logger *slog.Logger, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	p, err := newPipeline(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.Close(); err != nil {
			logger.Error("failed to close store", "error", err)
		}
	}()

	runner := p.runner(daemon.Deps{}, logger)

	start := time.Now()
	stats, err := runner.Sync(ctx, cfg)
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	count, err := p.store.Count(ctx)
	if err != nil {
		return fmt.Errorf("counting records: %w", err)
	}
	catStats := p.catalog.Stats()

	fmt.Println("=== Sync Complete ===")
	fmt.Println()
	fmt.Printf("Duration: %s\n", time.Since(start).Round(time.Millisecond))
	if stats != nil {
		fmt.Printf("Records synced: %d\n", stats.Emitted)
		if !stats.Watermark.IsZero() {
			fmt.Printf("Watermark: %s\n", stats.Watermark.Format(time.RFC3339))
		}
	}
	fmt.Printf("Records stored: %d\n", count)
	fmt.Printf("Categories: %d, Payees: %d, Accounts: %d\n", catStats.Categories, catStats.Payees, catStats.Accounts)
	return nil
}

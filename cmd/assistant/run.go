package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dkotama/firefly-telegram-assistant/internal/daemon"
	"github.com/dkotama/firefly-telegram-assistant/internal/httpapi"
	"github.com/dkotama/firefly-telegram-assistant/pkg/assistant"
	"github.com/dkotama/firefly-telegram-assistant/pkg/composer"
	"github.com/dkotama/firefly-telegram-assistant/pkg/config"
	"github.com/dkotama/firefly-telegram-assistant/pkg/ranker"
	"github.com/dkotama/firefly-telegram-assistant/pkg/transport/telegram"
)

const outboxSize = 100

// runAssistant starts the assistant daemon and blocks until SIGINT or SIGTERM.
func runAssistant(logger *slog.Logger, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.ValidateTransport(); err != nil {
		return err
	}

	logger.Info("configuration loaded",
		"reader", cfg.ReaderPlugin,
		"writer", cfg.WriterPlugin,
		"store", cfg.Store.Backend,
		"llm", cfg.LLM.Provider,
		"telegram", cfg.TelegramToken != "",
		"http", cfg.HTTP.Enabled(),
	)

	// Setup context with cancellation on SIGINT/SIGTERM
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

	refiner, err := newRefiner(ctx, cfg)
	if err != nil {
		return fmt.Errorf("creating language model: %w", err)
	}

	sessions, closeSessions, err := newSessions(ctx, cfg)
	if err != nil {
		return fmt.Errorf("creating session store: %w", err)
	}
	defer func() {
		if err := closeSessions(); err != nil {
			logger.Error("failed to close session store", "error", err)
		}
	}()

	outbox := assistant.NewOutbox(outboxSize, nil, logger.With("component", "outbox"))
	defer outbox.Close()

	handler, err := assistant.New(assistant.Deps{
		Sessions: sessions,
		Embedder: p.embedder,
		Ranker: ranker.New(p.store, ranker.Config{
			K:        cfg.Suggest.TopK,
			MinScore: cfg.Suggest.MinScore,
		}),
		Composer: composer.New(refiner, p.catalog, composer.Config{
			HighThreshold:   cfg.Suggest.HighThreshold,
			LowThreshold:    cfg.Suggest.LowThreshold,
			LLMTimeout:      cfg.Suggest.LLMTimeout,
			DefaultCurrency: cfg.Suggest.DefaultCurrency,
		}, logger.With("component", "composer")),
		Vocabulary: p.catalog,
		Emitter:    outbox,
	}, assistant.Config{
		IdleTimeout:      cfg.Session.IdleTimeout,
		DefaultAccountID: cfg.Firefly.DefaultAccountID,
		DefaultCurrency:  cfg.Suggest.DefaultCurrency,
		AuthorizedUsers:  cfg.AuthorizedUsers,
	}, logger.With("component", "assistant"))
	if err != nil {
		return fmt.Errorf("creating assistant: %w", err)
	}

	runner := p.runner(daemon.Deps{Outbox: outbox, Sweeper: handler}, logger)

	if cfg.TelegramToken != "" {
		bot, err := telegram.New(telegram.Config{Token: cfg.TelegramToken}, handler, logger.With("component", "telegram"))
		if err != nil {
			return err
		}
		handler.SetNotifier(bot)
		outbox.SetNotifier(bot)
		runner.AddService(bot)
	}

	if cfg.HTTP.Enabled() {
		srv, err := httpapi.New(httpapi.Deps{
			Handler:  handler,
			Pipeline: runner,
			Plugins:  p.registry.Describe(),
			Store:    p.store,
			Catalog:  p.catalog,
		}, httpapi.Config{
			Addr:      cfg.HTTP.Addr,
			JWTSecret: cfg.HTTP.JWTSecret,
		}, logger.With("component", "httpapi"))
		if err != nil {
			return fmt.Errorf("creating http api: %w", err)
		}
		runner.AddService(srv)
	}

	logger.Info("assistant started, press Ctrl+C to stop")

	if err := runner.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("daemon error: %w", err)
	}

	logger.Info("assistant stopped")
	return nil
}

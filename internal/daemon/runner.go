// Package daemon wires the sync pipeline, the expense writer and the
// conversational services together and runs them until shutdown.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/dkotama/firefly-telegram-assistant/internal/ingest"
	"github.com/dkotama/firefly-telegram-assistant/internal/plugins"
	"github.com/dkotama/firefly-telegram-assistant/pkg/api"
	"github.com/dkotama/firefly-telegram-assistant/pkg/config"
	ffreader "github.com/dkotama/firefly-telegram-assistant/pkg/reader/firefly"
)

const channelSize = 100

// ClientFunc returns the HTTP client for a plugin needing the given OAuth
// scopes. No scopes means the plugin talks to Firefly.
type ClientFunc func(ctx context.Context, scopes []string) (*http.Client, error)

// Service is a long-running component such as a transport or an API server.
type Service interface {
	Run(ctx context.Context) error
}

// Ingester stores synced records and acknowledges their source ids.
type Ingester interface {
	Write(ctx context.Context, in <-chan *api.TransactionRecord, ackChan chan<- string) error
	Stats() ingest.Stats
}

// Outbox is the queue of accepted expenses.
type Outbox interface {
	Expenses() <-chan *api.FinalizedExpense
	ConsumeAcks(ctx context.Context, acks <-chan string)
	Pending() int
}

// Sweeper expires idle conversation sessions.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// ReferenceSink receives accounts, categories and bills.
type ReferenceSink interface {
	SetReference(ref *api.ReferenceData)
}

// Deps are the components the runner connects.
type Deps struct {
	Ingest  Ingester
	Outbox  Outbox
	Sweeper Sweeper
	Catalog ReferenceSink
	// Services run alongside the pipeline and stop with it.
	Services []Service
}

// Status is a snapshot of the running pipeline.
type Status struct {
	Running       bool            `json:"running"`
	Reader        string          `json:"reader"`
	Writer        string          `json:"writer"`
	Sync          *ffreader.Stats `json:"sync,omitempty"`
	Ingest        ingest.Stats    `json:"ingest"`
	PendingWrites int             `json:"pending_writes"`
}

type syncStatser interface {
	Stats() ffreader.Stats
}

// Runner manages the assistant daemon lifecycle.
type Runner struct {
	registry *plugins.Registry
	clients  ClientFunc
	deps     Deps
	logger   *slog.Logger

	mu      sync.Mutex
	reader  api.Reader
	names   [2]string
	running bool
}

// New creates a new daemon runner.
func New(registry *plugins.Registry, clients ClientFunc, deps Deps, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		registry: registry,
		clients:  clients,
		deps:     deps,
		logger:   logger,
	}
}

// AddService registers a service to start with the next Run.
func (r *Runner) AddService(svc Service) {
	r.deps.Services = append(r.deps.Services, svc)
}

// Run starts the daemon with the given configuration.
// It blocks until the context is canceled.
func (r *Runner) Run(ctx context.Context, cfg config.Config) error {
	if cfg.ReaderPlugin == "" {
		return fmt.Errorf("ASSISTANT_READER environment variable is required")
	}
	if cfg.WriterPlugin == "" {
		return fmt.Errorf("ASSISTANT_WRITER environment variable is required")
	}
	if r.deps.Ingest == nil || r.deps.Outbox == nil {
		return errors.New("ingest and outbox are required")
	}

	r.logger.Info("starting assistant daemon",
		"reader", cfg.ReaderPlugin,
		"writer", cfg.WriterPlugin,
	)

	reader, err := r.createReader(ctx, cfg.ReaderPlugin, cfg.ReaderConfig)
	if err != nil {
		return err
	}
	writer, err := r.createWriter(ctx, cfg.WriterPlugin, cfg.WriterConfig)
	if err != nil {
		return err
	}
	r.setActive(reader, cfg.ReaderPlugin, cfg.WriterPlugin, true)
	defer r.setActive(nil, "", "", false)

	records := make(chan *api.TransactionRecord, channelSize)
	recordAcks := make(chan string, channelSize)
	expenseAcks := make(chan string, channelSize)

	var wg sync.WaitGroup
	start := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Error("component failed", "component", name, "error", err)
			}
		}()
	}

	start("ingest", func() error { return r.deps.Ingest.Write(ctx, records, recordAcks) })
	start("writer", func() error { return writer.Write(ctx, r.deps.Outbox.Expenses(), expenseAcks) })
	start("acks", func() error {
		r.deps.Outbox.ConsumeAcks(ctx, expenseAcks)
		return nil
	})
	if src, ok := reader.(api.ReferenceSource); ok && r.deps.Catalog != nil {
		start("catalog", func() error { return r.refreshCatalog(ctx, src, cfg.Firefly.SyncInterval) })
	}
	if r.deps.Sweeper != nil {
		start("janitor", func() error { return r.sweep(ctx, SweepInterval(cfg.Session.IdleTimeout)) })
	}
	for i, svc := range r.deps.Services {
		start(fmt.Sprintf("service-%d", i), func() error { return svc.Run(ctx) })
	}
	start("reader", func() error { return reader.Read(ctx, records, recordAcks) })

	r.logger.Info("daemon started")
	<-ctx.Done()
	wg.Wait()

	r.logger.Info("daemon stopped")
	return nil
}

// Sync runs a single sync cycle through the ingest writer and returns once
// every record has been stored.
func (r *Runner) Sync(ctx context.Context, cfg config.Config) (*ffreader.Stats, error) {
	if r.deps.Ingest == nil {
		return nil, errors.New("ingest is required")
	}
	raw, err := withOnce(cfg.ReaderConfig)
	if err != nil {
		return nil, fmt.Errorf("preparing reader config: %w", err)
	}
	reader, err := r.createReader(ctx, cfg.ReaderPlugin, raw)
	if err != nil {
		return nil, err
	}

	if src, ok := reader.(api.ReferenceSource); ok && r.deps.Catalog != nil {
		if err := r.loadReference(ctx, src); err != nil {
			r.logger.Warn("failed to load reference data", "error", err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	records := make(chan *api.TransactionRecord, channelSize)
	acks := make(chan string, channelSize)
	ingestDone := make(chan error, 1)
	go func() { ingestDone <- r.deps.Ingest.Write(ctx, records, acks) }()

	readErr := reader.Read(ctx, records, acks)
	ingestErr := <-ingestDone
	if err := errors.Join(readErr, ingestErr); err != nil {
		return nil, err
	}

	if s, ok := reader.(syncStatser); ok {
		st := s.Stats()
		return &st, nil
	}
	return nil, nil
}

// SyncNow asks the running reader for an immediate cycle. It reports false
// when no reader is running or the reader cannot sync on demand.
func (r *Runner) SyncNow() bool {
	r.mu.Lock()
	reader := r.reader
	r.mu.Unlock()

	s, ok := reader.(api.Syncer)
	if !ok {
		return false
	}
	s.SyncNow()
	return true
}

// Status returns a snapshot of the pipeline.
func (r *Runner) Status() Status {
	r.mu.Lock()
	st := Status{
		Running: r.running,
		Reader:  r.names[0],
		Writer:  r.names[1],
	}
	reader := r.reader
	r.mu.Unlock()

	if s, ok := reader.(syncStatser); ok {
		stats := s.Stats()
		st.Sync = &stats
	}
	if r.deps.Ingest != nil {
		st.Ingest = r.deps.Ingest.Stats()
	}
	if r.deps.Outbox != nil {
		st.PendingWrites = r.deps.Outbox.Pending()
	}
	return st
}

func (r *Runner) setActive(reader api.Reader, readerName, writerName string, running bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reader = reader
	r.names = [2]string{readerName, writerName}
	r.running = running
}

func (r *Runner) client(ctx context.Context, scopes []string) (*http.Client, error) {
	if r.clients == nil {
		return http.DefaultClient, nil
	}
	return r.clients(ctx, scopes)
}

func (r *Runner) createReader(ctx context.Context, name string, raw json.RawMessage) (api.Reader, error) {
	plugin, err := r.registry.GetReader(name)
	if err != nil {
		return nil, err
	}
	hc, err := r.client(ctx, plugin.RequiredScopes())
	if err != nil {
		return nil, fmt.Errorf("creating http client for reader: %w", err)
	}
	reader, err := plugin.NewReader(hc, raw, r.logger.With("component", "reader", "plugin", name))
	if err != nil {
		return nil, fmt.Errorf("creating reader: %w", err)
	}
	return reader, nil
}

func (r *Runner) createWriter(ctx context.Context, name string, raw json.RawMessage) (api.Writer, error) {
	plugin, err := r.registry.GetWriter(name)
	if err != nil {
		return nil, err
	}
	hc, err := r.client(ctx, plugin.RequiredScopes())
	if err != nil {
		return nil, fmt.Errorf("creating http client for writer: %w", err)
	}
	writer, err := plugin.NewWriter(hc, raw, r.logger.With("component", "writer", "plugin", name))
	if err != nil {
		return nil, fmt.Errorf("creating writer: %w", err)
	}
	return writer, nil
}

func (r *Runner) loadReference(ctx context.Context, src api.ReferenceSource) error {
	ref, err := src.Reference(ctx)
	if err != nil {
		return err
	}
	r.deps.Catalog.SetReference(ref)
	r.logger.Info("reference data loaded",
		"accounts", len(ref.Accounts),
		"categories", len(ref.Categories),
		"bills", len(ref.Bills),
	)
	return nil
}

// refreshCatalog loads reference data now and then on every interval.
func (r *Runner) refreshCatalog(ctx context.Context, src api.ReferenceSource, interval time.Duration) error {
	if interval <= 0 {
		interval = ffreader.DefaultInterval
	}
	if err := r.loadReference(ctx, src); err != nil && ctx.Err() == nil {
		r.logger.Warn("failed to load reference data", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.loadReference(ctx, src); err != nil && ctx.Err() == nil {
				r.logger.Warn("failed to refresh reference data", "error", err)
			}
		}
	}
}

func (r *Runner) sweep(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := r.deps.Sweeper.Sweep(ctx)
			if err != nil && ctx.Err() == nil {
				r.logger.Warn("session sweep failed", "error", err)
			}
			if n > 0 {
				r.logger.Info("expired idle sessions", "count", n)
			}
		}
	}
}

// SweepInterval is how often idle sessions are checked: a quarter of the
// idle timeout, kept between one second and one minute.
func SweepInterval(idle time.Duration) time.Duration {
	d := idle / 4
	switch {
	case d < time.Second:
		return time.Second
	case d > time.Minute:
		return time.Minute
	}
	return d
}

// withOnce sets "once": true in a reader plugin config.
func withOnce(raw json.RawMessage) (json.RawMessage, error) {
	cfg := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, err
		}
	}
	cfg["once"] = true
	return json.Marshal(cfg)
}

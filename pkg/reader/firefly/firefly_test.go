package firefly

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkotama/firefly-telegram-assistant/pkg/api"
	ff "github.com/dkotama/firefly-telegram-assistant/pkg/firefly"
)

var updated = time.Date(2025, 5, 2, 1, 0, 0, 0, time.UTC)

type fakeSource struct {
	mu     sync.Mutex
	groups []*ff.Group
	err    error
	calls  chan time.Time
}

func (f *fakeSource) Reference(context.Context) (*api.ReferenceData, error) {
	return &api.ReferenceData{Categories: []api.Category{{ID: "1", Name: "Dining"}}}, nil
}

func (f *fakeSource) Transactions(_ context.Context, since time.Time, fn func(*ff.Group) error) error {
	if f.calls != nil {
		f.calls <- since
	}
	f.mu.Lock()
	groups, err := f.groups, f.err
	f.mu.Unlock()
	if err != nil {
		return err
	}
	for _, g := range groups {
		if err := fn(g); err != nil {
			return err
		}
	}
	return nil
}

func group() *ff.Group {
	return &ff.Group{
		UpdatedAt: updated,
		Transactions: []ff.Split{
			{JournalID: "100", Type: "withdrawal", DestinationName: "Sukiya"},
			{JournalID: "101", Type: "withdrawal", DestinationName: "Matsuya"},
		},
	}
}

func TestRead_OnceAdvancesWatermarkAfterAcks(t *testing.T) {
	r := New(&fakeSource{groups: []*ff.Group{group()}}, Config{Once: true}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := make(chan *api.TransactionRecord, 10)
	acks := make(chan string, 10)
	require.NoError(t, r.Read(ctx, out, acks))

	var ids []string
	for rec := range out {
		ids = append(ids, rec.SourceID)
	}
	assert.Equal(t, []string{"100", "101"}, ids)

	stats := r.Stats()
	assert.True(t, stats.Watermark.IsZero())
	assert.Equal(t, 2, stats.Pending)
	assert.Equal(t, 2, stats.Emitted)

	acks <- "100"
	assert.Never(t, func() bool { return !r.Stats().Watermark.IsZero() }, 50*time.Millisecond, 5*time.Millisecond)

	acks <- "101"
	assert.Eventually(t, func() bool { return r.Stats().Watermark.Equal(updated) }, time.Second, 5*time.Millisecond)
	assert.Zero(t, r.Stats().Pending)
}

func TestRead_SyncNowUsesWatermark(t *testing.T) {
	src := &fakeSource{groups: []*ff.Group{group()}, calls: make(chan time.Time, 4)}
	since := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	r := New(src, Config{Interval: time.Hour, Since: since}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := make(chan *api.TransactionRecord)
	acks := make(chan string)
	go func() {
		for rec := range out {
			acks <- rec.SourceID
		}
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- r.Read(ctx, out, acks) }()

	assert.Equal(t, since, <-src.calls)
	require.Eventually(t, func() bool { return r.Stats().Watermark.Equal(updated) }, time.Second, 5*time.Millisecond)

	r.SyncNow()
	assert.Equal(t, updated, <-src.calls)

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
}

func TestRead_FailedSyncKeepsWatermark(t *testing.T) {
	r := New(&fakeSource{err: errors.New("firefly: 500 Server Error")}, Config{Once: true}, nil)

	out := make(chan *api.TransactionRecord, 1)
	require.NoError(t, r.Read(context.Background(), out, make(chan string)))

	stats := r.Stats()
	assert.True(t, stats.Watermark.IsZero())
	assert.Contains(t, stats.LastError, "500")
	assert.False(t, stats.LastRun.IsZero())
}

func TestReference(t *testing.T) {
	r := New(&fakeSource{}, Config{}, nil)
	ref, err := r.Reference(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Dining", ref.Categories[0].Name)
}

package buffered

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu      sync.Mutex
	batches [][]string
	err     error
}

func (r *recorder) flush(_ context.Context, items []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.batches = append(r.batches, items)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func identity(s string) string { return s }

func TestWrite_FlushesOnBatchSizeAndClose(t *testing.T) {
	rec := &recorder{}
	w := New(rec.flush, identity, Config{BatchSize: 2, FlushInterval: time.Hour}, nil)

	in := make(chan string, 5)
	acks := make(chan string, 5)
	for _, s := range []string{"a", "b", "c"} {
		in <- s
	}
	close(in)

	require.NoError(t, w.Write(context.Background(), in, acks))
	assert.Equal(t, [][]string{{"a", "b"}, {"c"}}, rec.batches)

	close(acks)
	var got []string
	for id := range acks {
		got = append(got, id)
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestWrite_FlushesOnInterval(t *testing.T) {
	rec := &recorder{}
	w := New(rec.flush, nil, Config{BatchSize: 100, FlushInterval: 10 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	in := make(chan string, 1)
	in <- "a"

	errCh := make(chan error, 1)
	go func() { errCh <- w.Write(ctx, in, nil) }()

	assert.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
}

func TestWrite_FailedBatchNotAcknowledged(t *testing.T) {
	rec := &recorder{err: errors.New("boom")}
	w := New(rec.flush, identity, Config{BatchSize: 10}, nil)

	in := make(chan string, 1)
	acks := make(chan string, 1)
	in <- "a"
	close(in)

	assert.EqualError(t, w.Write(context.Background(), in, acks), "boom")
	assert.Empty(t, acks)
	assert.Zero(t, w.BufferLen())
}

func TestWrite_ShutdownFlushes(t *testing.T) {
	rec := &recorder{}
	w := New(rec.flush, nil, Config{BatchSize: 10, FlushInterval: time.Hour}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan string, 1)
	in <- "a"

	errCh := make(chan error, 1)
	go func() { errCh <- w.Write(ctx, in, nil) }()
	assert.Eventually(t, func() bool { return w.BufferLen() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
	assert.Equal(t, 1, rec.count())
}

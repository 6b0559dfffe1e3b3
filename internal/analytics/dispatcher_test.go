package analytics

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/pos-checkout/internal/domain/checkout"
)

// flakyRecorder fails the first failures calls per sale id.
type flakyRecorder struct {
	mu       sync.Mutex
	failures int
	calls    map[string]int
	recorded []Sale
	block    chan struct{}
}

func newFlakyRecorder(failures int) *flakyRecorder {
	return &flakyRecorder{failures: failures, calls: map[string]int{}}
}

func (r *flakyRecorder) RecordSale(ctx context.Context, s Sale) error {
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[s.ID]++
	if r.failures < 0 || r.calls[s.ID] <= r.failures {
		return errors.New("redis: connection refused")
	}
	r.recorded = append(r.recorded, s)
	return nil
}

func (r *flakyRecorder) Calls(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[id]
}

func (r *flakyRecorder) Recorded() []Sale {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sale(nil), r.recorded...)
}

func fastConfig() DispatcherConfig {
	return DispatcherConfig{
		Workers:         2,
		QueueSize:       16,
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
	}
}

func TestDispatcher_Records(t *testing.T) {
	rec := newFlakyRecorder(0)
	d, err := NewDispatcher(rec, fastConfig())
	require.NoError(t, err)

	d.Notify(checkout.SaleEvent{TransactionID: "tx-1", Amount: decimal.NewFromInt(1369), OccurredAt: saleDay})
	d.Notify(checkout.SaleEvent{TransactionID: "tx-1", Amount: decimal.NewFromInt(1369), OccurredAt: saleDay, Voided: true})
	require.NoError(t, d.Close(context.Background()))

	recorded := rec.Recorded()
	require.Len(t, recorded, 2)
	assert.ElementsMatch(t, []string{"tx-1", "tx-1:void"}, []string{recorded[0].ID, recorded[1].ID})
	assert.Equal(t, Stats{Recorded: 2}, d.Stats())
}

func TestDispatcher_RetriesTransientFailures(t *testing.T) {
	rec := newFlakyRecorder(2)
	d, err := NewDispatcher(rec, fastConfig())
	require.NoError(t, err)

	require.True(t, d.Enqueue(Sale{ID: "tx-1", TransactionID: "tx-1", Amount: decimal.NewFromInt(1), Date: saleDay}))
	require.NoError(t, d.Close(context.Background()))

	assert.Equal(t, 3, rec.Calls("tx-1"))
	assert.Len(t, rec.Recorded(), 1)
	assert.Equal(t, Stats{Recorded: 1}, d.Stats())
}

func TestDispatcher_GivesUpAfterMaxAttempts(t *testing.T) {
	rec := newFlakyRecorder(-1)
	d, err := NewDispatcher(rec, fastConfig())
	require.NoError(t, err)

	require.True(t, d.Enqueue(Sale{ID: "tx-1", TransactionID: "tx-1", Amount: decimal.NewFromInt(1), Date: saleDay}))
	require.NoError(t, d.Close(context.Background()))

	assert.Equal(t, 3, rec.Calls("tx-1"))
	assert.Empty(t, rec.Recorded())
	assert.Equal(t, Stats{Failed: 1}, d.Stats())
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	rec := newFlakyRecorder(0)
	rec.block = make(chan struct{})
	cfg := fastConfig()
	cfg.Workers = 1
	cfg.QueueSize = 1
	d, err := NewDispatcher(rec, cfg)
	require.NoError(t, err)

	// One sale is held by the worker, one fills the queue, the rest drop.
	accepted := 0
	for i := range 10 {
		id := string(rune('a' + i))
		if d.Enqueue(Sale{ID: id, TransactionID: id, Amount: decimal.NewFromInt(1), Date: saleDay}) {
			accepted++
		}
	}
	assert.LessOrEqual(t, accepted, 2)
	assert.GreaterOrEqual(t, accepted, 1)

	close(rec.block)
	require.NoError(t, d.Close(context.Background()))

	stats := d.Stats()
	assert.EqualValues(t, accepted, stats.Recorded)
	assert.EqualValues(t, 10-accepted, stats.Dropped)
}

func TestDispatcher_EnqueueAfterClose(t *testing.T) {
	d, err := NewDispatcher(newFlakyRecorder(0), fastConfig())
	require.NoError(t, err)
	require.NoError(t, d.Close(context.Background()))
	require.NoError(t, d.Close(context.Background()))

	assert.False(t, d.Enqueue(Sale{ID: "late", TransactionID: "late", Date: saleDay}))
	assert.EqualValues(t, 1, d.Stats().Dropped)
}

func TestDispatcher_CloseDeadline(t *testing.T) {
	rec := newFlakyRecorder(0)
	rec.block = make(chan struct{})
	defer close(rec.block)

	cfg := fastConfig()
	cfg.MaxAttempts = 1
	d, err := NewDispatcher(rec, cfg)
	require.NoError(t, err)
	require.True(t, d.Enqueue(Sale{ID: "stuck", TransactionID: "stuck", Date: saleDay}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, d.Close(ctx), context.DeadlineExceeded)
	assert.EqualValues(t, 1, d.Stats().Failed)
}

func TestAnalyticsRecordingError(t *testing.T) {
	cause := errors.New("boom")
	err := error(&AnalyticsRecordingError{SaleID: "tx-1", Attempts: 3, Err: cause})

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), `"tx-1"`)
	assert.Contains(t, err.Error(), "3 attempt")
}

func TestMulti(t *testing.T) {
	ok := newFlakyRecorder(0)
	bad := newFlakyRecorder(-1)
	m := Multi{bad, ok}

	err := m.RecordSale(context.Background(), Sale{ID: "tx-1", TransactionID: "tx-1", Date: saleDay})
	require.Error(t, err)
	assert.Len(t, ok.Recorded(), 1, "every recorder is attempted")

	require.NoError(t, Multi{ok, Nop{}}.RecordSale(context.Background(), Sale{ID: "tx-2", Date: saleDay}))
}

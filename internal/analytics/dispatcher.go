package analytics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/xenking/pos-checkout/internal/domain/checkout"
)

// DispatcherConfig tunes a Dispatcher. Zero values select defaults.
type DispatcherConfig struct {
	Workers         int
	QueueSize       int
	MaxAttempts     int
	InitialInterval time.Duration
	AttemptTimeout  time.Duration

	Logger        *zap.Logger
	MeterProvider metric.MeterProvider
}

func (c *DispatcherConfig) setDefaults() {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = 200 * time.Millisecond
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.MeterProvider == nil {
		c.MeterProvider = metricnoop.NewMeterProvider()
	}
}

// Stats is a snapshot of dispatcher outcomes.
type Stats struct {
	Recorded int64
	Failed   int64
	Dropped  int64
}

// Dispatcher records sales asynchronously on a bounded queue. It implements
// checkout.Notifier, so a slow or failing recorder never delays a checkout.
type Dispatcher struct {
	rec Recorder
	cfg DispatcherConfig
	lg  *zap.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan Sale
	wg     sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	recorded atomic.Int64
	failed   atomic.Int64
	dropped  atomic.Int64

	outcomes metric.Int64Counter
}

var _ checkout.Notifier = (*Dispatcher)(nil)

// NewDispatcher starts the workers.
func NewDispatcher(rec Recorder, cfg DispatcherConfig) (*Dispatcher, error) {
	cfg.setDefaults()

	meter := cfg.MeterProvider.Meter("github.com/xenking/pos-checkout/internal/analytics")
	outcomes, err := meter.Int64Counter("pos.analytics.sales",
		metric.WithDescription("Analytics sale events by outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create counter")
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		rec:      rec,
		cfg:      cfg,
		lg:       cfg.Logger.Named("analytics"),
		queue:    make(chan Sale, cfg.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
		outcomes: outcomes,
	}
	for range cfg.Workers {
		d.wg.Add(1)
		go d.worker()
	}
	return d, nil
}

// Notify implements checkout.Notifier.
func (d *Dispatcher) Notify(ev checkout.SaleEvent) {
	d.Enqueue(SaleFromEvent(ev))
}

// Enqueue schedules s for recording and reports whether it was accepted.
// It never blocks: when the queue is full or the dispatcher is closed the
// sale is dropped.
func (d *Dispatcher) Enqueue(s Sale) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.drop(s, "closed")
		return false
	}
	select {
	case d.queue <- s:
		return true
	default:
		d.drop(s, "queue full")
		return false
	}
}

// Close stops accepting sales and waits for queued ones to be recorded.
// When ctx expires first, in-flight attempts are cancelled.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

// Stats returns outcome counters since start.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Recorded: d.recorded.Load(),
		Failed:   d.failed.Load(),
		Dropped:  d.dropped.Load(),
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for s := range d.queue {
		if err := d.record(s); err != nil {
			d.failed.Add(1)
			d.count("failed")
			d.lg.Warn("Sale not recorded",
				zap.String("sale_id", s.ID),
				zap.String("transaction_id", s.TransactionID),
				zap.Error(err),
			)
			continue
		}
		d.recorded.Add(1)
		d.count("recorded")
	}
}

func (d *Dispatcher) record(s Sale) error {
	attempts := 0
	op := func() error {
		attempts++
		ctx, cancel := context.WithTimeout(d.ctx, d.cfg.AttemptTimeout)
		defer cancel()
		return d.rec.RecordSale(ctx, s)
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = d.cfg.InitialInterval
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(d.cfg.MaxAttempts-1)), d.ctx)

	notify := func(err error, wait time.Duration) {
		d.lg.Debug("Retrying sale",
			zap.String("sale_id", s.ID),
			zap.Int("attempt", attempts),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return &AnalyticsRecordingError{SaleID: s.ID, Attempts: attempts, Err: err}
	}
	return nil
}

func (d *Dispatcher) drop(s Sale, reason string) {
	d.dropped.Add(1)
	d.count("dropped")
	d.lg.Warn("Sale dropped",
		zap.String("sale_id", s.ID),
		zap.String("reason", reason),
	)
}

func (d *Dispatcher) count(outcome string) {
	d.outcomes.Add(context.Background(), 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

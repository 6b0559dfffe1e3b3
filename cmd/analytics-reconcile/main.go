// Command analytics-reconcile re-records committed sales that never reached
// the Redis rollups, e.g. because Redis was down when the sale committed.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/pos-checkout/internal/analytics"
	"github.com/xenking/pos-checkout/internal/domain/checkout"
	"github.com/xenking/pos-checkout/internal/repository"
)

const (
	bloomCapacity = 200_000
	bloomFPR      = 0.001
	concurrency   = 8
	// maxAge stays below the Redis sale marker TTL; past it a recorded sale
	// is indistinguishable from a missing one.
	maxAge = 60 * 24 * time.Hour
)

type transactionLister interface {
	ListTransactions(ctx context.Context, from, to time.Time, fn func(t *checkout.Transaction) error) error
}

type saleStore interface {
	RecordedIDs(ctx context.Context, day string, fn func(id string) error) error
	HasSale(ctx context.Context, saleID string) (bool, error)
	RecordSale(ctx context.Context, s analytics.Sale) error
}

type dayReport struct {
	Day          string
	Transactions int
	Missing      int64
	Recorded     int64
}

func main() {
	var (
		databaseURL string
		redisURL    string
		prefix      string
		from        string
		days        int
		dryRun      bool
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&redisURL, "redis-url", "", "Redis URL (or REDIS_URL env)")
	flag.StringVar(&prefix, "prefix", "pos", "Redis key prefix")
	flag.StringVar(&from, "from", time.Now().UTC().AddDate(0, 0, -1).Format(time.DateOnly), "first day to reconcile (YYYY-MM-DD, UTC)")
	flag.IntVar(&days, "days", 1, "number of days to reconcile")
	flag.BoolVar(&dryRun, "dry-run", false, "report missing sales without recording them")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if redisURL == "" {
		redisURL = os.Getenv("REDIS_URL")
	}
	if databaseURL == "" || redisURL == "" {
		slog.Error("database and redis URLs are required: set --database-url/DATABASE_URL and --redis-url/REDIS_URL")
		os.Exit(1)
	}

	start, err := time.Parse(time.DateOnly, from)
	if err != nil {
		slog.Error("invalid --from", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := checkWindow(start, days, time.Now().UTC()); err != nil {
		slog.Error("invalid window", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, redisURL, prefix, start, days, dryRun); err != nil {
		slog.Error("reconcile failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("reconcile completed successfully")
}

func checkWindow(start time.Time, days int, now time.Time) error {
	if days < 1 {
		return errors.Errorf("days must be positive, got %d", days)
	}
	if now.Sub(start) > maxAge {
		return errors.Errorf("start %s is older than %s", start.Format(time.DateOnly), maxAge)
	}
	return nil
}

func run(ctx context.Context, databaseURL, redisURL, prefix string, start time.Time, days int, dryRun bool) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return errors.Wrap(err, "parse redis url")
	}
	client := redis.NewClient(opts)
	defer func() { _ = client.Close() }()

	store := repository.NewCheckoutStore(pool)
	rec := analytics.NewRedisRecorder(client, prefix)

	for i := range days {
		day := start.AddDate(0, 0, i)
		report, err := reconcileDay(ctx, store, rec, day, dryRun)
		if err != nil {
			return errors.Wrapf(err, "reconcile %s", day.Format(time.DateOnly))
		}
		slog.Info("day reconciled",
			slog.String("day", report.Day),
			slog.Int("transactions", report.Transactions),
			slog.Int64("missing", report.Missing),
			slog.Int64("recorded", report.Recorded),
			slog.Bool("dry_run", dryRun),
		)
	}
	return nil
}

// reconcileDay compares transactions created on day with the ids recorded in
// the day's rollup. A bloom filter of recorded ids rules out most lookups;
// only probable hits are confirmed against the exact sale marker.
func reconcileDay(ctx context.Context, txs transactionLister, store saleStore, day time.Time, dryRun bool) (dayReport, error) {
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)
	report := dayReport{Day: from.Format(time.DateOnly)}

	filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
	var committed []*checkout.Transaction

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return store.RecordedIDs(gctx, report.Day, func(id string) error {
			filter.AddString(id)
			return nil
		})
	})
	g.Go(func() error {
		return txs.ListTransactions(gctx, from, to, func(t *checkout.Transaction) error {
			committed = append(committed, t)
			return nil
		})
	})
	if err := g.Wait(); err != nil {
		return report, err
	}
	report.Transactions = len(committed)

	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, t := range committed {
		for _, s := range expectedSales(t) {
			g.Go(func() error {
				// The day set holds transaction ids, so a void shares its
				// sale's entry and always needs the exact check.
				if s.ID == s.TransactionID && !filter.TestString(s.TransactionID) {
					return repair(gctx, store, s, dryRun, &report)
				}
				ok, err := store.HasSale(gctx, s.ID)
				if err != nil {
					return errors.Wrapf(err, "check sale %s", s.ID)
				}
				if ok {
					return nil
				}
				return repair(gctx, store, s, dryRun, &report)
			})
		}
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	return report, nil
}

// expectedSales lists the analytics entries a transaction should have
// produced: the sale itself and, once cancelled, its void.
func expectedSales(t *checkout.Transaction) []analytics.Sale {
	sales := []analytics.Sale{analytics.SaleFromEvent(checkout.SaleEvent{
		TransactionID: t.ID,
		Amount:        t.Total,
		OccurredAt:    t.CreatedAt,
	})}
	if t.PaymentStatus == checkout.PaymentCancelled {
		sales = append(sales, analytics.SaleFromEvent(checkout.SaleEvent{
			TransactionID: t.ID,
			Amount:        t.Total,
			OccurredAt:    t.UpdatedAt,
			Voided:        true,
		}))
	}
	return sales
}

func repair(ctx context.Context, store saleStore, s analytics.Sale, dryRun bool, report *dayReport) error {
	atomic.AddInt64(&report.Missing, 1)
	slog.Info("sale missing from analytics",
		slog.String("sale_id", s.ID),
		slog.String("amount", s.Amount.String()),
	)
	if dryRun {
		return nil
	}
	if err := store.RecordSale(ctx, s); err != nil {
		return errors.Wrapf(err, "record sale %s", s.ID)
	}
	atomic.AddInt64(&report.Recorded, 1)
	return nil
}

// Command receipt-export writes the receipts of a date range to a gzip
// archive, one JSON document per line or as printable text.
package main

import (
	"bufio"
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	pgzip "github.com/klauspost/pgzip"

	"github.com/xenking/pos-checkout/internal/domain/checkout"
	"github.com/xenking/pos-checkout/internal/domain/receipt"
	"github.com/xenking/pos-checkout/internal/repository"
)

const progressEvery = 1000

type receiptSource interface {
	ListTransactions(ctx context.Context, from, to time.Time, fn func(t *checkout.Transaction) error) error
	LoadLines(ctx context.Context, t *checkout.Transaction) error
}

type exportOptions struct {
	From   time.Time
	To     time.Time
	Header receipt.Header
	Text   bool
	Width  int
}

func main() {
	var (
		databaseURL string
		out         string
		from        string
		days        int
		opts        exportOptions
		scale       int
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&out, "out", "", "output file (default receipts-<from>.jsonl.gz or .txt.gz)")
	flag.StringVar(&from, "from", time.Now().UTC().Format(time.DateOnly), "first day to export (YYYY-MM-DD, UTC)")
	flag.IntVar(&days, "days", 1, "number of days to export")
	flag.BoolVar(&opts.Text, "text", false, "write printable text receipts instead of JSON lines")
	flag.IntVar(&opts.Width, "width", 42, "text receipt width")
	flag.StringVar(&opts.Header.BusinessName, "business-name", "Studio POS", "business name on receipts")
	flag.StringVar(&opts.Header.Address, "address", "", "business address on receipts")
	flag.StringVar(&opts.Header.Phone, "phone", "", "business phone on receipts")
	flag.StringVar(&opts.Header.Footer, "footer", "Thank you for visiting!", "closing line on receipts")
	flag.StringVar(&opts.Header.Currency, "currency", "Rs", "currency symbol")
	flag.IntVar(&scale, "scale", 0, "currency fraction digits")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	start, err := time.Parse(time.DateOnly, from)
	if err != nil || days < 1 {
		slog.Error("invalid range: --from must be YYYY-MM-DD and --days positive")
		os.Exit(1)
	}
	opts.From = start
	opts.To = start.AddDate(0, 0, days)
	opts.Header.Scale = int32(scale)

	if out == "" {
		out = defaultOutput(start, opts.Text)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, out, opts); err != nil {
		slog.Error("export failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("export completed successfully", slog.String("path", out))
}

func defaultOutput(start time.Time, text bool) string {
	ext := ".jsonl.gz"
	if text {
		ext = ".txt.gz"
	}
	return "receipts-" + start.Format("20060102") + ext
}

func run(ctx context.Context, databaseURL, out string, opts exportOptions) (rerr error) {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	f, err := os.Create(out)
	if err != nil {
		return errors.Wrapf(err, "create %s", out)
	}
	defer func() {
		if err := f.Close(); err != nil && rerr == nil {
			rerr = errors.Wrapf(err, "close %s", out)
		}
	}()

	n, err := exportReceipts(ctx, repository.NewCheckoutStore(pool), f, opts)
	if err != nil {
		return err
	}
	slog.Info("receipts exported", slog.Int("count", n))
	return nil
}

// exportReceipts streams every transaction in [opts.From, opts.To) through
// the receipt formatter into a gzip stream on w.
func exportReceipts(ctx context.Context, src receiptSource, w io.Writer, opts exportOptions) (int, error) {
	gz := pgzip.NewWriter(w)
	bw := bufio.NewWriter(gz)

	var (
		count int
		e     jx.Encoder
	)
	err := src.ListTransactions(ctx, opts.From, opts.To, func(t *checkout.Transaction) error {
		if err := src.LoadLines(ctx, t); err != nil {
			return errors.Wrapf(err, "load lines of %s", t.ID)
		}
		rc, err := receipt.Format(t, opts.Header)
		if err != nil {
			return errors.Wrapf(err, "format %s", t.ID)
		}

		if opts.Text {
			_, err = bw.WriteString(rc.Text(opts.Width) + "\n\f\n")
		} else {
			e.Reset()
			rc.Encode(&e)
			_, err = bw.Write(append(e.Bytes(), '\n'))
		}
		if err != nil {
			return errors.Wrapf(err, "write %s", t.ID)
		}

		count++
		if count%progressEvery == 0 {
			slog.Info("export progress", slog.Int("receipts", count))
		}
		return nil
	})
	if err != nil {
		return count, errors.Wrap(err, "list transactions")
	}

	if err := bw.Flush(); err != nil {
		return count, errors.Wrap(err, "flush")
	}
	if err := gz.Close(); err != nil {
		return count, errors.Wrap(err, "close gzip")
	}
	return count, nil
}

// Package analytics mirrors committed sales into external rollups.
//
// Recording is best effort: nothing here can affect a checkout that has
// already committed. Failures surface as AnalyticsRecordingError in logs
// and metrics.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/pos-checkout/internal/domain/checkout"
)

// Sale is one analytics entry. Voids are recorded as a separate Sale with a
// negated amount so daily revenue nets out.
type Sale struct {
	// ID is unique per recorded event and keys idempotency in sinks.
	ID            string
	TransactionID string
	Amount        decimal.Decimal
	Date          time.Time
}

// Day is the rollup bucket, in UTC.
func (s Sale) Day() string {
	return s.Date.UTC().Format(time.DateOnly)
}

// SaleFromEvent converts a checkout event into a Sale.
func SaleFromEvent(ev checkout.SaleEvent) Sale {
	s := Sale{
		ID:            ev.TransactionID,
		TransactionID: ev.TransactionID,
		Amount:        ev.Amount,
		Date:          ev.OccurredAt,
	}
	if ev.Voided {
		s.ID = ev.TransactionID + ":void"
		s.Amount = ev.Amount.Neg()
	}
	return s
}

// Recorder stores a sale. Implementations must tolerate the same Sale.ID
// being recorded more than once.
type Recorder interface {
	RecordSale(ctx context.Context, s Sale) error
}

// AnalyticsRecordingError reports a sale that could not be recorded.
type AnalyticsRecordingError struct {
	SaleID   string
	Attempts int
	Err      error
}

func (e *AnalyticsRecordingError) Error() string {
	return fmt.Sprintf("record sale %q after %d attempt(s): %v", e.SaleID, e.Attempts, e.Err)
}

func (e *AnalyticsRecordingError) Unwrap() error { return e.Err }

// Multi fans a sale out to every recorder. All recorders are attempted;
// the first error is returned.
type Multi []Recorder

// RecordSale implements Recorder.
func (m Multi) RecordSale(ctx context.Context, s Sale) error {
	var first error
	for _, r := range m {
		if err := r.RecordSale(ctx, s); err != nil && first == nil {
			first = errors.Wrapf(err, "recorder %T", r)
		}
	}
	return first
}

// Nop discards sales.
type Nop struct{}

// RecordSale implements Recorder.
func (Nop) RecordSale(context.Context, Sale) error { return nil }

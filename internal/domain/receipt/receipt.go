// Package receipt renders committed transactions as printable documents.
// Formatting is pure: the same Transaction always yields the same Receipt.
package receipt

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/pos-checkout/internal/domain/checkout"
)

// ErrNoTransaction is returned when Format is called without a transaction.
var ErrNoTransaction = errors.New("receipt requires a transaction")

// Badge is the payment status stamp printed on a receipt.
type Badge string

const (
	BadgePaid    Badge = "PAID"
	BadgePartial Badge = "PARTIAL"
	BadgePending Badge = "PENDING"
	BadgeVoid    Badge = "VOID"
)

// Header is the business letterhead.
type Header struct {
	BusinessName string
	Address      string
	Phone        string
	Footer       string
	// Currency is printed before amounts, e.g. "Rs".
	Currency string
	// Scale is the number of minor-unit digits printed.
	Scale int32
}

// Line is an itemized receipt row.
type Line struct {
	Name      string
	Kind      string
	Quantity  int
	UnitPrice decimal.Decimal
	Total     decimal.Decimal
}

// Receipt is a display-only view of a Transaction.
type Receipt struct {
	Header        Header
	Number        string
	IssuedAt      time.Time
	Customer      string
	CustomerPhone string
	Cashier       string
	Lines         []Line

	Subtotal   decimal.Decimal
	Discount   decimal.Decimal
	CouponCode string
	TaxPercent decimal.Decimal
	Tax        decimal.Decimal
	Total      decimal.Decimal
	Tip        decimal.Decimal
	AmountDue  decimal.Decimal
	Tendered   decimal.Decimal
	Change     decimal.Decimal
	BalanceDue decimal.Decimal

	PaymentMethod string
	Status        Badge
	VoidReason    string
}

// Format builds the receipt for t.
func Format(t *checkout.Transaction, h Header) (*Receipt, error) {
	if t == nil {
		return nil, ErrNoTransaction
	}

	lines := make([]Line, len(t.Lines))
	for i, l := range t.Lines {
		name := l.Name
		if name == "" {
			name = l.ItemID
		}
		lines[i] = Line{
			Name:      name,
			Kind:      string(l.Kind),
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
			Total:     l.LineTotal,
		}
	}

	customer := t.Customer.Name
	if customer == "" {
		customer = t.Customer.ID
	}

	due := t.AmountDue()
	balance := decimal.Zero
	if t.PaymentStatus != checkout.PaymentCancelled && t.AmountTendered.LessThan(due) {
		balance = due.Sub(t.AmountTendered)
	}

	return &Receipt{
		Header:        h,
		Number:        t.ID,
		IssuedAt:      t.CreatedAt,
		Customer:      customer,
		CustomerPhone: t.Customer.Phone,
		Cashier:       t.CashierID,
		Lines:         lines,
		Subtotal:      t.Subtotal,
		Discount:      t.Discount,
		CouponCode:    t.CouponCode,
		TaxPercent:    t.TaxPercent,
		Tax:           t.Tax,
		Total:         t.Total,
		Tip:           t.Tip,
		AmountDue:     due,
		Tendered:      t.AmountTendered,
		Change:        t.Change,
		BalanceDue:    balance,
		PaymentMethod: string(t.PaymentMethod),
		Status:        badgeFor(t.PaymentStatus),
		VoidReason:    t.VoidReason,
	}, nil
}

func badgeFor(s checkout.PaymentStatus) Badge {
	switch s {
	case checkout.PaymentPaid:
		return BadgePaid
	case checkout.PaymentPartial:
		return BadgePartial
	case checkout.PaymentCancelled:
		return BadgeVoid
	case checkout.PaymentPending:
		return BadgePending
	default:
		return BadgePending
	}
}

// Package checkout turns a cart into a committed sale.
//
// A checkout attempt moves through Open, Validating and Reserving. It ends
// Committed on success, Rejected when the request is invalid (nothing was
// written), or Aborted when the reserve/commit unit of work failed (nothing
// was written either: stock check, stock decrement, adjustment log and the
// Transaction row share one store transaction).
package checkout

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/pos-checkout/internal/domain/catalog"
	"github.com/xenking/pos-checkout/internal/domain/pricing"
)

// State is the lifecycle state of a single checkout attempt.
type State string

const (
	StateOpen       State = "open"
	StateValidating State = "validating"
	StateReserving  State = "reserving"
	StateCommitted  State = "committed"
	StateRejected   State = "rejected"
	StateAborted    State = "aborted"
)

// IsTerminal reports whether no further transitions are possible.
func (s State) IsTerminal() bool {
	switch s {
	case StateCommitted, StateRejected, StateAborted:
		return true
	default:
		return false
	}
}

func (s State) String() string { return string(s) }

// PaymentStatus is the payment state of a committed Transaction. It is the
// only field of a Transaction that changes after commit.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentPaid      PaymentStatus = "paid"
	PaymentPartial   PaymentStatus = "partial"
	PaymentCancelled PaymentStatus = "cancelled"
)

// Valid reports whether s is a known status.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentPaid, PaymentPartial, PaymentCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether a Transaction in status s may move to next.
// Cancelled is final.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	switch s {
	case PaymentPending:
		return next == PaymentPaid || next == PaymentPartial || next == PaymentCancelled
	case PaymentPartial:
		return next == PaymentPaid || next == PaymentCancelled
	case PaymentPaid:
		return next == PaymentCancelled
	default:
		return false
	}
}

// PaymentMethod is how the customer paid.
type PaymentMethod string

const (
	MethodCash     PaymentMethod = "cash"
	MethodCard     PaymentMethod = "card"
	MethodTransfer PaymentMethod = "transfer"
	MethodWallet   PaymentMethod = "wallet"
)

// Valid reports whether m is a supported payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCash, MethodCard, MethodTransfer, MethodWallet:
		return true
	default:
		return false
	}
}

// Customer identifies the buyer. Either ID or Name must be set.
type Customer struct {
	ID    string
	Name  string
	Phone string
}

// Payment is the payment metadata supplied at checkout. Status may be left
// empty to derive it from AmountTendered.
type Payment struct {
	Method         PaymentMethod
	Status         PaymentStatus
	AmountTendered decimal.Decimal
}

// LineRequest is a cart line as submitted by the client. Prices are never
// taken from the client.
type LineRequest struct {
	ItemID   string
	Kind     catalog.Kind
	Quantity int
}

// Request is a checkout submission.
type Request struct {
	Customer       Customer
	CashierID      string
	Lines          []LineRequest
	Adjustment     pricing.Adjustment
	CouponCode     string
	Payment        Payment
	IdempotencyKey string
}

// Line is the immutable snapshot of a cart line stored on a Transaction.
type Line struct {
	ItemID    string
	Name      string
	Kind      catalog.Kind
	Quantity  int
	UnitPrice decimal.Decimal
	LineTotal decimal.Decimal
}

// Transaction is the durable record of a committed sale.
type Transaction struct {
	ID             string
	IdempotencyKey string
	RequestHash    string
	Customer       Customer
	CashierID      string
	Lines          []Line

	Subtotal   decimal.Decimal
	Discount   decimal.Decimal
	TaxPercent decimal.Decimal
	Tax        decimal.Decimal
	Total      decimal.Decimal
	Tip        decimal.Decimal

	AmountTendered decimal.Decimal
	Change         decimal.Decimal
	CouponCode     string
	PaymentMethod  PaymentMethod
	PaymentStatus  PaymentStatus
	VoidReason     string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// AmountDue is what the customer owes: the total plus the tip.
func (t *Transaction) AmountDue() decimal.Decimal {
	return t.Total.Add(t.Tip)
}

// Balanced reports whether Total == Subtotal - Discount + Tax.
func (t *Transaction) Balanced() bool {
	return t.Total.Equal(t.Subtotal.Sub(t.Discount).Add(t.Tax))
}

// ProductLines returns the stock-tracked lines.
func (t *Transaction) ProductLines() []Line {
	var out []Line
	for _, l := range t.Lines {
		switch l.Kind {
		case catalog.KindProduct:
			out = append(out, l)
		case catalog.KindService:
		}
	}
	return out
}

// AdjustmentReason explains an inventory movement.
type AdjustmentReason string

const (
	ReasonSale    AdjustmentReason = "sale"
	ReasonVoid    AdjustmentReason = "void"
	ReasonRestock AdjustmentReason = "restock"
)

// InventoryAdjustment is one audit row per product line per stock movement.
type InventoryAdjustment struct {
	ProductID     string
	Delta         int
	Reason        AdjustmentReason
	TransactionID string
	CreatedAt     time.Time
}

// Result is the outcome of a successful Checkout call.
type Result struct {
	Transaction *Transaction
	State       State
	// Replayed is set when the idempotency key matched an earlier commit and
	// no stock was touched by this call.
	Replayed bool
}

// SaleEvent is emitted after a commit or a void for the analytics mirror.
type SaleEvent struct {
	TransactionID string
	Amount        decimal.Decimal
	OccurredAt    time.Time
	Voided        bool
}

// Notifier receives sale events. Notify must not block.
type Notifier interface {
	Notify(ev SaleEvent)
}

type nopNotifier struct{}

func (nopNotifier) Notify(SaleEvent) {}

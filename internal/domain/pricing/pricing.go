// Package pricing computes order totals from cart lines and order-level
// adjustments.
//
// Every money value is rounded half-up to the currency scale at each stage
// (line, subtotal, discount, tax), so recomputing the same cart always yields
// the same totals. Calculate never fails: out-of-range adjustments are
// clamped, and an empty cart prices to zero.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/xenking/pos-checkout/internal/domain/catalog"
)

var (
	hundred = decimal.NewFromInt(100)
	zero    = decimal.Zero
)

// maxExponent bounds the decimal exponent of any input amount.
const maxExponent = 12

// MaxAmount is the exclusive upper bound for input amounts and percentages.
// It matches the integer capacity of the NUMERIC(12, 2) money columns.
var MaxAmount = decimal.New(1, 10)

// InRange reports whether d is usable as a money or percentage input:
// |d| < MaxAmount with at most maxExponent fraction digits. The exponent is
// checked first because comparing or rounding a value with a huge exponent
// allocates a power of ten of that size.
func InRange(d decimal.Decimal) bool {
	if exp := d.Exponent(); exp > maxExponent || exp < -maxExponent {
		return false
	}
	return d.Abs().LessThan(MaxAmount)
}

// DiscountType selects how Adjustment.DiscountValue is interpreted.
type DiscountType string

const (
	DiscountNone       DiscountType = ""
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

// Valid reports whether t is a known discount type.
func (t DiscountType) Valid() bool {
	switch t {
	case DiscountNone, DiscountPercentage, DiscountFixed:
		return true
	default:
		return false
	}
}

// Line is a priced cart line.
type Line struct {
	ItemID    string
	Kind      catalog.Kind
	Quantity  int
	UnitPrice decimal.Decimal
}

// Adjustment holds order-level modifiers. A single DiscountType tag makes a
// percentage and a fixed amount mutually exclusive.
type Adjustment struct {
	DiscountType  DiscountType
	DiscountValue decimal.Decimal
	// TaxPercent is a percentage: 17 means 17%.
	TaxPercent decimal.Decimal
	// Tip is tracked separately and is never taxed.
	Tip decimal.Decimal
}

// Totals is the result of pricing a cart.
//
// Total == Subtotal - Discount + Tax always holds. AmountDue adds the tip.
type Totals struct {
	ServicesSubtotal decimal.Decimal
	ProductsSubtotal decimal.Decimal
	Subtotal         decimal.Decimal
	Discount         decimal.Decimal
	Tax              decimal.Decimal
	Total            decimal.Decimal
	Tip              decimal.Decimal
	AmountDue        decimal.Decimal
}

// Calculator prices carts for a currency with Scale minor-unit digits
// (0 for whole-unit currencies, 2 for cents).
type Calculator struct {
	Scale int32
}

// New returns a Calculator for the given currency scale.
func New(scale int32) Calculator {
	if scale < 0 {
		scale = 0
	}
	return Calculator{Scale: scale}
}

// Round rounds d half-up to the currency scale.
func (c Calculator) Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(c.Scale)
}

// LineTotal returns round(unitPrice * quantity). Lines with a non-positive
// quantity or a negative price contribute nothing.
func (c Calculator) LineTotal(l Line) decimal.Decimal {
	if l.Quantity < 1 || l.UnitPrice.IsNegative() {
		return zero
	}
	return c.Round(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
}

// Calculate prices lines with adj applied.
func (c Calculator) Calculate(lines []Line, adj Adjustment) Totals {
	var t Totals
	t.ServicesSubtotal, t.ProductsSubtotal = zero, zero

	for _, l := range lines {
		switch l.Kind {
		case catalog.KindService:
			t.ServicesSubtotal = t.ServicesSubtotal.Add(c.LineTotal(l))
		case catalog.KindProduct:
			t.ProductsSubtotal = t.ProductsSubtotal.Add(c.LineTotal(l))
		}
	}

	t.Subtotal = t.ServicesSubtotal.Add(t.ProductsSubtotal)
	t.Discount = c.discount(t.Subtotal, adj)

	taxable := t.Subtotal.Sub(t.Discount)
	t.Tax = c.Round(taxable.Mul(clampPercent(adj.TaxPercent, false)).Div(hundred))

	t.Total = taxable.Add(t.Tax)
	t.Tip = c.Round(floorAtZero(adj.Tip))
	t.AmountDue = t.Total.Add(t.Tip)
	return t
}

func (c Calculator) discount(subtotal decimal.Decimal, adj Adjustment) decimal.Decimal {
	switch adj.DiscountType {
	case DiscountPercentage:
		pct := clampPercent(adj.DiscountValue, true)
		return c.Round(subtotal.Mul(pct).Div(hundred))
	case DiscountFixed:
		return decimal.Min(c.Round(floorAtZero(adj.DiscountValue)), subtotal)
	default:
		return zero
	}
}

// clampPercent floors p at zero and, when capped, limits it to 100.
func clampPercent(p decimal.Decimal, capped bool) decimal.Decimal {
	p = floorAtZero(p)
	if capped && p.GreaterThan(hundred) {
		return hundred
	}
	return p
}

func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return zero
	}
	return d
}

// Package cart holds the client-side shopping cart: a list of lines with
// price snapshots plus order-level adjustments. A Cart is a plain value owned
// by one session and passed explicitly; it is never shared across requests.
package cart

import (
	"math"
	"slices"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/pos-checkout/internal/domain/catalog"
	"github.com/xenking/pos-checkout/internal/domain/pricing"
)

// ErrLineNotFound is returned when a cart operation targets an item that is
// not in the cart.
var ErrLineNotFound = errors.New("item not in cart")

// Line is a single cart entry. UnitPrice is copied from the catalog when the
// item is added and does not follow later catalog changes.
type Line struct {
	ItemID   string
	Name     string
	Kind     catalog.Kind
	Quantity int
	// UnitPrice is the catalog price at add time.
	UnitPrice decimal.Decimal
}

// Cart is an open, mutable cart.
type Cart struct {
	lines      []Line
	adjustment pricing.Adjustment
	couponCode string
}

// New returns an empty cart.
func New() *Cart {
	return &Cart{}
}

// Add puts qty units of item into the cart, merging with an existing line for
// the same item. Non-positive quantities are ignored. A merged quantity
// saturates at math.MaxInt instead of wrapping.
func (c *Cart) Add(item catalog.Item, qty int) {
	if qty < 1 {
		return
	}
	if i := c.index(item.ID); i >= 0 {
		if c.lines[i].Quantity > math.MaxInt-qty {
			c.lines[i].Quantity = math.MaxInt
			return
		}
		c.lines[i].Quantity += qty
		return
	}
	c.lines = append(c.lines, Line{
		ItemID:    item.ID,
		Name:      item.Name,
		Kind:      item.Kind,
		Quantity:  qty,
		UnitPrice: item.UnitPrice,
	})
}

// SetQuantity replaces the quantity of an existing line. A quantity below one
// removes the line.
func (c *Cart) SetQuantity(itemID string, qty int) error {
	i := c.index(itemID)
	if i < 0 {
		return ErrLineNotFound
	}
	if qty < 1 {
		c.lines = slices.Delete(c.lines, i, i+1)
		return nil
	}
	c.lines[i].Quantity = qty
	return nil
}

// Remove drops the line for itemID.
func (c *Cart) Remove(itemID string) error {
	return c.SetQuantity(itemID, 0)
}

// SetAdjustment replaces the order-level discount, tax and tip.
func (c *Cart) SetAdjustment(adj pricing.Adjustment) {
	c.adjustment = adj
}

// Adjustment returns the current order-level adjustment.
func (c *Cart) Adjustment() pricing.Adjustment {
	return c.adjustment
}

// ApplyCoupon records a coupon code to be resolved at checkout.
func (c *Cart) ApplyCoupon(code string) {
	c.couponCode = code
}

// CouponCode returns the coupon code, if any.
func (c *Cart) CouponCode() string {
	return c.couponCode
}

// Clear empties the cart after a successful checkout or on abandonment.
func (c *Cart) Clear() {
	c.lines = nil
	c.adjustment = pricing.Adjustment{}
	c.couponCode = ""
}

// Lines returns a copy of the cart lines in insertion order.
func (c *Cart) Lines() []Line {
	return slices.Clone(c.lines)
}

// Len returns the number of distinct lines.
func (c *Cart) Len() int {
	return len(c.lines)
}

// PricingLines converts the cart into pricing input.
func (c *Cart) PricingLines() []pricing.Line {
	out := make([]pricing.Line, len(c.lines))
	for i, l := range c.lines {
		out[i] = pricing.Line{
			ItemID:    l.ItemID,
			Kind:      l.Kind,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
		}
	}
	return out
}

// Draft prices the cart as it stands. Stock is not consulted.
func (c *Cart) Draft(calc pricing.Calculator) pricing.Totals {
	return calc.Calculate(c.PricingLines(), c.adjustment)
}

func (c *Cart) index(itemID string) int {
	return slices.IndexFunc(c.lines, func(l Line) bool { return l.ItemID == itemID })
}

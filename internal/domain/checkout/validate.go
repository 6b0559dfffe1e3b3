package checkout

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/xenking/pos-checkout/internal/domain/pricing"
)

var hundred = decimal.NewFromInt(100)

// validateRequest performs every check that needs neither the catalog nor
// the store.
func validateRequest(req Request) error {
	if err := validateLines(req.Lines); err != nil {
		return err
	}
	if strings.TrimSpace(req.Customer.ID) == "" && strings.TrimSpace(req.Customer.Name) == "" {
		return ErrMissingCustomer
	}
	if err := validateAdjustment(req.Adjustment, req.CouponCode); err != nil {
		return err
	}
	return validatePayment(req.Payment)
}

func validateLines(lines []LineRequest) error {
	if len(lines) == 0 {
		return ErrEmptyCart
	}
	for _, l := range lines {
		if strings.TrimSpace(l.ItemID) == "" {
			return &ValidationError{Field: "lines.itemId", Reason: "item id is required"}
		}
		if l.Quantity < 1 || l.Quantity > MaxLineQuantity {
			return &InvalidQuantityError{ItemID: l.ItemID, Quantity: l.Quantity}
		}
		if l.Kind != "" && !l.Kind.Valid() {
			return &ValidationError{Field: "lines.kind", Reason: "unknown kind " + string(l.Kind)}
		}
	}
	return nil
}

func validateAdjustment(adj pricing.Adjustment, couponCode string) error {
	for _, a := range []struct {
		field string
		v     decimal.Decimal
	}{
		{"discount", adj.DiscountValue},
		{"taxRate", adj.TaxPercent},
		{"tip", adj.Tip},
	} {
		if !pricing.InRange(a.v) {
			return &ValidationError{Field: a.field, Reason: "out of range"}
		}
	}
	if !adj.DiscountType.Valid() {
		return &ValidationError{Field: "discountType", Reason: "must be percentage or fixed"}
	}
	if adj.DiscountValue.IsNegative() {
		return &ValidationError{Field: "discount", Reason: "must not be negative"}
	}
	if adj.DiscountType == pricing.DiscountPercentage && adj.DiscountValue.GreaterThan(hundred) {
		return &ValidationError{Field: "discount", Reason: "percentage must not exceed 100"}
	}
	if adj.DiscountType == pricing.DiscountNone && !adj.DiscountValue.IsZero() {
		return &ValidationError{Field: "discountType", Reason: "required when a discount is given"}
	}
	if adj.TaxPercent.IsNegative() {
		return &ValidationError{Field: "taxRate", Reason: "must not be negative"}
	}
	if adj.TaxPercent.GreaterThan(hundred) {
		return &ValidationError{Field: "taxRate", Reason: "must not exceed 100"}
	}
	if adj.Tip.IsNegative() {
		return &ValidationError{Field: "tip", Reason: "must not be negative"}
	}
	if strings.TrimSpace(couponCode) != "" && !adj.DiscountValue.IsZero() {
		return &ValidationError{Field: "couponCode", Reason: "cannot be combined with a manual discount"}
	}
	return nil
}

func validatePayment(p Payment) error {
	if p.Method == "" {
		return &ValidationError{Field: "paymentMethod", Reason: "payment method is required"}
	}
	if !p.Method.Valid() {
		return &ValidationError{Field: "paymentMethod", Reason: "unsupported payment method " + string(p.Method)}
	}
	if p.Status != "" && (!p.Status.Valid() || p.Status == PaymentCancelled) {
		return &ValidationError{Field: "paymentStatus", Reason: "must be pending, paid or partial"}
	}
	if !pricing.InRange(p.AmountTendered) {
		return &ValidationError{Field: "amountTendered", Reason: "out of range"}
	}
	if p.AmountTendered.IsNegative() {
		return &ValidationError{Field: "amountTendered", Reason: "must not be negative"}
	}
	return nil
}

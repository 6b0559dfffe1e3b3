package receipt

import (
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// Encode writes the receipt as a JSON object. Amounts are JSON numbers with
// exactly Header.Scale fraction digits.
func (r *Receipt) Encode(e *jx.Encoder) {
	money := func(name string, d decimal.Decimal) {
		e.FieldStart(name)
		e.Num(jx.Num(d.StringFixed(r.Header.Scale)))
	}

	e.ObjStart()
	e.FieldStart("business")
	e.ObjStart()
	e.FieldStart("name")
	e.Str(r.Header.BusinessName)
	e.FieldStart("address")
	e.Str(r.Header.Address)
	e.FieldStart("phone")
	e.Str(r.Header.Phone)
	e.ObjEnd()
	e.FieldStart("number")
	e.Str(r.Number)
	e.FieldStart("issuedAt")
	e.Str(r.IssuedAt.UTC().Format(time.RFC3339))
	e.FieldStart("customer")
	e.Str(r.Customer)
	if r.CustomerPhone != "" {
		e.FieldStart("customerPhone")
		e.Str(r.CustomerPhone)
	}
	if r.Cashier != "" {
		e.FieldStart("cashier")
		e.Str(r.Cashier)
	}

	e.FieldStart("lines")
	e.ArrStart()
	for _, l := range r.Lines {
		e.ObjStart()
		e.FieldStart("name")
		e.Str(l.Name)
		e.FieldStart("kind")
		e.Str(l.Kind)
		e.FieldStart("quantity")
		e.Int(l.Quantity)
		money("unitPrice", l.UnitPrice)
		money("total", l.Total)
		e.ObjEnd()
	}
	e.ArrEnd()

	money("subtotal", r.Subtotal)
	money("discount", r.Discount)
	if r.CouponCode != "" {
		e.FieldStart("couponCode")
		e.Str(r.CouponCode)
	}
	e.FieldStart("taxRate")
	e.Num(jx.Num(r.TaxPercent.String()))
	money("tax", r.Tax)
	money("total", r.Total)
	money("tip", r.Tip)
	money("amountDue", r.AmountDue)
	money("tendered", r.Tendered)
	money("change", r.Change)
	money("balanceDue", r.BalanceDue)
	e.FieldStart("paymentMethod")
	e.Str(r.PaymentMethod)
	e.FieldStart("status")
	e.Str(string(r.Status))
	if r.VoidReason != "" {
		e.FieldStart("voidReason")
		e.Str(r.VoidReason)
	}
	e.ObjEnd()
}

// MarshalJSON implements json.Marshaler.
func (r *Receipt) MarshalJSON() ([]byte, error) {
	var e jx.Encoder
	r.Encode(&e)
	return e.Bytes(), nil
}

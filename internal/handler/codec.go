package handler

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/pos-checkout/internal/domain/catalog"
	"github.com/xenking/pos-checkout/internal/domain/checkout"
	"github.com/xenking/pos-checkout/internal/domain/pricing"
)

// badRequestError is a malformed JSON body.
type badRequestError struct {
	Field string
	Err   error
}

func (e *badRequestError) Error() string {
	if e.Field == "" {
		return "invalid body: " + e.Err.Error()
	}
	return "invalid " + e.Field + ": " + e.Err.Error()
}

func (e *badRequestError) Unwrap() error { return e.Err }

func fieldErr(field string, err error) error {
	if err == nil {
		return nil
	}
	var bre *badRequestError
	if errors.As(err, &bre) {
		return err
	}
	return &badRequestError{Field: field, Err: err}
}

func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) (*jx.Decoder, error) {
	d, err := h.readOptionalBody(w, r)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, &badRequestError{Err: errors.New("empty body")}
	}
	return d, nil
}

// readOptionalBody is readBody that returns a nil decoder for an empty body.
func (h *Handler) readOptionalBody(w http.ResponseWriter, r *http.Request) (*jx.Decoder, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		return nil, &badRequestError{Err: err}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	return jx.DecodeBytes(data), nil
}

var errAmountOutOfRange = errors.New("amount out of range")

// decodeMoney accepts a JSON number or a numeric string and parses it exactly.
// Values outside pricing.InRange are rejected before any arithmetic.
func decodeMoney(d *jx.Decoder) (decimal.Decimal, error) {
	var raw string
	switch d.Next() {
	case jx.Null:
		return decimal.Zero, d.Null()
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		if s == "" {
			return decimal.Zero, nil
		}
		raw = s
	default:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		raw = string(n)
	}

	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, err
	}
	if !pricing.InRange(v) {
		return decimal.Zero, errAmountOutOfRange
	}
	return v, nil
}

func decodeString(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

func decodeLines(d *jx.Decoder) ([]checkout.LineRequest, error) {
	var lines []checkout.LineRequest
	err := d.Arr(func(d *jx.Decoder) error {
		var l checkout.LineRequest
		if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			switch string(key) {
			case "itemId":
				s, err := d.Str()
				l.ItemID = s
				return fieldErr("itemId", err)
			case "kind":
				s, err := d.Str()
				l.Kind = catalog.Kind(s)
				return fieldErr("kind", err)
			case "quantity":
				n, err := d.Int()
				l.Quantity = n
				return fieldErr("quantity", err)
			default:
				return d.Skip()
			}
		}); err != nil {
			return err
		}
		lines = append(lines, l)
		return nil
	})
	return lines, fieldErr("lines", err)
}

// pricingFields are the body fields shared by checkout and quote.
type pricingFields struct {
	lines      []checkout.LineRequest
	adj        pricing.Adjustment
	couponCode string
}

// decode reads key into p and reports whether the key was recognized.
func (p *pricingFields) decode(d *jx.Decoder, key string) (bool, error) {
	var err error
	switch key {
	case "lines":
		p.lines, err = decodeLines(d)
	case "discount":
		p.adj.DiscountValue, err = decodeMoney(d)
		err = fieldErr("discount", err)
	case "discountType":
		var s string
		s, err = decodeString(d)
		p.adj.DiscountType = pricing.DiscountType(s)
		err = fieldErr("discountType", err)
	case "taxRate":
		p.adj.TaxPercent, err = decodeMoney(d)
		err = fieldErr("taxRate", err)
	case "tip":
		p.adj.Tip, err = decodeMoney(d)
		err = fieldErr("tip", err)
	case "couponCode":
		p.couponCode, err = decodeString(d)
		err = fieldErr("couponCode", err)
	default:
		return false, nil
	}
	return true, err
}

func decodeCheckoutRequest(d *jx.Decoder) (checkout.Request, error) {
	var (
		req checkout.Request
		p   pricingFields
	)
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		if ok, err := p.decode(d, string(key)); ok {
			return err
		}
		var err error
		switch string(key) {
		case "customer":
			err = d.ObjBytes(func(d *jx.Decoder, key []byte) error {
				var err error
				switch string(key) {
				case "id":
					req.Customer.ID, err = decodeString(d)
				case "name":
					req.Customer.Name, err = decodeString(d)
				case "phone":
					req.Customer.Phone, err = decodeString(d)
				default:
					err = d.Skip()
				}
				return err
			})
			err = fieldErr("customer", err)
		case "cashierId":
			req.CashierID, err = decodeString(d)
			err = fieldErr("cashierId", err)
		case "paymentMethod":
			var s string
			s, err = decodeString(d)
			req.Payment.Method = checkout.PaymentMethod(s)
			err = fieldErr("paymentMethod", err)
		case "paymentStatus":
			var s string
			s, err = decodeString(d)
			req.Payment.Status = checkout.PaymentStatus(s)
			err = fieldErr("paymentStatus", err)
		case "amountTendered":
			req.Payment.AmountTendered, err = decodeMoney(d)
			err = fieldErr("amountTendered", err)
		case "idempotencyKey":
			req.IdempotencyKey, err = decodeString(d)
			err = fieldErr("idempotencyKey", err)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return req, fieldErr("", err)
	}
	req.Lines = p.lines
	req.Adjustment = p.adj
	req.CouponCode = p.couponCode
	return req, nil
}

func decodePricingFields(d *jx.Decoder) (pricingFields, error) {
	var p pricingFields
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		if ok, err := p.decode(d, string(key)); ok {
			return err
		}
		return d.Skip()
	})
	return p, fieldErr("", err)
}

// decodeStringField reads a single string field from an object body.
func decodeStringField(d *jx.Decoder, field string) (string, error) {
	var out string
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != field {
			return d.Skip()
		}
		s, err := decodeString(d)
		out = s
		return fieldErr(field, err)
	})
	return out, fieldErr("", err)
}

func (h *Handler) money(e *jx.Encoder, field string, d decimal.Decimal) {
	e.FieldStart(field)
	e.Num(jx.Num(d.StringFixed(h.scale)))
}

func (h *Handler) encodeItem(e *jx.Encoder, it catalog.Item) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(it.ID)
	e.FieldStart("name")
	e.Str(it.Name)
	e.FieldStart("kind")
	e.Str(string(it.Kind))
	e.FieldStart("category")
	e.Str(it.Category)
	h.money(e, "price", it.UnitPrice)
	switch it.Kind {
	case catalog.KindProduct:
		e.FieldStart("quantityOnHand")
		e.Int(it.Available())
	case catalog.KindService:
		e.FieldStart("durationMinutes")
		e.Int(it.DurationMinutes)
	}
	e.ObjEnd()
}

func (h *Handler) encodeTotals(e *jx.Encoder, t pricing.Totals) {
	h.money(e, "servicesSubtotal", t.ServicesSubtotal)
	h.money(e, "productsSubtotal", t.ProductsSubtotal)
	h.money(e, "subtotal", t.Subtotal)
	h.money(e, "discount", t.Discount)
	h.money(e, "tax", t.Tax)
	h.money(e, "total", t.Total)
	h.money(e, "tip", t.Tip)
	h.money(e, "amountDue", t.AmountDue)
}

func (h *Handler) encodeDraft(e *jx.Encoder, draft *checkout.Draft) {
	e.ObjStart()
	e.FieldStart("lines")
	e.ArrStart()
	for _, l := range draft.Cart.Lines() {
		e.ObjStart()
		e.FieldStart("itemId")
		e.Str(l.ItemID)
		e.FieldStart("name")
		e.Str(l.Name)
		e.FieldStart("kind")
		e.Str(string(l.Kind))
		e.FieldStart("quantity")
		e.Int(l.Quantity)
		h.money(e, "unitPrice", l.UnitPrice)
		e.ObjEnd()
	}
	e.ArrEnd()
	if draft.Coupon != nil {
		e.FieldStart("coupon")
		e.ObjStart()
		e.FieldStart("code")
		e.Str(draft.Coupon.Code)
		e.FieldStart("description")
		e.Str(draft.Coupon.Description)
		e.ObjEnd()
	}
	h.encodeTotals(e, draft.Totals)
	e.ObjEnd()
}

func (h *Handler) encodeTransaction(e *jx.Encoder, t *checkout.Transaction) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(t.ID)
	if t.IdempotencyKey != "" {
		e.FieldStart("idempotencyKey")
		e.Str(t.IdempotencyKey)
	}

	e.FieldStart("customer")
	e.ObjStart()
	e.FieldStart("id")
	e.Str(t.Customer.ID)
	e.FieldStart("name")
	e.Str(t.Customer.Name)
	if t.Customer.Phone != "" {
		e.FieldStart("phone")
		e.Str(t.Customer.Phone)
	}
	e.ObjEnd()
	e.FieldStart("cashierId")
	e.Str(t.CashierID)

	e.FieldStart("lines")
	e.ArrStart()
	for _, l := range t.Lines {
		e.ObjStart()
		e.FieldStart("itemId")
		e.Str(l.ItemID)
		e.FieldStart("name")
		e.Str(l.Name)
		e.FieldStart("kind")
		e.Str(string(l.Kind))
		e.FieldStart("quantity")
		e.Int(l.Quantity)
		h.money(e, "unitPrice", l.UnitPrice)
		h.money(e, "lineTotal", l.LineTotal)
		e.ObjEnd()
	}
	e.ArrEnd()

	h.money(e, "subtotal", t.Subtotal)
	h.money(e, "discount", t.Discount)
	e.FieldStart("taxRate")
	e.Num(jx.Num(t.TaxPercent.String()))
	h.money(e, "tax", t.Tax)
	h.money(e, "total", t.Total)
	h.money(e, "tip", t.Tip)
	h.money(e, "amountDue", t.AmountDue())
	h.money(e, "amountTendered", t.AmountTendered)
	h.money(e, "change", t.Change)
	if t.CouponCode != "" {
		e.FieldStart("couponCode")
		e.Str(t.CouponCode)
	}
	e.FieldStart("paymentMethod")
	e.Str(string(t.PaymentMethod))
	e.FieldStart("paymentStatus")
	e.Str(string(t.PaymentStatus))
	if t.VoidReason != "" {
		e.FieldStart("voidReason")
		e.Str(t.VoidReason)
	}
	e.FieldStart("createdAt")
	e.Str(t.CreatedAt.UTC().Format(time.RFC3339Nano))
	e.FieldStart("updatedAt")
	e.Str(t.UpdatedAt.UTC().Format(time.RFC3339Nano))
	e.ObjEnd()
}

func writeJSON(w http.ResponseWriter, status int, e *jx.Encoder) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

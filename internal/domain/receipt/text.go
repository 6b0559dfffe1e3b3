package receipt

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const minWidth = 32

// Text renders the receipt for a fixed-width printer of the given column
// count. Widths below 32 are raised to 32.
func (r *Receipt) Text(width int) string {
	if width < minWidth {
		width = minWidth
	}
	w := &textWriter{width: width}

	w.center(r.Header.BusinessName)
	w.center(r.Header.Address)
	w.center(r.Header.Phone)
	w.rule('=')

	w.pair("Receipt", r.Number)
	w.pair("Date", r.IssuedAt.UTC().Format("2006-01-02 15:04"))
	w.pair("Customer", r.Customer)
	if r.CustomerPhone != "" {
		w.pair("Phone", r.CustomerPhone)
	}
	if r.Cashier != "" {
		w.pair("Cashier", r.Cashier)
	}
	w.rule('-')

	for _, l := range r.Lines {
		w.line(l.Name)
		w.pair(fmt.Sprintf("  %d x %s", l.Quantity, r.money(l.UnitPrice)), r.money(l.Total))
	}
	w.rule('-')

	w.pair("Subtotal", r.money(r.Subtotal))
	if r.Discount.IsPositive() {
		label := "Discount"
		if r.CouponCode != "" {
			label += " (" + r.CouponCode + ")"
		}
		w.pair(label, "-"+r.money(r.Discount))
	}
	w.pair("Tax "+r.TaxPercent.String()+"%", r.money(r.Tax))
	w.pair("TOTAL", r.money(r.Total))
	if r.Tip.IsPositive() {
		w.pair("Tip", r.money(r.Tip))
		w.pair("Amount due", r.money(r.AmountDue))
	}
	w.rule('-')

	w.pair("Paid by", r.PaymentMethod)
	w.pair("Tendered", r.money(r.Tendered))
	if r.Change.IsPositive() {
		w.pair("Change", r.money(r.Change))
	}
	if r.BalanceDue.IsPositive() {
		w.pair("Balance due", r.money(r.BalanceDue))
	}
	w.rule('=')
	w.center("*** " + string(r.Status) + " ***")
	if r.VoidReason != "" {
		w.center(r.VoidReason)
	}
	w.center(r.Header.Footer)

	return w.b.String()
}

func (r *Receipt) money(d decimal.Decimal) string {
	s := d.StringFixed(r.Header.Scale)
	if r.Header.Currency == "" {
		return s
	}
	return r.Header.Currency + " " + s
}

type textWriter struct {
	b     strings.Builder
	width int
}

func (w *textWriter) line(s string) {
	w.b.WriteString(truncate(s, w.width))
	w.b.WriteByte('\n')
}

func (w *textWriter) center(s string) {
	if s == "" {
		return
	}
	s = truncate(s, w.width)
	pad := (w.width - utf8.RuneCountInString(s)) / 2
	w.line(strings.Repeat(" ", pad) + s)
}

func (w *textWriter) pair(left, right string) {
	gap := w.width - utf8.RuneCountInString(left) - utf8.RuneCountInString(right)
	if gap < 1 {
		left = truncate(left, w.width-utf8.RuneCountInString(right)-1)
		gap = 1
	}
	w.line(left + strings.Repeat(" ", gap) + right)
}

func (w *textWriter) rule(c byte) {
	w.line(strings.Repeat(string(c), w.width))
}

func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

// Filename is a stable file name for exporting the receipt.
func (r *Receipt) Filename(ext string) string {
	return "receipt-" + r.IssuedAt.UTC().Format("20060102") + "-" + r.Number + "." + strings.TrimPrefix(ext, ".")
}

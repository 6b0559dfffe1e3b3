package checkout

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// fingerprint hashes the parts of a request that affect the sale so a reused
// idempotency key can be told apart from a genuine retry.
func fingerprint(req Request) string {
	var b strings.Builder
	field := func(s string) {
		b.WriteString(strconv.Quote(s))
		b.WriteByte('|')
	}

	field(req.Customer.ID)
	field(req.Customer.Name)
	field(req.CashierID)
	for _, l := range req.Lines {
		field(l.ItemID)
		field(string(l.Kind))
		field(strconv.Itoa(l.Quantity))
	}
	field(string(req.Adjustment.DiscountType))
	field(req.Adjustment.DiscountValue.String())
	field(req.Adjustment.TaxPercent.String())
	field(req.Adjustment.Tip.String())
	field(strings.ToUpper(strings.TrimSpace(req.CouponCode)))
	field(string(req.Payment.Method))
	field(string(req.Payment.Status))
	field(req.Payment.AmountTendered.String())

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

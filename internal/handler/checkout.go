package handler

import (
	"net/http"
	"strings"

	"github.com/go-faster/jx"
)

// IdempotencyKeyHeader may carry the idempotency key instead of the body.
const IdempotencyKeyHeader = "Idempotency-Key"

// Checkout handles POST /checkout. A new sale answers 201; a replay of an
// already committed idempotency key answers 200 with the original sale.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	d, err := h.readBody(w, r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	req, err := decodeCheckoutRequest(d)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader)); key != "" && req.IdempotencyKey == "" {
		req.IdempotencyKey = key
	}

	res, err := h.engine.Checkout(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
		w.Header().Set("Idempotent-Replayed", "true")
	}
	w.Header().Set("Location", "/api/transactions/"+res.Transaction.ID)

	var e jx.Encoder
	h.encodeTransaction(&e, res.Transaction)
	writeJSON(w, status, &e)
}

// Quote handles POST /cart/quote: prices a cart without reserving stock.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	d, err := h.readBody(w, r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	p, err := decodePricingFields(d)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	draft, err := h.engine.Quote(r.Context(), p.lines, p.adj, p.couponCode)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	var e jx.Encoder
	h.encodeDraft(&e, draft)
	writeJSON(w, http.StatusOK, &e)
}

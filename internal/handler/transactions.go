package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/pos-checkout/internal/domain/checkout"
	"github.com/xenking/pos-checkout/internal/domain/receipt"
)

// GetTransaction handles GET /transactions/{id}.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	t, err := h.engine.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	h.writeTransaction(w, t)
}

// GetReceipt handles GET /transactions/{id}/receipt. format=text returns the
// printable rendering; anything else returns JSON.
func (h *Handler) GetReceipt(w http.ResponseWriter, r *http.Request) {
	t, err := h.engine.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	rc, err := receipt.Format(t, h.header)
	if err != nil {
		writeDomainError(w, r, errors.Wrap(err, "format receipt"))
		return
	}

	switch r.URL.Query().Get("format") {
	case "text":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Disposition", `inline; filename="`+rc.Filename("txt")+`"`)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(rc.Text(h.receiptWidth)))
	default:
		var e jx.Encoder
		rc.Encode(&e)
		writeJSON(w, http.StatusOK, &e)
	}
}

// UpdatePaymentStatus handles PATCH /transactions/{id}/payment-status.
func (h *Handler) UpdatePaymentStatus(w http.ResponseWriter, r *http.Request) {
	d, err := h.readBody(w, r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	status, err := decodeStringField(d, "status")
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if status == "" {
		writeError(w, r, http.StatusBadRequest, "status is required", field("status"))
		return
	}

	t, err := h.engine.UpdatePaymentStatus(r.Context(), chi.URLParam(r, "id"), checkout.PaymentStatus(status))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	h.writeTransaction(w, t)
}

// Void handles POST /transactions/{id}/void. The body is optional.
func (h *Handler) Void(w http.ResponseWriter, r *http.Request) {
	var reason string
	d, err := h.readOptionalBody(w, r)
	if err == nil && d != nil {
		reason, err = decodeStringField(d, "reason")
	}
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	t, err := h.engine.Void(r.Context(), chi.URLParam(r, "id"), reason)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	h.writeTransaction(w, t)
}

func (h *Handler) writeTransaction(w http.ResponseWriter, t *checkout.Transaction) {
	var e jx.Encoder
	h.encodeTransaction(&e, t)
	writeJSON(w, http.StatusOK, &e)
}

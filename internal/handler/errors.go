package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/pos-checkout/internal/domain/catalog"
	"github.com/xenking/pos-checkout/internal/domain/checkout"
	"github.com/xenking/pos-checkout/internal/domain/coupon"
	"github.com/xenking/pos-checkout/pkg/httpmiddleware"
)

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string, extra ...func(e *jx.Encoder)) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("code")
	e.Int(status)
	e.FieldStart("message")
	e.Str(msg)
	if id := httpmiddleware.RequestIDFromContext(r.Context()); id != "" {
		e.FieldStart("requestId")
		e.Str(id)
	}
	for _, fn := range extra {
		fn(&e)
	}
	e.ObjEnd()
	writeJSON(w, status, &e)
}

// writeDomainError maps domain errors to HTTP responses.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		badReq     *badRequestError
		validErr   *checkout.ValidationError
		stockErr   *checkout.InsufficientStockError
		notFound   *checkout.ItemNotFoundError
		transition *checkout.InvalidTransitionError
	)

	switch {
	case errors.As(err, &badReq):
		writeError(w, r, http.StatusBadRequest, badReq.Error(), field(badReq.Field))
	case errors.As(err, &stockErr):
		writeError(w, r, http.StatusConflict, stockErr.Error(), func(e *jx.Encoder) {
			e.FieldStart("itemId")
			e.Str(stockErr.ItemID)
			e.FieldStart("available")
			e.Int(stockErr.Available)
			e.FieldStart("requested")
			e.Int(stockErr.Requested)
		})
	case errors.As(err, &notFound):
		writeError(w, r, http.StatusUnprocessableEntity, notFound.Error(), field("lines"))
	case errors.As(err, &validErr):
		writeError(w, r, http.StatusBadRequest, validErr.Error(), field(validErr.Field))
	case errors.Is(err, checkout.ErrValidation):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, checkout.ErrIdempotencyKeyMismatch):
		writeError(w, r, http.StatusUnprocessableEntity, err.Error(), field("idempotencyKey"))
	case errors.Is(err, coupon.ErrInvalidCoupon),
		errors.Is(err, coupon.ErrCouponExpired),
		errors.Is(err, coupon.ErrCouponUsageLimitReached):
		writeError(w, r, http.StatusUnprocessableEntity, err.Error(), field("couponCode"))
	case errors.Is(err, checkout.ErrTransactionNotFound), errors.Is(err, catalog.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.As(err, &transition):
		writeError(w, r, http.StatusConflict, transition.Error(), func(e *jx.Encoder) {
			e.FieldStart("from")
			e.Str(string(transition.From))
			e.FieldStart("to")
			e.Str(string(transition.To))
		})
	case errors.Is(err, checkout.ErrPersistence):
		zctx.From(r.Context()).Warn("Store unavailable", zap.Error(err))
		w.Header().Set("Retry-After", "1")
		writeError(w, r, http.StatusServiceUnavailable, "store unavailable, retry the request")
	default:
		zctx.From(r.Context()).Error("Unhandled error", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func field(name string) func(e *jx.Encoder) {
	return func(e *jx.Encoder) {
		if name == "" {
			return
		}
		e.FieldStart("field")
		e.Str(name)
	}
}

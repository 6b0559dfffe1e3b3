// Package handler exposes the checkout engine over HTTP.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/pos-checkout/internal/domain/catalog"
	"github.com/xenking/pos-checkout/internal/domain/checkout"
	"github.com/xenking/pos-checkout/internal/domain/pricing"
	"github.com/xenking/pos-checkout/internal/domain/receipt"
)

// Engine is the checkout surface used by the handlers.
type Engine interface {
	Checkout(ctx context.Context, req checkout.Request) (*checkout.Result, error)
	Quote(ctx context.Context, lines []checkout.LineRequest, adj pricing.Adjustment, couponCode string) (*checkout.Draft, error)
	Get(ctx context.Context, id string) (*checkout.Transaction, error)
	UpdatePaymentStatus(ctx context.Context, id string, status checkout.PaymentStatus) (*checkout.Transaction, error)
	Void(ctx context.Context, id, reason string) (*checkout.Transaction, error)
}

var _ Engine = (*checkout.Engine)(nil)

// HandlerConfig holds non-dependency configuration for the Handler.
type HandlerConfig struct {
	// Scale is the number of fraction digits used for money in responses.
	Scale int32
	// Receipt is the letterhead printed on receipts.
	Receipt receipt.Header
	// ReceiptWidth is the column count of text receipts.
	ReceiptWidth int
	// MaxBodyBytes caps request bodies. Defaults to 1 MiB.
	MaxBodyBytes int64
}

// Handler serves the /api routes.
type Handler struct {
	items  catalog.Reader
	engine Engine

	scale        int32
	header       receipt.Header
	receiptWidth int
	maxBody      int64
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(cfg HandlerConfig, items catalog.Reader, engine Engine) *Handler {
	if cfg.ReceiptWidth <= 0 {
		cfg.ReceiptWidth = 42
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	cfg.Receipt.Scale = cfg.Scale
	return &Handler{
		items:        items,
		engine:       engine,
		scale:        cfg.Scale,
		header:       cfg.Receipt,
		receiptWidth: cfg.ReceiptWidth,
		maxBody:      cfg.MaxBodyBytes,
	}
}

// Routes mounts the API on a chi router. Paths are relative to /api.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/checkout", h.Checkout)
	r.Post("/cart/quote", h.Quote)

	r.Get("/items", h.ListItems)
	r.Get("/items/{itemId}", h.GetItem)

	r.Route("/transactions/{id}", func(r chi.Router) {
		r.Get("/", h.GetTransaction)
		r.Get("/receipt", h.GetReceipt)
		r.Patch("/payment-status", h.UpdatePaymentStatus)
		r.Post("/void", h.Void)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

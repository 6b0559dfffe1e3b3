package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/pos-checkout/internal/domain/catalog"
)

// ListItems handles GET /items.
func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.items.List(r.Context())
	if err != nil {
		writeDomainError(w, r, errors.Wrap(err, "list items"))
		return
	}

	kind := catalog.Kind(r.URL.Query().Get("kind"))
	var e jx.Encoder
	e.ArrStart()
	for _, it := range items {
		if kind != "" && it.Kind != kind {
			continue
		}
		h.encodeItem(&e, it)
	}
	e.ArrEnd()
	writeJSON(w, http.StatusOK, &e)
}

// GetItem handles GET /items/{itemId}.
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	it, err := h.items.GetItem(r.Context(), chi.URLParam(r, "itemId"))
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "item not found")
			return
		}
		writeDomainError(w, r, errors.Wrap(err, "get item"))
		return
	}

	var e jx.Encoder
	h.encodeItem(&e, *it)
	writeJSON(w, http.StatusOK, &e)
}

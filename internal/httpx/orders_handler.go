package httpx

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-art-storefront/internal/checkout"
	"github.com/ariefcatur/go-art-storefront/internal/orders"
)

type OrdersHandler struct {
	Checkout *checkout.Service
	Log      *zap.Logger
}

// Register mounts the order routes. auth guards everything below it.
func (h *OrdersHandler) Register(r chi.Router, auth func(http.Handler) http.Handler) {
	r.Post("/shipping/quote", h.quote)
	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Post("/orders", h.createOrder)
		r.Get("/orders", h.listMine)
		r.Get("/orders/{id}", h.getOrder)
		r.Get("/orders/{id}/status", h.getStatus)

		r.Route("/admin/orders", func(r chi.Router) {
			r.Use(RequireAdmin)
			r.Get("/", h.listAll)
			r.Patch("/{id}/status", h.updateStatus)
			r.Patch("/{id}/payment", h.updatePayment)
		})
	})
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req checkout.PlaceRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	o, err := h.Checkout.Place(r.Context(), viewer(r).UserID, req)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (h *OrdersHandler) listMine(w http.ResponseWriter, r *http.Request) {
	out, err := h.Checkout.ListMine(r.Context(), viewer(r))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Checkout.Get(r.Context(), viewer(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	s, err := h.Checkout.Status(r.Context(), viewer(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *OrdersHandler) listAll(w http.ResponseWriter, r *http.Request) {
	out, err := h.Checkout.ListAll(r.Context(), orders.Status(r.URL.Query().Get("status")))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type statusReq struct {
	Status string `json:"status"`
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusReq
	if err := decode(w, r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	o, err := h.Checkout.Transition(r.Context(), chi.URLParam(r, "id"), orders.Status(req.Status))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) updatePayment(w http.ResponseWriter, r *http.Request) {
	var req statusReq
	if err := decode(w, r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	o, err := h.Checkout.SetPaymentStatus(r.Context(), chi.URLParam(r, "id"), orders.PaymentStatus(req.Status))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) quote(w http.ResponseWriter, r *http.Request) {
	var req checkout.QuoteRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	q, err := h.Checkout.Quote(r.Context(), req)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

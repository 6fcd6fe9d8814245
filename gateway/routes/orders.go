package routes

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"paymebridge/gateway/middleware"
	"paymebridge/orders"
)

const maxOrderBody = 16 << 10

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if r.ContentLength == 0 {
		return true
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxOrderBody))
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (s *server) orderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orders.ErrNotFound):
		writeError(w, http.StatusNotFound, "Order not found")
	case errors.Is(err, orders.ErrInvalidOrder), errors.Is(err, orders.ErrUnknownProduct):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.cfg.Logger.Error("orders: request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *server) createOrder(w http.ResponseWriter, r *http.Request) {
	var in orders.CreateInput
	if !decodeBody(w, r, &in) {
		return
	}
	order, err := s.cfg.Orders.Create(r.Context(), in)
	if err != nil {
		s.orderError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success":    true,
		"order_id":   order.ID.String(),
		"product_id": order.ProductID,
		"amount":     order.Amount,
		"qr_url":     order.CheckoutURL,
	})
}

func (s *server) cancelOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.cfg.Orders.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.orderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"order_id": order.ID.String(),
		"status":   order.Status,
	})
}

func (s *server) listOrders(w http.ResponseWriter, r *http.Request) {
	list, err := s.cfg.Orders.List(r.Context())
	if err != nil {
		s.orderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":  len(list),
		"orders": list,
	})
}

func (s *server) getPrices(w http.ResponseWriter, r *http.Request) {
	prices, err := s.cfg.Catalog.Prices(r.Context())
	if err != nil {
		s.orderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prices)
}

func (s *server) setPrices(w http.ResponseWriter, r *http.Request) {
	var upd orders.PriceUpdate
	if !decodeBody(w, r, &upd) {
		return
	}
	prices, err := s.cfg.Catalog.Update(r.Context(), upd)
	if err != nil {
		s.orderError(w, err)
		return
	}
	s.cfg.Logger.Info("prices updated", "by", middleware.AdminSubject(r.Context()), "count", len(prices.Prices))
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "prices": prices})
}

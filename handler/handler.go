// Package handler is the HTTP boundary. Authentication happens upstream; the
// trusted gateway forwards the authenticated principal in headers, and this
// layer only maps requests to service calls and error kinds to status codes.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"procurement/model"
	"procurement/service"
	"procurement/store"
)

type Handler struct {
	svc service.ServiceInterface
	log *logrus.Logger
}

func NewHandler(svc service.ServiceInterface, log *logrus.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.Use(h.requestID)

	// Catalog
	r.HandleFunc("/catalog", h.Catalog).Methods("GET")

	// Basket
	r.HandleFunc("/basket", h.GetBasket).Methods("GET")
	r.HandleFunc("/basket/items", h.AddItem).Methods("POST")
	r.HandleFunc("/basket/items/{id:[0-9]+}", h.UpdateItem).Methods("PATCH")
	r.HandleFunc("/basket/items/{id:[0-9]+}", h.RemoveItem).Methods("DELETE")

	// Checkout
	r.HandleFunc("/basket/checkout", h.Checkout).Methods("POST")

	// Orders
	r.HandleFunc("/orders", h.ListOrders).Methods("GET")
	r.HandleFunc("/orders/{id:[0-9]+}", h.GetOrder).Methods("GET")
	r.HandleFunc("/orders/{id:[0-9]+}/status", h.SetOrderStatus).Methods("POST")

	// Partner
	r.HandleFunc("/partner/update", h.ImportPriceList).Methods("POST")
	r.HandleFunc("/partner/state", h.SetShopState).Methods("POST")
	r.HandleFunc("/partner/orders", h.ShopOrders).Methods("GET")
}

// requestID tags each request with a correlation id for the logs.
func (h *Handler) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		h.log.WithFields(logrus.Fields{
			"request_id": id,
			"method":     r.Method,
			"path":       r.URL.Path,
		}).Debug("request")
		next.ServeHTTP(w, r)
	})
}

// principal reads the authenticated caller forwarded by the gateway.
func principal(r *http.Request) (model.Principal, bool) {
	id, err := strconv.ParseInt(r.Header.Get("X-User-ID"), 10, 64)
	if err != nil || id <= 0 {
		return model.Principal{}, false
	}
	role := model.Role(r.Header.Get("X-User-Role"))
	switch role {
	case model.RoleBuyer, model.RoleSupplier, model.RoleAdmin:
	default:
		role = model.RoleBuyer
	}
	return model.Principal{ID: id, Email: r.Header.Get("X-User-Email"), Role: role}, true
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// writeServiceErr maps error kinds to transport status codes: conflicts that
// aborted a transaction are 409, scoping misses are 404, permission problems
// 403, everything unrecognized 500.
func (h *Handler) writeServiceErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrEmptyBasket),
		errors.Is(err, store.ErrShopDisabled),
		errors.Is(err, store.ErrInsufficientStock),
		errors.Is(err, store.ErrOutOfStock),
		errors.Is(err, store.ErrCheckoutConflict),
		errors.Is(err, store.ErrBadTransition),
		errors.Is(err, store.ErrInventoryRecordMissing):
		writeErr(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrItemNotFound), errors.Is(err, store.ErrShopMissing):
		writeErr(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrNotAuthorized):
		writeErr(w, http.StatusForbidden, err.Error())
	default:
		h.log.WithError(err).Error("internal error")
		writeErr(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) Catalog(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.Catalog()
	if err != nil {
		h.writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) GetBasket(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(r)
	if !ok {
		writeErr(w, http.StatusUnauthorized, "missing principal")
		return
	}
	basket, err := h.svc.GetBasket(p)
	if err != nil {
		h.writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, basket)
}

type addItemReq struct {
	ProductID int64 `json:"product_id"`
	ShopID    int64 `json:"shop_id"`
	Quantity  int   `json:"quantity"`
}

func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(r)
	if !ok {
		writeErr(w, http.StatusUnauthorized, "missing principal")
		return
	}
	var req addItemReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Quantity < 1 {
		writeErr(w, http.StatusBadRequest, "quantity must be >= 1")
		return
	}
	basket, err := h.svc.AddItem(p, req.ProductID, req.ShopID, req.Quantity)
	if err != nil {
		h.writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, basket)
}

type updateItemReq struct {
	Quantity int `json:"quantity"`
}

func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(r)
	if !ok {
		writeErr(w, http.StatusUnauthorized, "missing principal")
		return
	}
	lineID, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	var req updateItemReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Quantity < 1 {
		writeErr(w, http.StatusBadRequest, "quantity must be >= 1")
		return
	}
	basket, err := h.svc.UpdateItem(p, lineID, req.Quantity)
	if err != nil {
		h.writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, basket)
}

func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(r)
	if !ok {
		writeErr(w, http.StatusUnauthorized, "missing principal")
		return
	}
	lineID, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	basket, err := h.svc.RemoveItem(p, lineID)
	if err != nil {
		h.writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, basket)
}

func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(r)
	if !ok {
		writeErr(w, http.StatusUnauthorized, "missing principal")
		return
	}
	order, err := h.svc.Checkout(p)
	if err != nil {
		h.writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(r)
	if !ok {
		writeErr(w, http.StatusUnauthorized, "missing principal")
		return
	}
	orders, err := h.svc.ListOrders(p)
	if err != nil {
		h.writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(r)
	if !ok {
		writeErr(w, http.StatusUnauthorized, "missing principal")
		return
	}
	orderID, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	order, err := h.svc.GetOrder(p, orderID)
	if err != nil {
		h.writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

type setStatusReq struct {
	Status string `json:"status"`
}

func (h *Handler) SetOrderStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(r)
	if !ok {
		writeErr(w, http.StatusUnauthorized, "missing principal")
		return
	}
	orderID, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	var req setStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.svc.SetOrderStatus(p, orderID, model.OrderStatus(req.Status)); err != nil {
		h.writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": req.Status})
}

func (h *Handler) ImportPriceList(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(r)
	if !ok {
		writeErr(w, http.StatusUnauthorized, "missing principal")
		return
	}
	var feed service.PriceListDTO
	if err := json.NewDecoder(r.Body).Decode(&feed); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	n, err := h.svc.ImportPriceList(p, feed)
	if err != nil {
		h.writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"imported": n})
}

type shopStateReq struct {
	Accepting bool `json:"accepting_orders"`
}

func (h *Handler) SetShopState(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(r)
	if !ok {
		writeErr(w, http.StatusUnauthorized, "missing principal")
		return
	}
	var req shopStateReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.svc.SetShopState(p, req.Accepting); err != nil {
		h.writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"accepting_orders": req.Accepting})
}

func (h *Handler) ShopOrders(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(r)
	if !ok {
		writeErr(w, http.StatusUnauthorized, "missing principal")
		return
	}
	lines, err := h.svc.ShopOrders(p)
	if err != nil {
		h.writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lines)
}

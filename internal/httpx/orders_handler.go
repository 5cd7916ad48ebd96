package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-resto-orders/internal/logging"
	"github.com/ariefcatur/go-resto-orders/internal/orders"
	"github.com/ariefcatur/go-resto-orders/internal/redisx"
)

type OrderService interface {
	Submit(ctx context.Context, req orders.ReservationRequest) (string, error)
	Quote(ctx context.Context, req orders.ReservationRequest) (orders.Quote, error)
	Advance(ctx context.Context, orderID string, to orders.Status) error
	Get(ctx context.Context, orderID string) (*orders.Order, error)
	Recent(ctx context.Context, limit int) ([]orders.Order, error)
	Products(ctx context.Context) ([]orders.Product, error)
}

type StatusCache interface {
	Get(ctx context.Context, orderID string) (redisx.OrderStatus, bool)
	Put(ctx context.Context, s redisx.OrderStatus) error
	Invalidate(ctx context.Context, orderID string) error
}

type OrdersHandler struct {
	Orders OrderService
	Cache  StatusCache // optional
}

// CreateOrderReq is the storefront cart. Payment status is not accepted from
// clients; paid orders only come from payment confirmations.
type CreateOrderReq struct {
	Kind          orders.Kind        `json:"kind"`
	Customer      orders.Customer    `json:"customer"`
	Notes         string             `json:"notes"`
	FulfillmentAt time.Time          `json:"fulfillment_at"`
	Items         []orders.ItemInput `json:"items"`
}

func (c CreateOrderReq) reservation() orders.ReservationRequest {
	return orders.ReservationRequest{
		Kind:          c.Kind,
		Customer:      c.Customer,
		Notes:         c.Notes,
		FulfillmentAt: c.FulfillmentAt,
		Items:         c.Items,
		PaymentStatus: orders.PaymentUnpaid,
	}
}

type CreateOrderResp struct {
	OrderID string `json:"order_id"`
}

type updateStatusReq struct {
	Status orders.Status `json:"status"`
}

func (h *OrdersHandler) Register(r chi.Router, admin func(http.Handler) http.Handler) {
	r.Post("/orders", h.createOrder)
	r.Post("/orders/quote", h.quote)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/products", h.listProducts)

	r.Group(func(r chi.Router) {
		r.Use(admin)
		r.Get("/admin/orders", h.listRecent)
		r.Get("/admin/orders/{id}", h.getOrderDetail)
		r.Patch("/admin/orders/{id}/status", h.updateStatus)
	})
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderReq
	if err := decode(w, r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	id, err := h.Orders.Submit(ctx, req.reservation())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateOrderResp{OrderID: id})
}

func (h *OrdersHandler) quote(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderReq
	if err := decode(w, r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	q, err := h.Orders.Quote(ctx, req.reservation())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func statusOf(o *orders.Order) redisx.OrderStatus {
	return redisx.OrderStatus{
		OrderID:       o.ID,
		Kind:          string(o.Kind),
		Status:        string(o.Status),
		PaymentStatus: string(o.PaymentStatus),
		Total:         o.Total.StringFixed(2),
		UpdatedAt:     o.UpdatedAt,
	}
}

// getOrder serves the customer tracking view, cache first.
func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if h.Cache != nil {
		if s, ok := h.Cache.Get(ctx, orderID); ok {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}

	o, err := h.Orders.Get(ctx, orderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s := statusOf(o)
	if h.Cache != nil {
		if err := h.Cache.Put(ctx, s); err != nil {
			logging.Warn(ctx, "status cache write failed", zap.String("order_id", orderID), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *OrdersHandler) getOrderDetail(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Orders.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) listRecent(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			badRequest(w, "limit must be a number")
			return
		}
		limit = n
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	list, err := h.Orders.Recent(ctx, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []orders.Order{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	var req updateStatusReq
	if err := decode(w, r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.Orders.Advance(ctx, orderID, req.Status); err != nil {
		writeError(w, r, err)
		return
	}
	h.refreshStatus(ctx, orderID)
	writeJSON(w, http.StatusOK, map[string]string{"order_id": orderID, "status": string(req.Status)})
}

// refreshStatus writes the post-transition status through to the cache. The
// cache keeps the entry with the latest updated_at, so a tracking read racing
// the transition cannot put the old status back. Dropping the entry is the
// fallback when the write-through fails.
func (h *OrdersHandler) refreshStatus(ctx context.Context, orderID string) {
	if h.Cache == nil {
		return
	}
	o, err := h.Orders.Get(ctx, orderID)
	if err == nil {
		err = h.Cache.Put(ctx, statusOf(o))
	}
	if err == nil {
		return
	}
	logging.Warn(ctx, "status cache refresh failed", zap.String("order_id", orderID), zap.Error(err))
	if err := h.Cache.Invalidate(ctx, orderID); err != nil {
		logging.Warn(ctx, "status cache invalidate failed", zap.String("order_id", orderID), zap.Error(err))
	}
}

func (h *OrdersHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Orders.Products(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if ps == nil {
		ps = []orders.Product{}
	}
	writeJSON(w, http.StatusOK, ps)
}

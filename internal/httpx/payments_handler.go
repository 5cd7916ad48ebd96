package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-resto-orders/internal/payment"
)

type Reconciler interface {
	Reconcile(ctx context.Context, token string) (string, error)
}

type PaymentsHandler struct {
	Orders     OrderService
	Gateway    payment.Gateway
	Reconciler Reconciler
	Currency   string
}

type CheckoutResp struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
	Total     string `json:"total"`
}

type confirmationReq struct {
	SessionID string `json:"session_id"`
}

type ConfirmationResp struct {
	OrderID string `json:"order_id"`
}

func (h *PaymentsHandler) Register(r chi.Router) {
	r.Post("/checkout", h.checkout)
	r.Post("/payments/confirmations", h.confirm)
}

// checkout prices the cart without reserving stock and opens a gateway
// session carrying it. Stock is reserved when the payment is confirmed.
func (h *PaymentsHandler) checkout(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderReq
	if err := decode(w, r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	res := req.reservation()
	q, err := h.Orders.Quote(ctx, res)
	if err != nil {
		writeError(w, r, err)
		return
	}
	sess, err := h.Gateway.CreateSession(ctx, payment.CheckoutRequest{
		Quote:    q,
		Metadata: payment.MetadataFrom(res),
		Currency: h.Currency,
	})
	if err != nil {
		writeJSON(w, http.StatusBadGateway, errorBody{Error: "payment gateway unavailable", Reason: "gateway_error"})
		return
	}
	writeJSON(w, http.StatusOK, CheckoutResp{SessionID: sess.ID, URL: sess.URL, Total: q.Total.StringFixed(2)})
}

// confirm is called by the storefront success page and by gateway webhooks,
// any number of times per session.
func (h *PaymentsHandler) confirm(w http.ResponseWriter, r *http.Request) {
	var req confirmationReq
	if err := decode(w, r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	id, err := h.Reconciler.Reconcile(ctx, req.SessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ConfirmationResp{OrderID: id})
}

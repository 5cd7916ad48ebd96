package httpx

import (
	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-resto-orders/internal/payment"
)

type Deps struct {
	Orders     OrderService
	Cache      StatusCache
	Gateway    payment.Gateway
	Reconciler Reconciler
	Stream     *StreamHandler
	AdminToken string
	Currency   string
}

// NewAPI mounts every route of the order API.
func NewAPI(d Deps) *chi.Mux {
	r := NewRouter()
	if d.Stream != nil {
		r.Handle("/ws", d.Stream)
	}
	r.Group(func(r chi.Router) {
		r.Use(Timeout())
		oh := &OrdersHandler{Orders: d.Orders, Cache: d.Cache}
		oh.Register(r, RequireToken(d.AdminToken))
		ph := &PaymentsHandler{Orders: d.Orders, Gateway: d.Gateway, Reconciler: d.Reconciler, Currency: d.Currency}
		ph.Register(r)
	})
	return r
}

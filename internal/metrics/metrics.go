package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_submitted_total",
		Help: "Orders committed by the coordinator, by fulfillment kind.",
	}, []string{"kind"})

	OrdersRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_rejected_total",
		Help: "Order submissions rejected, by reason.",
	}, []string{"reason"})

	StatusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_status_transitions_total",
		Help: "Successful order status transitions, by target status.",
	}, []string{"status"})

	Reconciliations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_reconciliations_total",
		Help: "Payment confirmation outcomes: created, duplicate, conflict, failed.",
	}, []string{"outcome"})

	StreamSubscribers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "stream_subscribers",
		Help: "Currently attached push subscribers, by topic class.",
	}, []string{"class"})

	StreamDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stream_dropped_subscribers_total",
		Help: "Subscribers removed because delivery failed or their buffer was full.",
	})

	StreamPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_events_published_total",
		Help: "Events published to the broadcaster, by event name.",
	}, []string{"event"})
)

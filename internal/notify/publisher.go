// Package notify carries order events over the kafka log to the customer
// email sender.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/trace"

	kafkax "github.com/ariefcatur/go-resto-orders/internal/kafka"
	"github.com/ariefcatur/go-resto-orders/internal/orders"
)

var ErrBackpressure = errors.New("order event log is saturated")

type Producer interface {
	Publish(ctx context.Context, key, value []byte, headers ...kafkago.Header) bool
}

// KafkaNotifier implements orders.Notifier by appending envelopes to the
// order-event log. Emails are sent by the consumer side.
type KafkaNotifier struct {
	Created Producer // order.created
	Updated Producer // order.status_updated
	Service string
	Now     func() time.Time
}

var _ orders.Notifier = (*KafkaNotifier)(nil)

func (n *KafkaNotifier) OrderPlaced(ctx context.Context, o *orders.Order) error {
	return n.publish(ctx, n.Created, orders.EventOrderCreated, o.ID, orders.OrderCreatedPayload{Order: *o})
}

func (n *KafkaNotifier) StatusChanged(ctx context.Context, o *orders.Order, from orders.Status) error {
	return n.publish(ctx, n.Updated, orders.EventOrderStatusUpdated, o.ID,
		orders.OrderStatusUpdatedPayload{Order: *o, PreviousStatus: from})
}

func (n *KafkaNotifier) publish(ctx context.Context, p Producer, eventType, orderID string, payload any) error {
	now := time.Now
	if n.Now != nil {
		now = n.Now
	}
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    now().UTC(),
		Producer:      n.Service,
		CorrelationID: orderID,
		Payload:       kafkax.MustMarshal(payload),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		ev.TraceID = sc.TraceID().String()
	}
	if !p.Publish(ctx, orders.PartitionKey(orderID), kafkax.MustMarshal(ev), kafkax.EventHeaders(eventType, 1)...) {
		return ErrBackpressure
	}
	return nil
}

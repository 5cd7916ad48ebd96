package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/go-resto-orders/internal/kafka"
	"github.com/ariefcatur/go-resto-orders/internal/logging"
	"github.com/ariefcatur/go-resto-orders/internal/orders"
)

type Deduper interface {
	Claim(ctx context.Context, eventID string) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

// Service consumes the order-event log and mails the customer.
type Service struct {
	Dedup  Deduper
	Mailer Mailer
}

// HandleMessage is installed as the kafka consumer handler.
func (s *Service) HandleMessage(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		// poison message, commit and move on
		logging.Error(ctx, "undecodable envelope", err, zap.String("topic", m.Topic), zap.Int64("offset", m.Offset))
		return nil
	}

	mail, ok, err := compose(env)
	if err != nil {
		logging.Error(ctx, "undecodable payload", err, zap.String("event_id", env.EventID))
		return nil
	}
	if !ok {
		return nil
	}

	fresh, err := s.Dedup.Claim(ctx, env.EventID)
	if err != nil {
		return fmt.Errorf("dedup claim: %w", err)
	}
	if !fresh {
		logging.Debug(ctx, "duplicate event skipped", zap.String("event_id", env.EventID))
		return nil
	}

	if err := s.Mailer.Send(ctx, mail); err != nil {
		if ferr := s.Dedup.Forget(ctx, env.EventID); ferr != nil {
			logging.Warn(ctx, "dedup release failed", zap.String("event_id", env.EventID), zap.Error(ferr))
		}
		return fmt.Errorf("send mail for %s: %w", env.CorrelationID, err)
	}
	logging.Info(ctx, "order notification sent",
		zap.String("event_id", env.EventID),
		zap.String("event_type", env.EventType),
		zap.String("order_id", env.CorrelationID),
	)
	return nil
}

// compose renders the mail for an envelope. ok is false for event types
// that need no mail.
func compose(env orders.Envelope) (Mail, bool, error) {
	switch env.EventType {
	case orders.EventOrderCreated:
		p, err := kafkax.UnwrapPayload[orders.OrderCreatedPayload](env.Payload)
		if err != nil {
			return Mail{}, false, err
		}
		return confirmationMail(p.Order), true, nil
	case orders.EventOrderStatusUpdated:
		p, err := kafkax.UnwrapPayload[orders.OrderStatusUpdatedPayload](env.Payload)
		if err != nil {
			return Mail{}, false, err
		}
		return statusMail(p.Order, p.PreviousStatus), true, nil
	}
	return Mail{}, false, nil
}

func confirmationMail(o orders.Order) Mail {
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\nThanks for your order %s.\n\n", o.Customer.Name, o.ID)
	for _, l := range o.Lines {
		fmt.Fprintf(&b, "  %d x %s  %s\n", l.Qty, l.ProductName, l.Amount().StringFixed(2))
	}
	fmt.Fprintf(&b, "\nSubtotal: %s\n", o.Subtotal.StringFixed(2))
	if o.Kind == orders.KindDelivery {
		fmt.Fprintf(&b, "Delivery: %s\n", o.DeliveryFee.StringFixed(2))
	}
	fmt.Fprintf(&b, "Total: %s\n", o.Total.StringFixed(2))
	fmt.Fprintf(&b, "Payment: %s\n", o.PaymentStatus)
	fmt.Fprintf(&b, "%s at %s\n", fulfillmentLabel(o.Kind), o.FulfillmentAt.Format("Mon 2 Jan 15:04"))
	return Mail{
		To:      o.Customer.Email,
		Subject: "Order confirmed #" + shortID(o.ID),
		Body:    b.String(),
	}
}

func statusMail(o orders.Order, from orders.Status) Mail {
	body := fmt.Sprintf("Hi %s,\n\nYour order %s moved from %s to %s.\n",
		o.Customer.Name, o.ID, from, o.Status)
	return Mail{
		To:      o.Customer.Email,
		Subject: fmt.Sprintf("Order #%s is %s", shortID(o.ID), o.Status),
		Body:    body,
	}
}

func fulfillmentLabel(k orders.Kind) string {
	if k == orders.KindDelivery {
		return "Delivery"
	}
	return "Pickup"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

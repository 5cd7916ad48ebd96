package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderCreated       = "OrderCreated"
	EventOrderStatusUpdated = "OrderStatusUpdated"
)

// Envelope wraps every message on the kafka order-event log.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

// OrderCreatedPayload carries what the confirmation email needs.
type OrderCreatedPayload struct {
	Order Order `json:"order"`
}

type OrderStatusUpdatedPayload struct {
	Order          Order  `json:"order"`
	PreviousStatus Status `json:"previous_status"`
}

// Push payloads, the data field of broadcast events.

type NewOrderData struct {
	OrderID       string        `json:"order_id"`
	Kind          Kind          `json:"kind"`
	CustomerName  string        `json:"customer_name"`
	Total         string        `json:"total"`
	ItemsCount    int           `json:"items_count"`
	FulfillmentAt time.Time     `json:"fulfillment_at"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	CreatedAt     time.Time     `json:"created_at"`
}

type StatusUpdatedData struct {
	OrderID        string    `json:"order_id"`
	Kind           Kind      `json:"kind"`
	Status         Status    `json:"status"`
	PreviousStatus Status    `json:"previous_status"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type StockAlertData struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Stock     int    `json:"stock"`
}

func newOrderData(o *Order) NewOrderData {
	return NewOrderData{
		OrderID:       o.ID,
		Kind:          o.Kind,
		CustomerName:  o.Customer.Name,
		Total:         o.Total.StringFixed(2),
		ItemsCount:    len(o.Lines),
		FulfillmentAt: o.FulfillmentAt,
		PaymentStatus: o.PaymentStatus,
		CreatedAt:     o.CreatedAt,
	}
}

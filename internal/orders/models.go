package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindDelivery Kind = "delivery"
	KindPickup   Kind = "pickup"
)

func (k Kind) Valid() bool { return k == KindDelivery || k == KindPickup }

type PaymentStatus string

const (
	PaymentUnpaid PaymentStatus = "unpaid"
	PaymentPaid   PaymentStatus = "paid"
)

type Product struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Stock     int             `json:"stock"`
	Available bool            `json:"available"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type Customer struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Address string `json:"address,omitempty"`
}

type Order struct {
	ID             string          `json:"id"`
	Kind           Kind            `json:"kind"`
	Customer       Customer        `json:"customer"`
	Notes          string          `json:"notes,omitempty"`
	FulfillmentAt  time.Time       `json:"fulfillment_at"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	DeliveryFee    decimal.Decimal `json:"delivery_fee"`
	Total          decimal.Decimal `json:"total"`
	Status         Status          `json:"status"`
	PaymentStatus  PaymentStatus   `json:"payment_status"`
	IdempotencyKey string          `json:"-"`
	Lines          []OrderLine     `json:"lines,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// OrderLine keeps the unit price as it was when the order was placed.
type OrderLine struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Qty         int             `json:"qty"`
}

func (l OrderLine) Amount() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Qty)))
}

type ItemInput struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

// ReservationRequest is the input of Submit and Quote. It is never persisted.
type ReservationRequest struct {
	Kind           Kind          `json:"kind"`
	Customer       Customer      `json:"customer"`
	Notes          string        `json:"notes,omitempty"`
	FulfillmentAt  time.Time     `json:"fulfillment_at"`
	Items          []ItemInput   `json:"items"`
	PaymentStatus  PaymentStatus `json:"payment_status,omitempty"`
	IdempotencyKey string        `json:"-"`
}

// Quote is the priced, validated view of a cart before anything is reserved.
type Quote struct {
	Kind        Kind            `json:"kind"`
	Lines       []OrderLine     `json:"lines"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	DeliveryFee decimal.Decimal `json:"delivery_fee"`
	Total       decimal.Decimal `json:"total"`
}

// StockLevel is the post-decrement stock of a product touched by an order.
type StockLevel struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Stock     int    `json:"stock"`
}

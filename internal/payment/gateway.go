// Package payment reconciles payment gateway confirmations into orders.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ariefcatur/go-resto-orders/internal/orders"
)

var ErrSessionNotFound = errors.New("checkout session not found")

// Confirmation is the gateway's current view of a checkout session.
type Confirmation struct {
	SessionID string
	Paid      bool
	Status    string
	Metadata  CheckoutMetadata
}

type Session struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CheckoutRequest opens a session for an already priced cart.
type CheckoutRequest struct {
	Quote    orders.Quote
	Metadata CheckoutMetadata
	Currency string
}

type Gateway interface {
	CreateSession(ctx context.Context, req CheckoutRequest) (Session, error)
	RetrieveConfirmation(ctx context.Context, token string) (Confirmation, error)
}

// CheckoutMetadata is the cart and contact data attached to a session when it
// is opened, so the order can be rebuilt when the payment lands.
type CheckoutMetadata struct {
	Kind          orders.Kind
	Customer      orders.Customer
	Notes         string
	FulfillmentAt time.Time
	Items         []orders.ItemInput
}

func MetadataFrom(req orders.ReservationRequest) CheckoutMetadata {
	return CheckoutMetadata{
		Kind:          req.Kind,
		Customer:      req.Customer,
		Notes:         req.Notes,
		FulfillmentAt: req.FulfillmentAt,
		Items:         req.Items,
	}
}

// Encode flattens the metadata into the string map gateways accept.
func (m CheckoutMetadata) Encode() (map[string]string, error) {
	items, err := json.Marshal(m.Items)
	if err != nil {
		return nil, fmt.Errorf("encode items: %w", err)
	}
	return map[string]string{
		"kind":           string(m.Kind),
		"name":           m.Customer.Name,
		"email":          m.Customer.Email,
		"phone":          m.Customer.Phone,
		"address":        m.Customer.Address,
		"notes":          m.Notes,
		"fulfillment_at": m.FulfillmentAt.UTC().Format(time.RFC3339),
		"items":          string(items),
	}, nil
}

func DecodeMetadata(md map[string]string) (CheckoutMetadata, error) {
	var m CheckoutMetadata
	m.Kind = orders.Kind(md["kind"])
	m.Customer = orders.Customer{
		Name:    md["name"],
		Email:   md["email"],
		Phone:   md["phone"],
		Address: md["address"],
	}
	m.Notes = md["notes"]

	if s := strings.TrimSpace(md["fulfillment_at"]); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return m, fmt.Errorf("decode fulfillment_at: %w", err)
		}
		m.FulfillmentAt = t
	}
	if s := md["items"]; s != "" {
		if err := json.Unmarshal([]byte(s), &m.Items); err != nil {
			return m, fmt.Errorf("decode items: %w", err)
		}
	}
	return m, nil
}

// Request rebuilds the reservation for a paid session. The session id is the
// idempotency key of the resulting order.
func (m CheckoutMetadata) Request(sessionID string) orders.ReservationRequest {
	return orders.ReservationRequest{
		Kind:           m.Kind,
		Customer:       m.Customer,
		Notes:          m.Notes,
		FulfillmentAt:  m.FulfillmentAt,
		Items:          m.Items,
		PaymentStatus:  orders.PaymentPaid,
		IdempotencyKey: sessionID,
	}
}

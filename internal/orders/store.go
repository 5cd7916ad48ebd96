package orders

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Tx is the view of the ledger and order store inside one transaction.
// Implementations hold row locks from LockProducts/LockOrder until commit.
type Tx interface {
	// LockProducts locks the rows in ascending id order and returns the ones
	// that exist.
	LockProducts(ctx context.Context, ids []string) (map[string]Product, error)
	// DecrementStock returns the remaining stock, or an out-of-stock error
	// when the row no longer holds qty units.
	DecrementStock(ctx context.Context, productID string, qty int) (int, error)
	// InsertOrder writes the order and its lines. It returns ErrDuplicateKey
	// when the idempotency key is taken.
	InsertOrder(ctx context.Context, o *Order) error
	LockOrder(ctx context.Context, id string) (*Order, error)
	UpdateStatus(ctx context.Context, id string, s Status, at time.Time) error
}

type Store interface {
	// InTx runs fn in a transaction; fn's error rolls everything back.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	GetOrder(ctx context.Context, id string) (*Order, error)
	FindByIdempotencyKey(ctx context.Context, key string) (string, error)
	ListRecent(ctx context.Context, limit int) ([]Order, error)
	ListProducts(ctx context.Context) ([]Product, error)
	GetProducts(ctx context.Context, ids []string) (map[string]Product, error)
}

type DeliverySettings struct {
	Enabled bool
	Fee     decimal.Decimal
	Minimum decimal.Decimal
}

// SettingsSource is the read-only configuration collaborator.
type SettingsSource interface {
	Delivery(ctx context.Context) (DeliverySettings, error)
}

// StaticSettings serves fixed delivery settings.
type StaticSettings DeliverySettings

func (s StaticSettings) Delivery(context.Context) (DeliverySettings, error) {
	return DeliverySettings(s), nil
}

// Notifier is the email side channel. Failures are logged by the caller and
// never undo a committed order.
type Notifier interface {
	OrderPlaced(ctx context.Context, o *Order) error
	StatusChanged(ctx context.Context, o *Order, from Status) error
}

type nopNotifier struct{}

func (nopNotifier) OrderPlaced(context.Context, *Order) error           { return nil }
func (nopNotifier) StatusChanged(context.Context, *Order, Status) error { return nil }

package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-resto-orders/internal/broadcast"
	"github.com/ariefcatur/go-resto-orders/internal/logging"
	"github.com/ariefcatur/go-resto-orders/internal/metrics"
)

// EventPublisher is the broadcaster as seen by the coordinator.
type EventPublisher interface {
	Publish(topic string, ev broadcast.Event)
}

// Coordinator turns a reservation request into a committed order and moves
// orders through their status graph.
type Coordinator struct {
	store    Store
	settings SettingsSource
	events   EventPublisher
	notifier Notifier

	grace    time.Duration
	lowStock int
	now      func() time.Time
	tracer   trace.Tracer
}

type Option func(*Coordinator)

// WithGrace tolerates fulfillment times up to d in the past.
func WithGrace(d time.Duration) Option { return func(c *Coordinator) { c.grace = d } }

// WithLowStockThreshold emits low_stock when a line leaves n or fewer units.
func WithLowStockThreshold(n int) Option { return func(c *Coordinator) { c.lowStock = n } }

func WithClock(now func() time.Time) Option { return func(c *Coordinator) { c.now = now } }

func WithNotifier(n Notifier) Option { return func(c *Coordinator) { c.notifier = n } }

func NewCoordinator(store Store, settings SettingsSource, events EventPublisher, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:    store,
		settings: settings,
		events:   events,
		notifier: nopNotifier{},
		grace:    5 * time.Minute,
		now:      time.Now,
		tracer:   otel.Tracer("orders.coordinator"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Submit validates, prices and reserves req in one transaction. Nothing is
// written when it fails; events and emails go out only after commit.
func (c *Coordinator) Submit(ctx context.Context, req ReservationRequest) (string, error) {
	ctx, span := c.tracer.Start(ctx, "orders.Submit", trace.WithAttributes(
		attribute.String("order.kind", string(req.Kind)),
		attribute.Int("order.items", len(req.Items)),
	))
	defer span.End()

	order, levels, err := c.submit(ctx, req)
	if err != nil {
		kind := KindOf(err)
		if errors.Is(err, ErrDuplicateKey) {
			kind = KindConflict
		}
		metrics.OrdersRejected.WithLabelValues(kind.Code()).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, kind.Code())
		logging.Info(ctx, "order rejected", zap.String("reason", kind.Code()), zap.Error(err))
		return "", err
	}
	span.SetAttributes(attribute.String("order.id", order.ID))
	metrics.OrdersSubmitted.WithLabelValues(string(order.Kind)).Inc()
	logging.Info(ctx, "order committed",
		zap.String("order_id", order.ID),
		zap.String("kind", string(order.Kind)),
		zap.String("total", order.Total.StringFixed(2)),
	)

	c.afterSubmit(ctx, order, levels)
	return order.ID, nil
}

func (c *Coordinator) submit(ctx context.Context, req ReservationRequest) (*Order, []StockLevel, error) {
	items, err := c.validate(req)
	if err != nil {
		return nil, nil, err
	}
	ds, err := c.delivery(ctx, req.Kind)
	if err != nil {
		return nil, nil, err
	}

	payment := req.PaymentStatus
	if payment == "" {
		payment = PaymentUnpaid
	}
	now := c.now().UTC()
	order := &Order{
		ID:             uuid.NewString(),
		Kind:           req.Kind,
		Customer:       normalizeCustomer(req.Customer),
		Notes:          strings.TrimSpace(req.Notes),
		FulfillmentAt:  req.FulfillmentAt.UTC(),
		Status:         StatusPending,
		PaymentStatus:  payment,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	var levels []StockLevel
	err = c.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		levels = levels[:0]

		products, err := tx.LockProducts(ctx, productIDs(items))
		if err != nil {
			return err
		}
		q, err := price(req.Kind, items, products, ds)
		if err != nil {
			return err
		}
		for _, l := range q.Lines {
			remaining, err := tx.DecrementStock(ctx, l.ProductID, l.Qty)
			if err != nil {
				return err
			}
			levels = append(levels, StockLevel{ProductID: l.ProductID, Name: l.ProductName, Stock: remaining})
		}

		order.Lines = q.Lines
		order.Subtotal = q.Subtotal
		order.DeliveryFee = q.DeliveryFee
		order.Total = q.Total
		return tx.InsertOrder(ctx, order)
	})
	if err != nil {
		return nil, nil, err
	}
	return order, levels, nil
}

// Quote runs Submit's validation and pricing without reserving anything.
func (c *Coordinator) Quote(ctx context.Context, req ReservationRequest) (Quote, error) {
	items, err := c.validate(req)
	if err != nil {
		return Quote{}, err
	}
	ds, err := c.delivery(ctx, req.Kind)
	if err != nil {
		return Quote{}, err
	}
	products, err := c.store.GetProducts(ctx, productIDs(items))
	if err != nil {
		return Quote{}, err
	}
	return price(req.Kind, items, products, ds)
}

func (c *Coordinator) delivery(ctx context.Context, kind Kind) (DeliverySettings, error) {
	ds, err := c.settings.Delivery(ctx)
	if err != nil {
		return ds, fmt.Errorf("read delivery settings: %w", classify(err))
	}
	if kind == KindDelivery && !ds.Enabled {
		return ds, &Error{Kind: KindUnavailable, Msg: "delivery is currently unavailable"}
	}
	return ds, nil
}

// validate checks the request and merges repeated products, returning the
// items sorted by product id.
func (c *Coordinator) validate(req ReservationRequest) ([]ItemInput, error) {
	if !req.Kind.Valid() {
		return nil, invalid("kind", "kind must be delivery or pickup")
	}
	cust := normalizeCustomer(req.Customer)
	switch {
	case cust.Name == "":
		return nil, invalid("customer.name", "name is required")
	case cust.Phone == "":
		return nil, invalid("customer.phone", "phone is required")
	case cust.Email == "" || !strings.Contains(cust.Email, "@"):
		return nil, invalid("customer.email", "a valid email is required")
	case req.Kind == KindDelivery && cust.Address == "":
		return nil, invalid("customer.address", "address is required for delivery")
	}
	if req.FulfillmentAt.IsZero() {
		return nil, invalid("fulfillment_at", "fulfillment time is required")
	}
	if !req.FulfillmentAt.After(c.now().Add(-c.grace)) {
		return nil, invalid("fulfillment_at", "fulfillment time must be in the future")
	}
	if len(req.Items) == 0 {
		return nil, invalid("items", "cart is empty")
	}

	merged := map[string]int{}
	for _, it := range req.Items {
		id := strings.TrimSpace(it.ProductID)
		if id == "" {
			return nil, invalid("items", "product_id is required")
		}
		if it.Qty <= 0 {
			return nil, invalid("items", fmt.Sprintf("invalid qty for product %s", id))
		}
		merged[id] += it.Qty
	}
	out := make([]ItemInput, 0, len(merged))
	for id, qty := range merged {
		out = append(out, ItemInput{ProductID: id, Qty: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

// price snapshots current prices and applies the delivery rules.
func price(kind Kind, items []ItemInput, products map[string]Product, ds DeliverySettings) (Quote, error) {
	q := Quote{Kind: kind, Subtotal: decimal.Zero, DeliveryFee: decimal.Zero}
	for _, it := range items {
		p, ok := products[it.ProductID]
		if !ok {
			return Quote{}, invalid("items", "product not found: "+it.ProductID)
		}
		if !p.Available || p.Stock < it.Qty {
			return Quote{}, outOfStock(p.ID, p.Stock, it.Qty)
		}
		line := OrderLine{ProductID: p.ID, ProductName: p.Name, UnitPrice: p.Price, Qty: it.Qty}
		q.Lines = append(q.Lines, line)
		q.Subtotal = q.Subtotal.Add(line.Amount())
	}
	if kind == KindDelivery {
		if q.Subtotal.LessThan(ds.Minimum) {
			return Quote{}, &Error{
				Kind: KindMinimumNotMet,
				Msg:  fmt.Sprintf("delivery minimum is %s, cart is %s", ds.Minimum.StringFixed(2), q.Subtotal.StringFixed(2)),
			}
		}
		q.DeliveryFee = ds.Fee
	}
	q.Total = q.Subtotal.Add(q.DeliveryFee)
	return q, nil
}

func (c *Coordinator) afterSubmit(ctx context.Context, o *Order, levels []StockLevel) {
	c.events.Publish(broadcast.TopicAdmin, broadcast.Event{
		Name: broadcast.EventNewOrder,
		Data: newOrderData(o),
	})
	for _, l := range levels {
		switch {
		case l.Stock == 0:
			c.events.Publish(broadcast.TopicAdmin, broadcast.Event{Name: broadcast.EventOutOfStock, Data: StockAlertData(l)})
		case l.Stock <= c.lowStock:
			c.events.Publish(broadcast.TopicAdmin, broadcast.Event{Name: broadcast.EventLowStock, Data: StockAlertData(l)})
		}
	}
	if err := c.notifier.OrderPlaced(ctx, o); err != nil {
		logging.Error(ctx, "order confirmation notification failed", err, zap.String("order_id", o.ID))
	}
}

// Advance moves an order along its kind's status graph.
func (c *Coordinator) Advance(ctx context.Context, orderID string, to Status) error {
	ctx, span := c.tracer.Start(ctx, "orders.Advance", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("order.status", string(to)),
	))
	defer span.End()

	if to == "" {
		return invalid("status", "status is required")
	}

	var (
		order *Order
		from  Status
	)
	err := c.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if !CanTransition(o.Kind, o.Status, to) {
			msg := fmt.Sprintf("%s order cannot move from %s to %s", o.Kind, o.Status, to)
			if !to.Valid() {
				msg = "unknown status " + string(to)
			}
			return &Error{Kind: KindInvalidTransition, Msg: msg}
		}
		at := c.now().UTC()
		if err := tx.UpdateStatus(ctx, orderID, to, at); err != nil {
			return err
		}
		from = o.Status
		o.Status, o.UpdatedAt = to, at
		order = o
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, KindOf(err).Code())
		return err
	}

	metrics.StatusTransitions.WithLabelValues(string(to)).Inc()
	logging.Info(ctx, "order status updated",
		zap.String("order_id", orderID), zap.String("from", string(from)), zap.String("to", string(to)))

	ev := broadcast.Event{
		Name: broadcast.EventOrderStatusUpdated,
		Data: StatusUpdatedData{
			OrderID:        order.ID,
			Kind:           order.Kind,
			Status:         to,
			PreviousStatus: from,
			UpdatedAt:      order.UpdatedAt,
		},
	}
	c.events.Publish(broadcast.TopicAdmin, ev)
	c.events.Publish(broadcast.OrderTopic(order.ID), ev)

	if err := c.notifier.StatusChanged(ctx, order, from); err != nil {
		logging.Error(ctx, "status change notification failed", err, zap.String("order_id", order.ID))
	}
	return nil
}

func (c *Coordinator) Get(ctx context.Context, orderID string) (*Order, error) {
	return c.store.GetOrder(ctx, orderID)
}

func (c *Coordinator) Recent(ctx context.Context, limit int) ([]Order, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return c.store.ListRecent(ctx, limit)
}

func (c *Coordinator) Products(ctx context.Context) ([]Product, error) {
	return c.store.ListProducts(ctx)
}

func productIDs(items []ItemInput) []string {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ProductID
	}
	return ids
}

func normalizeCustomer(c Customer) Customer {
	return Customer{
		Name:    strings.TrimSpace(c.Name),
		Email:   strings.ToLower(strings.TrimSpace(c.Email)),
		Phone:   strings.TrimSpace(c.Phone),
		Address: strings.TrimSpace(c.Address),
	}
}

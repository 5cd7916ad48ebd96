package payment

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-resto-orders/internal/logging"
	"github.com/ariefcatur/go-resto-orders/internal/metrics"
	"github.com/ariefcatur/go-resto-orders/internal/orders"
)

type Submitter interface {
	Submit(ctx context.Context, req orders.ReservationRequest) (string, error)
}

type OrderLookup interface {
	FindByIdempotencyKey(ctx context.Context, key string) (string, error)
}

// IdempotencyCache is the fast path in front of the unique idempotency key
// column. The database constraint stays authoritative.
type IdempotencyCache interface {
	Lookup(ctx context.Context, token string) (string, bool, error)
	Acquire(ctx context.Context, token string, ttl time.Duration) (bool, error)
	Remember(ctx context.Context, token, orderID string) error
	Release(ctx context.Context, token string) error
}

// Reconciler turns an at-least-once payment confirmation into exactly one
// order.
type Reconciler struct {
	gateway   Gateway
	submitter Submitter
	lookup    OrderLookup
	cache     IdempotencyCache
	lockTTL   time.Duration
	tracer    trace.Tracer
}

func NewReconciler(gateway Gateway, submitter Submitter, lookup OrderLookup, cache IdempotencyCache, lockTTL time.Duration) *Reconciler {
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	return &Reconciler{
		gateway:   gateway,
		submitter: submitter,
		lookup:    lookup,
		cache:     cache,
		lockTTL:   lockTTL,
		tracer:    otel.Tracer("payment.reconciler"),
	}
}

// Reconcile returns the order created for token, creating it when the
// gateway reports the session paid and no order exists yet.
func (r *Reconciler) Reconcile(ctx context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	ctx, span := r.tracer.Start(ctx, "payment.Reconcile", trace.WithAttributes(attribute.String("payment.session", token)))
	defer span.End()

	id, outcome, err := r.reconcile(ctx, token)
	metrics.Reconciliations.WithLabelValues(outcome).Inc()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		logging.Warn(ctx, "payment reconciliation failed",
			zap.String("session_id", token), zap.String("outcome", outcome), zap.Error(err))
		return "", err
	}
	span.SetAttributes(attribute.String("order.id", id), attribute.String("payment.outcome", outcome))
	logging.Info(ctx, "payment reconciled",
		zap.String("session_id", token), zap.String("order_id", id), zap.String("outcome", outcome))
	return id, nil
}

func (r *Reconciler) reconcile(ctx context.Context, token string) (string, string, error) {
	if token == "" {
		return "", "failed", &orders.Error{Kind: orders.KindValidation, Field: "session_id", Msg: "confirmation token is required"}
	}

	conf, err := r.gateway.RetrieveConfirmation(ctx, token)
	if errors.Is(err, ErrSessionNotFound) {
		return "", "not_paid", &orders.Error{Kind: orders.KindPaymentNotConfirmed, Msg: "unknown checkout session", Err: err}
	}
	if err != nil {
		return "", "failed", &orders.Error{Kind: orders.KindTransient, Msg: "payment gateway unavailable", Err: err}
	}
	if !conf.Paid {
		return "", "not_paid", &orders.Error{Kind: orders.KindPaymentNotConfirmed, Msg: "payment status is " + conf.Status}
	}

	if id, ok, err := r.cache.Lookup(ctx, token); err != nil {
		logging.Warn(ctx, "idempotency cache lookup failed", zap.Error(err))
	} else if ok {
		return id, "duplicate", nil
	}
	if id, err := r.lookup.FindByIdempotencyKey(ctx, token); err == nil {
		r.remember(ctx, token, id)
		return id, "duplicate", nil
	} else if !errors.Is(err, orders.ErrNotFound) {
		return "", "failed", err
	}

	acquired, err := r.cache.Acquire(ctx, token, r.lockTTL)
	if err != nil {
		// the unique key still guards the insert
		logging.Warn(ctx, "idempotency lock unavailable", zap.Error(err))
		acquired = true
	}
	if !acquired {
		return "", "conflict", &orders.Error{Kind: orders.KindConflict, Msg: "confirmation is already being processed"}
	}
	defer func() {
		if err := r.cache.Release(context.WithoutCancel(ctx), token); err != nil {
			logging.Warn(ctx, "idempotency lock release failed", zap.Error(err))
		}
	}()

	id, err := r.submitter.Submit(ctx, conf.Metadata.Request(token))
	if errors.Is(err, orders.ErrDuplicateKey) {
		id, err = r.lookup.FindByIdempotencyKey(ctx, token)
		if err != nil {
			return "", "failed", err
		}
		r.remember(ctx, token, id)
		return id, "duplicate", nil
	}
	if err != nil {
		// money has moved but the order cannot be placed; surfaced for ops
		return "", "failed", err
	}
	r.remember(ctx, token, id)
	return id, "created", nil
}

func (r *Reconciler) remember(ctx context.Context, token, id string) {
	if err := r.cache.Remember(ctx, token, id); err != nil {
		logging.Warn(ctx, "idempotency cache write failed", zap.Error(err))
	}
}

// MemoryCache is an in-process IdempotencyCache for single instance runs.
type MemoryCache struct {
	mu     sync.Mutex
	done   map[string]string
	locked map[string]time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{done: map[string]string{}, locked: map[string]time.Time{}}
}

func (c *MemoryCache) Lookup(_ context.Context, token string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.done[token]
	return id, ok, nil
}

func (c *MemoryCache) Acquire(_ context.Context, token string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if exp, ok := c.locked[token]; ok && time.Now().Before(exp) {
		return false, nil
	}
	c.locked[token] = time.Now().Add(ttl)
	return true, nil
}

func (c *MemoryCache) Remember(_ context.Context, token, orderID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.done[token] = orderID
	return nil
}

func (c *MemoryCache) Release(_ context.Context, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.locked, token)
	return nil
}

package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrKind tags every failure the coordinator and reconciler report. Callers
// switch on it instead of matching strings.
type ErrKind uint8

const (
	KindUnknown ErrKind = iota
	KindValidation
	KindUnavailable
	KindOutOfStock
	KindMinimumNotMet
	KindInvalidTransition
	KindNotFound
	KindPaymentNotConfirmed
	KindConflict
	KindTransient
)

var kindCodes = map[ErrKind]string{
	KindUnknown:             "internal",
	KindValidation:          "invalid_request",
	KindUnavailable:         "delivery_unavailable",
	KindOutOfStock:          "out_of_stock",
	KindMinimumNotMet:       "minimum_not_met",
	KindInvalidTransition:   "invalid_transition",
	KindNotFound:            "not_found",
	KindPaymentNotConfirmed: "payment_not_confirmed",
	KindConflict:            "conflict",
	KindTransient:           "transient_store_failure",
}

// Code is the stable reason string sent to clients.
func (k ErrKind) Code() string { return kindCodes[k] }

func (k ErrKind) String() string { return k.Code() }

type Error struct {
	Kind      ErrKind
	Field     string // validation only
	ProductID string // out of stock only
	Msg       string
	Err       error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.Code()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrOutOfStock)
// works for every out-of-stock failure whatever its product.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrValidation          = &Error{Kind: KindValidation}
	ErrUnavailable         = &Error{Kind: KindUnavailable}
	ErrOutOfStock          = &Error{Kind: KindOutOfStock}
	ErrMinimumNotMet       = &Error{Kind: KindMinimumNotMet}
	ErrInvalidTransition   = &Error{Kind: KindInvalidTransition}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrPaymentNotConfirmed = &Error{Kind: KindPaymentNotConfirmed}
	ErrConflict            = &Error{Kind: KindConflict}
	ErrTransient           = &Error{Kind: KindTransient}
)

// ErrDuplicateKey is returned by stores when an order with the same
// idempotency key already exists. The reconciler turns it into the existing id.
var ErrDuplicateKey = errors.New("order with idempotency key already exists")

func invalid(field, msg string) *Error {
	return &Error{Kind: KindValidation, Field: field, Msg: msg}
}

func outOfStock(productID string, available, requested int) *Error {
	return &Error{
		Kind:      KindOutOfStock,
		ProductID: productID,
		Msg:       fmt.Sprintf("product %s: available %d, requested %d", productID, available, requested),
	}
}

// KindOf reports the kind of err, KindUnknown for foreign errors.
func KindOf(err error) ErrKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// classify maps store level failures onto the taxonomy. Errors that already
// carry a kind pass through untouched.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) || errors.Is(err, ErrDuplicateKey) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return &Error{Kind: KindNotFound, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTransient, Err: err}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return &Error{Kind: KindTransient, Err: err}
		}
	}
	return err
}

package orders

import (
	"errors"
	"fmt"
	"testing"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		kind     Kind
		from, to Status
		want     bool
	}{
		{KindDelivery, StatusPending, StatusConfirmed, true},
		{KindDelivery, StatusConfirmed, StatusPreparing, true},
		{KindDelivery, StatusPreparing, StatusDelivering, true},
		{KindDelivery, StatusDelivering, StatusCompleted, true},
		{KindDelivery, StatusDelivering, StatusCancelled, true},
		{KindDelivery, StatusPreparing, StatusCompleted, false},
		{KindDelivery, StatusPending, StatusPreparing, false},
		{KindDelivery, StatusConfirmed, StatusPending, false},
		{KindPickup, StatusPending, StatusConfirmed, true},
		{KindPickup, StatusPreparing, StatusCompleted, true},
		{KindPickup, StatusPreparing, StatusDelivering, false},
		{KindPickup, StatusPreparing, StatusCancelled, true},
		{KindPickup, StatusCompleted, StatusCancelled, false},
		{KindPickup, StatusCancelled, StatusPending, false},
		{Kind("dine-in"), StatusPending, StatusConfirmed, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s->%s", tt.kind, tt.from, tt.to), func(t *testing.T) {
			if got := CanTransition(tt.kind, tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTerminalStatusesHaveNoSuccessors(t *testing.T) {
	for _, kind := range []Kind{KindDelivery, KindPickup} {
		for _, from := range []Status{StatusCompleted, StatusCancelled} {
			if next := NextStatuses(kind, from); len(next) != 0 {
				t.Errorf("%s %s should be terminal, got %v", kind, from, next)
			}
		}
	}
}

func TestNextStatuses(t *testing.T) {
	got := NextStatuses(KindPickup, StatusPreparing)
	if len(got) != 2 || got[0] != StatusCompleted || got[1] != StatusCancelled {
		t.Errorf("unexpected next statuses %v", got)
	}
}

func TestErrorKinds(t *testing.T) {
	err := fmt.Errorf("submit: %w", outOfStock("A", 1, 2))
	if !errors.Is(err, ErrOutOfStock) {
		t.Error("wrapped out of stock should match ErrOutOfStock")
	}
	if errors.Is(err, ErrMinimumNotMet) {
		t.Error("out of stock must not match ErrMinimumNotMet")
	}
	if KindOf(err) != KindOutOfStock {
		t.Errorf("KindOf = %v", KindOf(err))
	}
	if KindOf(errors.New("boom")) != KindUnknown {
		t.Error("foreign errors are KindUnknown")
	}
	if KindOutOfStock.Code() != "out_of_stock" {
		t.Errorf("unexpected code %s", KindOutOfStock.Code())
	}
}

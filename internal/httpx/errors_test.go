package httpx

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ariefcatur/go-resto-orders/internal/orders"
)

func TestStatusForCoversEveryKind(t *testing.T) {
	want := map[orders.ErrKind]int{
		orders.KindValidation:          http.StatusBadRequest,
		orders.KindUnavailable:         http.StatusConflict,
		orders.KindOutOfStock:          http.StatusConflict,
		orders.KindMinimumNotMet:       http.StatusUnprocessableEntity,
		orders.KindInvalidTransition:   http.StatusConflict,
		orders.KindNotFound:            http.StatusNotFound,
		orders.KindPaymentNotConfirmed: http.StatusPaymentRequired,
		orders.KindConflict:            http.StatusConflict,
		orders.KindTransient:           http.StatusServiceUnavailable,
		orders.KindUnknown:             http.StatusInternalServerError,
	}
	for k, code := range want {
		if got := statusFor(k); got != code {
			t.Errorf("%s: status %d, want %d", k, got, code)
		}
	}
}

func TestWriteErrorHidesInternalDetail(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{errors.New("pq: password authentication failed"), http.StatusInternalServerError},
		{fmt.Errorf("submit: %w", &orders.Error{Kind: orders.KindTransient, Err: errors.New("40001")}), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		rr := httptest.NewRecorder()
		writeError(rr, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)
		if rr.Code != tt.code {
			t.Errorf("status = %d, want %d", rr.Code, tt.code)
		}
		for _, leak := range []string{"password", "40001"} {
			if strings.Contains(rr.Body.String(), leak) {
				t.Errorf("response leaks %q: %s", leak, rr.Body)
			}
		}
	}
}

package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-resto-orders/internal/logging"
	"github.com/ariefcatur/go-resto-orders/internal/orders"
)

type errorBody struct {
	Error     string `json:"error"`
	Reason    string `json:"reason"`
	Field     string `json:"field,omitempty"`
	ProductID string `json:"product_id,omitempty"`
}

// statusFor maps every error kind to its HTTP status.
func statusFor(k orders.ErrKind) int {
	switch k {
	case orders.KindValidation:
		return http.StatusBadRequest
	case orders.KindUnavailable:
		return http.StatusConflict
	case orders.KindOutOfStock:
		return http.StatusConflict
	case orders.KindMinimumNotMet:
		return http.StatusUnprocessableEntity
	case orders.KindInvalidTransition:
		return http.StatusConflict
	case orders.KindNotFound:
		return http.StatusNotFound
	case orders.KindPaymentNotConfirmed:
		return http.StatusPaymentRequired
	case orders.KindConflict:
		return http.StatusConflict
	case orders.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var e *orders.Error
	if !errors.As(err, &e) {
		logging.Error(r.Context(), "request failed", err, zap.String("path", r.URL.Path))
		writeJSON(w, http.StatusInternalServerError, errorBody{
			Error:  "internal error",
			Reason: orders.KindUnknown.Code(),
		})
		return
	}
	code := statusFor(e.Kind)
	msg := e.Error()
	if code >= 500 {
		logging.Error(r.Context(), "request failed", err, zap.String("path", r.URL.Path))
		msg = "temporarily unavailable, please retry"
	}
	writeJSON(w, code, errorBody{
		Error:     msg,
		Reason:    e.Kind.Code(),
		Field:     e.Field,
		ProductID: e.ProductID,
	})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg, Reason: orders.KindValidation.Code()})
}

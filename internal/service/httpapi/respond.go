package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fluidstore/internal/auth"
	"github.com/vladislavdragonenkov/fluidstore/internal/backoffice"
	"github.com/vladislavdragonenkov/fluidstore/internal/cart"
	"github.com/vladislavdragonenkov/fluidstore/internal/checkout"
	"github.com/vladislavdragonenkov/fluidstore/internal/domain"
	"github.com/vladislavdragonenkov/fluidstore/internal/pricing"
)

const maxBodyBytes = 1 << 20

// ErrorResponse — единый формат ошибки API.
type ErrorResponse struct {
	Error  string            `json:"error"`
	Code   string            `json:"code"`
	Fields map[string]string `json:"fields,omitempty"`
}

var (
	errBadRequest        = errors.New("invalid JSON body")
	errInsufficientStock = errors.New("requested quantity exceeds stock")
	errUnauthenticated   = errors.New("authentication required")
)

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.WithError(err).Warn("failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, code, message string, fields map[string]string) {
	respondJSON(w, status, ErrorResponse{Error: message, Code: code, Fields: fields})
}

// writeError — единственное место, где ошибки превращаются в HTTP-статусы.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ve     *domain.ValidationError
		subErr *domain.SubmissionError
		updErr *backoffice.UpdateError
	)

	switch {
	case errors.As(err, &ve):
		respondError(w, http.StatusUnprocessableEntity, "validation_failed", ve.Error(), ve.Map())
	case errors.Is(err, errBadRequest):
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error(), nil)
	case errors.Is(err, errUnauthenticated),
		errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, domain.ErrSessionNotFound):
		respondError(w, http.StatusUnauthorized, "unauthenticated", err.Error(), nil)
	case errors.Is(err, auth.ErrNotConfigured):
		respondError(w, http.StatusServiceUnavailable, "admin_disabled", err.Error(), nil)
	case errors.Is(err, checkout.ErrCartEmpty):
		respondError(w, http.StatusConflict, "cart_empty", "Your cart is empty", nil)
	case errors.Is(err, checkout.ErrSubmitInProgress):
		respondError(w, http.StatusConflict, "submit_in_progress", err.Error(), nil)
	case errors.Is(err, checkout.ErrInvalidTransition):
		respondError(w, http.StatusConflict, "invalid_transition", err.Error(), nil)
	case errors.Is(err, errInsufficientStock):
		respondError(w, http.StatusConflict, "insufficient_stock", err.Error(), nil)
	case errors.As(err, &subErr):
		status := http.StatusBadGateway
		if subErr.Reason == checkout.ReasonTimeout {
			status = http.StatusGatewayTimeout
		}
		respondError(w, status, "submission_failed", subErr.Reason, nil)
	case errors.As(err, &updErr) && updErr.Kind == backoffice.UpdateNotFound,
		errors.Is(err, domain.ErrOrderNotFound):
		respondError(w, http.StatusNotFound, "order_not_found", err.Error(), nil)
	case errors.As(err, &updErr):
		respondError(w, http.StatusBadGateway, "update_failed", err.Error(), nil)
	case errors.Is(err, domain.ErrProductNotFound):
		respondError(w, http.StatusNotFound, "product_not_found", err.Error(), nil)
	case errors.Is(err, domain.ErrInvalidOrderStatus),
		errors.Is(err, domain.ErrInvalidPaymentStatus),
		errors.Is(err, domain.ErrOrderIDRequired),
		errors.Is(err, cart.ErrQuantityInvalid):
		respondError(w, http.StatusUnprocessableEntity, "invalid_value", err.Error(), nil)
	case errors.Is(err, pricing.ErrInvalidLine):
		respondError(w, http.StatusUnprocessableEntity, "invalid_cart", err.Error(), nil)
	case errors.Is(err, cart.ErrPersist):
		respondError(w, http.StatusServiceUnavailable, "cart_unavailable", err.Error(), nil)
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, "timeout", "request timed out", nil)
	default:
		loggerFrom(r).WithError(err).Error("request failed")
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error", nil)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errBadRequest
	}
	return nil
}

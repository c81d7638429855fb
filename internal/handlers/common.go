package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/eventops/fulfillment/internal/domain"
	"github.com/eventops/fulfillment/internal/platform/auth"
	"github.com/eventops/fulfillment/internal/platform/httpx"
	"github.com/eventops/fulfillment/internal/services"
)

const maxCommandBodySize = 32 * 1024

// requireActor resolves the authenticated caller or writes a 401.
func requireActor(w http.ResponseWriter, r *http.Request) (domain.Actor, bool) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok || strings.TrimSpace(actor.ID) == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return domain.Actor{}, false
	}
	return actor, true
}

// pathParam reads a required chi URL parameter or writes a 400.
func pathParam(w http.ResponseWriter, r *http.Request, name, label string) (string, bool) {
	value := strings.TrimSpace(chi.URLParam(r, name))
	if value == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", label+" is required", http.StatusBadRequest))
		return "", false
	}
	return value, true
}

func decodeCommand(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, maxCommandBodySize, dst); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return false
	}
	return true
}

func serviceUnavailable(ctx context.Context, w http.ResponseWriter, name string) {
	httpx.WriteError(ctx, w, httpx.NewError(name+"_service_unavailable", name+" service unavailable", http.StatusServiceUnavailable))
}

func invalidRequest(ctx context.Context, w http.ResponseWriter, message string) {
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", message, http.StatusBadRequest))
}

// parseDecimalField accepts decimals sent as JSON strings. An empty value yields zero.
func parseDecimalField(value, field string) (decimal.Decimal, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s must be a decimal number", field)
	}
	return d, nil
}

func parseTimeParam(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), nil
	}
	ts, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}

func optionalString(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil || t.IsZero() {
		return nil
	}
	s := formatTime(*t)
	return &s
}

// writeServiceError maps service sentinel errors onto HTTP errors. More specific sentinels
// are matched before the generic ones they wrap.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error, subject string) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrReasonTooShort):
		httpx.WriteError(ctx, w, httpx.NewError("reason_too_short", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrGuardNotSatisfied):
		httpx.WriteError(ctx, w, httpx.NewError("guard_not_satisfied", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrNoPricingTierFound):
		httpx.WriteError(ctx, w, httpx.NewError("no_pricing_tier_found", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrNoTransportRateFound):
		httpx.WriteError(ctx, w, httpx.NewError("no_transport_rate_found", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrMarginOverrideReasonRequired):
		httpx.WriteError(ctx, w, httpx.NewError("margin_override_reason_required", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrMarginUnchanged):
		httpx.WriteError(ctx, w, httpx.NewError("margin_unchanged", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrInsufficientAvailability):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_availability", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrInvalidWindow):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_window", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", err.Error(), http.StatusForbidden))
	case errors.Is(err, services.ErrNotFound):
		httpx.WriteError(ctx, w, httpx.NewError(subject+"_not_found", subject+" not found", http.StatusNotFound))
	case errors.Is(err, services.ErrConflict):
		httpx.WriteError(ctx, w, httpx.NewError(subject+"_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("dependency_unavailable", "a backing service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError(subject+"_error", "failed to process "+subject+" request", http.StatusInternalServerError))
	}
}

package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eventops/fulfillment/internal/platform/httpx"
	"github.com/eventops/fulfillment/internal/services"
)

type reloadRatesResponse struct {
	Reloaded     bool `json:"reloaded"`
	VehicleTypes int  `json:"vehicle_types"`
}

// InternalHandlers exposes operational endpoints called by other services.
type InternalHandlers struct {
	rates services.RateLookup
}

// NewInternalHandlers constructs a new InternalHandlers instance.
func NewInternalHandlers(rates services.RateLookup) *InternalHandlers {
	return &InternalHandlers{rates: rates}
}

// Routes registers the /internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/rates:reload", h.reloadRates)
}

// reloadRates drops the cached rate catalog and loads it again so configuration errors
// surface to the caller instead of the next pricing request.
func (h *InternalHandlers) reloadRates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.rates == nil {
		serviceUnavailable(ctx, w, "rates")
		return
	}

	h.rates.Invalidate()
	vehicles, err := h.rates.VehicleTypes(ctx)
	if err != nil {
		writeServiceError(ctx, w, err, "rates")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, reloadRatesResponse{Reloaded: true, VehicleTypes: len(vehicles)})
}

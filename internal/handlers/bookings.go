package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/eventops/fulfillment/internal/domain"
	"github.com/eventops/fulfillment/internal/platform/httpx"
	"github.com/eventops/fulfillment/internal/services"
)

type bookingPayload struct {
	ID           string  `json:"id"`
	AssetID      string  `json:"asset_id"`
	OrderID      string  `json:"order_id"`
	Quantity     int     `json:"quantity"`
	BlockedFrom  string  `json:"blocked_from"`
	BlockedUntil string  `json:"blocked_until"`
	CreatedAt    string  `json:"created_at"`
	ReleasedAt   *string `json:"released_at,omitempty"`
}

type bookingResponse struct {
	Booking bookingPayload `json:"booking"`
}

type availabilityPayload struct {
	AssetID       string `json:"asset_id"`
	From          string `json:"from"`
	Until         string `json:"until"`
	TotalQuantity int    `json:"total_quantity"`
	Booked        int    `json:"booked"`
	Available     int    `json:"available"`
}

type reserveBookingRequest struct {
	OrderID    string `json:"order_id"`
	Quantity   int    `json:"quantity"`
	EventStart string `json:"event_start"`
	EventEnd   string `json:"event_end"`
	RefurbDays int    `json:"refurb_days"`
}

// BookingHandlers exposes asset reservations and availability.
type BookingHandlers struct {
	bookings services.BookingService
}

// NewBookingHandlers constructs a new BookingHandlers instance.
func NewBookingHandlers(bookings services.BookingService) *BookingHandlers {
	return &BookingHandlers{bookings: bookings}
}

// Routes registers the /assets booking endpoints.
func (h *BookingHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/assets/{assetID}/bookings", h.reserve)
	r.Get("/assets/{assetID}/availability", h.availability)
}

func (h *BookingHandlers) reserve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.bookings == nil {
		serviceUnavailable(ctx, w, "booking")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	assetID, ok := pathParam(w, r, "assetID", "asset id")
	if !ok {
		return
	}

	var req reserveBookingRequest
	if !decodeCommand(w, r, &req) {
		return
	}
	start, err := parseTimeParam(req.EventStart)
	if err != nil {
		invalidRequest(ctx, w, "event_start must be an RFC3339 timestamp or a date")
		return
	}
	end, err := parseTimeParam(req.EventEnd)
	if err != nil {
		invalidRequest(ctx, w, "event_end must be an RFC3339 timestamp or a date")
		return
	}

	booking, err := h.bookings.Reserve(ctx, services.ReserveBookingCommand{
		Actor:      actor,
		AssetID:    assetID,
		OrderID:    strings.TrimSpace(req.OrderID),
		Quantity:   req.Quantity,
		EventStart: start,
		EventEnd:   end,
		RefurbDays: req.RefurbDays,
	})
	if err != nil {
		writeServiceError(ctx, w, err, "booking")
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, bookingResponse{Booking: buildBookingPayload(booking)})
}

func (h *BookingHandlers) availability(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.bookings == nil {
		serviceUnavailable(ctx, w, "booking")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	assetID, ok := pathParam(w, r, "assetID", "asset id")
	if !ok {
		return
	}

	query := r.URL.Query()
	from, err := parseTimeParam(query.Get("from"))
	if err != nil {
		invalidRequest(ctx, w, "from must be an RFC3339 timestamp or a date")
		return
	}
	until, err := parseTimeParam(query.Get("until"))
	if err != nil {
		invalidRequest(ctx, w, "until must be an RFC3339 timestamp or a date")
		return
	}

	availability, err := h.bookings.Availability(ctx, services.AvailabilityQuery{
		Actor:   actor,
		AssetID: assetID,
		From:    from,
		Until:   until,
	})
	if err != nil {
		writeServiceError(ctx, w, err, "asset")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, availabilityPayload{
		AssetID:       availability.AssetID,
		From:          formatTime(availability.From),
		Until:         formatTime(availability.Until),
		TotalQuantity: availability.TotalQuantity,
		Booked:        availability.Booked,
		Available:     availability.Available,
	})
}

func buildBookingPayload(b domain.AssetBooking) bookingPayload {
	return bookingPayload{
		ID:           b.ID,
		AssetID:      b.AssetID,
		OrderID:      b.OrderID,
		Quantity:     b.Quantity,
		BlockedFrom:  formatTime(b.BlockedFrom),
		BlockedUntil: formatTime(b.BlockedUntil),
		CreatedAt:    formatTime(b.CreatedAt),
		ReleasedAt:   formatTimePtr(b.ReleasedAt),
	}
}

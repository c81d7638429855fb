package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	domain "github.com/eventops/fulfillment/internal/domain"
	"github.com/eventops/fulfillment/internal/services"
)

func TestBookingHandlersReserve(t *testing.T) {
	var captured services.ReserveBookingCommand
	svc := &stubBookingService{
		reserveFn: func(_ context.Context, cmd services.ReserveBookingCommand) (services.AssetBooking, error) {
			captured = cmd
			return services.AssetBooking{
				ID:           "bk-1",
				AssetID:      cmd.AssetID,
				OrderID:      cmd.OrderID,
				Quantity:     cmd.Quantity,
				BlockedFrom:  cmd.EventStart.AddDate(0, 0, -2),
				BlockedUntil: cmd.EventEnd.AddDate(0, 0, 3),
			}, nil
		},
	}
	handler := NewBookingHandlers(svc)

	body := `{"order_id":"ord-1","quantity":2,"event_start":"2024-06-10","event_end":"2024-06-12","refurb_days":1}`
	rr := serve(t, handler.Routes, newRequestAs(http.MethodPost, "/assets/asset-1/bookings", body, domain.RoleLogistics))

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.AssetID != "asset-1" || captured.OrderID != "ord-1" || captured.Quantity != 2 || captured.RefurbDays != 1 {
		t.Fatalf("unexpected command: %#v", captured)
	}
	var resp bookingResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Booking.BlockedFrom != "2024-06-08T00:00:00Z" {
		t.Fatalf("unexpected blocked_from %s", resp.Booking.BlockedFrom)
	}
}

func TestBookingHandlersReserveConflict(t *testing.T) {
	svc := &stubBookingService{
		reserveFn: func(context.Context, services.ReserveBookingCommand) (services.AssetBooking, error) {
			return services.AssetBooking{}, fmt.Errorf("%w: asset-1 has 1 free", services.ErrInsufficientAvailability)
		},
	}
	handler := NewBookingHandlers(svc)

	body := `{"order_id":"ord-1","quantity":5,"event_start":"2024-06-10","event_end":"2024-06-12"}`
	rr := serve(t, handler.Routes, newRequestAs(http.MethodPost, "/assets/asset-1/bookings", body, domain.RoleLogistics))

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	if code := decodeErrorCode(t, rr.Body.Bytes()); code != "insufficient_availability" {
		t.Fatalf("expected insufficient_availability, got %s", code)
	}
}

func TestBookingHandlersAvailability(t *testing.T) {
	var captured services.AvailabilityQuery
	svc := &stubBookingService{
		availabilityFn: func(_ context.Context, q services.AvailabilityQuery) (services.Availability, error) {
			captured = q
			return services.Availability{AssetID: q.AssetID, From: q.From, Until: q.Until, TotalQuantity: 10, Booked: 7, Available: 3}, nil
		},
	}
	handler := NewBookingHandlers(svc)

	rr := serve(t, handler.Routes, newRequestAs(http.MethodGet, "/assets/asset-1/availability?from=2024-06-01&until=2024-06-30T00:00:00Z", "", domain.RoleClient))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !captured.From.Equal(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected from %s", captured.From)
	}
	var resp availabilityPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Available != 3 || resp.Booked != 7 {
		t.Fatalf("unexpected availability: %#v", resp)
	}
}

func TestBookingHandlersAvailabilityValidation(t *testing.T) {
	handler := NewBookingHandlers(&stubBookingService{
		availabilityFn: func(context.Context, services.AvailabilityQuery) (services.Availability, error) {
			return services.Availability{}, fmt.Errorf("%w: window inverted", services.ErrInvalidWindow)
		},
	})

	rr := serve(t, handler.Routes, newRequestAs(http.MethodGet, "/assets/asset-1/availability?until=2024-06-30", "", domain.RoleClient))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for missing from, got %d", rr.Code)
	}

	rr = serve(t, handler.Routes, newRequestAs(http.MethodGet, "/assets/asset-1/availability?from=2024-06-30&until=2024-06-01", "", domain.RoleClient))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for inverted window, got %d", rr.Code)
	}
	if code := decodeErrorCode(t, rr.Body.Bytes()); code != "invalid_window" {
		t.Fatalf("expected invalid_window, got %s", code)
	}
}

package services

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	domain "github.com/eventops/fulfillment/internal/domain"
)

type fulfillmentFixture struct {
	store     *memStore
	events    *captureOrderEvents
	rates     *stubRateLookup
	orders    OrderService
	quotes    PricingService
	bookings  BookingService
	reskins   ReskinService
	lineItems LineItemService
}

func newFulfillmentFixture(t *testing.T) *fulfillmentFixture {
	t.Helper()
	store := newMemStore()
	store.putAsset(domain.Asset{ID: "ast_stage", Name: "Stage deck", TotalQuantity: 10})
	store.putAsset(domain.Asset{ID: "ast_booth", Name: "Booth", TotalQuantity: 2})

	policy, err := NewCasbinRolePolicy("")
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	rates := &stubRateLookup{
		card: testRateCard(),
		services: map[string]ServiceType{
			"svc_crew": {ID: "svc_crew", Name: "Crew hours", Category: "labour", Unit: "hour", UnitRate: dec("50"), Active: true},
		},
	}
	events := &captureOrderEvents{}
	clock := fixedClock(ledgerNow)
	ids := sequenceIDs()

	engine, err := NewPricingEngine(PricingEngineDeps{Rates: rates, LineItems: store.lineItemRepo()})
	if err != nil {
		t.Fatalf("pricing engine: %v", err)
	}
	bookings, err := NewBookingService(BookingServiceDeps{
		Assets: store.assetRepo(), Bookings: store.bookingRepo(), Orders: store.orderRepo(),
		Policy: policy, UnitOfWork: store, Clock: clock, IDGenerator: ids,
	})
	if err != nil {
		t.Fatalf("booking service: %v", err)
	}
	orders, err := NewOrderService(OrderServiceDeps{
		Orders: store.orderRepo(), History: store.historyRepo(), Reskins: store.reskinRepo(),
		Pricing: engine, Bookings: bookings, Rates: rates, Policy: policy, UnitOfWork: store,
		Events: events, Clock: clock, IDGenerator: ids,
	})
	if err != nil {
		t.Fatalf("order service: %v", err)
	}
	quotes, err := NewPricingService(PricingServiceDeps{
		Orders: store.orderRepo(), History: store.historyRepo(), Reskins: store.reskinRepo(),
		Pricing: engine, Bookings: bookings, Policy: policy, UnitOfWork: store,
		Events: events, Clock: clock, IDGenerator: ids,
	})
	if err != nil {
		t.Fatalf("pricing service: %v", err)
	}
	reskins, err := NewReskinService(ReskinServiceDeps{
		Reskins: store.reskinRepo(), Orders: store.orderRepo(), Policy: policy,
		UnitOfWork: store, Clock: clock, IDGenerator: ids,
	})
	if err != nil {
		t.Fatalf("reskin service: %v", err)
	}
	lineItems, err := NewLineItemService(LineItemServiceDeps{
		LineItems: store.lineItemRepo(), Orders: store.orderRepo(), Rates: rates, Policy: policy,
		UnitOfWork: store, Clock: clock, IDGenerator: ids,
	})
	if err != nil {
		t.Fatalf("line item service: %v", err)
	}

	return &fulfillmentFixture{
		store: store, events: events, rates: rates, orders: orders, quotes: quotes,
		bookings: bookings, reskins: reskins, lineItems: lineItems,
	}
}

// seedOrder stores an order in status with two asset lines and a Dubai venue.
func (f *fulfillmentFixture) seedOrder(id string, status domain.OrderStatus) domain.Order {
	order := domain.Order{
		ID:                id,
		OrderNumber:       "ORD-20260302-" + id,
		CompanyID:         "cmp_1",
		Status:            status,
		EventStartDate:    day("2026-04-10"),
		EventEndDate:      day("2026-04-12"),
		Venue:             domain.Venue{Name: "Expo Hall", City: "Dubai", Emirate: "Dubai"},
		VolumeM3:          dec("10"),
		Items:             []domain.OrderItem{{AssetID: "ast_stage", Quantity: 6}, {AssetID: "ast_booth", Quantity: 1}},
		TransportTripType: domain.TripTypeRoundTrip,
	}
	f.store.putOrder(order)
	return order
}

func (f *fulfillmentFixture) setDeliveryWindow(t *testing.T, orderID string) {
	t.Helper()
	start, end := day("2026-04-09"), day("2026-04-09").Add(4*time.Hour)
	if _, err := f.orders.UpdateWindows(context.Background(), UpdateWindowsCommand{
		OrderID: orderID, Actor: logisticsActor,
		DeliveryWindow: &TimeWindow{Start: &start, End: &end},
	}); err != nil {
		t.Fatalf("update windows: %v", err)
	}
}

func (f *fulfillmentFixture) transition(t *testing.T, orderID string, actor Actor, to domain.OrderStatus) {
	t.Helper()
	if _, err := f.orders.SubmitTransition(context.Background(), TransitionCommand{OrderID: orderID, RequestedStatus: to, Actor: actor}); err != nil {
		t.Fatalf("transition to %s: %v", to, err)
	}
}

func TestOrderServiceCreateOrder(t *testing.T) {
	f := newFulfillmentFixture(t)
	ctx := context.Background()

	order, err := f.orders.CreateOrder(ctx, CreateOrderCommand{
		Actor:          clientActor,
		CompanyID:      "cmp_1",
		EventStartDate: day("2026-04-10"),
		EventEndDate:   day("2026-04-12"),
		Venue:          domain.Venue{Name: "Expo Hall", City: "Dubai"},
		VolumeM3:       dec("12"),
		Items:          []OrderItem{{AssetID: "ast_stage", Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.Status != domain.OrderStatusDraft || order.TransportTripType != domain.TripTypeRoundTrip {
		t.Fatalf("unexpected order %+v", order)
	}
	if !regexp.MustCompile(`^ORD-20260302-[A-Z]+$`).MatchString(order.OrderNumber) {
		t.Fatalf("unexpected order number %q", order.OrderNumber)
	}
	history, err := f.orders.ListHistory(ctx, GetOrderCommand{OrderID: order.ID, Actor: clientActor})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected no history on creation, got %d", len(history))
	}
}

func TestOrderServiceCreateOrderValidation(t *testing.T) {
	f := newFulfillmentFixture(t)
	base := CreateOrderCommand{
		Actor:          clientActor,
		CompanyID:      "cmp_1",
		EventStartDate: day("2026-04-10"),
		EventEndDate:   day("2026-04-12"),
		Venue:          domain.Venue{City: "Dubai"},
		VolumeM3:       dec("12"),
	}

	cases := []struct {
		name   string
		mutate func(*CreateOrderCommand)
		want   error
	}{
		{"foreign company", func(c *CreateOrderCommand) { c.CompanyID = "cmp_2" }, ErrForbidden},
		{"inverted event", func(c *CreateOrderCommand) { c.EventEndDate = day("2026-04-01") }, ErrInvalidWindow},
		{"zero-length event", func(c *CreateOrderCommand) { c.EventEndDate = c.EventStartDate }, ErrInvalidWindow},
		{"missing venue", func(c *CreateOrderCommand) { c.Venue = domain.Venue{Name: "Hall"} }, ErrInvalidInput},
		{"duplicate asset", func(c *CreateOrderCommand) {
			c.Items = []OrderItem{{AssetID: "ast_stage", Quantity: 1}, {AssetID: "ast_stage", Quantity: 2}}
		}, ErrInvalidInput},
		{"non default vehicle", func(c *CreateOrderCommand) { c.VehicleType = "TRUCK_7T" }, ErrInvalidInput},
		{"unknown trip type", func(c *CreateOrderCommand) { c.TripType = "RETURN" }, ErrInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cmd := base
			tc.mutate(&cmd)
			if _, err := f.orders.CreateOrder(context.Background(), cmd); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestOrderServiceFullLifecycle(t *testing.T) {
	f := newFulfillmentFixture(t)
	ctx := context.Background()
	f.seedOrder("ord_1", domain.OrderStatusDraft)

	f.transition(t, "ord_1", clientActor, domain.OrderStatusSubmitted)
	f.transition(t, "ord_1", logisticsActor, domain.OrderStatusPricingReview)
	f.transition(t, "ord_1", logisticsActor, domain.OrderStatusPendingApproval)

	approval, err := f.quotes.ApproveQuote(ctx, ApproveQuoteCommand{
		OrderID: "ord_1", Actor: adminActor, MarginOverride: decPtr("20"), OverrideReason: "repeat client discount",
	})
	if err != nil {
		t.Fatalf("approve quote: %v", err)
	}
	if !approval.Pricing.ClientTotal.Equal(dec("1800")) || approval.History.Status != domain.OrderStatusQuoted {
		t.Fatalf("unexpected approval %+v", approval)
	}

	f.transition(t, "ord_1", clientActor, domain.OrderStatusConfirmed)
	if got := f.store.activeBookings("ord_1"); len(got) != 2 {
		t.Fatalf("expected bookings for both lines, got %d", len(got))
	}

	f.setDeliveryWindow(t, "ord_1")
	for _, status := range []domain.OrderStatus{
		domain.OrderStatusInPreparation,
		domain.OrderStatusReadyForDelivery,
		domain.OrderStatusInTransit,
		domain.OrderStatusDelivered,
		domain.OrderStatusInUse,
		domain.OrderStatusAwaitingReturn,
		domain.OrderStatusClosed,
	} {
		f.transition(t, "ord_1", logisticsActor, status)
	}

	history, err := f.orders.ListHistory(ctx, GetOrderCommand{OrderID: "ord_1", Actor: adminActor})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(history) != 12 {
		t.Fatalf("expected one history entry per transition, got %d", len(history))
	}
	if f.store.bookingInsertN != 1 {
		t.Fatalf("expected bookings to materialise once, got %d inserts", f.store.bookingInsertN)
	}

	if len(f.events.events) != 2 {
		t.Fatalf("expected events for QUOTED and CONFIRMED, got %+v", f.events.events)
	}
	quoted := f.events.events[0]
	if quoted.Type != orderEventTransitioned || quoted.CurrentStatus != "QUOTED" || quoted.Metadata["clientTotal"] != "1800.00" {
		t.Fatalf("unexpected quoted event %+v", quoted)
	}
	if f.events.events[1].CurrentStatus != "CONFIRMED" {
		t.Fatalf("unexpected confirmed event %+v", f.events.events[1])
	}
}

func TestOrderServiceRejectsNonAdjacentTransitions(t *testing.T) {
	for _, from := range domain.OrderStatuses {
		for _, to := range domain.OrderStatuses {
			if CanTransition(from, to) {
				continue
			}
			f := newFulfillmentFixture(t)
			before := f.seedOrder("ord_1", from)

			_, err := f.orders.SubmitTransition(context.Background(), TransitionCommand{
				OrderID: "ord_1", RequestedStatus: to, Actor: adminActor,
			})
			if !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("%s -> %s: expected invalid transition, got %v", from, to, err)
			}
			if got := f.store.order("ord_1"); got.Status != before.Status || !got.UpdatedAt.Equal(before.UpdatedAt) {
				t.Fatalf("%s -> %s: order changed to %+v", from, to, got)
			}
			if len(f.store.history) != 0 {
				t.Fatalf("%s -> %s: history written", from, to)
			}
		}
	}
}

func TestOrderServiceTransitionRoles(t *testing.T) {
	f := newFulfillmentFixture(t)
	f.seedOrder("ord_1", domain.OrderStatusPricingReview)
	f.seedOrder("ord_2", domain.OrderStatusSubmitted)
	ctx := context.Background()

	if _, err := f.orders.SubmitTransition(ctx, TransitionCommand{OrderID: "ord_1", RequestedStatus: domain.OrderStatusQuoted, Actor: logisticsActor}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected logistics quoting to be forbidden, got %v", err)
	}
	if _, err := f.orders.SubmitTransition(ctx, TransitionCommand{OrderID: "ord_2", RequestedStatus: domain.OrderStatusPricingReview, Actor: clientActor}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected client review to be forbidden, got %v", err)
	}
	outsider := domain.Actor{ID: "usr_x", Role: domain.RoleClient, CompanyIDs: []string{"cmp_9"}}
	if _, err := f.orders.Cancel(ctx, CancelOrderCommand{OrderID: "ord_2", Actor: outsider}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected foreign client cancel to be forbidden, got %v", err)
	}
	if got := f.store.order("ord_2").Status; got != domain.OrderStatusSubmitted {
		t.Fatalf("expected status unchanged, got %s", got)
	}
}

func TestOrderServiceGuards(t *testing.T) {
	ctx := context.Background()

	t.Run("submit needs items", func(t *testing.T) {
		f := newFulfillmentFixture(t)
		order := f.seedOrder("ord_1", domain.OrderStatusDraft)
		order.Items = nil
		f.store.putOrder(order)
		_, err := f.orders.SubmitTransition(ctx, TransitionCommand{OrderID: "ord_1", RequestedStatus: domain.OrderStatusSubmitted, Actor: clientActor})
		if !errors.Is(err, ErrGuardNotSatisfied) {
			t.Fatalf("expected guard failure, got %v", err)
		}
	})

	t.Run("preparation needs delivery window", func(t *testing.T) {
		f := newFulfillmentFixture(t)
		f.seedOrder("ord_1", domain.OrderStatusConfirmed)
		_, err := f.orders.SubmitTransition(ctx, TransitionCommand{OrderID: "ord_1", RequestedStatus: domain.OrderStatusInPreparation, Actor: logisticsActor})
		if !errors.Is(err, ErrGuardNotSatisfied) {
			t.Fatalf("expected guard failure, got %v", err)
		}
		f.setDeliveryWindow(t, "ord_1")
		f.transition(t, "ord_1", logisticsActor, domain.OrderStatusInPreparation)
	})

	t.Run("leaving review needs complete pricing", func(t *testing.T) {
		f := newFulfillmentFixture(t)
		order := f.seedOrder("ord_1", domain.OrderStatusPricingReview)
		order.Venue = domain.Venue{City: "Sharjah"}
		f.store.putOrder(order)

		_, err := f.orders.SubmitTransition(ctx, TransitionCommand{OrderID: "ord_1", RequestedStatus: domain.OrderStatusPendingApproval, Actor: logisticsActor})
		if !errors.Is(err, ErrGuardNotSatisfied) || !errors.Is(err, ErrNoTransportRateFound) {
			t.Fatalf("expected guard failure caused by missing transport rate, got %v", err)
		}

		if _, err := f.lineItems.AddCustomItem(ctx, AddCustomItemCommand{
			Actor: logisticsActor, Target: LineItemTarget{OrderID: "ord_1"},
			Description: "Permit fee", Category: "fees", Total: dec("75"),
		}); err != nil {
			t.Fatalf("expected line items to stay editable during a configuration gap, got %v", err)
		}
	})
}

func TestOrderServiceConfirmRollsBackOnInsufficientAvailability(t *testing.T) {
	f := newFulfillmentFixture(t)
	ctx := context.Background()
	f.seedOrder("ord_a", domain.OrderStatusQuoted)
	f.seedOrder("ord_b", domain.OrderStatusQuoted)

	f.transition(t, "ord_a", clientActor, domain.OrderStatusConfirmed)
	_, err := f.orders.SubmitTransition(ctx, TransitionCommand{OrderID: "ord_b", RequestedStatus: domain.OrderStatusConfirmed, Actor: clientActor})
	if !errors.Is(err, ErrInsufficientAvailability) {
		t.Fatalf("expected insufficient availability, got %v", err)
	}
	if got := f.store.order("ord_b").Status; got != domain.OrderStatusQuoted {
		t.Fatalf("expected status unchanged, got %s", got)
	}
	if got := f.store.activeBookings("ord_b"); len(got) != 0 {
		t.Fatalf("expected no bookings, got %+v", got)
	}
	if len(f.store.history) != 1 {
		t.Fatalf("expected only the first confirmation in history, got %d", len(f.store.history))
	}
}

func TestOrderServiceConfirmBooksEveryLineAlongsideExistingBookings(t *testing.T) {
	f := newFulfillmentFixture(t)
	ctx := context.Background()
	f.seedOrder("ord_1", domain.OrderStatusQuoted)
	if err := f.store.bookingRepo().Insert(ctx, []domain.AssetBooking{{
		ID: "bk_held", AssetID: "ast_stage", OrderID: "ord_1", Quantity: 1,
		BlockedFrom: day("2026-04-05"), BlockedUntil: day("2026-04-15"), CreatedAt: ledgerNow,
	}}); err != nil {
		t.Fatalf("seed booking: %v", err)
	}

	f.transition(t, "ord_1", clientActor, domain.OrderStatusConfirmed)

	booked := map[string]int{}
	for _, booking := range f.store.activeBookings("ord_1") {
		booked[booking.AssetID] += booking.Quantity
	}
	if booked["ast_stage"] != 6 || booked["ast_booth"] != 1 {
		t.Fatalf("expected stage x6 and booth x1 booked, got %v", booked)
	}
}

func TestOrderServiceHistoryFailureRollsBackTransition(t *testing.T) {
	f := newFulfillmentFixture(t)
	f.seedOrder("ord_1", domain.OrderStatusQuoted)
	f.store.appendErr = errors.New("disk full")

	_, err := f.orders.SubmitTransition(context.Background(), TransitionCommand{OrderID: "ord_1", RequestedStatus: domain.OrderStatusConfirmed, Actor: clientActor})
	if err == nil {
		t.Fatal("expected error")
	}
	if got := f.store.order("ord_1").Status; got != domain.OrderStatusQuoted {
		t.Fatalf("expected status rolled back, got %s", got)
	}
	if got := f.store.activeBookings("ord_1"); len(got) != 0 {
		t.Fatalf("expected bookings rolled back, got %+v", got)
	}
	if len(f.events.events) != 0 {
		t.Fatalf("expected no event for a failed transition, got %+v", f.events.events)
	}
}

func TestOrderServiceCancelReleasesBookings(t *testing.T) {
	f := newFulfillmentFixture(t)
	ctx := context.Background()
	f.seedOrder("ord_1", domain.OrderStatusQuoted)
	f.transition(t, "ord_1", clientActor, domain.OrderStatusConfirmed)

	query := AvailabilityQuery{Actor: logisticsActor, AssetID: "ast_stage", From: day("2026-04-10"), Until: day("2026-04-11")}
	before, err := f.bookings.Availability(ctx, query)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if before.Booked != 6 {
		t.Fatalf("expected 6 booked, got %+v", before)
	}

	notes := "event postponed"
	entry, err := f.orders.Cancel(ctx, CancelOrderCommand{OrderID: "ord_1", Actor: clientActor, Notes: &notes})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.Status != domain.OrderStatusCancelled || entry.Notes == nil || *entry.Notes != notes {
		t.Fatalf("unexpected entry %+v", entry)
	}

	after, err := f.bookings.Availability(ctx, query)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if after.Booked != 0 || after.Available != 10 {
		t.Fatalf("expected bookings released, got %+v", after)
	}
}

func TestOrderServiceCancelUnavailableAfterPreparation(t *testing.T) {
	f := newFulfillmentFixture(t)
	f.seedOrder("ord_1", domain.OrderStatusInTransit)
	_, err := f.orders.Cancel(context.Background(), CancelOrderCommand{OrderID: "ord_1", Actor: adminActor})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestOrderServiceReturnToLogistics(t *testing.T) {
	f := newFulfillmentFixture(t)
	ctx := context.Background()
	f.seedOrder("ord_1", domain.OrderStatusPendingApproval)
	f.seedOrder("ord_2", domain.OrderStatusQuoted)

	if _, err := f.orders.ReturnToLogistics(ctx, ReturnToLogisticsCommand{OrderID: "ord_1", Actor: adminActor, Reason: "too low"}); !errors.Is(err, ErrReasonTooShort) {
		t.Fatalf("expected short reason error, got %v", err)
	}
	if _, err := f.orders.ReturnToLogistics(ctx, ReturnToLogisticsCommand{OrderID: "ord_1", Actor: logisticsActor, Reason: "transport rate looks wrong"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := f.orders.ReturnToLogistics(ctx, ReturnToLogisticsCommand{OrderID: "ord_2", Actor: adminActor, Reason: "transport rate looks wrong"}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}

	entry, err := f.orders.ReturnToLogistics(ctx, ReturnToLogisticsCommand{OrderID: "ord_1", Actor: adminActor, Reason: "transport rate looks wrong"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.Status != domain.OrderStatusPricingReview || entry.Notes == nil || *entry.Notes != "transport rate looks wrong" {
		t.Fatalf("unexpected entry %+v", entry)
	}
}

func TestOrderServiceUpdateWindows(t *testing.T) {
	f := newFulfillmentFixture(t)
	ctx := context.Background()
	f.seedOrder("ord_1", domain.OrderStatusConfirmed)

	start, end := day("2026-04-09"), day("2026-04-08")
	_, err := f.orders.UpdateWindows(ctx, UpdateWindowsCommand{OrderID: "ord_1", Actor: logisticsActor, DeliveryWindow: &TimeWindow{Start: &start, End: &end}})
	if !errors.Is(err, ErrInvalidWindow) {
		t.Fatalf("expected inverted delivery window to fail, got %v", err)
	}

	deliveryStart, deliveryEnd := day("2026-04-09"), day("2026-04-09").Add(6*time.Hour)
	pickupStart := day("2026-04-09").Add(2 * time.Hour)
	_, err = f.orders.UpdateWindows(ctx, UpdateWindowsCommand{
		OrderID: "ord_1", Actor: logisticsActor,
		DeliveryWindow: &TimeWindow{Start: &deliveryStart, End: &deliveryEnd},
		PickupWindow:   &TimeWindow{Start: &pickupStart},
	})
	if !errors.Is(err, ErrInvalidWindow) {
		t.Fatalf("expected pickup before delivery end to fail, got %v", err)
	}

	if _, err := f.orders.UpdateWindows(ctx, UpdateWindowsCommand{OrderID: "ord_1", Actor: clientActor, DeliveryWindow: &TimeWindow{Start: &deliveryStart}}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected client window update to be forbidden, got %v", err)
	}

	order, err := f.orders.UpdateWindows(ctx, UpdateWindowsCommand{
		OrderID: "ord_1", Actor: logisticsActor,
		DeliveryWindow: &TimeWindow{Start: &deliveryStart, End: &deliveryEnd},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !order.DeliveryWindow.Complete() || order.PickupWindow != nil {
		t.Fatalf("unexpected windows %+v %+v", order.DeliveryWindow, order.PickupWindow)
	}
}

func TestOrderServiceUpdateWindowsKeepsOmittedWindow(t *testing.T) {
	f := newFulfillmentFixture(t)
	ctx := context.Background()
	f.seedOrder("ord_1", domain.OrderStatusConfirmed)

	deliveryStart, deliveryEnd := day("2026-04-09"), day("2026-04-09").Add(4*time.Hour)
	pickupStart, pickupEnd := day("2026-04-13"), day("2026-04-13").Add(4*time.Hour)
	if _, err := f.orders.UpdateWindows(ctx, UpdateWindowsCommand{
		OrderID: "ord_1", Actor: logisticsActor,
		DeliveryWindow: &TimeWindow{Start: &deliveryStart, End: &deliveryEnd},
		PickupWindow:   &TimeWindow{Start: &pickupStart, End: &pickupEnd},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	movedStart, movedEnd := day("2026-04-08"), day("2026-04-08").Add(3*time.Hour)
	order, err := f.orders.UpdateWindows(ctx, UpdateWindowsCommand{
		OrderID: "ord_1", Actor: logisticsActor,
		DeliveryWindow: &TimeWindow{Start: &movedStart, End: &movedEnd},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !order.DeliveryWindow.Start.Equal(movedStart) {
		t.Fatalf("expected delivery window moved, got %+v", order.DeliveryWindow)
	}
	if order.PickupWindow == nil || !order.PickupWindow.Start.Equal(pickupStart) || !order.PickupWindow.End.Equal(pickupEnd) {
		t.Fatalf("expected pickup window kept, got %+v", order.PickupWindow)
	}

	lateStart, lateEnd := day("2026-04-13"), day("2026-04-13").Add(6*time.Hour)
	_, err = f.orders.UpdateWindows(ctx, UpdateWindowsCommand{
		OrderID: "ord_1", Actor: logisticsActor,
		DeliveryWindow: &TimeWindow{Start: &lateStart, End: &lateEnd},
	})
	if !errors.Is(err, ErrInvalidWindow) {
		t.Fatalf("expected delivery ending after the stored pickup start to fail, got %v", err)
	}
	if got := f.store.order("ord_1").DeliveryWindow; !got.Start.Equal(movedStart) {
		t.Fatalf("expected stored delivery window unchanged, got %+v", got)
	}
}

func TestOrderServiceUpdateVehicle(t *testing.T) {
	f := newFulfillmentFixture(t)
	ctx := context.Background()
	f.seedOrder("ord_1", domain.OrderStatusPricingReview)

	if _, err := f.orders.UpdateVehicle(ctx, UpdateVehicleCommand{OrderID: "ord_1", Actor: logisticsActor, VehicleType: "truck_7t", Reason: "ramp"}); !errors.Is(err, ErrReasonTooShort) {
		t.Fatalf("expected short reason error, got %v", err)
	}
	if _, err := f.orders.UpdateVehicle(ctx, UpdateVehicleCommand{OrderID: "ord_1", Actor: logisticsActor, VehicleType: "BUS"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected unknown vehicle error, got %v", err)
	}

	order, err := f.orders.UpdateVehicle(ctx, UpdateVehicleCommand{OrderID: "ord_1", Actor: logisticsActor, VehicleType: "truck_7t", Reason: "venue needs tail lift"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.TransportVehicleType != "TRUCK_7T" || order.VehicleChangeReason == nil {
		t.Fatalf("unexpected vehicle update %+v", order)
	}

	pricing, err := f.quotes.PreviewPricing(ctx, PreviewPricingCommand{OrderID: "ord_1", Actor: logisticsActor})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !pricing.Transport.VehicleChanged || !pricing.Transport.FinalRate.Equal(dec("900")) {
		t.Fatalf("unexpected transport pricing %+v", pricing.Transport)
	}

	order, err = f.orders.UpdateVehicle(ctx, UpdateVehicleCommand{OrderID: "ord_1", Actor: logisticsActor, VehicleType: "TRUCK_3T"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.VehicleChangeReason != nil {
		t.Fatalf("expected reason cleared for the default vehicle, got %q", *order.VehicleChangeReason)
	}
}

func TestOrderServiceSetItemsAndJobNumber(t *testing.T) {
	f := newFulfillmentFixture(t)
	ctx := context.Background()
	f.seedOrder("ord_1", domain.OrderStatusSubmitted)
	f.seedOrder("ord_2", domain.OrderStatusConfirmed)

	order, err := f.orders.SetItems(ctx, SetOrderItemsCommand{OrderID: "ord_1", Actor: clientActor, Items: []OrderItem{{AssetID: "ast_booth", Quantity: 2, RefurbDays: 1}}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(order.Items) != 1 || order.Items[0].RefurbDays != 1 {
		t.Fatalf("unexpected items %+v", order.Items)
	}
	if _, err := f.orders.SetItems(ctx, SetOrderItemsCommand{OrderID: "ord_2", Actor: clientActor, Items: []OrderItem{{AssetID: "ast_booth", Quantity: 1}}}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected items locked after confirmation, got %v", err)
	}

	order, err = f.orders.UpdateJobNumber(ctx, UpdateJobNumberCommand{OrderID: "ord_2", Actor: logisticsActor, JobNumber: " JOB-7781 "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.JobNumber == nil || *order.JobNumber != "JOB-7781" {
		t.Fatalf("unexpected job number %v", order.JobNumber)
	}
}

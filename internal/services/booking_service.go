package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/eventops/fulfillment/internal/repositories"
)

const (
	// PrepBufferDays is the number of days an asset is held before the event starts.
	PrepBufferDays = 5
	// ReturnBufferDays is the number of days an asset is held after the event ends.
	ReturnBufferDays = 3

	bookingIDPrefix = "bk_"
)

// BlockedWindow returns the interval [from, until) an asset is unavailable for an event.
// The event must end strictly after it starts. Refurbishment extends the prep buffer.
func BlockedWindow(eventStart, eventEnd time.Time, refurbDays int) (time.Time, time.Time, error) {
	if eventStart.IsZero() || eventEnd.IsZero() {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: event start and end are required", ErrInvalidWindow)
	}
	if !eventEnd.After(eventStart) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: event must end after it starts, got %s to %s", ErrInvalidWindow,
			eventStart.Format(time.DateOnly), eventEnd.Format(time.DateOnly))
	}
	if refurbDays < 0 {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: refurb days must not be negative", ErrInvalidInput)
	}
	from := eventStart.UTC().AddDate(0, 0, -(PrepBufferDays + refurbDays))
	until := eventEnd.UTC().AddDate(0, 0, ReturnBufferDays)
	return from, until, nil
}

// BookingServiceDeps bundles collaborators for the availability tracker.
type BookingServiceDeps struct {
	Assets      repositories.AssetRepository
	Bookings    repositories.BookingRepository
	Orders      repositories.OrderRepository
	Policy      RolePolicy
	UnitOfWork  repositories.UnitOfWork
	Metrics     Metrics
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type bookingService struct {
	assets     repositories.AssetRepository
	bookings   repositories.BookingRepository
	orders     repositories.OrderRepository
	policy     RolePolicy
	unitOfWork repositories.UnitOfWork
	metrics    Metrics
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
}

// NewBookingService wires dependencies into a BookingService.
func NewBookingService(deps BookingServiceDeps) (BookingService, error) {
	if deps.Assets == nil {
		return nil, errors.New("booking service: asset repository is required")
	}
	if deps.Bookings == nil {
		return nil, errors.New("booking service: booking repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("booking service: order repository is required")
	}
	if deps.Policy == nil {
		return nil, errors.New("booking service: role policy is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &bookingService{
		assets:     deps.Assets,
		bookings:   deps.Bookings,
		orders:     deps.Orders,
		policy:     deps.Policy,
		unitOfWork: unit,
		metrics:    metrics,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

type bookingRequest struct {
	assetID  string
	quantity int
	from     time.Time
	until    time.Time
}

func (s *bookingService) Reserve(ctx context.Context, cmd ReserveBookingCommand) (AssetBooking, error) {
	booking, err := s.reserve(ctx, cmd)
	s.metrics.ObserveReservation(resultLabel(err))
	return booking, err
}

func (s *bookingService) reserve(ctx context.Context, cmd ReserveBookingCommand) (AssetBooking, error) {
	assetID := strings.TrimSpace(cmd.AssetID)
	orderID := strings.TrimSpace(cmd.OrderID)
	if assetID == "" || orderID == "" {
		return AssetBooking{}, fmt.Errorf("%w: asset id and order id are required", ErrInvalidInput)
	}
	if cmd.Quantity <= 0 {
		return AssetBooking{}, fmt.Errorf("%w: quantity must be positive", ErrInvalidInput)
	}
	from, until, err := BlockedWindow(cmd.EventStart, cmd.EventEnd, cmd.RefurbDays)
	if err != nil {
		return AssetBooking{}, err
	}
	if err := s.policy.Authorize(cmd.Actor, ActionBookingReserve); err != nil {
		return AssetBooking{}, err
	}

	var created []AssetBooking
	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.LockByID(txCtx, orderID)
		if err != nil {
			return mapRepositoryError(err, "order "+orderID)
		}
		if !cmd.Actor.CanAccessCompany(order.CompanyID) {
			return fmt.Errorf("%w: actor cannot access company %s", ErrForbidden, order.CompanyID)
		}
		if !requiresBookings(order.Status) {
			return fmt.Errorf("%w: order %s in status %s cannot hold bookings", ErrGuardNotSatisfied, orderID, order.Status)
		}
		created, err = s.reserveLocked(txCtx, orderID, []bookingRequest{{
			assetID:  assetID,
			quantity: cmd.Quantity,
			from:     from,
			until:    until,
		}})
		return err
	})
	if err != nil {
		return AssetBooking{}, err
	}
	return created[0], nil
}

func (s *bookingService) ReserveForOrder(ctx context.Context, order Order) ([]AssetBooking, error) {
	existing, err := s.bookings.ListByOrder(ctx, order.ID)
	if err != nil {
		return nil, mapRepositoryError(err, "bookings of order "+order.ID)
	}

	// Active bookings already covering an item's window count towards it. Only the shortfall is booked.
	covered := make([]int, len(existing))
	requests := make([]bookingRequest, 0, len(order.Items))
	for _, item := range order.Items {
		if item.Quantity <= 0 {
			continue
		}
		from, until, err := BlockedWindow(order.EventStartDate, order.EventEndDate, item.RefurbDays)
		if err != nil {
			s.metrics.ObserveReservation(resultLabel(err))
			return nil, err
		}
		missing := item.Quantity
		for i, booking := range existing {
			if missing == 0 {
				break
			}
			if booking.AssetID != item.AssetID || booking.BlockedFrom.After(from) || booking.BlockedUntil.Before(until) {
				continue
			}
			take := min(booking.Quantity-covered[i], missing)
			covered[i] += take
			missing -= take
		}
		if missing == 0 {
			continue
		}
		requests = append(requests, bookingRequest{
			assetID:  item.AssetID,
			quantity: missing,
			from:     from,
			until:    until,
		})
	}
	if len(requests) == 0 {
		return existing, nil
	}

	created, err := s.reserveLocked(ctx, order.ID, requests)
	s.metrics.ObserveReservation(resultLabel(err))
	if err != nil {
		return nil, err
	}
	return append(existing, created...), nil
}

// reserveLocked checks and inserts a batch of bookings. Assets are locked in sorted id order
// so concurrent batches cannot deadlock, and every read happens before the insert.
func (s *bookingService) reserveLocked(ctx context.Context, orderID string, requests []bookingRequest) ([]AssetBooking, error) {
	ids := make([]string, 0, len(requests))
	for _, req := range requests {
		ids = append(ids, req.assetID)
	}
	slices.Sort(ids)
	ids = slices.Compact(ids)

	assets, err := s.assets.LockForBooking(ctx, ids)
	if err != nil {
		return nil, mapRepositoryError(err, "assets")
	}

	now := s.clock()
	created := make([]AssetBooking, 0, len(requests))
	for _, req := range requests {
		asset, ok := assets[req.assetID]
		if !ok {
			return nil, fmt.Errorf("%w: asset %s", ErrNotFound, req.assetID)
		}
		overlapping, err := s.bookings.ListOverlapping(ctx, req.assetID, req.from, req.until)
		if err != nil {
			return nil, mapRepositoryError(err, "bookings of asset "+req.assetID)
		}
		booked := sumBooked(overlapping, req.from, req.until)
		booked += sumBooked(created, req.from, req.until, req.assetID)
		if booked+req.quantity > asset.TotalQuantity {
			return nil, fmt.Errorf("%w: asset %s has %d of %d units free between %s and %s, %d requested",
				ErrInsufficientAvailability, req.assetID, max(asset.TotalQuantity-booked, 0), asset.TotalQuantity,
				req.from.Format(time.DateOnly), req.until.Format(time.DateOnly), req.quantity)
		}
		created = append(created, AssetBooking{
			ID:           bookingIDPrefix + s.newID(),
			AssetID:      req.assetID,
			OrderID:      orderID,
			Quantity:     req.quantity,
			BlockedFrom:  req.from,
			BlockedUntil: req.until,
			CreatedAt:    now,
		})
	}

	if err := s.bookings.Insert(ctx, created); err != nil {
		return nil, mapRepositoryError(err, "bookings")
	}

	s.logger(ctx, "booking.reserved", map[string]any{
		"orderId":  orderID,
		"bookings": len(created),
		"assets":   ids,
	})
	return created, nil
}

// sumBooked totals active bookings overlapping [from, until), optionally limited to assetIDs.
func sumBooked(bookings []AssetBooking, from, until time.Time, assetIDs ...string) int {
	total := 0
	for _, booking := range bookings {
		if len(assetIDs) > 0 && !slices.Contains(assetIDs, booking.AssetID) {
			continue
		}
		if booking.Active() && booking.Overlaps(from, until) {
			total += booking.Quantity
		}
	}
	return total
}

func (s *bookingService) ReleaseForOrder(ctx context.Context, orderID string) (int, error) {
	released, err := s.bookings.ReleaseByOrder(ctx, orderID, s.clock())
	if err != nil {
		return 0, mapRepositoryError(err, "bookings of order "+orderID)
	}
	if released > 0 {
		s.logger(ctx, "booking.released", map[string]any{"orderId": orderID, "bookings": released})
	}
	return released, nil
}

func (s *bookingService) Availability(ctx context.Context, query AvailabilityQuery) (Availability, error) {
	assetID := strings.TrimSpace(query.AssetID)
	if assetID == "" {
		return Availability{}, fmt.Errorf("%w: asset id is required", ErrInvalidInput)
	}
	if query.From.IsZero() || query.Until.IsZero() || !query.From.Before(query.Until) {
		return Availability{}, fmt.Errorf("%w: availability window must start before it ends", ErrInvalidWindow)
	}
	if err := s.policy.Authorize(query.Actor, ActionBookingRead); err != nil {
		return Availability{}, err
	}

	asset, err := s.assets.FindByID(ctx, assetID)
	if err != nil {
		return Availability{}, mapRepositoryError(err, "asset "+assetID)
	}
	from, until := query.From.UTC(), query.Until.UTC()
	overlapping, err := s.bookings.ListOverlapping(ctx, assetID, from, until)
	if err != nil {
		return Availability{}, mapRepositoryError(err, "bookings of asset "+assetID)
	}
	booked := sumBooked(overlapping, from, until)
	return Availability{
		AssetID:       assetID,
		From:          from,
		Until:         until,
		TotalQuantity: asset.TotalQuantity,
		Booked:        booked,
		Available:     max(asset.TotalQuantity-booked, 0),
	}, nil
}

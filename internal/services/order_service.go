package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	domain "github.com/eventops/fulfillment/internal/domain"
	"github.com/eventops/fulfillment/internal/platform/textutil"
	"github.com/eventops/fulfillment/internal/repositories"
)

const (
	orderIDPrefix     = "ord_"
	orderNumberPrefix = "ORD-"
)

// OrderServiceDeps bundles collaborators required by the order state machine.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	History     repositories.OrderHistoryRepository
	Reskins     repositories.ReskinRepository
	Pricing     *PricingEngine
	Bookings    BookingService
	Rates       RateLookup
	Policy      RolePolicy
	UnitOfWork  repositories.UnitOfWork
	Events      OrderEventPublisher
	Metrics     Metrics
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	machine *stateMachine
	rates   RateLookup
}

// NewOrderService wires dependencies into an OrderService.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Rates == nil {
		return nil, errors.New("order service: rate lookup is required")
	}
	machine, err := newStateMachine(stateMachineDepsFrom(deps.Orders, deps.History, deps.Reskins, deps.Pricing, deps.Bookings,
		deps.Policy, deps.UnitOfWork, deps.Events, deps.Metrics, deps.Clock, deps.IDGenerator, deps.Logger))
	if err != nil {
		return nil, fmt.Errorf("order service: %w", err)
	}
	return &orderService{machine: machine, rates: deps.Rates}, nil
}

func stateMachineDepsFrom(
	orders repositories.OrderRepository,
	history repositories.OrderHistoryRepository,
	reskins repositories.ReskinRepository,
	pricing *PricingEngine,
	bookings BookingService,
	policy RolePolicy,
	unit repositories.UnitOfWork,
	events OrderEventPublisher,
	metrics Metrics,
	clock func() time.Time,
	idGen func() string,
	logger func(context.Context, string, map[string]any),
) stateMachineDeps {
	if clock == nil {
		clock = time.Now
	}
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	return stateMachineDeps{
		orders:     orders,
		history:    history,
		reskins:    reskins,
		pricing:    pricing,
		bookings:   bookings,
		policy:     policy,
		unitOfWork: unit,
		events:     events,
		metrics:    metrics,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	m := s.machine
	if err := m.policy.Authorize(cmd.Actor, ActionOrderCreate); err != nil {
		return Order{}, err
	}
	companyID := strings.TrimSpace(cmd.CompanyID)
	if companyID == "" {
		return Order{}, fmt.Errorf("%w: company id is required", ErrInvalidInput)
	}
	if !cmd.Actor.CanAccessCompany(companyID) {
		return Order{}, fmt.Errorf("%w: actor cannot access company %s", ErrForbidden, companyID)
	}
	if cmd.EventStartDate.IsZero() || cmd.EventEndDate.IsZero() {
		return Order{}, fmt.Errorf("%w: event start and end dates are required", ErrInvalidInput)
	}
	if !cmd.EventEndDate.After(cmd.EventStartDate) {
		return Order{}, fmt.Errorf("%w: event must end after it starts", ErrInvalidWindow)
	}
	if cmd.VolumeM3.IsNegative() || cmd.WeightKg.IsNegative() {
		return Order{}, fmt.Errorf("%w: volume and weight must not be negative", ErrInvalidInput)
	}
	items, err := normalizeOrderItems(cmd.Items)
	if err != nil {
		return Order{}, err
	}
	tripType, err := normalizeTripType(cmd.TripType)
	if err != nil {
		return Order{}, err
	}

	venue := domain.Venue{
		Name:    textutil.Sanitize(cmd.Venue.Name),
		Address: textutil.Sanitize(cmd.Venue.Address),
		City:    textutil.Sanitize(cmd.Venue.City),
		Emirate: textutil.Sanitize(cmd.Venue.Emirate),
		Country: textutil.Sanitize(cmd.Venue.Country),
	}
	if venue.City == "" && venue.Emirate == "" {
		return Order{}, fmt.Errorf("%w: venue city or emirate is required", ErrInvalidInput)
	}

	vehicle := strings.TrimSpace(cmd.VehicleType)
	if vehicle != "" {
		selected, fallback, err := s.resolveVehicle(ctx, vehicle, cmd.VolumeM3)
		if err != nil {
			return Order{}, err
		}
		if fallback.Code != "" && selected.Code != fallback.Code {
			return Order{}, fmt.Errorf("%w: vehicle %s differs from the default %s and needs a vehicle update with a reason",
				ErrInvalidInput, selected.Code, fallback.Code)
		}
		vehicle = selected.Code
	}

	now := m.clock()
	id := m.newID()
	order := Order{
		ID:                   orderIDPrefix + id,
		OrderNumber:          orderNumber(now, id),
		CompanyID:            companyID,
		Status:               domain.OrderStatusDraft,
		EventStartDate:       cmd.EventStartDate.UTC(),
		EventEndDate:         cmd.EventEndDate.UTC(),
		Venue:                venue,
		VolumeM3:             cmd.VolumeM3,
		WeightKg:             cmd.WeightKg,
		Items:                items,
		TransportVehicleType: vehicle,
		TransportTripType:    tripType,
		CreatedBy:            cmd.Actor.ID,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := m.orders.Insert(ctx, order); err != nil {
		return Order{}, mapRepositoryError(err, "order")
	}

	m.logger(ctx, "order.created", map[string]any{
		"orderId":     order.ID,
		"orderNumber": order.OrderNumber,
		"companyId":   order.CompanyID,
		"actor":       cmd.Actor.ID,
	})
	return order, nil
}

// orderNumber derives the human code from the creation date and the tail of the ulid.
func orderNumber(now time.Time, id string) string {
	suffix := strings.ToUpper(id)
	if len(suffix) > 6 {
		suffix = suffix[len(suffix)-6:]
	}
	return orderNumberPrefix + now.Format("20060102") + "-" + suffix
}

func (s *orderService) GetOrder(ctx context.Context, cmd GetOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrInvalidInput)
	}
	order, err := s.machine.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err, "order "+orderID)
	}
	if err := authorizeOrder(s.machine.policy, cmd.Actor, ActionOrderRead, order); err != nil {
		return Order{}, err
	}
	return order, nil
}

func (s *orderService) ListHistory(ctx context.Context, cmd GetOrderCommand) ([]OrderStatusHistoryEntry, error) {
	order, err := s.GetOrder(ctx, cmd)
	if err != nil {
		return nil, err
	}
	entries, err := s.machine.history.List(ctx, order.ID)
	if err != nil {
		return nil, mapRepositoryError(err, "order history "+order.ID)
	}
	return entries, nil
}

func (s *orderService) SubmitTransition(ctx context.Context, cmd TransitionCommand) (OrderStatusHistoryEntry, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return OrderStatusHistoryEntry{}, fmt.Errorf("%w: order id is required", ErrInvalidInput)
	}
	to := OrderStatus(strings.ToUpper(strings.TrimSpace(string(cmd.RequestedStatus))))
	if !to.Valid() {
		return OrderStatusHistoryEntry{}, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, cmd.RequestedStatus)
	}

	outcome, err := s.machine.transition(ctx, orderID, cmd.Actor,
		s.machine.requestedTransition(cmd.Actor, to, textutil.SanitizePtr(cmd.Notes)))
	if err != nil {
		return OrderStatusHistoryEntry{}, err
	}
	return outcome.entry, nil
}

func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (OrderStatusHistoryEntry, error) {
	return s.SubmitTransition(ctx, TransitionCommand{
		OrderID:         cmd.OrderID,
		RequestedStatus: domain.OrderStatusCancelled,
		Actor:           cmd.Actor,
		Notes:           cmd.Notes,
	})
}

func (s *orderService) ReturnToLogistics(ctx context.Context, cmd ReturnToLogisticsCommand) (OrderStatusHistoryEntry, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return OrderStatusHistoryEntry{}, fmt.Errorf("%w: order id is required", ErrInvalidInput)
	}
	reason, err := requireReason(textutil.Sanitize(cmd.Reason))
	if err != nil {
		return OrderStatusHistoryEntry{}, err
	}

	m := s.machine
	outcome, err := m.transition(ctx, orderID, cmd.Actor, func(_ context.Context, order Order) (transitionPlan, error) {
		if order.Status != domain.OrderStatusPendingApproval {
			return transitionPlan{}, fmt.Errorf("%w: only %s orders can be returned to logistics, order is %s",
				ErrInvalidTransition, domain.OrderStatusPendingApproval, order.Status)
		}
		if err := m.policy.Authorize(cmd.Actor, ActionOrderReturnToLogistics); err != nil {
			return transitionPlan{}, err
		}
		return transitionPlan{order: order, to: domain.OrderStatusPricingReview, notes: &reason}, nil
	})
	if err != nil {
		return OrderStatusHistoryEntry{}, err
	}
	return outcome.entry, nil
}

func (s *orderService) SetItems(ctx context.Context, cmd SetOrderItemsCommand) (Order, error) {
	items, err := normalizeOrderItems(cmd.Items)
	if err != nil {
		return Order{}, err
	}
	return s.update(ctx, cmd.OrderID, cmd.Actor, ActionOrderItems, func(order *Order) error {
		if !slices.Contains(editableLineItemStatuses, order.Status) {
			return fmt.Errorf("%w: items of order %s are locked in status %s", ErrConflict, order.ID, order.Status)
		}
		order.Items = items
		return nil
	})
}

func (s *orderService) UpdateJobNumber(ctx context.Context, cmd UpdateJobNumberCommand) (Order, error) {
	jobNumber := textutil.Sanitize(cmd.JobNumber)
	if jobNumber == "" {
		return Order{}, fmt.Errorf("%w: job number is required", ErrInvalidInput)
	}
	return s.update(ctx, cmd.OrderID, cmd.Actor, ActionOrderJobNumber, func(order *Order) error {
		order.JobNumber = &jobNumber
		return nil
	})
}

func (s *orderService) UpdateWindows(ctx context.Context, cmd UpdateWindowsCommand) (Order, error) {
	delivery, pickup := normalizeWindow(cmd.DeliveryWindow), normalizeWindow(cmd.PickupWindow)
	if err := validateWindows(delivery, pickup); err != nil {
		return Order{}, err
	}
	return s.update(ctx, cmd.OrderID, cmd.Actor, ActionOrderWindows, func(order *Order) error {
		nextDelivery, nextPickup := delivery, pickup
		if nextDelivery == nil {
			nextDelivery = order.DeliveryWindow
		}
		if nextPickup == nil {
			nextPickup = order.PickupWindow
		}
		if err := validateWindows(nextDelivery, nextPickup); err != nil {
			return err
		}
		order.DeliveryWindow = nextDelivery
		order.PickupWindow = nextPickup
		return nil
	})
}

func (s *orderService) UpdateVehicle(ctx context.Context, cmd UpdateVehicleCommand) (Order, error) {
	vehicle := strings.TrimSpace(cmd.VehicleType)
	if vehicle == "" {
		return Order{}, fmt.Errorf("%w: vehicle type is required", ErrInvalidInput)
	}
	tripType, err := normalizeTripType(cmd.TripType)
	if err != nil {
		return Order{}, err
	}
	reason := textutil.Sanitize(cmd.Reason)

	return s.update(ctx, cmd.OrderID, cmd.Actor, ActionOrderVehicle, func(order *Order) error {
		if !slices.Contains(editableLineItemStatuses, order.Status) {
			return fmt.Errorf("%w: transport of order %s is locked in status %s", ErrConflict, order.ID, order.Status)
		}
		selected, fallback, err := s.resolveVehicle(ctx, vehicle, order.VolumeM3)
		if err != nil {
			return err
		}
		order.TransportVehicleType = selected.Code
		order.TransportTripType = tripType
		order.VehicleChangeReason = nil
		if fallback.Code == "" || selected.Code != fallback.Code {
			checked, err := requireReason(reason)
			if err != nil {
				return err
			}
			order.VehicleChangeReason = &checked
		}
		return nil
	})
}

// update applies a dedicated field update under the order row lock.
func (s *orderService) update(ctx context.Context, orderID string, actor Actor, action string, mutate func(*Order) error) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrInvalidInput)
	}
	m := s.machine

	var updated Order
	err := m.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		order, err := m.orders.LockByID(txCtx, orderID)
		if err != nil {
			return mapRepositoryError(err, "order "+orderID)
		}
		if err := authorizeOrder(m.policy, actor, action, order); err != nil {
			return err
		}
		if order.Status.IsTerminal() {
			return fmt.Errorf("%w: order %s is %s", ErrConflict, order.ID, order.Status)
		}
		if err := mutate(&order); err != nil {
			return err
		}
		order.UpdatedAt = m.clock()
		if err := m.orders.Update(txCtx, order); err != nil {
			return mapRepositoryError(err, "order "+orderID)
		}
		updated = order
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	m.logger(ctx, "order.updated", map[string]any{
		"orderId": updated.ID,
		"action":  action,
		"actor":   actor.ID,
	})
	return updated, nil
}

// resolveVehicle returns the catalog entry for code and the default vehicle for volume. The
// default is zero when no vehicle covers the volume.
func (s *orderService) resolveVehicle(ctx context.Context, code string, volume decimal.Decimal) (VehicleType, VehicleType, error) {
	vehicles, err := s.rates.VehicleTypes(ctx)
	if err != nil {
		return VehicleType{}, VehicleType{}, err
	}
	idx := slices.IndexFunc(vehicles, func(v VehicleType) bool { return strings.EqualFold(v.Code, code) })
	if idx < 0 {
		return VehicleType{}, VehicleType{}, fmt.Errorf("%w: unknown vehicle type %q", ErrInvalidInput, code)
	}
	fallback, _ := DefaultVehicle(vehicles, volume)
	return vehicles[idx], fallback, nil
}

func normalizeOrderItems(items []OrderItem) ([]OrderItem, error) {
	out := make([]OrderItem, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		item.AssetID = strings.TrimSpace(item.AssetID)
		if item.AssetID == "" {
			return nil, fmt.Errorf("%w: item asset id is required", ErrInvalidInput)
		}
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: item %s quantity must be positive", ErrInvalidInput, item.AssetID)
		}
		if item.RefurbDays < 0 {
			return nil, fmt.Errorf("%w: item %s refurb days must not be negative", ErrInvalidInput, item.AssetID)
		}
		if _, dup := seen[item.AssetID]; dup {
			return nil, fmt.Errorf("%w: asset %s is listed twice", ErrInvalidInput, item.AssetID)
		}
		seen[item.AssetID] = struct{}{}
		out = append(out, item)
	}
	return out, nil
}

func normalizeTripType(tripType domain.TripType) (domain.TripType, error) {
	if tripType == "" {
		return domain.TripTypeRoundTrip, nil
	}
	tripType = domain.TripType(strings.ToUpper(strings.TrimSpace(string(tripType))))
	if !tripType.Valid() {
		return "", fmt.Errorf("%w: unsupported trip type %q", ErrInvalidInput, tripType)
	}
	return tripType, nil
}

func normalizeWindow(window *TimeWindow) *TimeWindow {
	if window == nil || (window.Start == nil && window.End == nil) {
		return nil
	}
	out := &TimeWindow{}
	if window.Start != nil {
		out.Start = valuePtr(window.Start.UTC())
	}
	if window.End != nil {
		out.End = valuePtr(window.End.UTC())
	}
	return out
}

// validateWindows enforces start < end on complete windows and that pickup does not start
// before delivery ends.
func validateWindows(delivery, pickup *TimeWindow) error {
	for name, window := range map[string]*TimeWindow{"delivery": delivery, "pickup": pickup} {
		if window.Complete() && !window.Start.Before(*window.End) {
			return fmt.Errorf("%w: %s window must start before it ends", ErrInvalidWindow, name)
		}
	}
	if delivery != nil && delivery.End != nil && pickup != nil && pickup.Start != nil && pickup.Start.Before(*delivery.End) {
		return fmt.Errorf("%w: pickup window must not start before the delivery window ends", ErrInvalidWindow)
	}
	return nil
}

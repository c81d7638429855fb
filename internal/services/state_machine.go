package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	domain "github.com/eventops/fulfillment/internal/domain"
	"github.com/eventops/fulfillment/internal/repositories"
)

const historyIDPrefix = "hst_"

// orderTransitions is the forward transition table. Cancellation edges live in
// cancellableStatuses and return to logistics is a separate operation.
var orderTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusDraft:               {domain.OrderStatusSubmitted},
	domain.OrderStatusSubmitted:           {domain.OrderStatusPricingReview},
	domain.OrderStatusPricingReview:       {domain.OrderStatusQuoted, domain.OrderStatusPendingApproval},
	domain.OrderStatusPendingApproval:     {domain.OrderStatusQuoted},
	domain.OrderStatusQuoted:              {domain.OrderStatusConfirmed, domain.OrderStatusDeclined},
	domain.OrderStatusConfirmed:           {domain.OrderStatusInPreparation, domain.OrderStatusAwaitingFabrication},
	domain.OrderStatusAwaitingFabrication: {domain.OrderStatusReadyForDelivery},
	domain.OrderStatusInPreparation:       {domain.OrderStatusReadyForDelivery},
	domain.OrderStatusReadyForDelivery:    {domain.OrderStatusInTransit},
	domain.OrderStatusInTransit:           {domain.OrderStatusDelivered},
	domain.OrderStatusDelivered:           {domain.OrderStatusInUse},
	domain.OrderStatusInUse:               {domain.OrderStatusAwaitingReturn},
	domain.OrderStatusAwaitingReturn:      {domain.OrderStatusClosed},
}

var cancellableStatuses = []domain.OrderStatus{
	domain.OrderStatusDraft,
	domain.OrderStatusSubmitted,
	domain.OrderStatusPricingReview,
	domain.OrderStatusPendingApproval,
	domain.OrderStatusQuoted,
	domain.OrderStatusConfirmed,
	domain.OrderStatusAwaitingFabrication,
	domain.OrderStatusInPreparation,
}

// bookingStatuses hold reserved inventory.
var bookingStatuses = []domain.OrderStatus{
	domain.OrderStatusConfirmed,
	domain.OrderStatusAwaitingFabrication,
	domain.OrderStatusInPreparation,
	domain.OrderStatusReadyForDelivery,
	domain.OrderStatusInTransit,
	domain.OrderStatusDelivered,
	domain.OrderStatusInUse,
	domain.OrderStatusAwaitingReturn,
}

// eventStatuses trigger an order.transition.occurred event once committed.
var eventStatuses = []domain.OrderStatus{
	domain.OrderStatusQuoted,
	domain.OrderStatusConfirmed,
}

// CanTransition reports whether the lifecycle allows moving from one status to another,
// including the cancellation edge.
func CanTransition(from, to domain.OrderStatus) bool {
	if to == domain.OrderStatusCancelled {
		return slices.Contains(cancellableStatuses, from)
	}
	return slices.Contains(orderTransitions[from], to)
}

// AllowedTransitions lists the statuses reachable from status in a single step.
func AllowedTransitions(status domain.OrderStatus) []domain.OrderStatus {
	next := slices.Clone(orderTransitions[status])
	if slices.Contains(cancellableStatuses, status) {
		next = append(next, domain.OrderStatusCancelled)
	}
	return next
}

func requiresBookings(status domain.OrderStatus) bool {
	return slices.Contains(bookingStatuses, status)
}

func transitionPolicyAction(to domain.OrderStatus) string {
	if to == domain.OrderStatusCancelled {
		return ActionOrderCancel
	}
	return TransitionAction(to)
}

// transitionPlan describes the status change prepared against a locked order. Order carries
// any field changes that commit together with the status.
type transitionPlan struct {
	order   Order
	to      domain.OrderStatus
	notes   *string
	pricing *OrderPricing
}

type transitionOutcome struct {
	order   Order
	entry   OrderStatusHistoryEntry
	pricing *OrderPricing
}

type stateMachineDeps struct {
	orders     repositories.OrderRepository
	history    repositories.OrderHistoryRepository
	reskins    repositories.ReskinRepository
	pricing    *PricingEngine
	bookings   BookingService
	policy     RolePolicy
	unitOfWork repositories.UnitOfWork
	events     OrderEventPublisher
	metrics    Metrics
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
}

// stateMachine validates and applies order transitions. Each transition runs in one unit of
// work holding the order row lock: guard evaluation, booking changes, the status update and
// the history entry commit or roll back together.
type stateMachine struct {
	stateMachineDeps
}

func newStateMachine(deps stateMachineDeps) (*stateMachine, error) {
	switch {
	case deps.orders == nil:
		return nil, errors.New("state machine: order repository is required")
	case deps.history == nil:
		return nil, errors.New("state machine: order history repository is required")
	case deps.reskins == nil:
		return nil, errors.New("state machine: reskin repository is required")
	case deps.pricing == nil:
		return nil, errors.New("state machine: pricing engine is required")
	case deps.bookings == nil:
		return nil, errors.New("state machine: booking service is required")
	case deps.policy == nil:
		return nil, errors.New("state machine: role policy is required")
	}
	if deps.unitOfWork == nil {
		deps.unitOfWork = noopUnitOfWork{}
	}
	if deps.metrics == nil {
		deps.metrics = noopMetrics{}
	}
	if deps.logger == nil {
		deps.logger = func(context.Context, string, map[string]any) {}
	}
	return &stateMachine{stateMachineDeps: deps}, nil
}

// transition locks the order, asks prepare for a plan, and applies it.
func (m *stateMachine) transition(ctx context.Context, orderID string, actor Actor, prepare func(ctx context.Context, order Order) (transitionPlan, error)) (transitionOutcome, error) {
	var (
		outcome transitionOutcome
		from    domain.OrderStatus
		to      domain.OrderStatus
	)
	err := m.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		order, err := m.orders.LockByID(txCtx, orderID)
		if err != nil {
			return mapRepositoryError(err, "order "+orderID)
		}
		if !actor.CanAccessCompany(order.CompanyID) {
			return fmt.Errorf("%w: actor cannot access company %s", ErrForbidden, order.CompanyID)
		}
		from = order.Status

		plan, err := prepare(txCtx, order)
		if err != nil {
			return err
		}
		to = plan.to
		outcome, err = m.apply(txCtx, actor, from, plan)
		return err
	})

	m.metrics.ObserveTransition(string(from), string(to), resultLabel(err))
	if err != nil {
		m.logger(ctx, "order.transition.rejected", map[string]any{
			"orderId": orderID,
			"from":    string(from),
			"to":      string(to),
			"actor":   actor.ID,
			"error":   err.Error(),
		})
		return transitionOutcome{}, err
	}

	m.logger(ctx, "order.transitioned", map[string]any{
		"orderId": orderID,
		"from":    string(from),
		"to":      string(to),
		"actor":   actor.ID,
	})
	if slices.Contains(eventStatuses, to) {
		m.publishEvent(ctx, outcome, from, actor)
	}
	return outcome, nil
}

// requestedTransition prepares a plain table transition on behalf of actor.
func (m *stateMachine) requestedTransition(actor Actor, to domain.OrderStatus, notes *string) func(context.Context, Order) (transitionPlan, error) {
	return func(_ context.Context, order Order) (transitionPlan, error) {
		if !CanTransition(order.Status, to) {
			return transitionPlan{}, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, order.Status, to)
		}
		if err := m.policy.Authorize(actor, transitionPolicyAction(to)); err != nil {
			return transitionPlan{}, err
		}
		return transitionPlan{order: order, to: to, notes: notes}, nil
	}
}

func (m *stateMachine) apply(ctx context.Context, actor Actor, from domain.OrderStatus, plan transitionPlan) (transitionOutcome, error) {
	order := plan.order
	pricing, err := m.checkGuards(ctx, order, from, plan.to, plan.pricing)
	if err != nil {
		return transitionOutcome{}, err
	}

	switch {
	case plan.to == domain.OrderStatusCancelled:
		if _, err := m.bookings.ReleaseForOrder(ctx, order.ID); err != nil {
			return transitionOutcome{}, err
		}
	case requiresBookings(plan.to) && !requiresBookings(from):
		if _, err := m.bookings.ReserveForOrder(ctx, order); err != nil {
			return transitionOutcome{}, err
		}
	}

	now := m.clock()
	order.Status = plan.to
	order.UpdatedAt = now
	if err := m.orders.Update(ctx, order); err != nil {
		return transitionOutcome{}, mapRepositoryError(err, "order "+order.ID)
	}

	entry := OrderStatusHistoryEntry{
		ID:             historyIDPrefix + m.newID(),
		OrderID:        order.ID,
		PreviousStatus: from,
		Status:         plan.to,
		Timestamp:      now,
		UpdatedBy:      actor.ID,
		Notes:          cloneStringPtr(plan.notes),
	}
	if err := m.history.Append(ctx, entry); err != nil {
		return transitionOutcome{}, mapRepositoryError(err, "order history "+order.ID)
	}
	return transitionOutcome{order: order, entry: entry, pricing: pricing}, nil
}

// checkGuards evaluates the preconditions of moving from one status to another. Reads happen
// here, before any write of the transition.
func (m *stateMachine) checkGuards(ctx context.Context, order Order, from, to domain.OrderStatus, pricing *OrderPricing) (*OrderPricing, error) {
	if from == domain.OrderStatusDraft && to == domain.OrderStatusSubmitted && len(order.Items) == 0 {
		return nil, fmt.Errorf("%w: order has no items", ErrGuardNotSatisfied)
	}

	needsPricing := to == domain.OrderStatusQuoted ||
		(from == domain.OrderStatusPricingReview && to != domain.OrderStatusCancelled)
	if needsPricing && pricing == nil {
		computed, err := m.pricing.Price(ctx, order, nil)
		if err != nil {
			if IsConfigurationGap(err) {
				return nil, fmt.Errorf("%w: pricing is incomplete: %w", ErrGuardNotSatisfied, err)
			}
			return nil, err
		}
		pricing = &computed
	}

	needsWindow := to == domain.OrderStatusInPreparation ||
		to == domain.OrderStatusReadyForDelivery ||
		(from == domain.OrderStatusAwaitingFabrication && to != domain.OrderStatusCancelled)
	if needsWindow && !order.DeliveryWindow.Complete() {
		return nil, fmt.Errorf("%w: delivery window must be set before %s", ErrGuardNotSatisfied, to)
	}

	leavesFabrication := from == domain.OrderStatusAwaitingFabrication && to != domain.OrderStatusCancelled
	if to == domain.OrderStatusInPreparation || to == domain.OrderStatusAwaitingFabrication || leavesFabrication {
		pending, err := m.pendingReskins(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		switch {
		case to == domain.OrderStatusAwaitingFabrication && pending == 0:
			return nil, fmt.Errorf("%w: order has no pending reskin requests", ErrGuardNotSatisfied)
		case to != domain.OrderStatusAwaitingFabrication && pending > 0:
			return nil, fmt.Errorf("%w: %d reskin requests are still pending", ErrGuardNotSatisfied, pending)
		}
	}
	return pricing, nil
}

func (m *stateMachine) pendingReskins(ctx context.Context, orderID string) (int, error) {
	reskins, err := m.reskins.ListByOrder(ctx, orderID)
	if err != nil {
		return 0, mapRepositoryError(err, "reskins of order "+orderID)
	}
	pending := 0
	for _, reskin := range reskins {
		if reskin.Status == domain.ReskinStatusPending {
			pending++
		}
	}
	return pending, nil
}

func (m *stateMachine) publishEvent(ctx context.Context, outcome transitionOutcome, from domain.OrderStatus, actor Actor) {
	if m.events == nil {
		return
	}
	event := OrderEvent{
		Type:           orderEventTransitioned,
		OrderID:        outcome.order.ID,
		OrderNumber:    outcome.order.OrderNumber,
		CompanyID:      outcome.order.CompanyID,
		PreviousStatus: string(from),
		CurrentStatus:  string(outcome.order.Status),
		ActorID:        actor.ID,
		OccurredAt:     outcome.entry.Timestamp,
	}
	if outcome.pricing != nil && outcome.pricing.Complete {
		event.Metadata = map[string]any{
			"clientTotal":   outcome.pricing.ClientTotal.StringFixed(2),
			"marginPercent": outcome.pricing.Margin.Percent.String(),
		}
	}
	if err := m.events.PublishOrderEvent(ctx, event); err != nil {
		m.logger(ctx, "order.event.publish_failed", map[string]any{
			"orderId": outcome.order.ID,
			"event":   event.Type,
			"error":   err.Error(),
		})
	}
}

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/eventops/fulfillment/internal/domain"
	"github.com/eventops/fulfillment/internal/platform/textutil"
	"github.com/eventops/fulfillment/internal/repositories"
)

var maxMarginPercent = decimal.NewFromInt(100)

// PricingServiceDeps bundles collaborators for pricing previews and quote approval.
type PricingServiceDeps struct {
	Orders      repositories.OrderRepository
	History     repositories.OrderHistoryRepository
	Reskins     repositories.ReskinRepository
	Pricing     *PricingEngine
	Bookings    BookingService
	Policy      RolePolicy
	UnitOfWork  repositories.UnitOfWork
	Events      OrderEventPublisher
	Metrics     Metrics
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type quoteService struct {
	machine *stateMachine
}

// NewPricingService wires dependencies into a PricingService.
func NewPricingService(deps PricingServiceDeps) (PricingService, error) {
	machine, err := newStateMachine(stateMachineDepsFrom(deps.Orders, deps.History, deps.Reskins, deps.Pricing, deps.Bookings,
		deps.Policy, deps.UnitOfWork, deps.Events, deps.Metrics, deps.Clock, deps.IDGenerator, deps.Logger))
	if err != nil {
		return nil, fmt.Errorf("pricing service: %w", err)
	}
	return &quoteService{machine: machine}, nil
}

// PreviewPricing computes the current breakdown without persisting anything. Configuration gaps
// are not errors here: the breakdown comes back incomplete with its Issues populated.
func (s *quoteService) PreviewPricing(ctx context.Context, cmd PreviewPricingCommand) (OrderPricing, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return OrderPricing{}, fmt.Errorf("%w: order id is required", ErrInvalidInput)
	}
	m := s.machine
	order, err := m.orders.FindByID(ctx, orderID)
	if err != nil {
		return OrderPricing{}, mapRepositoryError(err, "order "+orderID)
	}
	if err := authorizeOrder(m.policy, cmd.Actor, ActionPricingPreview, order); err != nil {
		return OrderPricing{}, err
	}

	pricing, err := m.pricing.Price(ctx, order, nil)
	if err != nil {
		if !IsConfigurationGap(err) {
			return OrderPricing{}, err
		}
		m.logger(ctx, "pricing.incomplete", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}
	return pricing, nil
}

// ApproveQuote persists an optional margin override, prices the order from line items read in
// the same unit of work, and moves the order to QUOTED.
func (s *quoteService) ApproveQuote(ctx context.Context, cmd ApproveQuoteCommand) (QuoteApproval, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return QuoteApproval{}, fmt.Errorf("%w: order id is required", ErrInvalidInput)
	}

	var override *domain.MarginOverride
	if cmd.MarginOverride != nil {
		reason := textutil.Sanitize(cmd.OverrideReason)
		if reason == "" {
			return QuoteApproval{}, ErrMarginOverrideReasonRequired
		}
		percent := *cmd.MarginOverride
		if percent.IsNegative() || percent.GreaterThan(maxMarginPercent) {
			return QuoteApproval{}, fmt.Errorf("%w: margin override must be between 0 and 100", ErrInvalidInput)
		}
		override = &domain.MarginOverride{Percent: percent, Reason: reason, ApprovedBy: cmd.Actor.ID}
	}
	notes := textutil.SanitizePtr(cmd.Notes)

	m := s.machine
	outcome, err := m.transition(ctx, orderID, cmd.Actor, func(txCtx context.Context, order Order) (transitionPlan, error) {
		if !CanTransition(order.Status, domain.OrderStatusQuoted) {
			return transitionPlan{}, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, order.Status, domain.OrderStatusQuoted)
		}
		if err := m.policy.Authorize(cmd.Actor, ActionQuoteApprove); err != nil {
			return transitionPlan{}, err
		}

		if override != nil {
			applied, err := s.appliedMargin(txCtx, order)
			if err != nil {
				return transitionPlan{}, err
			}
			if override.Percent.Equal(applied) {
				return transitionPlan{}, fmt.Errorf("%w: margin is already %s%%", ErrMarginUnchanged, applied)
			}
			company, err := s.companyMargin(txCtx, order)
			if err != nil {
				return transitionPlan{}, err
			}
			if override.Percent.Equal(company) {
				// Back to the company default, so no override remains.
				order.MarginOverride = nil
			} else {
				approved := *override
				approved.ApprovedAt = m.clock()
				order.MarginOverride = &approved
			}
		}

		pricing, err := m.pricing.Price(txCtx, order, nil)
		if err != nil {
			if IsConfigurationGap(err) {
				return transitionPlan{}, fmt.Errorf("%w: pricing is incomplete: %w", ErrGuardNotSatisfied, err)
			}
			return transitionPlan{}, err
		}
		return transitionPlan{order: order, to: domain.OrderStatusQuoted, notes: notes, pricing: &pricing}, nil
	})
	if err != nil {
		return QuoteApproval{}, err
	}

	m.logger(ctx, "quote.approved", map[string]any{
		"orderId":       orderID,
		"clientTotal":   outcome.pricing.ClientTotal.String(),
		"marginPercent": outcome.pricing.Margin.Percent.String(),
		"overridden":    outcome.pricing.Margin.Overridden,
		"actor":         cmd.Actor.ID,
	})
	return QuoteApproval{Pricing: *outcome.pricing, History: outcome.entry}, nil
}

// appliedMargin is the persisted override when one exists, else the company default.
func (s *quoteService) appliedMargin(ctx context.Context, order Order) (decimal.Decimal, error) {
	if order.MarginOverride != nil {
		return order.MarginOverride.Percent, nil
	}
	return s.companyMargin(ctx, order)
}

func (s *quoteService) companyMargin(ctx context.Context, order Order) (decimal.Decimal, error) {
	margin, err := s.machine.pricing.rates.CompanyMargin(ctx, order.CompanyID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return decimal.Zero, fmt.Errorf("%w: company %s has no margin configured", ErrGuardNotSatisfied, order.CompanyID)
		}
		return decimal.Zero, err
	}
	return margin, nil
}

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/eventops/fulfillment/internal/domain"
	"github.com/eventops/fulfillment/internal/repositories"
)

const (
	pricingIssueNoTier      = "no_pricing_tier_found"
	pricingIssueNoTransport = "no_transport_rate_found"
)

// MarginOverrideInput is a requested deviation from the company default margin.
type MarginOverrideInput struct {
	Percent decimal.Decimal
	Reason  string
}

// ComputePricing composes the order price breakdown. It is a pure function of its inputs.
//
// When the volume tier or transport rate is missing the returned breakdown carries line item
// totals and Issues, Complete is false, and the error wraps ErrNoPricingTierFound or
// ErrNoTransportRateFound.
func ComputePricing(order Order, lineItems []LineItem, card RateCard, override *MarginOverrideInput) (OrderPricing, error) {
	pricing := OrderPricing{
		LineItems: sumLineItems(lineItems),
	}

	var gaps []error

	volume := order.VolumeM3
	pricing.BaseOperations.Volume = volume
	tier, err := FindVolumeTier(card.VolumeTiers, volume)
	if err != nil {
		gaps = append(gaps, err)
		pricing.Issues = append(pricing.Issues, domain.PricingIssue{Code: pricingIssueNoTier, Message: err.Error()})
	} else {
		pricing.BaseOperations.Rate = tier.Rate
		pricing.BaseOperations.Total = volume.Mul(tier.Rate)
	}

	pricing.Transport = transportSelection(order, card)
	rate, err := FindTransportRate(card.TransportRates, pricing.Transport.Emirate, pricing.Transport.TripType, pricing.Transport.VehicleType)
	if err != nil {
		gaps = append(gaps, err)
		pricing.Issues = append(pricing.Issues, domain.PricingIssue{Code: pricingIssueNoTransport, Message: err.Error()})
	} else {
		pricing.Transport.FinalRate = rate.Rate
	}

	pricing.Margin = resolveMargin(card.MarginPercent, override)

	if len(gaps) > 0 {
		return pricing, errors.Join(gaps...)
	}

	subTotal := pricing.BaseOperations.Total.Add(pricing.Transport.FinalRate).Add(pricing.LineItems.CatalogTotal)
	pricing.LogisticsSubTotal = subTotal
	pricing.Margin.Amount = subTotal.Mul(pricing.Margin.Percent).Shift(-2)
	pricing.ClientTotal = subTotal.Add(pricing.Margin.Amount).Add(pricing.LineItems.CustomTotal)
	pricing.Complete = true
	return pricing, nil
}

func sumLineItems(items []LineItem) domain.LineItemTotals {
	totals := domain.LineItemTotals{CatalogTotal: decimal.Zero, CustomTotal: decimal.Zero}
	for _, item := range items {
		if !item.Active() || !contributesToPrice(item) {
			continue
		}
		switch item.Type {
		case domain.LineItemTypeCatalog:
			totals.CatalogTotal = totals.CatalogTotal.Add(item.Total)
		case domain.LineItemTypeCustom:
			totals.CustomTotal = totals.CustomTotal.Add(item.Total)
		}
	}
	return totals
}

func contributesToPrice(item LineItem) bool {
	return item.BillingMode == "" || item.BillingMode == domain.BillingModeBillable
}

func transportSelection(order Order, card RateCard) domain.TransportPricing {
	emirate := strings.TrimSpace(order.Venue.Emirate)
	if emirate == "" {
		emirate = strings.TrimSpace(order.Venue.City)
	}
	selection := domain.TransportPricing{
		Emirate:     emirate,
		TripType:    order.TransportTripType,
		VehicleType: strings.TrimSpace(order.TransportVehicleType),
	}
	if selection.TripType == "" {
		selection.TripType = domain.TripTypeRoundTrip
	}

	fallback, ok := DefaultVehicle(card.VehicleTypes, order.VolumeM3)
	switch {
	case selection.VehicleType == "" && ok:
		selection.VehicleType = fallback.Code
	case selection.VehicleType != "" && ok && !strings.EqualFold(selection.VehicleType, fallback.Code):
		selection.VehicleChanged = true
		selection.VehicleChangeReason = cloneStringPtr(order.VehicleChangeReason)
	}
	return selection
}

func resolveMargin(companyDefault decimal.Decimal, override *MarginOverrideInput) domain.MarginPricing {
	margin := domain.MarginPricing{Percent: companyDefault}
	if override == nil {
		return margin
	}
	reason := strings.TrimSpace(override.Reason)
	if reason == "" || override.Percent.Equal(companyDefault) {
		return margin
	}
	margin.Percent = override.Percent
	margin.Overridden = true
	margin.OverrideReason = &reason
	return margin
}

// PricingEngineDeps bundles collaborators for gathering pricing inputs.
type PricingEngineDeps struct {
	Rates     RateLookup
	LineItems repositories.LineItemRepository
	Metrics   Metrics
}

// PricingEngine gathers rate cards and line items and runs ComputePricing.
type PricingEngine struct {
	rates     RateLookup
	lineItems repositories.LineItemRepository
	metrics   Metrics
}

// NewPricingEngine constructs a PricingEngine.
func NewPricingEngine(deps PricingEngineDeps) (*PricingEngine, error) {
	if deps.Rates == nil {
		return nil, errors.New("pricing engine: rate lookup is required")
	}
	if deps.LineItems == nil {
		return nil, errors.New("pricing engine: line item repository is required")
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &PricingEngine{rates: deps.Rates, lineItems: deps.LineItems, metrics: metrics}, nil
}

// Price computes the breakdown for the order. The persisted margin override applies unless an
// explicit override is passed. Line items are read with ctx, so a caller inside a unit of work
// sees the same snapshot it commits against.
func (e *PricingEngine) Price(ctx context.Context, order Order, override *MarginOverrideInput) (OrderPricing, error) {
	card, err := e.rates.RateCard(ctx, order.CompanyID)
	if err != nil {
		e.metrics.ObservePricing(resultLabel(err))
		return OrderPricing{}, err
	}
	items, err := e.lineItems.List(ctx, repositories.LineItemFilter{
		Target: domain.LineItemTarget{OrderID: order.ID},
	})
	if err != nil {
		err = mapRepositoryError(err, "line items")
		e.metrics.ObservePricing(resultLabel(err))
		return OrderPricing{}, err
	}

	if override == nil && order.MarginOverride != nil {
		override = &MarginOverrideInput{Percent: order.MarginOverride.Percent, Reason: order.MarginOverride.Reason}
	}

	pricing, err := ComputePricing(order, items, card, override)
	e.metrics.ObservePricing(resultLabel(err))
	if err != nil {
		return pricing, fmt.Errorf("order %s: %w", order.ID, err)
	}
	return pricing, nil
}

func cloneStringPtr(value *string) *string {
	if value == nil {
		return nil
	}
	ref := *value
	return &ref
}

func valuePtr[T any](v T) *T {
	return &v
}

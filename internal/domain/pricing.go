package domain

import "github.com/shopspring/decimal"

// OrderPricing is the derived price breakdown for an order. It is recomputed on demand and
// never stored as a mutable entity.
type OrderPricing struct {
	BaseOperations    BaseOperationsPricing
	Transport         TransportPricing
	LineItems         LineItemTotals
	Margin            MarginPricing
	LogisticsSubTotal decimal.Decimal
	ClientTotal       decimal.Decimal
	Complete          bool
	Issues            []PricingIssue
}

// BaseOperationsPricing is the volume-tier driven handling cost.
type BaseOperationsPricing struct {
	Volume decimal.Decimal
	Rate   decimal.Decimal
	Total  decimal.Decimal
}

// TransportPricing is the resolved transport leg cost.
type TransportPricing struct {
	Emirate             string
	TripType            TripType
	VehicleType         string
	FinalRate           decimal.Decimal
	VehicleChanged      bool
	VehicleChangeReason *string
}

// LineItemTotals sums active line items by type.
type LineItemTotals struct {
	CatalogTotal decimal.Decimal
	CustomTotal  decimal.Decimal
}

// MarginPricing describes the markup applied on top of logistics costs.
type MarginPricing struct {
	Percent        decimal.Decimal
	Amount         decimal.Decimal
	Overridden     bool
	OverrideReason *string
}

// PricingIssue is a recoverable configuration gap surfaced to operators.
type PricingIssue struct {
	Code    string
	Message string
}

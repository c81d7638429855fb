package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/eventops/fulfillment/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Actor                   = domain.Actor
	Order                   = domain.Order
	OrderStatus             = domain.OrderStatus
	OrderItem               = domain.OrderItem
	OrderStatusHistoryEntry = domain.OrderStatusHistoryEntry
	TimeWindow              = domain.TimeWindow
	LineItem                = domain.LineItem
	LineItemTarget          = domain.LineItemTarget
	OrderPricing            = domain.OrderPricing
	AssetBooking            = domain.AssetBooking
	Availability            = domain.Availability
	ReskinRequest           = domain.ReskinRequest
	VehicleType             = domain.VehicleType
	ServiceType             = domain.ServiceType
	SystemHealthReport      = domain.SystemHealthReport
)

// RateLookup resolves margins, rate tables, and catalogs from the rate configuration store.
type RateLookup interface {
	RateCard(ctx context.Context, companyID string) (RateCard, error)
	CompanyMargin(ctx context.Context, companyID string) (decimal.Decimal, error)
	ServiceType(ctx context.Context, serviceTypeID string) (ServiceType, error)
	VehicleTypes(ctx context.Context) ([]VehicleType, error)
	Invalidate()
}

// LineItemService maintains the append-only line item ledger.
type LineItemService interface {
	AddCatalogItem(ctx context.Context, cmd AddCatalogItemCommand) (LineItem, error)
	AddCustomItem(ctx context.Context, cmd AddCustomItemCommand) (LineItem, error)
	VoidItem(ctx context.Context, cmd VoidLineItemCommand) (LineItem, error)
	ListItems(ctx context.Context, cmd ListLineItemsCommand) ([]LineItem, error)
}

// PricingService previews order pricing and approves quotes.
type PricingService interface {
	PreviewPricing(ctx context.Context, cmd PreviewPricingCommand) (OrderPricing, error)
	ApproveQuote(ctx context.Context, cmd ApproveQuoteCommand) (QuoteApproval, error)
}

// BookingService reserves asset inventory for event windows.
type BookingService interface {
	Reserve(ctx context.Context, cmd ReserveBookingCommand) (AssetBooking, error)
	Availability(ctx context.Context, cmd AvailabilityQuery) (Availability, error)
	// ReserveForOrder materialises bookings for every order item. It must run inside the
	// caller's unit of work so the bookings commit or roll back with the caller's writes.
	ReserveForOrder(ctx context.Context, order Order) ([]AssetBooking, error)
	// ReleaseForOrder releases every active booking of the order inside the caller's unit of work.
	ReleaseForOrder(ctx context.Context, orderID string) (int, error)
}

// ReskinService drives the fabrication sub-workflow.
type ReskinService interface {
	CreateReskin(ctx context.Context, cmd CreateReskinCommand) (ReskinRequest, error)
	CompleteReskin(ctx context.Context, cmd CompleteReskinCommand) (ReskinRequest, error)
	CancelReskin(ctx context.Context, cmd CancelReskinCommand) (ReskinRequest, error)
	ListReskins(ctx context.Context, cmd ListReskinsCommand) ([]ReskinRequest, error)
}

// OrderService is the order state machine and the dedicated order field updates.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, cmd GetOrderCommand) (Order, error)
	ListHistory(ctx context.Context, cmd GetOrderCommand) ([]OrderStatusHistoryEntry, error)
	SubmitTransition(ctx context.Context, cmd TransitionCommand) (OrderStatusHistoryEntry, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (OrderStatusHistoryEntry, error)
	ReturnToLogistics(ctx context.Context, cmd ReturnToLogisticsCommand) (OrderStatusHistoryEntry, error)
	SetItems(ctx context.Context, cmd SetOrderItemsCommand) (Order, error)
	UpdateJobNumber(ctx context.Context, cmd UpdateJobNumberCommand) (Order, error)
	UpdateWindows(ctx context.Context, cmd UpdateWindowsCommand) (Order, error)
	UpdateVehicle(ctx context.Context, cmd UpdateVehicleCommand) (Order, error)
}

// SystemService reports dependency health.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// ReferenceVerifier checks that uploaded file references exist before they are recorded.
type ReferenceVerifier interface {
	VerifyReferences(ctx context.Context, refs []string) error
}

// CreateOrderCommand opens a new order in DRAFT.
type CreateOrderCommand struct {
	Actor          Actor
	CompanyID      string
	EventStartDate time.Time
	EventEndDate   time.Time
	Venue          domain.Venue
	VolumeM3       decimal.Decimal
	WeightKg       decimal.Decimal
	Items          []OrderItem
	TripType       domain.TripType
	VehicleType    string
}

// GetOrderCommand identifies an order read on behalf of an actor.
type GetOrderCommand struct {
	OrderID string
	Actor   Actor
}

// TransitionCommand requests a status change.
type TransitionCommand struct {
	OrderID         string
	RequestedStatus OrderStatus
	Actor           Actor
	Notes           *string
}

// CancelOrderCommand moves an order to CANCELLED and releases its bookings.
type CancelOrderCommand struct {
	OrderID string
	Actor   Actor
	Notes   *string
}

// ReturnToLogisticsCommand sends a PENDING_APPROVAL order back to PRICING_REVIEW.
type ReturnToLogisticsCommand struct {
	OrderID string
	Actor   Actor
	Reason  string
}

// SetOrderItemsCommand replaces the asset lines of an order before confirmation.
type SetOrderItemsCommand struct {
	OrderID string
	Actor   Actor
	Items   []OrderItem
}

// UpdateJobNumberCommand sets the warehouse job number.
type UpdateJobNumberCommand struct {
	OrderID   string
	Actor     Actor
	JobNumber string
}

// UpdateWindowsCommand sets the delivery and pickup windows. A nil window keeps the stored one.
type UpdateWindowsCommand struct {
	OrderID        string
	Actor          Actor
	DeliveryWindow *TimeWindow
	PickupWindow   *TimeWindow
}

// UpdateVehicleCommand changes the transport vehicle and trip type.
type UpdateVehicleCommand struct {
	OrderID     string
	Actor       Actor
	VehicleType string
	TripType    domain.TripType
	Reason      string
}

// PreviewPricingCommand computes pricing without persisting anything.
type PreviewPricingCommand struct {
	OrderID string
	Actor   Actor
}

// ApproveQuoteCommand approves the quote of an order, optionally overriding the margin.
type ApproveQuoteCommand struct {
	OrderID        string
	Actor          Actor
	MarginOverride *decimal.Decimal
	OverrideReason string
	Notes          *string
}

// QuoteApproval is the outcome of approving a quote.
type QuoteApproval struct {
	Pricing OrderPricing
	History OrderStatusHistoryEntry
}

// AddCatalogItemCommand adds a catalog-priced line item.
type AddCatalogItemCommand struct {
	Actor         Actor
	Target        LineItemTarget
	ServiceTypeID string
	Quantity      decimal.Decimal
	BillingMode   domain.BillingMode
	Metadata      map[string]any
	Attachments   []string
}

// AddCustomItemCommand adds an operator-priced line item.
type AddCustomItemCommand struct {
	Actor       Actor
	Target      LineItemTarget
	Description string
	Category    string
	Total       decimal.Decimal
	BillingMode domain.BillingMode
	Attachments []string
}

// VoidLineItemCommand voids a line item with an audit reason.
type VoidLineItemCommand struct {
	Actor  Actor
	ItemID string
	Reason string
}

// ListLineItemsCommand lists line items of a target.
type ListLineItemsCommand struct {
	Actor         Actor
	Target        LineItemTarget
	IncludeVoided bool
}

// ReserveBookingCommand reserves an asset quantity for an event window.
type ReserveBookingCommand struct {
	Actor      Actor
	AssetID    string
	OrderID    string
	Quantity   int
	EventStart time.Time
	EventEnd   time.Time
	RefurbDays int
}

// AvailabilityQuery asks how much of an asset is free over [From, Until).
type AvailabilityQuery struct {
	Actor   Actor
	AssetID string
	From    time.Time
	Until   time.Time
}

// CreateReskinCommand opens a reskin request for an order asset.
type CreateReskinCommand struct {
	Actor           Actor
	OrderID         string
	OriginalAssetID string
	TargetBrand     string
}

// CompleteReskinCommand records the fabricated asset.
type CompleteReskinCommand struct {
	Actor      Actor
	ReskinID   string
	NewAssetID string
	Photos     []string
	Notes      *string
}

// CancelReskinCommand cancels a pending reskin request.
type CancelReskinCommand struct {
	Actor    Actor
	ReskinID string
	Reason   string
}

// ListReskinsCommand lists reskin requests of an order.
type ListReskinsCommand struct {
	Actor   Actor
	OrderID string
}

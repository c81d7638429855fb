package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus enumerates the fulfillment lifecycle states of an order.
type OrderStatus string

const (
	OrderStatusDraft               OrderStatus = "DRAFT"
	OrderStatusSubmitted           OrderStatus = "SUBMITTED"
	OrderStatusPricingReview       OrderStatus = "PRICING_REVIEW"
	OrderStatusPendingApproval     OrderStatus = "PENDING_APPROVAL"
	OrderStatusQuoted              OrderStatus = "QUOTED"
	OrderStatusDeclined            OrderStatus = "DECLINED"
	OrderStatusConfirmed           OrderStatus = "CONFIRMED"
	OrderStatusAwaitingFabrication OrderStatus = "AWAITING_FABRICATION"
	OrderStatusInPreparation       OrderStatus = "IN_PREPARATION"
	OrderStatusReadyForDelivery    OrderStatus = "READY_FOR_DELIVERY"
	OrderStatusInTransit           OrderStatus = "IN_TRANSIT"
	OrderStatusDelivered           OrderStatus = "DELIVERED"
	OrderStatusInUse               OrderStatus = "IN_USE"
	OrderStatusAwaitingReturn      OrderStatus = "AWAITING_RETURN"
	OrderStatusClosed              OrderStatus = "CLOSED"
	OrderStatusCancelled           OrderStatus = "CANCELLED"
)

// OrderStatuses lists every status in lifecycle order.
var OrderStatuses = []OrderStatus{
	OrderStatusDraft,
	OrderStatusSubmitted,
	OrderStatusPricingReview,
	OrderStatusPendingApproval,
	OrderStatusQuoted,
	OrderStatusDeclined,
	OrderStatusConfirmed,
	OrderStatusAwaitingFabrication,
	OrderStatusInPreparation,
	OrderStatusReadyForDelivery,
	OrderStatusInTransit,
	OrderStatusDelivered,
	OrderStatusInUse,
	OrderStatusAwaitingReturn,
	OrderStatusClosed,
	OrderStatusCancelled,
}

// Valid reports whether the status is a known lifecycle state.
func (s OrderStatus) Valid() bool {
	for _, candidate := range OrderStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusClosed, OrderStatusCancelled, OrderStatusDeclined:
		return true
	default:
		return false
	}
}

// TripType describes whether a transport leg is one-way or a round trip.
type TripType string

const (
	TripTypeOneWay    TripType = "ONE_WAY"
	TripTypeRoundTrip TripType = "ROUND_TRIP"
)

// Valid reports whether the trip type is supported.
func (t TripType) Valid() bool {
	return t == TripTypeOneWay || t == TripTypeRoundTrip
}

// TimeWindow is a scheduling window whose ends may be set independently.
type TimeWindow struct {
	Start *time.Time
	End   *time.Time
}

// Complete reports whether both ends of the window are set.
func (w *TimeWindow) Complete() bool {
	return w != nil && w.Start != nil && w.End != nil
}

// Venue identifies where the event takes place.
type Venue struct {
	Name    string
	Address string
	City    string
	Emirate string
	Country string
}

// OrderItem is an asset line that must be booked once the order is confirmed.
type OrderItem struct {
	AssetID    string
	Quantity   int
	RefurbDays int
}

// MarginOverride records an approved deviation from the company default margin.
type MarginOverride struct {
	Percent    decimal.Decimal
	Reason     string
	ApprovedBy string
	ApprovedAt time.Time
}

// Order is the aggregate driven through the fulfillment lifecycle.
type Order struct {
	ID                   string
	OrderNumber          string
	CompanyID            string
	Status               OrderStatus
	EventStartDate       time.Time
	EventEndDate         time.Time
	Venue                Venue
	VolumeM3             decimal.Decimal
	WeightKg             decimal.Decimal
	Items                []OrderItem
	DeliveryWindow       *TimeWindow
	PickupWindow         *TimeWindow
	JobNumber            *string
	TransportVehicleType string
	TransportTripType    TripType
	VehicleChangeReason  *string
	MarginOverride       *MarginOverride
	CreatedBy            string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// OrderStatusHistoryEntry is the immutable audit record written for each accepted transition.
type OrderStatusHistoryEntry struct {
	ID             string
	OrderID        string
	PreviousStatus OrderStatus
	Status         OrderStatus
	Timestamp      time.Time
	UpdatedBy      string
	Notes          *string
}

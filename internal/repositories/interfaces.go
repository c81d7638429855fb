package repositories

import (
	"context"
	"time"

	domain "github.com/eventops/fulfillment/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	OrderHistory() OrderHistoryRepository
	LineItems() LineItemRepository
	Rates() RateRepository
	Assets() AssetRepository
	Bookings() BookingRepository
	Reskins() ReskinRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork groups repository operations in a transactional boundary. Repositories called
// with the context handed to fn participate in the same transaction; row locks taken through
// Lock* methods are held until fn returns.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists order aggregates.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	// LockByID loads the order and serialises concurrent writers on it for the rest of the
	// enclosing unit of work.
	LockByID(ctx context.Context, orderID string) (domain.Order, error)
}

// OrderHistoryRepository appends immutable status history entries.
type OrderHistoryRepository interface {
	Append(ctx context.Context, entry domain.OrderStatusHistoryEntry) error
	List(ctx context.Context, orderID string) ([]domain.OrderStatusHistoryEntry, error)
}

// LineItemFilter narrows line item listings.
type LineItemFilter struct {
	Target        domain.LineItemTarget
	IncludeVoided bool
}

// VoidLineItemRequest marks a single line item as voided.
type VoidLineItemRequest struct {
	ItemID   string
	Reason   string
	VoidedBy string
	VoidedAt time.Time
}

// LineItemRepository stores append-only line items. Void must fail with a conflict when the
// item is already voided.
type LineItemRepository interface {
	Insert(ctx context.Context, item domain.LineItem) error
	FindByID(ctx context.Context, itemID string) (domain.LineItem, error)
	List(ctx context.Context, filter LineItemFilter) ([]domain.LineItem, error)
	Void(ctx context.Context, req VoidLineItemRequest) (domain.LineItem, error)
}

// RateRepository reads the rate and tier configuration store. Absent entries surface as
// not-found errors.
type RateRepository interface {
	GetCompany(ctx context.Context, companyID string) (domain.Company, error)
	ListVolumeTiers(ctx context.Context) ([]domain.VolumeTier, error)
	ListTransportRates(ctx context.Context) ([]domain.TransportRate, error)
	ListVehicleTypes(ctx context.Context) ([]domain.VehicleType, error)
	ListServiceTypes(ctx context.Context) ([]domain.ServiceType, error)
}

// AssetRepository reads bookable assets.
type AssetRepository interface {
	FindByID(ctx context.Context, assetID string) (domain.Asset, error)
	// LockForBooking loads the assets and serialises booking writes on each of them for the
	// rest of the enclosing unit of work. Missing assets yield a not-found error.
	LockForBooking(ctx context.Context, assetIDs []string) (map[string]domain.Asset, error)
}

// BookingRepository stores asset bookings. List methods return active bookings only.
type BookingRepository interface {
	ListOverlapping(ctx context.Context, assetID string, from, until time.Time) ([]domain.AssetBooking, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.AssetBooking, error)
	Insert(ctx context.Context, bookings []domain.AssetBooking) error
	ReleaseByOrder(ctx context.Context, orderID string, releasedAt time.Time) (int, error)
}

// ReskinRepository persists reskin requests.
type ReskinRepository interface {
	Insert(ctx context.Context, reskin domain.ReskinRequest) error
	Update(ctx context.Context, reskin domain.ReskinRequest) error
	FindByID(ctx context.Context, reskinID string) (domain.ReskinRequest, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.ReskinRequest, error)
}

// HealthRepository reports the status of backing dependencies.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"

	domain "github.com/eventops/fulfillment/internal/domain"
	pfirestore "github.com/eventops/fulfillment/internal/platform/firestore"
	"github.com/eventops/fulfillment/internal/repositories"
)

const (
	ordersCollection       = "orders"
	orderHistoryCollection = "orderStatusHistory"
)

// OrderRepository stores order aggregates as single documents.
type OrderRepository struct {
	base *pfirestore.Collection[orderDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		base: pfirestore.NewCollection[orderDocument](provider, ordersCollection),
	}, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	return r.base.Create(ctx, order.ID, newOrderDocument(order))
}

func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	return r.base.Set(ctx, order.ID, newOrderDocument(order))
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	doc, err := r.base.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID)
}

// LockByID reads the order through the ambient transaction. Firestore server transactions hold
// the document until commit, and a concurrent commit on it forces a retry.
func (r *OrderRepository) LockByID(ctx context.Context, orderID string) (domain.Order, error) {
	if _, ok := pfirestore.TransactionFromContext(ctx); !ok {
		return domain.Order{}, repositories.NewStoreError("orders.lock", repositories.ErrorCodeUnknown, "lock requires a transaction", nil)
	}
	return r.FindByID(ctx, orderID)
}

type orderDocument struct {
	OrderNumber          string              `firestore:"orderNumber"`
	CompanyID            string              `firestore:"companyId"`
	Status               string              `firestore:"status"`
	EventStartDate       time.Time           `firestore:"eventStartDate"`
	EventEndDate         time.Time           `firestore:"eventEndDate"`
	Venue                venueDocument       `firestore:"venue"`
	VolumeM3             string              `firestore:"volumeM3"`
	WeightKg             string              `firestore:"weightKg"`
	Items                []orderItemDocument `firestore:"items"`
	DeliveryWindow       *windowDocument     `firestore:"deliveryWindow,omitempty"`
	PickupWindow         *windowDocument     `firestore:"pickupWindow,omitempty"`
	JobNumber            *string             `firestore:"jobNumber,omitempty"`
	TransportVehicleType string              `firestore:"transportVehicleType"`
	TransportTripType    string              `firestore:"transportTripType"`
	VehicleChangeReason  *string             `firestore:"vehicleChangeReason,omitempty"`
	MarginOverride       *marginOverrideDoc  `firestore:"marginOverride,omitempty"`
	CreatedBy            string              `firestore:"createdBy"`
	CreatedAt            time.Time           `firestore:"createdAt"`
	UpdatedAt            time.Time           `firestore:"updatedAt"`
}

type venueDocument struct {
	Name    string `firestore:"name"`
	Address string `firestore:"address"`
	City    string `firestore:"city"`
	Emirate string `firestore:"emirate"`
	Country string `firestore:"country"`
}

type orderItemDocument struct {
	AssetID    string `firestore:"assetId"`
	Quantity   int    `firestore:"quantity"`
	RefurbDays int    `firestore:"refurbDays"`
}

type windowDocument struct {
	Start *time.Time `firestore:"start,omitempty"`
	End   *time.Time `firestore:"end,omitempty"`
}

type marginOverrideDoc struct {
	Percent    string    `firestore:"percent"`
	Reason     string    `firestore:"reason"`
	ApprovedBy string    `firestore:"approvedBy"`
	ApprovedAt time.Time `firestore:"approvedAt"`
}

func newOrderDocument(order domain.Order) orderDocument {
	doc := orderDocument{
		OrderNumber:          order.OrderNumber,
		CompanyID:            order.CompanyID,
		Status:               string(order.Status),
		EventStartDate:       order.EventStartDate.UTC(),
		EventEndDate:         order.EventEndDate.UTC(),
		Venue:                venueDocument(order.Venue),
		VolumeM3:             order.VolumeM3.String(),
		WeightKg:             order.WeightKg.String(),
		DeliveryWindow:       newWindowDocument(order.DeliveryWindow),
		PickupWindow:         newWindowDocument(order.PickupWindow),
		JobNumber:            order.JobNumber,
		TransportVehicleType: order.TransportVehicleType,
		TransportTripType:    string(order.TransportTripType),
		VehicleChangeReason:  order.VehicleChangeReason,
		CreatedBy:            order.CreatedBy,
		CreatedAt:            order.CreatedAt.UTC(),
		UpdatedAt:            order.UpdatedAt.UTC(),
	}
	for _, item := range order.Items {
		doc.Items = append(doc.Items, orderItemDocument(item))
	}
	if mo := order.MarginOverride; mo != nil {
		doc.MarginOverride = &marginOverrideDoc{
			Percent:    mo.Percent.String(),
			Reason:     mo.Reason,
			ApprovedBy: mo.ApprovedBy,
			ApprovedAt: mo.ApprovedAt.UTC(),
		}
	}
	return doc
}

func (d orderDocument) toDomain(id string) (domain.Order, error) {
	volume, err := parseDecimal(d.VolumeM3)
	if err != nil {
		return domain.Order{}, fmt.Errorf("decode order %s volume: %w", id, err)
	}
	weight, err := parseDecimal(d.WeightKg)
	if err != nil {
		return domain.Order{}, fmt.Errorf("decode order %s weight: %w", id, err)
	}
	order := domain.Order{
		ID:                   id,
		OrderNumber:          d.OrderNumber,
		CompanyID:            d.CompanyID,
		Status:               domain.OrderStatus(d.Status),
		EventStartDate:       d.EventStartDate.UTC(),
		EventEndDate:         d.EventEndDate.UTC(),
		Venue:                domain.Venue(d.Venue),
		VolumeM3:             volume,
		WeightKg:             weight,
		DeliveryWindow:       d.DeliveryWindow.toDomain(),
		PickupWindow:         d.PickupWindow.toDomain(),
		JobNumber:            d.JobNumber,
		TransportVehicleType: d.TransportVehicleType,
		TransportTripType:    domain.TripType(d.TransportTripType),
		VehicleChangeReason:  d.VehicleChangeReason,
		CreatedBy:            d.CreatedBy,
		CreatedAt:            d.CreatedAt.UTC(),
		UpdatedAt:            d.UpdatedAt.UTC(),
	}
	for _, item := range d.Items {
		order.Items = append(order.Items, domain.OrderItem(item))
	}
	if mo := d.MarginOverride; mo != nil {
		percent, err := parseDecimal(mo.Percent)
		if err != nil {
			return domain.Order{}, fmt.Errorf("decode order %s margin override: %w", id, err)
		}
		order.MarginOverride = &domain.MarginOverride{
			Percent:    percent,
			Reason:     mo.Reason,
			ApprovedBy: mo.ApprovedBy,
			ApprovedAt: mo.ApprovedAt.UTC(),
		}
	}
	return order, nil
}

func newWindowDocument(window *domain.TimeWindow) *windowDocument {
	if window == nil {
		return nil
	}
	return &windowDocument{Start: utcPtr(window.Start), End: utcPtr(window.End)}
}

func (d *windowDocument) toDomain() *domain.TimeWindow {
	if d == nil {
		return nil
	}
	return &domain.TimeWindow{Start: utcPtr(d.Start), End: utcPtr(d.End)}
}

// OrderHistoryRepository stores status history entries in a flat collection keyed by entry ID.
type OrderHistoryRepository struct {
	base *pfirestore.Collection[historyDocument]
}

var _ repositories.OrderHistoryRepository = (*OrderHistoryRepository)(nil)

func NewOrderHistoryRepository(provider *pfirestore.Provider) (*OrderHistoryRepository, error) {
	if provider == nil {
		return nil, errors.New("order history repository requires firestore provider")
	}
	return &OrderHistoryRepository{
		base: pfirestore.NewCollection[historyDocument](provider, orderHistoryCollection),
	}, nil
}

func (r *OrderHistoryRepository) Append(ctx context.Context, entry domain.OrderStatusHistoryEntry) error {
	if r == nil || r.base == nil {
		return errors.New("order history repository not initialised")
	}
	return r.base.Create(ctx, entry.ID, historyDocument{
		OrderID:        entry.OrderID,
		PreviousStatus: string(entry.PreviousStatus),
		Status:         string(entry.Status),
		Timestamp:      entry.Timestamp.UTC(),
		UpdatedBy:      entry.UpdatedBy,
		Notes:          entry.Notes,
	})
}

func (r *OrderHistoryRepository) List(ctx context.Context, orderID string) ([]domain.OrderStatusHistoryEntry, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("order history repository not initialised")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", strings.TrimSpace(orderID)).OrderBy("timestamp", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	entries := make([]domain.OrderStatusHistoryEntry, 0, len(docs))
	for _, doc := range docs {
		entries = append(entries, domain.OrderStatusHistoryEntry{
			ID:             doc.ID,
			OrderID:        doc.Data.OrderID,
			PreviousStatus: domain.OrderStatus(doc.Data.PreviousStatus),
			Status:         domain.OrderStatus(doc.Data.Status),
			Timestamp:      doc.Data.Timestamp.UTC(),
			UpdatedBy:      doc.Data.UpdatedBy,
			Notes:          doc.Data.Notes,
		})
	}
	return entries, nil
}

type historyDocument struct {
	OrderID        string    `firestore:"orderId"`
	PreviousStatus string    `firestore:"previousStatus"`
	Status         string    `firestore:"status"`
	Timestamp      time.Time `firestore:"timestamp"`
	UpdatedBy      string    `firestore:"updatedBy"`
	Notes          *string   `firestore:"notes,omitempty"`
}

func parseDecimal(value string) (decimal.Decimal, error) {
	if strings.TrimSpace(value) == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(value)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/eventops/fulfillment/internal/domain"
	ppostgres "github.com/eventops/fulfillment/internal/platform/postgres"
	"github.com/eventops/fulfillment/internal/repositories"
)

const orderColumns = `id, order_number, company_id, status, event_start_date, event_end_date,
	venue::text AS venue, volume_m3::text AS volume_m3, weight_kg::text AS weight_kg, items::text AS items,
	delivery_window::text AS delivery_window, pickup_window::text AS pickup_window, job_number,
	transport_vehicle_type, transport_trip_type, vehicle_change_reason,
	margin_override::text AS margin_override, created_by, created_at, updated_at`

// OrderRepository stores orders in the orders table. Nested value objects live in JSONB columns.
type OrderRepository struct {
	db *ppostgres.DB
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

func NewOrderRepository(db *ppostgres.DB) (*OrderRepository, error) {
	if db == nil {
		return nil, errors.New("order repository requires postgres db")
	}
	return &OrderRepository{db: db}, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	args, err := orderArgs(order)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, "orders.insert", `
		INSERT INTO orders (
			id, order_number, company_id, status, event_start_date, event_end_date, venue, volume_m3,
			weight_kg, items, delivery_window, pickup_window, job_number, transport_vehicle_type,
			transport_trip_type, vehicle_change_reason, margin_override, created_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8::numeric, $9::numeric, $10::jsonb, $11::jsonb, $12::jsonb,
			$13, $14, $15, $16, $17::jsonb, $18, $19, $20)`, args...)
	return err
}

func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	args, err := orderArgs(order)
	if err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx, "orders.update", `
		UPDATE orders SET
			order_number = $2, company_id = $3, status = $4, event_start_date = $5, event_end_date = $6,
			venue = $7::jsonb, volume_m3 = $8::numeric, weight_kg = $9::numeric, items = $10::jsonb,
			delivery_window = $11::jsonb, pickup_window = $12::jsonb, job_number = $13,
			transport_vehicle_type = $14, transport_trip_type = $15, vehicle_change_reason = $16,
			margin_override = $17::jsonb, created_by = $18, created_at = $19, updated_at = $20
		WHERE id = $1`, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ppostgres.NotFound("orders.update", fmt.Sprintf("order %s not found", order.ID))
	}
	return nil
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	var row orderRow
	if err := r.db.Get(ctx, "orders.get", &row, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, strings.TrimSpace(orderID)); err != nil {
		return domain.Order{}, err
	}
	return row.toDomain()
}

// LockByID takes a row lock on the order for the rest of the enclosing transaction.
func (r *OrderRepository) LockByID(ctx context.Context, orderID string) (domain.Order, error) {
	if !ppostgres.InTx(ctx) {
		return domain.Order{}, errors.New("orders.lock: lock requires a transaction")
	}
	var row orderRow
	if err := r.db.Get(ctx, "orders.lock", &row, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, strings.TrimSpace(orderID)); err != nil {
		return domain.Order{}, err
	}
	return row.toDomain()
}

type orderRow struct {
	ID                   string    `db:"id"`
	OrderNumber          string    `db:"order_number"`
	CompanyID            string    `db:"company_id"`
	Status               string    `db:"status"`
	EventStartDate       time.Time `db:"event_start_date"`
	EventEndDate         time.Time `db:"event_end_date"`
	Venue                string    `db:"venue"`
	VolumeM3             string    `db:"volume_m3"`
	WeightKg             string    `db:"weight_kg"`
	Items                string    `db:"items"`
	DeliveryWindow       *string   `db:"delivery_window"`
	PickupWindow         *string   `db:"pickup_window"`
	JobNumber            *string   `db:"job_number"`
	TransportVehicleType string    `db:"transport_vehicle_type"`
	TransportTripType    string    `db:"transport_trip_type"`
	VehicleChangeReason  *string   `db:"vehicle_change_reason"`
	MarginOverride       *string   `db:"margin_override"`
	CreatedBy            string    `db:"created_by"`
	CreatedAt            time.Time `db:"created_at"`
	UpdatedAt            time.Time `db:"updated_at"`
}

type venueJSON struct {
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	City    string `json:"city,omitempty"`
	Emirate string `json:"emirate"`
	Country string `json:"country,omitempty"`
}

type orderItemJSON struct {
	AssetID    string `json:"assetId"`
	Quantity   int    `json:"quantity"`
	RefurbDays int    `json:"refurbDays"`
}

type windowJSON struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

type marginOverrideJSON struct {
	Percent    string    `json:"percent"`
	Reason     string    `json:"reason"`
	ApprovedBy string    `json:"approvedBy"`
	ApprovedAt time.Time `json:"approvedAt"`
}

func orderArgs(order domain.Order) ([]any, error) {
	venue, err := json.Marshal(venueJSON(order.Venue))
	if err != nil {
		return nil, fmt.Errorf("encode order %s venue: %w", order.ID, err)
	}
	items := make([]orderItemJSON, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemJSON(item))
	}
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("encode order %s items: %w", order.ID, err)
	}
	delivery, err := encodeWindow(order.DeliveryWindow)
	if err != nil {
		return nil, fmt.Errorf("encode order %s delivery window: %w", order.ID, err)
	}
	pickup, err := encodeWindow(order.PickupWindow)
	if err != nil {
		return nil, fmt.Errorf("encode order %s pickup window: %w", order.ID, err)
	}
	var margin *string
	if mo := order.MarginOverride; mo != nil {
		raw, err := json.Marshal(marginOverrideJSON{
			Percent:    mo.Percent.String(),
			Reason:     mo.Reason,
			ApprovedBy: mo.ApprovedBy,
			ApprovedAt: mo.ApprovedAt.UTC(),
		})
		if err != nil {
			return nil, fmt.Errorf("encode order %s margin override: %w", order.ID, err)
		}
		margin = stringPtr(string(raw))
	}
	return []any{
		order.ID,
		order.OrderNumber,
		order.CompanyID,
		string(order.Status),
		order.EventStartDate.UTC(),
		order.EventEndDate.UTC(),
		string(venue),
		order.VolumeM3.String(),
		order.WeightKg.String(),
		string(itemsJSON),
		delivery,
		pickup,
		order.JobNumber,
		order.TransportVehicleType,
		string(order.TransportTripType),
		order.VehicleChangeReason,
		margin,
		order.CreatedBy,
		order.CreatedAt.UTC(),
		order.UpdatedAt.UTC(),
	}, nil
}

func (row orderRow) toDomain() (domain.Order, error) {
	volume, err := decimal.NewFromString(row.VolumeM3)
	if err != nil {
		return domain.Order{}, fmt.Errorf("decode order %s volume: %w", row.ID, err)
	}
	weight, err := decimal.NewFromString(row.WeightKg)
	if err != nil {
		return domain.Order{}, fmt.Errorf("decode order %s weight: %w", row.ID, err)
	}
	var venue venueJSON
	if err := json.Unmarshal([]byte(row.Venue), &venue); err != nil {
		return domain.Order{}, fmt.Errorf("decode order %s venue: %w", row.ID, err)
	}
	var items []orderItemJSON
	if err := json.Unmarshal([]byte(row.Items), &items); err != nil {
		return domain.Order{}, fmt.Errorf("decode order %s items: %w", row.ID, err)
	}
	delivery, err := decodeWindow(row.DeliveryWindow)
	if err != nil {
		return domain.Order{}, fmt.Errorf("decode order %s delivery window: %w", row.ID, err)
	}
	pickup, err := decodeWindow(row.PickupWindow)
	if err != nil {
		return domain.Order{}, fmt.Errorf("decode order %s pickup window: %w", row.ID, err)
	}

	order := domain.Order{
		ID:                   row.ID,
		OrderNumber:          row.OrderNumber,
		CompanyID:            row.CompanyID,
		Status:               domain.OrderStatus(row.Status),
		EventStartDate:       row.EventStartDate.UTC(),
		EventEndDate:         row.EventEndDate.UTC(),
		Venue:                domain.Venue(venue),
		VolumeM3:             volume,
		WeightKg:             weight,
		DeliveryWindow:       delivery,
		PickupWindow:         pickup,
		JobNumber:            row.JobNumber,
		TransportVehicleType: row.TransportVehicleType,
		TransportTripType:    domain.TripType(row.TransportTripType),
		VehicleChangeReason:  row.VehicleChangeReason,
		CreatedBy:            row.CreatedBy,
		CreatedAt:            row.CreatedAt.UTC(),
		UpdatedAt:            row.UpdatedAt.UTC(),
	}
	for _, item := range items {
		order.Items = append(order.Items, domain.OrderItem(item))
	}
	if row.MarginOverride != nil {
		var mo marginOverrideJSON
		if err := json.Unmarshal([]byte(*row.MarginOverride), &mo); err != nil {
			return domain.Order{}, fmt.Errorf("decode order %s margin override: %w", row.ID, err)
		}
		percent, err := decimal.NewFromString(mo.Percent)
		if err != nil {
			return domain.Order{}, fmt.Errorf("decode order %s margin override: %w", row.ID, err)
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

func encodeWindow(window *domain.TimeWindow) (*string, error) {
	if window == nil {
		return nil, nil
	}
	raw, err := json.Marshal(windowJSON{Start: utcPtr(window.Start), End: utcPtr(window.End)})
	if err != nil {
		return nil, err
	}
	return stringPtr(string(raw)), nil
}

func decodeWindow(raw *string) (*domain.TimeWindow, error) {
	if raw == nil {
		return nil, nil
	}
	var window windowJSON
	if err := json.Unmarshal([]byte(*raw), &window); err != nil {
		return nil, err
	}
	return &domain.TimeWindow{Start: utcPtr(window.Start), End: utcPtr(window.End)}, nil
}

// OrderHistoryRepository appends rows to order_status_history.
type OrderHistoryRepository struct {
	db *ppostgres.DB
}

var _ repositories.OrderHistoryRepository = (*OrderHistoryRepository)(nil)

func NewOrderHistoryRepository(db *ppostgres.DB) (*OrderHistoryRepository, error) {
	if db == nil {
		return nil, errors.New("order history repository requires postgres db")
	}
	return &OrderHistoryRepository{db: db}, nil
}

func (r *OrderHistoryRepository) Append(ctx context.Context, entry domain.OrderStatusHistoryEntry) error {
	_, err := r.db.Exec(ctx, "order_status_history.insert", `
		INSERT INTO order_status_history (id, order_id, previous_status, status, changed_at, updated_by, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.OrderID, string(entry.PreviousStatus), string(entry.Status), entry.Timestamp.UTC(), entry.UpdatedBy, entry.Notes)
	return err
}

func (r *OrderHistoryRepository) List(ctx context.Context, orderID string) ([]domain.OrderStatusHistoryEntry, error) {
	var rows []historyRow
	err := r.db.Select(ctx, "order_status_history.list", &rows, `
		SELECT id, order_id, previous_status, status, changed_at, updated_by, notes
		FROM order_status_history WHERE order_id = $1 ORDER BY changed_at, id`, strings.TrimSpace(orderID))
	if err != nil {
		return nil, err
	}
	entries := make([]domain.OrderStatusHistoryEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, domain.OrderStatusHistoryEntry{
			ID:             row.ID,
			OrderID:        row.OrderID,
			PreviousStatus: domain.OrderStatus(row.PreviousStatus),
			Status:         domain.OrderStatus(row.Status),
			Timestamp:      row.ChangedAt.UTC(),
			UpdatedBy:      row.UpdatedBy,
			Notes:          row.Notes,
		})
	}
	return entries, nil
}

type historyRow struct {
	ID             string    `db:"id"`
	OrderID        string    `db:"order_id"`
	PreviousStatus string    `db:"previous_status"`
	Status         string    `db:"status"`
	ChangedAt      time.Time `db:"changed_at"`
	UpdatedBy      string    `db:"updated_by"`
	Notes          *string   `db:"notes"`
}

func stringPtr(value string) *string {
	return &value
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

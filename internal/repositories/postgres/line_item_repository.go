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

const lineItemColumns = `id, order_id, inbound_request_id, purpose_type, type, service_type, category, description,
	quantity::text AS quantity, unit, unit_rate::text AS unit_rate, total::text AS total, billing_mode,
	is_voided, void_reason, voided_by, voided_at, metadata::text AS metadata, created_by, created_at`

// LineItemRepository stores the line item ledger.
type LineItemRepository struct {
	db *ppostgres.DB
}

var _ repositories.LineItemRepository = (*LineItemRepository)(nil)

func NewLineItemRepository(db *ppostgres.DB) (*LineItemRepository, error) {
	if db == nil {
		return nil, errors.New("line item repository requires postgres db")
	}
	return &LineItemRepository{db: db}, nil
}

func (r *LineItemRepository) Insert(ctx context.Context, item domain.LineItem) error {
	var metadata *string
	if len(item.Metadata) > 0 {
		raw, err := json.Marshal(item.Metadata)
		if err != nil {
			return fmt.Errorf("encode line item %s metadata: %w", item.ID, err)
		}
		metadata = stringPtr(string(raw))
	}
	_, err := r.db.Exec(ctx, "line_items.insert", `
		INSERT INTO line_items (
			id, order_id, inbound_request_id, purpose_type, type, service_type, category, description,
			quantity, unit, unit_rate, total, billing_mode, is_voided, void_reason, voided_by, voided_at,
			metadata, created_by, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::numeric, $10, $11::numeric, $12::numeric, $13, $14, $15, $16, $17,
			$18::jsonb, $19, $20)`,
		item.ID,
		nullString(item.Target.OrderID),
		nullString(item.Target.InboundRequestID),
		nullString(item.Target.PurposeType),
		string(item.Type),
		nullString(item.ServiceType),
		item.Category,
		item.Description,
		item.Quantity.String(),
		item.Unit,
		item.UnitRate.String(),
		item.Total.String(),
		string(item.BillingMode),
		item.IsVoided,
		item.VoidReason,
		item.VoidedBy,
		utcPtr(item.VoidedAt),
		metadata,
		item.CreatedBy,
		item.CreatedAt.UTC(),
	)
	return err
}

func (r *LineItemRepository) FindByID(ctx context.Context, itemID string) (domain.LineItem, error) {
	var row lineItemRow
	if err := r.db.Get(ctx, "line_items.get", &row, `SELECT `+lineItemColumns+` FROM line_items WHERE id = $1`, strings.TrimSpace(itemID)); err != nil {
		return domain.LineItem{}, err
	}
	return row.toDomain()
}

func (r *LineItemRepository) List(ctx context.Context, filter repositories.LineItemFilter) ([]domain.LineItem, error) {
	query := `SELECT ` + lineItemColumns + ` FROM line_items WHERE `
	var arg string
	if id := strings.TrimSpace(filter.Target.OrderID); id != "" {
		query += `order_id = $1`
		arg = id
	} else {
		query += `inbound_request_id = $1`
		arg = strings.TrimSpace(filter.Target.InboundRequestID)
	}
	if !filter.IncludeVoided {
		query += ` AND NOT is_voided`
	}
	query += ` ORDER BY created_at, id`

	var rows []lineItemRow
	if err := r.db.Select(ctx, "line_items.list", &rows, query, arg); err != nil {
		return nil, err
	}
	items := make([]domain.LineItem, 0, len(rows))
	for _, row := range rows {
		item, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// Void stamps the void fields in a single conditional update so concurrent voids cannot both win.
func (r *LineItemRepository) Void(ctx context.Context, req repositories.VoidLineItemRequest) (domain.LineItem, error) {
	var row lineItemRow
	err := r.db.Get(ctx, "line_items.void", &row, `
		UPDATE line_items SET is_voided = TRUE, void_reason = $2, voided_by = $3, voided_at = $4
		WHERE id = $1 AND NOT is_voided
		RETURNING `+lineItemColumns,
		strings.TrimSpace(req.ItemID), req.Reason, req.VoidedBy, req.VoidedAt.UTC())
	if err == nil {
		return row.toDomain()
	}
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		return domain.LineItem{}, err
	}
	// No row updated: either the item is missing or it was already voided.
	if _, findErr := r.FindByID(ctx, req.ItemID); findErr != nil {
		return domain.LineItem{}, findErr
	}
	return domain.LineItem{}, ppostgres.Conflict("line_items.void", fmt.Sprintf("line item %s already voided", req.ItemID))
}

type lineItemRow struct {
	ID               string     `db:"id"`
	OrderID          *string    `db:"order_id"`
	InboundRequestID *string    `db:"inbound_request_id"`
	PurposeType      *string    `db:"purpose_type"`
	Type             string     `db:"type"`
	ServiceType      *string    `db:"service_type"`
	Category         string     `db:"category"`
	Description      string     `db:"description"`
	Quantity         string     `db:"quantity"`
	Unit             string     `db:"unit"`
	UnitRate         string     `db:"unit_rate"`
	Total            string     `db:"total"`
	BillingMode      string     `db:"billing_mode"`
	IsVoided         bool       `db:"is_voided"`
	VoidReason       *string    `db:"void_reason"`
	VoidedBy         *string    `db:"voided_by"`
	VoidedAt         *time.Time `db:"voided_at"`
	Metadata         *string    `db:"metadata"`
	CreatedBy        string     `db:"created_by"`
	CreatedAt        time.Time  `db:"created_at"`
}

func (row lineItemRow) toDomain() (domain.LineItem, error) {
	quantity, err := decimal.NewFromString(row.Quantity)
	if err != nil {
		return domain.LineItem{}, fmt.Errorf("decode line item %s quantity: %w", row.ID, err)
	}
	unitRate, err := decimal.NewFromString(row.UnitRate)
	if err != nil {
		return domain.LineItem{}, fmt.Errorf("decode line item %s unit rate: %w", row.ID, err)
	}
	total, err := decimal.NewFromString(row.Total)
	if err != nil {
		return domain.LineItem{}, fmt.Errorf("decode line item %s total: %w", row.ID, err)
	}
	var metadata map[string]any
	if row.Metadata != nil {
		if err := json.Unmarshal([]byte(*row.Metadata), &metadata); err != nil {
			return domain.LineItem{}, fmt.Errorf("decode line item %s metadata: %w", row.ID, err)
		}
	}
	return domain.LineItem{
		ID: row.ID,
		Target: domain.LineItemTarget{
			OrderID:          derefString(row.OrderID),
			InboundRequestID: derefString(row.InboundRequestID),
			PurposeType:      derefString(row.PurposeType),
		},
		Type:        domain.LineItemType(row.Type),
		ServiceType: derefString(row.ServiceType),
		Category:    row.Category,
		Description: row.Description,
		Quantity:    quantity,
		Unit:        row.Unit,
		UnitRate:    unitRate,
		Total:       total,
		BillingMode: domain.BillingMode(row.BillingMode),
		IsVoided:    row.IsVoided,
		VoidReason:  row.VoidReason,
		VoidedBy:    row.VoidedBy,
		VoidedAt:    utcPtr(row.VoidedAt),
		Metadata:    metadata,
		CreatedBy:   row.CreatedBy,
		CreatedAt:   row.CreatedAt.UTC(),
	}, nil
}

func nullString(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return &value
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/eventops/fulfillment/internal/domain"
	pfirestore "github.com/eventops/fulfillment/internal/platform/firestore"
	"github.com/eventops/fulfillment/internal/repositories"
)

const lineItemsCollection = "lineItems"

// LineItemRepository stores the append-only line item ledger.
type LineItemRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.Collection[lineItemDocument]
}

var _ repositories.LineItemRepository = (*LineItemRepository)(nil)

func NewLineItemRepository(provider *pfirestore.Provider) (*LineItemRepository, error) {
	if provider == nil {
		return nil, errors.New("line item repository requires firestore provider")
	}
	return &LineItemRepository{
		provider: provider,
		base:     pfirestore.NewCollection[lineItemDocument](provider, lineItemsCollection),
	}, nil
}

func (r *LineItemRepository) Insert(ctx context.Context, item domain.LineItem) error {
	if r == nil || r.base == nil {
		return errors.New("line item repository not initialised")
	}
	return r.base.Create(ctx, item.ID, newLineItemDocument(item))
}

func (r *LineItemRepository) FindByID(ctx context.Context, itemID string) (domain.LineItem, error) {
	if r == nil || r.base == nil {
		return domain.LineItem{}, errors.New("line item repository not initialised")
	}
	doc, err := r.base.Get(ctx, strings.TrimSpace(itemID))
	if err != nil {
		return domain.LineItem{}, err
	}
	return doc.Data.toDomain(doc.ID)
}

func (r *LineItemRepository) List(ctx context.Context, filter repositories.LineItemFilter) ([]domain.LineItem, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("line item repository not initialised")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if id := strings.TrimSpace(filter.Target.OrderID); id != "" {
			q = q.Where("orderId", "==", id)
		} else {
			q = q.Where("inboundRequestId", "==", strings.TrimSpace(filter.Target.InboundRequestID))
		}
		if !filter.IncludeVoided {
			q = q.Where("isVoided", "==", false)
		}
		return q.OrderBy("createdAt", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	items := make([]domain.LineItem, 0, len(docs))
	for _, doc := range docs {
		item, err := doc.Data.toDomain(doc.ID)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// Void stamps the void fields on an active item. Voiding twice is a conflict.
func (r *LineItemRepository) Void(ctx context.Context, req repositories.VoidLineItemRequest) (domain.LineItem, error) {
	if r == nil || r.base == nil {
		return domain.LineItem{}, errors.New("line item repository not initialised")
	}
	var voided domain.LineItem
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		doc, err := r.base.Get(ctx, req.ItemID)
		if err != nil {
			return err
		}
		if doc.Data.IsVoided {
			return repositories.Conflict("lineItems.void", fmt.Sprintf("line item %s already voided", req.ItemID))
		}
		data := doc.Data
		reason := req.Reason
		by := req.VoidedBy
		at := req.VoidedAt.UTC()
		data.IsVoided = true
		data.VoidReason = &reason
		data.VoidedBy = &by
		data.VoidedAt = &at
		if err := r.base.Set(ctx, doc.ID, data); err != nil {
			return err
		}
		voided, err = data.toDomain(doc.ID)
		return err
	})
	if err != nil {
		return domain.LineItem{}, err
	}
	return voided, nil
}

type lineItemDocument struct {
	OrderID          string         `firestore:"orderId,omitempty"`
	InboundRequestID string         `firestore:"inboundRequestId,omitempty"`
	PurposeType      string         `firestore:"purposeType,omitempty"`
	Type             string         `firestore:"type"`
	ServiceType      string         `firestore:"serviceType,omitempty"`
	Category         string         `firestore:"category"`
	Description      string         `firestore:"description"`
	Quantity         string         `firestore:"quantity"`
	Unit             string         `firestore:"unit"`
	UnitRate         string         `firestore:"unitRate"`
	Total            string         `firestore:"total"`
	BillingMode      string         `firestore:"billingMode"`
	IsVoided         bool           `firestore:"isVoided"`
	VoidReason       *string        `firestore:"voidReason,omitempty"`
	VoidedBy         *string        `firestore:"voidedBy,omitempty"`
	VoidedAt         *time.Time     `firestore:"voidedAt,omitempty"`
	Metadata         map[string]any `firestore:"metadata,omitempty"`
	CreatedBy        string         `firestore:"createdBy"`
	CreatedAt        time.Time      `firestore:"createdAt"`
}

func newLineItemDocument(item domain.LineItem) lineItemDocument {
	return lineItemDocument{
		OrderID:          item.Target.OrderID,
		InboundRequestID: item.Target.InboundRequestID,
		PurposeType:      item.Target.PurposeType,
		Type:             string(item.Type),
		ServiceType:      item.ServiceType,
		Category:         item.Category,
		Description:      item.Description,
		Quantity:         item.Quantity.String(),
		Unit:             item.Unit,
		UnitRate:         item.UnitRate.String(),
		Total:            item.Total.String(),
		BillingMode:      string(item.BillingMode),
		IsVoided:         item.IsVoided,
		VoidReason:       item.VoidReason,
		VoidedBy:         item.VoidedBy,
		VoidedAt:         utcPtr(item.VoidedAt),
		Metadata:         item.Metadata,
		CreatedBy:        item.CreatedBy,
		CreatedAt:        item.CreatedAt.UTC(),
	}
}

func (d lineItemDocument) toDomain(id string) (domain.LineItem, error) {
	quantity, err := parseDecimal(d.Quantity)
	if err != nil {
		return domain.LineItem{}, fmt.Errorf("decode line item %s quantity: %w", id, err)
	}
	unitRate, err := parseDecimal(d.UnitRate)
	if err != nil {
		return domain.LineItem{}, fmt.Errorf("decode line item %s unit rate: %w", id, err)
	}
	total, err := parseDecimal(d.Total)
	if err != nil {
		return domain.LineItem{}, fmt.Errorf("decode line item %s total: %w", id, err)
	}
	return domain.LineItem{
		ID: id,
		Target: domain.LineItemTarget{
			OrderID:          d.OrderID,
			InboundRequestID: d.InboundRequestID,
			PurposeType:      d.PurposeType,
		},
		Type:        domain.LineItemType(d.Type),
		ServiceType: d.ServiceType,
		Category:    d.Category,
		Description: d.Description,
		Quantity:    quantity,
		Unit:        d.Unit,
		UnitRate:    unitRate,
		Total:       total,
		BillingMode: domain.BillingMode(d.BillingMode),
		IsVoided:    d.IsVoided,
		VoidReason:  d.VoidReason,
		VoidedBy:    d.VoidedBy,
		VoidedAt:    utcPtr(d.VoidedAt),
		Metadata:    d.Metadata,
		CreatedBy:   d.CreatedBy,
		CreatedAt:   d.CreatedAt.UTC(),
	}, nil
}
